package names

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"main", false},
		{"feature-123", false},
		{"a", false},
		{"", true},
		{"Main", true},
		{"has/slash", true},
		{"has..dots", true},
		{"has--double", true},
		{"con", true},
		{"COM1", true},
		{"__empty__", true}, // fails: leading '_' is not in [a-z0-9]
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateIdentifier(tc.name)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateSQLName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"users", false},
		{"user_id", false},
		{"1table", true},
		{"has-hyphen", true},
		{"Users", true},
		{"", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSQLName(tc.name)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateIdentifierRejectsNullByte(t *testing.T) {
	require.Error(t, ValidateIdentifier("bad\x00name"))
	require.Error(t, ValidateIdentifier("bad\x01name"))
}
