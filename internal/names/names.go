// Package names validates the two identifier namespaces CinchDB uses:
// database/branch/tenant names, and table/column names. Both reject raw
// control characters and path-traversal sequences before the more
// specific regex checks run.
package names

import (
	"regexp"
	"strings"

	"github.com/cinchdb/cinchdb/internal/cinchdberr"
)

// identifierPattern matches database, branch, and tenant names: lowercase
// alphanumeric, hyphen/underscore allowed in the interior only.
var identifierPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$`)

// sqlNamePattern matches table/column names: must start with a letter, no
// hyphens (so it can appear unquoted in generated SQL).
var sqlNamePattern = regexp.MustCompile(`^[a-z]([a-z0-9_]*[a-z0-9])?$`)

const (
	minIdentifierLen = 1
	maxIdentifierLen = 63
)

// windowsReserved lists device names that are illegal as file/directory
// components on Windows; CinchDB's on-disk layout uses identifiers as
// path segments, so these are rejected everywhere regardless of host OS.
var windowsReserved = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ProtectedTableNames is empty and is not consulted by ValidateIdentifier
// or ValidateSQLName. Table name prefix protection and protected column
// names live in the schema package.
var ProtectedTableNames = map[string]bool{}

func checkRawBytes(name string) error {
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "~") {
		return cinchdberr.InvalidName(name, "must not contain '/', '\\', or '~'")
	}
	if strings.Contains(name, "..") {
		return cinchdberr.InvalidName(name, "must not contain '..'")
	}
	for _, b := range []byte(name) {
		if b == 0 || b < 0x20 {
			return cinchdberr.InvalidName(name, "must not contain control characters or null bytes")
		}
	}
	return nil
}

func checkConsecutiveSpecials(name string) error {
	for i := 0; i+1 < len(name); i++ {
		a, b := name[i], name[i+1]
		if isSpecial(a) && isSpecial(b) {
			return cinchdberr.InvalidName(name, "must not contain consecutive special characters")
		}
	}
	return nil
}

func isSpecial(b byte) bool {
	return b == '-' || b == '_'
}

// ValidateIdentifier validates a database, branch, or tenant name.
func ValidateIdentifier(name string) error {
	if err := checkRawBytes(name); err != nil {
		return err
	}
	if len(name) < minIdentifierLen || len(name) > maxIdentifierLen {
		return cinchdberr.InvalidName(name, "length must be between 1 and 63 characters")
	}
	if !identifierPattern.MatchString(name) {
		return cinchdberr.InvalidName(name, "must match ^[a-z0-9]([a-z0-9_-]*[a-z0-9])?$")
	}
	if err := checkConsecutiveSpecials(name); err != nil {
		return err
	}
	if windowsReserved[strings.ToLower(name)] {
		return cinchdberr.InvalidName(name, "is a reserved Windows device name")
	}
	return nil
}

// ValidateSQLName validates a table or column name.
func ValidateSQLName(name string) error {
	if err := checkRawBytes(name); err != nil {
		return err
	}
	if len(name) < minIdentifierLen || len(name) > maxIdentifierLen {
		return cinchdberr.InvalidName(name, "length must be between 1 and 63 characters")
	}
	if !sqlNamePattern.MatchString(name) {
		return cinchdberr.InvalidName(name, "must match ^[a-z]([a-z0-9_]*[a-z0-9])?$")
	}
	if windowsReserved[strings.ToLower(name)] {
		return cinchdberr.InvalidName(name, "is a reserved Windows device name")
	}
	return nil
}
