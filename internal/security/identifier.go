package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Athena table, database and column names: alphanumerics and underscore.
// Unlike most SQL engines a leading digit is legal in Athena, but we are
// stricter here because generated names are also used as S3 path components.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Athena caps table and column names at 255 bytes.
const maxIdentifierLength = 255

// ValidateIdentifier checks that a name is safe to interpolate into a DDL
// statement. Athena does not support parameterized identifiers, so every
// table, database and column name passes through here before it reaches a
// statement builder. Reserved words are allowed since identifiers are always
// backtick-quoted when rendered.
func ValidateIdentifier(identifier, identifierType string) error {
	if identifier == "" {
		return fmt.Errorf("%s cannot be empty", identifierType)
	}
	if len(identifier) > maxIdentifierLength {
		return fmt.Errorf("%s too long (%d characters, max %d): %s",
			identifierType, len(identifier), maxIdentifierLength, identifier)
	}
	if !identifierRegex.MatchString(identifier) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric and underscore allowed, must start with letter or underscore): %s",
			identifierType, identifier)
	}
	return nil
}

// EscapeIdentifier wraps an identifier in backticks, doubling any embedded
// backticks first. Used for every identifier rendered into DDL text, even
// ones that already passed ValidateIdentifier.
func EscapeIdentifier(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

// ValidateAndEscapeIdentifier combines validation and escaping; this is what
// the statement builders call.
func ValidateAndEscapeIdentifier(identifier, identifierType string) (string, error) {
	if err := ValidateIdentifier(identifier, identifierType); err != nil {
		return "", err
	}
	return EscapeIdentifier(identifier), nil
}
