package config

import (
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, $VAR, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(?:(:[-?])([^}]*))?\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// expandEnvWithDefaults substitutes environment variable references in the
// raw config text before it is handed to the YAML parser. Unset variables
// expand to the empty string unless a `:-` default is given; a `:?` reference
// turns an unset or empty variable into a load error.
func expandEnvWithDefaults(input string) (string, error) {
	var expansionErr error

	result := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		if expansionErr != nil {
			return match
		}

		value, err := resolveEnvRef(envVarPattern.FindStringSubmatch(match))
		if err != nil {
			expansionErr = err
			return match
		}
		return value
	})

	if expansionErr != nil {
		return "", expansionErr
	}

	return result, nil
}

// resolveEnvRef evaluates one matched reference. Submatch layout follows
// envVarPattern: [1] name, [2] operator, [3] operand for the braced form,
// [4] name for the bare $VAR form.
func resolveEnvRef(submatches []string) (string, error) {
	if submatches == nil {
		return "", nil
	}

	name, operator, operand := submatches[1], submatches[2], submatches[3]
	if submatches[4] != "" {
		name, operator, operand = submatches[4], "", ""
	}

	value := os.Getenv(name)

	switch operator {
	case ":-":
		if value == "" {
			return operand, nil
		}
	case ":?":
		if value == "" {
			if operand != "" {
				return "", fmt.Errorf("environment variable %s is required: %s", name, operand)
			}
			return "", fmt.Errorf("environment variable %s is required but not set", name)
		}
	}

	return value, nil
}
