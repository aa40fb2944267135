// Package semver provides backend version parsing and compatibility checks.
package semver

import (
	"fmt"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

// Normalize parses a backend-reported version string and returns it in
// canonical major.minor.patch form. Accepts a leading "v" and missing minor or
// patch components ("7" and "7.2" are valid backend responses).
func Normalize(version string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(version, "v"))
	if trimmed == "" {
		return "", fmt.Errorf("%s - empty version", logPrefix)
	}

	v, err := masterminds.NewVersion(trimmed)
	if err != nil {
		return "", fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return v.String(), nil
}

// Satisfies reports whether the backend version meets the given constraint
// range (e.g. ">=7.0.0", "^7.2").
func Satisfies(version, constraint string) (bool, error) {
	v, err := masterminds.NewVersion(strings.TrimSpace(strings.TrimPrefix(version, "v")))
	if err != nil {
		return false, fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}

	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}

	return c.Check(v), nil
}
