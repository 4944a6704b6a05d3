package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Source describes how to load a secret value.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// Value is an inline secret value provided via configuration or flags.
	Value string
	// Env names an environment variable consulted when Value is empty.
	Env string
	// File points to a file containing the secret value. When set it takes
	// precedence over Value and Env.
	File string
}

// Load returns the resolved secret value from the provided source. The
// lookup order is File, Value, then Env. The returned secret is always
// trimmed.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" && src.Env != "" {
		secret = strings.TrimSpace(os.Getenv(src.Env))
	}
	if secret == "" {
		return "", fmt.Errorf("%s is not configured: %w", name, ErrMissing)
	}

	return secret, nil
}

var (
	ErrMissing = errors.New("secret missing")
	ErrWeak    = errors.New("secret is weak")
	ErrShort   = errors.New("secret is too short")
)

// weakValues are placeholders that must never reach a deployed instance.
var weakValues = []string{
	"dev-secret-key-change-in-production",
	"4737d354",
	"123450",
	"dev",
	"test",
	"secret",
	"changeme",
	"insecure",
}

// Strength checks a loaded secret against the weak list and a minimum length.
func Strength(name, value string, minLength int) error {
	if value == "" {
		return fmt.Errorf("%s: %w", name, ErrMissing)
	}

	lower := strings.ToLower(value)
	for _, weak := range weakValues {
		if lower == weak {
			return fmt.Errorf("%s uses a well-known placeholder value: %w", name, ErrWeak)
		}
	}

	if len(value) < minLength {
		return fmt.Errorf("%s must be at least %d characters, got %d: %w", name, minLength, len(value), ErrShort)
	}

	return nil
}
