// Package secrets resolves credentials from config values, environment
// variable references and mounted secret files (/run/secrets/*).
// Secret values are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
)

const (
	// maxSecretFileSize bounds secret file reads; tokens and passwords are small
	maxSecretFileSize = 64 * 1024

	// groupOtherPerms flags secret files readable beyond their owner
	groupOtherPerms = 0o077
)

// ExpandString resolves ${VAR} and ${VAR:-default} references in s. A
// referenced variable that is unset and has no default is an error.
//
//	"${MQTT_PASSWORD}"          -> value of MQTT_PASSWORD
//	"ntfy://ntfy.sh/${TOPIC}"   -> url with the topic substituted
//	"${ENV:-production}"        -> ENV or "production"
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines. Files readable by
// group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fileError(errors.NewStd("secret file path is empty"), path)
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", fileError(err, cleanPath)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(errors.NewStd("secret path is not a regular file"), cleanPath)
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError(errors.NewStd("secret file is too large"), cleanPath)
	}
	if perm := info.Mode().Perm(); perm&groupOtherPerms != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fileError(err, cleanPath)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(errors.NewStd("secret file is empty"), cleanPath)
	}
	return secret, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

// MustResolve is Resolve for required secrets; an empty result is an error.
func MustResolve(fieldName, filePath, value string) (string, error) {
	secret, err := Resolve(filePath, value)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", errors.Newf("%s is required but not provided", fieldName).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return secret, nil
}
