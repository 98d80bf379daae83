package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthub/notifier/internal/errors"
)

func TestExpandString(t *testing.T) {
	t.Setenv("NOTIFIER_TEST_TOKEN", "tk_123")
	t.Setenv("NOTIFIER_TEST_TOPIC", "maintenance")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"literal", "s3cret", "s3cret", false},
		{"variable", "${NOTIFIER_TEST_TOKEN}", "tk_123", false},
		{"embedded", "ntfy://ntfy.sh/${NOTIFIER_TEST_TOPIC}?priority=high", "ntfy://ntfy.sh/maintenance?priority=high", false},
		{"default unused", "${NOTIFIER_TEST_TOKEN:-fallback}", "tk_123", false},
		{"default used", "${NOTIFIER_TEST_UNSET:-fallback}", "fallback", false},
		{"empty default", "${NOTIFIER_TEST_UNSET:-}", "", false},
		{"missing", "${NOTIFIER_TEST_UNSET}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "NOTIFIER_TEST_UNSET")
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeSecret(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		want    string
		wantErr bool
	}{
		{"trims trailing newline", func(t *testing.T) string { return writeSecret(t, "hunter2\n", 0o600) }, "hunter2", false},
		{"keeps inner spaces", func(t *testing.T) string { return writeSecret(t, " pass word \r\n", 0o400) }, " pass word ", false},
		{"permissive mode still reads", func(t *testing.T) string { return writeSecret(t, "x", 0o644) }, "x", false},
		{"empty file", func(t *testing.T) string { return writeSecret(t, "\n", 0o600) }, "", true},
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }, "", true},
		{"directory", func(t *testing.T) string { return t.TempDir() }, "", true},
		{"empty path", func(*testing.T) string { return "" }, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ReadFile(tt.path(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFileTooLarge(t *testing.T) {
	t.Parallel()

	path := writeSecret(t, string(make([]byte, maxSecretFileSize+1)), 0o600)
	_, err := ReadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestResolve(t *testing.T) {
	t.Setenv("NOTIFIER_TEST_DSN", "https://key@sentry.example/1")

	file := writeSecret(t, "from-file\n", 0o600)

	got, err := Resolve(file, "${NOTIFIER_TEST_DSN}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got, "file wins over value")

	got, err = Resolve("", "${NOTIFIER_TEST_DSN}")
	require.NoError(t, err)
	assert.Equal(t, "https://key@sentry.example/1", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMustResolve(t *testing.T) {
	t.Parallel()

	_, err := MustResolve("mqtt password", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt password is required")

	got, err := MustResolve("mqtt password", "", "literal")
	require.NoError(t, err)
	assert.Equal(t, "literal", got)
}
