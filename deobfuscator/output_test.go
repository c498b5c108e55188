package deobfuscator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		input, suffix, want string
	}{
		{"script.js", "", "script.deobfuscated.js"},
		{"dir/app.min.js", ".clean.js", "dir/app.min.clean.js"},
		{"bundle", "", "bundle.deobfuscated.js"},
		{"https://cdn.example.com/static/main.js?v=3", "", "main.deobfuscated.js"},
		{"https://example.com/", "", "example.com.deobfuscated.js"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputPath(tt.input, tt.suffix), tt.input)
	}
}

func TestWriteOutput(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "out.js")

	require.NoError(t, WriteOutput(dst, "var a = 1;"))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;", string(got))

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	err = WriteOutput(filepath.Join(blocker, "out.js"), "x")
	require.Error(t, err)

	var outErr *OutputError
	require.True(t, errors.As(err, &outErr))
	assert.Equal(t, filepath.Join(blocker, "out.js"), outErr.Path)
}
