package deobfuscator

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const DefaultSuffix = ".deobfuscated.js"

// OutputError reports a failure to write the result.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("could not write output file %s: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// WriteOutput writes code to dst, creating parent directories as needed.
func WriteOutput(dst, code string) error {
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &OutputError{Path: dst, Err: err}
		}
	}
	if err := os.WriteFile(dst, []byte(code), 0o644); err != nil {
		return &OutputError{Path: dst, Err: err}
	}
	return nil
}

// OutputPath derives the output file for input: a trailing ".js" is replaced
// by suffix, otherwise suffix is appended. URL inputs map to the base name of
// their path in the working directory.
func OutputPath(input, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}

	if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		base := path.Base(u.Path)
		if base == "/" || base == "." || base == "" {
			base = u.Hostname()
		}
		input = base
	}

	if strings.HasSuffix(input, ".js") {
		return strings.TrimSuffix(input, ".js") + suffix
	}
	return input + suffix
}
