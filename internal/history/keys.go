package history

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/DylanDDeng/notely-sub000/internal/apperr"
)

// Dir is the history directory name inside the vault.
const Dir = ".history"

// EncodeKey percent-encodes filename into a single path segment. The name
// is cleaned the way storage resolves paths, so every spelling of one file
// maps to one key and distinct files never share one.
func EncodeKey(filename string) (string, error) {
	if filename != strings.TrimSpace(filename) {
		return "", fmt.Errorf("history: filename %q has surrounding whitespace: %w", filename, apperr.ErrValidation)
	}
	name := filepath.ToSlash(filepath.Clean(filename))
	if filename == "" || name == "." || name == ".." ||
		strings.HasPrefix(name, "../") || path.IsAbs(name) {
		return "", fmt.Errorf("history: invalid filename %q: %w", filename, apperr.ErrValidation)
	}
	return url.PathEscape(name), nil
}

// DecodeKey returns the cleaned filename a key was built from.
func DecodeKey(key string) (string, error) {
	return url.PathUnescape(key)
}
