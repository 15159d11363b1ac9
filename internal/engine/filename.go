package engine

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FilenameFromURL derives a filename from the basename of the
// percent-decoded URL path, falling back to "download" if that yields
// nothing usable.
func FilenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download"
	}
	decoded, err := url.PathUnescape(u.Path)
	if err != nil {
		decoded = u.Path
	}
	clean := filepath.Base(filepath.Clean(strings.TrimRight(decoded, "/\\")))
	if clean == "" || clean == "." || clean == "/" || clean == string(filepath.Separator) {
		return "download"
	}
	return clean
}

var contentDispositionFilename = regexp.MustCompile(`filename="?([^";]+)`)

// FilenameFromContentDisposition extracts the filename parameter from a
// Content-Disposition header value.
func FilenameFromContentDisposition(header string) (string, bool) {
	m := contentDispositionFilename.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ConflictPolicy is the file_conflict setting's value, kept as the source
// UI's exact strings.
type ConflictPolicy string

const (
	ConflictSkip       ConflictPolicy = "Skip download"
	ConflictOverwrite  ConflictPolicy = "Overwrite"
	ConflictAutoRename ConflictPolicy = "Auto rename"
	ConflictAlwaysAsk  ConflictPolicy = "Always ask"
)

// ConflictResolution is what ResolveConflict decided.
type ConflictResolution struct {
	Filename string
	Skip     bool // Completed without network traffic
}

// ConflictResolver is invoked for ConflictAlwaysAsk; returning ok=false
// means the caller declined to resolve, which the Executor turns into
// ErrConflictUnresolved.
type ConflictResolver func(targetDir, filename string) (newFilename string, ok bool)

// ResolveConflict applies the four conflict policies against an existing
// file at targetDir/filename.
func ResolveConflict(targetDir, filename string, policy ConflictPolicy, resolver ConflictResolver) (ConflictResolution, error) {
	full := filepath.Join(targetDir, filename)
	if _, err := os.Stat(full); err != nil {
		// No conflict: proceed under the requested name.
		return ConflictResolution{Filename: filename}, nil
	}

	switch policy {
	case ConflictSkip:
		return ConflictResolution{Filename: filename, Skip: true}, nil
	case ConflictOverwrite:
		return ConflictResolution{Filename: filename}, nil
	case ConflictAutoRename:
		renamed, err := autoRename(targetDir, filename)
		if err != nil {
			return ConflictResolution{}, err
		}
		return ConflictResolution{Filename: renamed}, nil
	case ConflictAlwaysAsk:
		if resolver == nil {
			return ConflictResolution{}, ErrConflictUnresolved
		}
		newName, ok := resolver(targetDir, filename)
		if !ok {
			return ConflictResolution{}, ErrConflictUnresolved
		}
		return ConflictResolution{Filename: newName}, nil
	default:
		return ConflictResolution{}, fmt.Errorf("engine: unknown conflict policy %q", policy)
	}
}

// autoRename finds the smallest counter >= 1 such that
// "<base> (<counter>)<ext>" does not exist in dir.
func autoRename(dir, filename string) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, counter, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); err != nil {
			return candidate, nil
		}
		if counter > 1<<20 {
			return "", fmt.Errorf("engine: could not find a free name for %q", filename)
		}
	}
}
