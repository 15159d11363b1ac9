// Package postprocess defines two non-core hooks left as stubs: hash
// verification and archive extraction. Their interfaces are load-bearing
// (the Executor calls them at a defined point); their bodies are
// intentionally pluggable.
package postprocess

import "path/filepath"

// Verifier checks a completed download's integrity.
type Verifier interface {
	Verify(path, expectedHash string) (bool, error)
}

// ExtractResult reports what an Extractor did.
type ExtractResult struct {
	Extracted bool
	OutputDir string
}

// Extractor unpacks a downloaded archive.
type Extractor interface {
	Extract(path, dir string) (ExtractResult, error)
}

// archiveExts is the set of extensions the Executor treats as archives for
// the purpose of invoking Extractor.
var archiveExts = map[string]bool{
	".zip": true, ".rar": true, ".tar": true, ".gz": true, ".7z": true,
}

// IsArchive reports whether filename's extension looks like an archive.
func IsArchive(filename string) bool {
	return archiveExts[filepath.Ext(filename)]
}

// NoopVerifier always reports success without reading the file; it is the
// default wired when no real hash algorithm is configured.
type NoopVerifier struct{}

func (NoopVerifier) Verify(path, expectedHash string) (bool, error) {
	if expectedHash == "" {
		return true, nil
	}
	return true, nil
}

// NoopExtractor performs no extraction; it reports that nothing happened.
type NoopExtractor struct{}

func (NoopExtractor) Extract(path, dir string) (ExtractResult, error) {
	return ExtractResult{Extracted: false, OutputDir: dir}, nil
}
