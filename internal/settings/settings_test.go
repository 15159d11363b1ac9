package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error for a missing settings file: %v", err)
	}
	if got := GetInt(s, "download", "max_downloads", -1); got != 3 {
		t.Errorf("expected default max_downloads=3, got %d", got)
	}
	if got := GetBool(s, "download", "chunk_enabled", false); !got {
		t.Errorf("expected default chunk_enabled=true")
	}
	if got := GetString(s, "download", "file_conflict", ""); got != "Auto rename" {
		t.Errorf("expected default file_conflict=%q, got %q", "Auto rename", got)
	}
}

func TestNewOverlaysOnDiskValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	onDisk := map[string]map[string]any{
		"download": {"max_downloads": 7},
	}
	raw, _ := json.Marshal(onDisk)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	s, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := GetInt(s, "download", "max_downloads", -1); got != 7 {
		t.Errorf("expected on-disk override max_downloads=7, got %d", got)
	}
	// Keys not present on disk still fall back to defaults.
	if got := GetBool(s, "download", "chunk_enabled", false); !got {
		t.Errorf("expected chunk_enabled to still default to true")
	}
}

func TestGetSectionReturnsACopy(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sec := s.GetSection("download")
	sec["max_downloads"] = 999

	fresh := s.GetSection("download")
	if fresh["max_downloads"] == 999 {
		t.Errorf("expected GetSection to return a defensive copy, mutation leaked into the store")
	}
}

func TestSaveSectionPersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveSection("privacy", map[string]any{"relay_enabled": true, "relay_port": 9150}); err != nil {
		t.Fatalf("SaveSection failed: %v", err)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	if got := GetBool(reloaded, "privacy", "relay_enabled", false); !got {
		t.Errorf("expected persisted relay_enabled=true after reload")
	}
	if got := GetInt(reloaded, "privacy", "relay_port", 0); got != 9150 {
		t.Errorf("expected persisted relay_port=9150, got %d", got)
	}
}

func TestGetInt64CoercesJSONFloat(t *testing.T) {
	s := &Store{sections: map[string]map[string]any{
		"download": {"chunk_min_size_mb": float64(25)},
	}}
	if got := GetInt64(s, "download", "chunk_min_size_mb", 0); got != 25 {
		t.Errorf("expected float64 JSON numbers to coerce to int64, got %d", got)
	}
}
