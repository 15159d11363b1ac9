package privacy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shadefetch/shadefetch/internal/settings"
)

func TestSettingsProviderDefaults(t *testing.T) {
	store, err := settings.New(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := NewSettingsProvider(store)

	if p.IsRelayEnabled() {
		t.Errorf("expected relay disabled by default")
	}
	host, port := p.RelayAddress()
	if host != "127.0.0.1" || port != 9050 {
		t.Errorf("expected default relay address 127.0.0.1:9050, got %s:%d", host, port)
	}
	ps := p.GetProxySettings()
	if ps.Type != ProxyNone {
		t.Errorf("expected default proxy type None, got %v", ps.Type)
	}
}

func TestSettingsProviderReflectsSavedSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := settings.New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := NewSettingsProvider(store)

	if err := store.SaveSection("privacy", map[string]any{
		"relay_enabled":  true,
		"relay_address":  "10.0.0.1",
		"relay_port":     9150,
		"proxy_type":     "SOCKS5",
		"proxy_address":  "proxy.local",
		"proxy_port":     1080,
		"proxy_username": "u",
		"proxy_password": "p",
	}); err != nil {
		t.Fatalf("SaveSection failed: %v", err)
	}

	if !p.IsRelayEnabled() {
		t.Errorf("expected relay enabled to be reflected live after SaveSection")
	}
	host, port := p.RelayAddress()
	if host != "10.0.0.1" || port != 9150 {
		t.Errorf("expected updated relay address, got %s:%d", host, port)
	}
	ps := p.GetProxySettings()
	if ps.Type != ProxySOCKS5 || ps.Address != "proxy.local" || ps.Port != 1080 {
		t.Errorf("expected updated proxy settings, got %+v", ps)
	}
}

func TestNewCircuitReportsUnsupported(t *testing.T) {
	store, err := settings.New(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := NewSettingsProvider(store)
	if err := p.NewCircuit(context.Background()); !errors.Is(err, ErrCircuitUnsupported) {
		t.Errorf("expected ErrCircuitUnsupported, got %v", err)
	}
}
