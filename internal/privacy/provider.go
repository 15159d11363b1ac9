// Package privacy adapts an external privacy profile provider into the two
// calls the Transport Selector needs: is the anonymity relay enabled, and
// what are the current proxy settings. The engine only asks; it never
// configures the relay itself.
package privacy

import (
	"context"
	"errors"

	"github.com/shadefetch/shadefetch/internal/settings"
)

// ProxyType enumerates the forward-proxy kinds the privacy provider may
// report.
type ProxyType int

const (
	ProxyNone ProxyType = iota
	ProxyHTTP
	ProxySOCKS4
	ProxySOCKS5
)

// ProxySettings is a snapshot of the forward-proxy configuration.
type ProxySettings struct {
	Type     ProxyType
	Address  string
	Port     int
	Username string
	Password string
}

// Provider is the interface the Transport Selector depends on. The engine
// package never imports a concrete implementation directly — it is handed
// one at construction, so tests can substitute a fake.
type Provider interface {
	IsRelayEnabled() bool
	RelayAddress() (host string, port int)
	GetProxySettings() ProxySettings
	// NewCircuit asks the relay for a fresh circuit (a Tor control-port
	// NEWNYM signal, conceptually). Out of core scope; this adapter only
	// defines the call point.
	NewCircuit(ctx context.Context) error
}

// SettingsProvider is the Store-backed Provider implementation used by the
// default CLI wiring. It reads the "privacy" section on every call, so a
// settings-UI change takes effect on the next transfer without restart.
type SettingsProvider struct {
	Store *settings.Store
}

func NewSettingsProvider(s *settings.Store) *SettingsProvider {
	return &SettingsProvider{Store: s}
}

func (p *SettingsProvider) IsRelayEnabled() bool {
	return settings.GetBool(p.Store, "privacy", "relay_enabled", false)
}

func (p *SettingsProvider) RelayAddress() (string, int) {
	host := settings.GetString(p.Store, "privacy", "relay_address", "127.0.0.1")
	port := settings.GetInt(p.Store, "privacy", "relay_port", 9050)
	return host, port
}

func (p *SettingsProvider) GetProxySettings() ProxySettings {
	raw := settings.GetString(p.Store, "privacy", "proxy_type", "None")
	var t ProxyType
	switch raw {
	case "HTTP":
		t = ProxyHTTP
	case "SOCKS4":
		t = ProxySOCKS4
	case "SOCKS5":
		t = ProxySOCKS5
	default:
		t = ProxyNone
	}
	return ProxySettings{
		Type:     t,
		Address:  settings.GetString(p.Store, "privacy", "proxy_address", ""),
		Port:     settings.GetInt(p.Store, "privacy", "proxy_port", 0),
		Username: settings.GetString(p.Store, "privacy", "proxy_username", ""),
		Password: settings.GetString(p.Store, "privacy", "proxy_password", ""),
	}
}

// ErrCircuitUnsupported is returned by NewCircuit: this adapter defines the
// call point the relay control-port hook would use, without implementing
// the control protocol.
var ErrCircuitUnsupported = errors.New("privacy: relay circuit rotation not implemented")

func (p *SettingsProvider) NewCircuit(ctx context.Context) error {
	return ErrCircuitUnsupported
}
