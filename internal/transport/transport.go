// Package transport turns a transfer's privacy mode plus the current
// privacy-provider snapshot into an independent *http.Client, deliberately
// never touching process-global state — every call returns its own
// *http.Transport.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	privacypkg "github.com/shadefetch/shadefetch/internal/privacy"
)

// Mode selects the transport a request is routed through. Defined here
// (rather than in the engine package) because the Selector is the one
// package that must not import the engine package back, avoiding an import
// cycle; engine.PrivacyMode is a type alias onto this type.
type Mode int

const (
	ModeNormal Mode = iota
	ModeProxy
	ModeRelay
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "Normal"
	case ModeProxy:
		return "Proxy"
	case ModeRelay:
		return "Relay"
	default:
		return "Unknown"
	}
}

// ErrTransportUnavailable is returned when Relay is requested but the
// provider reports it disabled, or a Proxy spec cannot be built. An enabled
// but unreachable relay is not detected here; it surfaces as a dial error on
// the first request. engine.ErrTransportUnavailable
// aliases this value so both packages' error taxonomies stay a single value
// for errors.Is.
var ErrTransportUnavailable = errors.New("transport unavailable")

// UserAgentType selects the User-Agent header policy.
type UserAgentType string

const (
	UABrowserDefault UserAgentType = "Browser default"
	UACustom         UserAgentType = "Custom"
	UAChrome         UserAgentType = "Chrome"
	UAFirefox        UserAgentType = "Firefox"
	UASafari         UserAgentType = "Safari"
	UAEdge           UserAgentType = "Edge"
)

// browserUAs supplements the two default/custom UA types with a full preset
// list matching a settings UI's named browser choices.
var browserUAs = map[UserAgentType]string{
	UABrowserDefault: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	UAChrome:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	UAFirefox:        "Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
	UASafari:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	UAEdge:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// HeaderPolicy describes what request headers every request on a selected
// client should carry.
type HeaderPolicy struct {
	UserAgent      string // empty ⇒ omit the header entirely
	SuppressReferer bool
}

// Request describes the inputs needed to select a transport for one
// transfer.
type Request struct {
	Mode              Mode
	ConnectionTimeout time.Duration
	UAType            UserAgentType
	CustomUA          string
	SendReferer       bool
}

// Selector produces per-transfer HTTP clients from a privacy.Provider.
type Selector struct {
	Privacy privacypkg.Provider
}

func NewSelector(p privacypkg.Provider) *Selector {
	return &Selector{Privacy: p}
}

// Select returns an HTTP client and the header policy to apply to every
// request the caller issues through it. The error is ErrTransportUnavailable
// wrapped with detail when Relay is requested but the provider reports it
// disabled, or a Proxy spec cannot be built. Select does not dial the relay
// or proxy, so an unreachable one is only discovered when a request fails.
func (s *Selector) Select(req Request) (*http.Client, HeaderPolicy, error) {
	policy := s.headerPolicy(req)

	dialTimeout := req.ConnectionTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   20 * time.Second,
		ResponseHeaderTimeout: dialTimeout,
		ExpectContinueTimeout: 2 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
	}

	switch req.Mode {
	case ModeNormal:
		// direct, no proxy.
	case ModeRelay:
		if s.Privacy == nil || !s.Privacy.IsRelayEnabled() {
			return nil, policy, fmt.Errorf("%w: relay not enabled", ErrTransportUnavailable)
		}
		host, port := s.Privacy.RelayAddress()
		addr := fmt.Sprintf("%s:%d", host, port)
		dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
		if err != nil {
			return nil, policy, fmt.Errorf("%w: relay dialer: %v", ErrTransportUnavailable, err)
		}
		base.DialContext = socksDialContext(dialer)
	case ModeProxy:
		if s.Privacy == nil {
			return nil, policy, fmt.Errorf("%w: no privacy provider configured", ErrTransportUnavailable)
		}
		ps := s.Privacy.GetProxySettings()
		switch ps.Type {
		case privacypkg.ProxyNone:
			// direct.
		case privacypkg.ProxyHTTP:
			u, err := buildProxyURL("http", ps)
			if err != nil {
				return nil, policy, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
			}
			base.Proxy = http.ProxyURL(u)
		case privacypkg.ProxySOCKS4, privacypkg.ProxySOCKS5:
			// Both types are dialed with the SOCKS5 protocol; there is no
			// SOCKS4 dialer, so a SOCKS4-only proxy server is not supported.
			addr := fmt.Sprintf("%s:%d", ps.Address, ps.Port)
			var auth *proxy.Auth
			if ps.Username != "" && ps.Password != "" {
				auth = &proxy.Auth{User: ps.Username, Password: ps.Password}
			}
			dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
			if err != nil {
				return nil, policy, fmt.Errorf("%w: proxy dialer: %v", ErrTransportUnavailable, err)
			}
			base.DialContext = socksDialContext(dialer)
		default:
			return nil, policy, fmt.Errorf("%w: unknown proxy type", ErrTransportUnavailable)
		}
	default:
		return nil, policy, errors.New("transport: unknown privacy mode")
	}

	client := &http.Client{Transport: base}
	client.CheckRedirect = func(r *http.Request, via []*http.Request) error {
		if len(via) > 0 {
			for k, v := range via[0].Header {
				if r.Header.Get(k) == "" {
					r.Header[k] = v
				}
			}
		}
		if policy.SuppressReferer {
			r.Header.Del("Referer")
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	return client, policy, nil
}

func (s *Selector) headerPolicy(req Request) HeaderPolicy {
	var ua string
	switch req.UAType {
	case UACustom:
		ua = req.CustomUA
	case "":
		ua = ""
	default:
		if preset, ok := browserUAs[req.UAType]; ok {
			ua = preset
		}
	}
	return HeaderPolicy{UserAgent: ua, SuppressReferer: !req.SendReferer}
}

func buildProxyURL(scheme string, ps privacypkg.ProxySettings) (*url.URL, error) {
	u := &url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", ps.Address, ps.Port)}
	if ps.Username != "" && ps.Password != "" {
		u.User = url.UserPassword(ps.Username, ps.Password)
	}
	return u, nil
}

// socksDialContext adapts a proxy.Dialer (no ctx-aware API) to DialContext.
func socksDialContext(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type result struct {
			conn net.Conn
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			c, err := d.Dial(network, addr)
			ch <- result{c, err}
		}()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			return r.conn, r.err
		}
	}
}

// ApplyHeaders sets the per-client header policy on a single outgoing
// request. It does not touch the Range header; segment requests set that
// themselves.
func ApplyHeaders(r *http.Request, p HeaderPolicy) {
	if p.UserAgent != "" {
		r.Header.Set("User-Agent", p.UserAgent)
	}
	if p.SuppressReferer {
		r.Header.Del("Referer")
	}
}
