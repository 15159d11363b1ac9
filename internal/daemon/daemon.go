// Package daemon exposes an *engine.Engine over a Unix domain socket so
// every fetchd verb (add/pause/resume/cancel/rm/ls/clear) can be run as a
// separate process invocation against one long-lived set of transfers,
// rather than each command constructing its own empty, in-memory Engine.
package daemon

import "github.com/shadefetch/shadefetch/internal/engine"

// AddRequest is the body of a POST /add call.
type AddRequest struct {
	URL       string             `json:"url"`
	TargetDir string             `json:"target_dir"`
	Filename  string             `json:"filename"`
	Mode      engine.PrivacyMode `json:"mode"`
}

// AddResponse is the body of a successful POST /add response.
type AddResponse struct {
	ID string `json:"id"`
}

// IDRequest is the body of the single-id action endpoints (pause, resume,
// cancel, delete).
type IDRequest struct {
	ID string `json:"id"`
}

// errorResponse is the body of any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
