package engine

import (
	"time"

	"github.com/shadefetch/shadefetch/internal/transport"
)

// Config is the subset of the settings store's keys the engine reads once
// at construction. The engine never writes to the settings store; a live
// settings change takes effect only for transfers submitted after a new
// Engine (or Config) is built, except for the privacy provider, which is
// consulted fresh per transfer via the Transport Selector.
type Config struct {
	MaxDownloads      int
	ChunkEnabled      bool
	ChunkCount        int
	ChunkMinSize      int64 // bytes
	AutoExtract       bool
	VerifyHash        bool
	FileConflict      ConflictPolicy
	ConnectionTimeout time.Duration
	RetryCount        int
	RetryDelay        time.Duration
	UAType            transport.UserAgentType
	CustomUA          string
	SendReferer       bool
	DownloadFolder    string
	SpeedLimitBps     int64 // 0 = unlimited; acknowledged hook, see speedlimit.go
}

// DefaultConfig returns the engine's out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		MaxDownloads:      3,
		ChunkEnabled:      true,
		ChunkCount:        4,
		ChunkMinSize:      10 * 1024 * 1024,
		AutoExtract:       true,
		VerifyHash:        true,
		FileConflict:      ConflictAutoRename,
		ConnectionTimeout: 30 * time.Second,
		RetryCount:        3,
		RetryDelay:        5 * time.Second,
		UAType:            transport.UABrowserDefault,
		SendReferer:       true,
		DownloadFolder:    "~/Downloads",
	}
}
