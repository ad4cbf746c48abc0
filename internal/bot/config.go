package bot

import (
	"time"
)

// BotConfig represents the configuration for the bot
type BotConfig struct {
	// Announce every completed module, not only quiz and exam results
	NotifyModules bool
	// Announce progress that arrived from another device
	NotifyRelayed bool
	// Long-poll timeout for updates
	PollTimeout time.Duration
	// Bound on tracker calls made while handling one update
	RequestTimeout time.Duration
}

// DefaultConfig returns the default bot configuration
func DefaultConfig() *BotConfig {
	return &BotConfig{
		NotifyModules:  false,
		NotifyRelayed:  true,
		PollTimeout:    time.Second * 60,
		RequestTimeout: time.Second * 10,
	}
}
