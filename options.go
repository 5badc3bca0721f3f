package realtime

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Options is the construction-time configuration surface. Every knob has a
// default; only UserID and Endpoints are required.
type Options struct {
	// UserID is the authenticated local user.
	UserID string
	// Endpoints is the ordered realtime endpoint candidate list.
	Endpoints []string
	// Token is the initial session bearer token. May be rotated later via
	// Session.SetToken.
	Token string

	MaxConnectionAttempts int
	ConnectTimeout        time.Duration
	AckTimeout            time.Duration
	RetryDelay            time.Duration
	ReconnectCooldown     time.Duration

	TrackerInterval time.Duration
	PollInterval    time.Duration
	PageSize        int

	OutboxCapacity int
	OutboxMaxAge   time.Duration

	// TypingPerSecond bounds outbound start-typing signals per chat.
	TypingPerSecond float64
}

// DefaultOptions returns options with every knob at its default.
func DefaultOptions(userID string, endpoints ...string) Options {
	o := Options{UserID: userID, Endpoints: endpoints}
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.MaxConnectionAttempts <= 0 {
		o.MaxConnectionAttempts = 5
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.ReconnectCooldown <= 0 {
		o.ReconnectCooldown = 5 * o.RetryDelay
	}
	if o.TrackerInterval <= 0 {
		o.TrackerInterval = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.OutboxCapacity <= 0 {
		o.OutboxCapacity = 32
	}
	if o.OutboxMaxAge <= 0 {
		o.OutboxMaxAge = 10 * time.Minute
	}
	if o.TypingPerSecond <= 0 {
		o.TypingPerSecond = 1
	}
}

func (o *Options) validate() error {
	if o.UserID == "" {
		return errors.New("realtime: user id required")
	}
	if len(o.Endpoints) == 0 {
		return errors.New("realtime: at least one endpoint candidate required")
	}
	return nil
}

// fileOptions is the on-disk TOML shape. Durations are stored in seconds.
type fileOptions struct {
	UserID                string   `toml:"user_id"`
	Endpoints             []string `toml:"endpoints"`
	MaxConnectionAttempts int      `toml:"max_connection_attempts"`
	ConnectTimeoutSec     int      `toml:"connect_timeout_sec"`
	AckTimeoutSec         int      `toml:"ack_timeout_sec"`
	RetryDelaySec         int      `toml:"retry_delay_sec"`
	TrackerIntervalSec    int      `toml:"tracker_interval_sec"`
	PollIntervalSec       int      `toml:"poll_interval_sec"`
	PageSize              int      `toml:"page_size"`
	OutboxCapacity        int      `toml:"outbox_capacity"`
}

// LoadOptions reads options from a TOML file, filling defaults for anything
// the file omits.
func LoadOptions(path string) (*Options, error) {
	var f fileOptions
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, err
	}
	o := Options{
		UserID:                f.UserID,
		Endpoints:             f.Endpoints,
		MaxConnectionAttempts: f.MaxConnectionAttempts,
		ConnectTimeout:        time.Duration(f.ConnectTimeoutSec) * time.Second,
		AckTimeout:            time.Duration(f.AckTimeoutSec) * time.Second,
		RetryDelay:            time.Duration(f.RetryDelaySec) * time.Second,
		TrackerInterval:       time.Duration(f.TrackerIntervalSec) * time.Second,
		PollInterval:          time.Duration(f.PollIntervalSec) * time.Second,
		PageSize:              f.PageSize,
		OutboxCapacity:        f.OutboxCapacity,
	}
	o.applyDefaults()
	return &o, nil
}

// SaveOptions writes options to a TOML file, creating parent dirs as needed.
func SaveOptions(path string, o *Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	out := fileOptions{
		UserID:                o.UserID,
		Endpoints:             o.Endpoints,
		MaxConnectionAttempts: o.MaxConnectionAttempts,
		ConnectTimeoutSec:     int(o.ConnectTimeout / time.Second),
		AckTimeoutSec:         int(o.AckTimeout / time.Second),
		RetryDelaySec:         int(o.RetryDelay / time.Second),
		TrackerIntervalSec:    int(o.TrackerInterval / time.Second),
		PollIntervalSec:       int(o.PollInterval / time.Second),
		PageSize:              o.PageSize,
		OutboxCapacity:        o.OutboxCapacity,
	}
	encErr := toml.NewEncoder(f).Encode(out)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
