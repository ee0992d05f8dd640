// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/lucidicai/lucidic-go/types"
)

const (
	// DefaultBaseURL is the production backend root.
	DefaultBaseURL = "https://backend.lucidic.ai/api"

	// DebugBaseURL is the backend root used when debug mode is on and no
	// explicit base URL is configured.
	DebugBaseURL = "http://localhost:8000/api"

	// MinBlobThreshold is the smallest accepted blob offload threshold.
	MinBlobThreshold = 1024
)

// OverflowPolicy selects which item the queue drops when full.
type OverflowPolicy string

const (
	// DropNewest drops the incoming item, preserving the causal prefix the
	// queue already accepted.
	DropNewest OverflowPolicy = "drop_newest"

	// DropOldest evicts the oldest queued item to admit the incoming one.
	DropOldest OverflowPolicy = "drop_oldest"
)

// Config holds every SDK setting. Values are resolved in precedence order:
// caller options over LUCIDIC_* environment variables over defaults.
type Config struct {
	// APIKey authenticates every backend request. Required.
	APIKey string `envconfig:"API_KEY"`

	// AgentID is the tenant identifier. Required for session creation.
	AgentID string `envconfig:"AGENT_ID"`

	// BaseURL is the backend root. Defaults depend on the Debug flag.
	BaseURL string `envconfig:"BASE_URL"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`

	// MaxRetries is the number of additional attempts after a transient
	// transport failure.
	MaxRetries int `envconfig:"MAX_RETRIES" default:"3"`

	// BackoffFactor is the initial retry backoff in seconds.
	BackoffFactor float64 `envconfig:"BACKOFF_FACTOR" default:"0.5"`

	// PoolSize and PoolMaxSize tune the shared HTTP connection pool.
	PoolSize    int `envconfig:"CONNECTION_POOL_SIZE" default:"20"`
	PoolMaxSize int `envconfig:"CONNECTION_POOL_MAXSIZE" default:"100"`

	// BlobThreshold is the serialized payload size in bytes above which the
	// payload is offloaded to blob storage. Strictly greater-than.
	BlobThreshold int `envconfig:"BLOB_THRESHOLD" default:"65536"`

	// FlushInterval is how long the queue coordinator waits before shipping
	// a partial batch.
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"100ms"`

	// FlushAt is the batch size that triggers an immediate dispatch.
	FlushAt int `envconfig:"FLUSH_AT" default:"100"`

	// MaxQueueSize bounds the pending-event queue.
	MaxQueueSize int `envconfig:"MAX_QUEUE_SIZE" default:"100000"`

	// Workers is the dispatch worker pool size.
	Workers int `envconfig:"MAX_PARALLEL" default:"10"`

	// RetryFailed re-enqueues events whose dispatch failed after all
	// in-place attempts.
	RetryFailed bool `envconfig:"RETRY_FAILED" default:"true"`

	// OverflowPolicy selects the drop side when the queue is full.
	OverflowPolicy OverflowPolicy `envconfig:"OVERFLOW_POLICY" default:"drop_newest"`

	// AutoEnd lets the shutdown coordinator end live sessions on exit.
	AutoEnd bool `envconfig:"AUTO_END" default:"true"`

	// SuppressErrors makes hot-path SDK operations swallow internal errors
	// and return safe defaults.
	SuppressErrors bool `envconfig:"SUPPRESS_ERRORS" default:"true"`

	Debug   bool `envconfig:"DEBUG" default:"false"`
	Verbose bool `envconfig:"VERBOSE" default:"false"`

	// MaskFunc redacts user-visible text fields before events are built.
	// Not settable from the environment.
	MaskFunc types.MaskFunc `ignored:"true"`
}

// Option mutates a [Config] during Load.
type Option interface {
	apply(cfg Config) Config
}

type apiKeyOption string

func (o apiKeyOption) apply(cfg Config) Config {
	cfg.APIKey = string(o)
	return cfg
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return apiKeyOption(key)
}

type agentIDOption string

func (o agentIDOption) apply(cfg Config) Config {
	cfg.AgentID = string(o)
	return cfg
}

// WithAgentID sets the agent (tenant) identifier.
func WithAgentID(id string) Option {
	return agentIDOption(id)
}

type baseURLOption string

func (o baseURLOption) apply(cfg Config) Config {
	cfg.BaseURL = string(o)
	return cfg
}

// WithBaseURL overrides the backend root URL.
func WithBaseURL(url string) Option {
	return baseURLOption(url)
}

type maskFuncOption types.MaskFunc

func (o maskFuncOption) apply(cfg Config) Config {
	cfg.MaskFunc = types.MaskFunc(o)
	return cfg
}

// WithMaskFunc installs the redaction hook applied to user-visible text.
func WithMaskFunc(fn types.MaskFunc) Option {
	return maskFuncOption(fn)
}

type autoEndOption bool

func (o autoEndOption) apply(cfg Config) Config {
	cfg.AutoEnd = bool(o)
	return cfg
}

// WithAutoEnd controls whether sessions are ended on process shutdown.
func WithAutoEnd(autoEnd bool) Option {
	return autoEndOption(autoEnd)
}

type suppressErrorsOption bool

func (o suppressErrorsOption) apply(cfg Config) Config {
	cfg.SuppressErrors = bool(o)
	return cfg
}

// WithSuppressErrors controls hot-path error suppression.
func WithSuppressErrors(suppress bool) Option {
	return suppressErrorsOption(suppress)
}

type blobThresholdOption int

func (o blobThresholdOption) apply(cfg Config) Config {
	cfg.BlobThreshold = int(o)
	return cfg
}

// WithBlobThreshold sets the payload offload threshold in bytes.
func WithBlobThreshold(bytes int) Option {
	return blobThresholdOption(bytes)
}

type queueOption func(Config) Config

func (o queueOption) apply(cfg Config) Config { return o(cfg) }

// WithQueueTuning sets the batching and worker-pool parameters.
func WithQueueTuning(flushInterval time.Duration, flushAt, maxQueueSize, workers int) Option {
	return queueOption(func(cfg Config) Config {
		cfg.FlushInterval = flushInterval
		cfg.FlushAt = flushAt
		cfg.MaxQueueSize = maxQueueSize
		cfg.Workers = workers
		return cfg
	})
}

// WithOverflowPolicy selects the queue overflow policy.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return queueOption(func(cfg Config) Config {
		cfg.OverflowPolicy = p
		return cfg
	})
}

// WithDebug toggles debug mode.
func WithDebug(debug bool) Option {
	return queueOption(func(cfg Config) Config {
		cfg.Debug = debug
		return cfg
	})
}

// Load resolves the SDK configuration: environment variables under the
// LUCIDIC prefix fill the struct, caller options override them, and the
// result is validated. All validation problems are reported together in a
// single [*types.ConfigError].
func Load(opts ...Option) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("lucidic", &cfg); err != nil {
		return nil, &types.ConfigError{Problems: []string{err.Error()}}
	}
	for _, opt := range opts {
		cfg = opt.apply(cfg)
	}
	if cfg.BaseURL == "" {
		if cfg.Debug {
			cfg.BaseURL = DebugBaseURL
		} else {
			cfg.BaseURL = DefaultBaseURL
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	if c.APIKey == "" {
		problems = append(problems, "API key is required (LUCIDIC_API_KEY)")
	}
	if c.AgentID == "" {
		problems = append(problems, "agent ID is required (LUCIDIC_AGENT_ID)")
	}
	if c.BlobThreshold < MinBlobThreshold {
		problems = append(problems, fmt.Sprintf("blob threshold must be at least %d bytes", MinBlobThreshold))
	}
	if c.FlushAt < 1 {
		problems = append(problems, "flush-at count must be positive")
	}
	if c.Workers < 1 {
		problems = append(problems, "worker count must be positive")
	}
	if c.MaxQueueSize < 1 {
		problems = append(problems, "max queue size must be positive")
	}
	switch c.OverflowPolicy {
	case DropNewest, DropOldest:
	default:
		problems = append(problems, fmt.Sprintf("unknown overflow policy %q", c.OverflowPolicy))
	}
	if len(problems) > 0 {
		return &types.ConfigError{Problems: problems}
	}
	return nil
}
