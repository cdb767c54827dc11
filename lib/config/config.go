// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for long-running bot deployments.
	Production Environment = "production"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "SHARDWIRE_CONFIG"

// Config is the master configuration for a shardwire process.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// TokenFile holds the bot token. A file ending in ".age" is
	// decrypted with TokenIdentityFile.
	TokenFile string `yaml:"token_file"`

	// TokenIdentityFile is the age identity used to decrypt TokenFile.
	TokenIdentityFile string `yaml:"token_identity_file"`

	// APIBaseURL is the REST API root, including the version segment.
	// Default: https://discord.com/api/v10
	APIBaseURL string `yaml:"api_base_url"`

	// UserAgent overrides the User-Agent sent on REST and gateway
	// requests.
	UserAgent string `yaml:"user_agent"`

	Gateway GatewayConfig `yaml:"gateway"`
	REST    RESTConfig    `yaml:"rest"`
	Voice   VoiceConfig   `yaml:"voice"`
	Log     LogConfig     `yaml:"log"`

	// Per-environment overrides. Each is a partial document with the
	// same shape as the base config, decoded over it after loading, so
	// only the keys it names change.
	Development *yaml.Node `yaml:"development,omitempty"`
	Production  *yaml.Node `yaml:"production,omitempty"`
}

// GatewayConfig configures the shard fleet.
type GatewayConfig struct {
	// URL is the gateway endpoint. Empty asks GET /gateway/bot.
	URL string `yaml:"url"`

	// ShardCount is the fleet size. Zero uses the recommended count.
	ShardCount int `yaml:"shard_count"`

	// Shards lists the shard ids this process runs. Empty runs all.
	Shards []int `yaml:"shards"`

	// Intents is the gateway intents bitmask sent with identify.
	Intents uint64 `yaml:"intents"`

	// Compression is "none", "zlib-stream", or "zstd-stream".
	// Default: zlib-stream
	Compression string `yaml:"compression"`

	// IdentifyConcurrency is how many shards may identify per
	// interval. Zero uses max_concurrency from GET /gateway/bot.
	IdentifyConcurrency int `yaml:"identify_concurrency"`

	// IdentifyInterval is the identify permit period.
	// Default: 5s
	IdentifyInterval Duration `yaml:"identify_interval"`

	// HelloTimeout bounds the wait for hello after connecting.
	// Default: 20s
	HelloTimeout Duration `yaml:"hello_timeout"`

	// RestartDelay is the pause before a coordinator restarts a shard
	// whose session exited without a fatal close.
	// Default: 5s
	RestartDelay Duration `yaml:"restart_delay"`

	// LargeThreshold is sent with identify (50-250).
	// Default: 50
	LargeThreshold int `yaml:"large_threshold"`

	// CheckpointDir holds resumable session checkpoints. Empty keeps
	// checkpoints in memory only.
	// Default: ${HOME}/.cache/shardwire/checkpoints
	CheckpointDir string `yaml:"checkpoint_dir"`

	// CheckpointMaxAge discards older checkpoints at startup.
	// Default: 5m
	CheckpointMaxAge Duration `yaml:"checkpoint_max_age"`

	// DispatchQueueSize bounds dispatches buffered per shard between
	// the connection and the event bus.
	// Default: 256
	DispatchQueueSize int `yaml:"dispatch_queue_size"`
}

// RESTConfig configures the request dispatcher.
type RESTConfig struct {
	// Timeout bounds one HTTP attempt.
	// Default: 15s
	Timeout Duration `yaml:"timeout"`

	// MaxRetries bounds resubmissions after 429 responses.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// GlobalLimit requests per GlobalWindow across all routes.
	// Default: 50 per 1s
	GlobalLimit  int      `yaml:"global_limit"`
	GlobalWindow Duration `yaml:"global_window"`

	// BucketIdle evicts buckets unused for this long.
	// Default: 10m
	BucketIdle Duration `yaml:"bucket_idle"`
}

// VoiceConfig configures voice receive.
type VoiceConfig struct {
	// OverflowZone is the sequence window treated as near the 16-bit
	// wrap.
	// Default: 3000
	OverflowZone int `yaml:"overflow_zone"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: text (development), json (production)
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"5s\"", node.Line)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration, used as the base the
// config file is decoded over. The config file is still required.
func Default() *Config {
	return &Config{
		Environment: Development,
		APIBaseURL:  "https://discord.com/api/v10",
		Gateway: GatewayConfig{
			Compression:       "zlib-stream",
			IdentifyInterval:  Duration(5 * time.Second),
			HelloTimeout:      Duration(20 * time.Second),
			RestartDelay:      Duration(5 * time.Second),
			LargeThreshold:    50,
			CheckpointDir:     "${HOME}/.cache/shardwire/checkpoints",
			CheckpointMaxAge:  Duration(5 * time.Minute),
			DispatchQueueSize: 256,
		},
		REST: RESTConfig{
			Timeout:      Duration(15 * time.Second),
			MaxRetries:   3,
			GlobalLimit:  50,
			GlobalWindow: Duration(time.Second),
			BucketIdle:   Duration(10 * time.Minute),
		},
		Voice: VoiceConfig{OverflowZone: 3000},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from the file named by SHARDWIRE_CONFIG.
// There is no discovery: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your shardwire.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc are JSON with comments and trailing commas; anything else is
// YAML.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a config document over [Default], applies the
// environment overrides, and expands variables. extension selects the
// syntax as in [LoadFile].
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one decoder serves both.
		data = jsonc.ToJSON(data)
	}

	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, err
	}
	cfg := Default()
	if document.Kind != 0 {
		if err := document.Decode(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnvironmentOverrides(mentions(&document, "log", "format")); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides decodes the matching override section over
// the base values. formatSet reports whether the base document chose a
// log format.
func (c *Config) applyEnvironmentOverrides(formatSet bool) error {
	var overrides *yaml.Node
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production logs are machine-read unless the file says otherwise.
		if !formatSet && (overrides == nil || !mentions(overrides, "log", "format")) {
			c.Log.Format = "json"
		}
	}
	if overrides == nil {
		return nil
	}

	environment := c.Environment
	if err := overrides.Decode(c); err != nil {
		return fmt.Errorf("%s overrides: %w", environment, err)
	}
	// An override section cannot change which environment is active.
	c.Environment = environment
	return nil
}

// mentions reports whether the mapping node sets the nested key path.
func mentions(node *yaml.Node, path ...string) bool {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	for _, key := range path {
		if node.Kind != yaml.MappingNode {
			return false
		}
		var found *yaml.Node
		for index := 0; index+1 < len(node.Content); index += 2 {
			if node.Content[index].Value == key {
				found = node.Content[index+1]
				break
			}
		}
		if found == nil {
			return false
		}
		node = found
	}
	return true
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.TokenFile = expandVars(c.TokenFile, vars)
	c.TokenIdentityFile = expandVars(c.TokenIdentityFile, vars)
	c.Gateway.CheckpointDir = expandVars(c.Gateway.CheckpointDir, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.TokenFile == "" {
		errs = append(errs, errors.New("token_file is required"))
	}
	if strings.HasSuffix(c.TokenFile, ".age") && c.TokenIdentityFile == "" {
		errs = append(errs, errors.New("token_identity_file is required when token_file is age-encrypted"))
	}

	if parsed, err := url.Parse(c.APIBaseURL); err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("api_base_url must be an http(s) URL, got %q", c.APIBaseURL))
	}

	errs = append(errs, c.Gateway.validate()...)
	errs = append(errs, c.REST.validate()...)

	if zone := c.Voice.OverflowZone; zone < 1 || zone >= 1<<15 {
		errs = append(errs, fmt.Errorf("voice.overflow_zone must be between 1 and 32767, got %d", zone))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (g *GatewayConfig) validate() []error {
	var errs []error
	if g.URL != "" {
		if parsed, err := url.Parse(g.URL); err != nil || (parsed.Scheme != "wss" && parsed.Scheme != "ws") {
			errs = append(errs, fmt.Errorf("gateway.url must be a ws(s) URL, got %q", g.URL))
		}
	}
	if g.ShardCount < 0 {
		errs = append(errs, fmt.Errorf("gateway.shard_count must not be negative, got %d", g.ShardCount))
	}
	seen := make(map[int]bool, len(g.Shards))
	for _, shard := range g.Shards {
		switch {
		case shard < 0 || (g.ShardCount > 0 && shard >= g.ShardCount):
			errs = append(errs, fmt.Errorf("gateway.shards: shard %d outside [0, %d)", shard, g.ShardCount))
		case seen[shard]:
			errs = append(errs, fmt.Errorf("gateway.shards: shard %d listed twice", shard))
		}
		seen[shard] = true
	}
	switch g.Compression {
	case "", "none", "zlib-stream", "zstd-stream":
	default:
		errs = append(errs, fmt.Errorf("gateway.compression must be none, zlib-stream, or zstd-stream, got %q", g.Compression))
	}
	if g.IdentifyConcurrency < 0 {
		errs = append(errs, fmt.Errorf("gateway.identify_concurrency must not be negative, got %d", g.IdentifyConcurrency))
	}
	if g.LargeThreshold < 50 || g.LargeThreshold > 250 {
		errs = append(errs, fmt.Errorf("gateway.large_threshold must be between 50 and 250, got %d", g.LargeThreshold))
	}
	if g.DispatchQueueSize < 1 {
		errs = append(errs, fmt.Errorf("gateway.dispatch_queue_size must be positive, got %d", g.DispatchQueueSize))
	}
	for name, value := range map[string]Duration{
		"identify_interval":  g.IdentifyInterval,
		"hello_timeout":      g.HelloTimeout,
		"restart_delay":      g.RestartDelay,
		"checkpoint_max_age": g.CheckpointMaxAge,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("gateway.%s must be positive, got %s", name, value.Std()))
		}
	}
	return errs
}

func (r *RESTConfig) validate() []error {
	var errs []error
	if r.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("rest.timeout must be positive, got %s", r.Timeout.Std()))
	}
	if r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("rest.max_retries must not be negative, got %d", r.MaxRetries))
	}
	if r.GlobalLimit < 1 || r.GlobalWindow <= 0 {
		errs = append(errs, fmt.Errorf("rest.global_limit and rest.global_window must be positive, got %d per %s",
			r.GlobalLimit, r.GlobalWindow.Std()))
	}
	if r.BucketIdle <= 0 {
		errs = append(errs, fmt.Errorf("rest.bucket_idle must be positive, got %s", r.BucketIdle.Std()))
	}
	return errs
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", name)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w. debug forces the
// debug level regardless of log.level.
func (c *Config) NewLogger(w io.Writer, debug bool) (*slog.Logger, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options)), nil
	}
	return slog.New(slog.NewTextHandler(w, options)), nil
}

// EnsurePaths creates the checkpoint directory when one is configured.
func (c *Config) EnsurePaths() error {
	if c.Gateway.CheckpointDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Gateway.CheckpointDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Gateway.CheckpointDir, err)
	}
	return nil
}
