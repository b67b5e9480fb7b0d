// Package config manages gomixnet daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete mixnoded configuration.
type Config struct {
	Control   ControlConfig   `koanf:"control"`
	Transport TransportConfig `koanf:"transport"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Mixnet    MixnetConfig    `koanf:"mixnet"`
	Mixnodes  []MixnodeConfig `koanf:"mixnodes"`
}

// TransportConfig holds the UDP packet-transport listen configuration.
type TransportConfig struct {
	// Addr is the UDP listen address for mixnet packet traffic (e.g. ":7900").
	Addr string `koanf:"addr"`
}

// ControlConfig holds the local operator-control socket configuration
// (the surface mixnetctl talks to).
type ControlConfig struct {
	// Addr is the control TCP listen address (e.g., "127.0.0.1:7777").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MixnetConfig holds the engine tunables exposed through the daemon
// configuration file. cmd/mixnoded converts it into an internal/mixnet.Config
// at startup.
type MixnetConfig struct {
	// GenCoverPackets globally enables cover traffic generation.
	GenCoverPackets bool `koanf:"gen_cover_packets"`
	// LoopCoverProportion is the fraction, in [0, 1], of generated cover
	// packets that loop back to the local node rather than dropping at a
	// random mixnode.
	LoopCoverProportion float64 `koanf:"loop_cover_proportion"`

	// NumHops is the number of mixnode hops in every generated route.
	NumHops int `koanf:"num_hops"`
	// NumGatewayMixnodes is the size of the gateway subset offered to
	// non-mixnode clients.
	NumGatewayMixnodes int `koanf:"num_gateway_mixnodes"`
	// MinMixnodes is the minimum roster size for a session to be usable.
	MinMixnodes int `koanf:"min_mixnodes"`

	// MeanForwardingDelay resolves an abstract per-hop delay factor into a
	// concrete duration.
	MeanForwardingDelay time.Duration `koanf:"mean_forwarding_delay"`

	// MaxFragmentsPerMessage bounds how many fragments a single message
	// may be split into.
	MaxFragmentsPerMessage int `koanf:"max_fragments_per_message"`
	// MaxIncompleteMessages bounds concurrently reassembling messages.
	MaxIncompleteMessages int `koanf:"max_incomplete_messages"`
	// MaxIncompleteFragments bounds fragments held across all
	// reassembling messages.
	MaxIncompleteFragments int `koanf:"max_incomplete_fragments"`

	// ForwardPacketQueueCapacity bounds the queue of packets awaiting
	// forwarding.
	ForwardPacketQueueCapacity int `koanf:"forward_packet_queue_capacity"`
	// SurbKeystoreCapacity bounds outstanding SURBs remembered at once.
	SurbKeystoreCapacity int `koanf:"surb_keystore_capacity"`

	// MixnodeSession holds queue/rate tunables used while this node is a
	// mixnode for a session.
	MixnodeSession SessionRoleConfig `koanf:"mixnode_session"`
	// NonMixnodeSession holds the same tunables for when this node is a
	// light client of a session. Leave Enabled false to disable acting as
	// a client for sessions where this node is not a mixnode.
	NonMixnodeSession NonMixnodeSessionConfig `koanf:"non_mixnode_session"`
}

// SessionRoleConfig mirrors internal/mixnet.SessionRoleConfig for
// configuration-file purposes.
type SessionRoleConfig struct {
	AuthoredPacketQueueCapacity int           `koanf:"authored_packet_queue_capacity"`
	MeanAuthoredPacketPeriod    time.Duration `koanf:"mean_authored_packet_period"`
}

// NonMixnodeSessionConfig wraps SessionRoleConfig with an explicit enable
// flag, since internal/mixnet.Config represents "disabled" as a nil
// pointer rather than a zero value.
type NonMixnodeSessionConfig struct {
	Enabled bool `koanf:"enabled"`
	SessionRoleConfig
}

// MixnodeConfig declares one statically-known mixnode in the network
// roster. A production deployment would normally learn this roster from a
// directory service instead; static entries are provided for small or
// test deployments where running one is unwarranted.
type MixnodeConfig struct {
	// KxPublic is the mixnode's key-exchange public key, hex-encoded.
	KxPublic string `koanf:"kx_public"`
	// PeerID is the mixnode's transport peer identifier, hex-encoded.
	PeerID string `koanf:"peer_id"`
	// Addr is the mixnode's transport address.
	Addr string `koanf:"addr"`
	// Gateway marks this mixnode as accepting light-client connections.
	Gateway bool `koanf:"gateway"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Addr: "127.0.0.1:7777",
		},
		Transport: TransportConfig{
			Addr: ":7900",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Mixnet: MixnetConfig{
			GenCoverPackets:            true,
			LoopCoverProportion:        0.5,
			NumHops:                    3,
			NumGatewayMixnodes:         3,
			MinMixnodes:                5,
			MeanForwardingDelay:        200 * time.Millisecond,
			MaxFragmentsPerMessage:     16,
			MaxIncompleteMessages:      1024,
			MaxIncompleteFragments:     8192,
			ForwardPacketQueueCapacity: 65536,
			SurbKeystoreCapacity:       16384,
			MixnodeSession: SessionRoleConfig{
				AuthoredPacketQueueCapacity: 4096,
				MeanAuthoredPacketPeriod:    50 * time.Millisecond,
			},
			NonMixnodeSession: NonMixnodeSessionConfig{
				Enabled: true,
				SessionRoleConfig: SessionRoleConfig{
					AuthoredPacketQueueCapacity: 256,
					MeanAuthoredPacketPeriod:    500 * time.Millisecond,
				},
			},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gomixnet configuration.
// Variables are named GOMIXNET_<section>_<key>, e.g., GOMIXNET_LOG_LEVEL.
const envPrefix = "GOMIXNET_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOMIXNET_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOMIXNET_CONTROL_ADDR      -> control.addr
//	GOMIXNET_METRICS_ADDR      -> metrics.addr
//	GOMIXNET_METRICS_PATH      -> metrics.path
//	GOMIXNET_LOG_LEVEL         -> log.level
//	GOMIXNET_LOG_FORMAT        -> log.format
//	GOMIXNET_MIXNET_NUM_HOPS   -> mixnet.num_hops
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// GOMIXNET_LOG_LEVEL -> log.level (strip prefix, lowercase, first _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOMIXNET_MIXNET_NUM_HOPS -> mixnet.num_hops.
// Strips the GOMIXNET_ prefix, lowercases, and replaces the first _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"control.addr":                 defaults.Control.Addr,
		"transport.addr":               defaults.Transport.Addr,
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"mixnet.gen_cover_packets":     defaults.Mixnet.GenCoverPackets,
		"mixnet.loop_cover_proportion": defaults.Mixnet.LoopCoverProportion,
		"mixnet.num_hops":              defaults.Mixnet.NumHops,
		"mixnet.num_gateway_mixnodes":  defaults.Mixnet.NumGatewayMixnodes,
		"mixnet.min_mixnodes":          defaults.Mixnet.MinMixnodes,
		"mixnet.mean_forwarding_delay": defaults.Mixnet.MeanForwardingDelay.String(),

		"mixnet.max_fragments_per_message":     defaults.Mixnet.MaxFragmentsPerMessage,
		"mixnet.max_incomplete_messages":       defaults.Mixnet.MaxIncompleteMessages,
		"mixnet.max_incomplete_fragments":      defaults.Mixnet.MaxIncompleteFragments,
		"mixnet.forward_packet_queue_capacity": defaults.Mixnet.ForwardPacketQueueCapacity,
		"mixnet.surb_keystore_capacity":        defaults.Mixnet.SurbKeystoreCapacity,

		"mixnet.mixnode_session.authored_packet_queue_capacity": defaults.Mixnet.MixnodeSession.AuthoredPacketQueueCapacity,
		"mixnet.mixnode_session.mean_authored_packet_period":    defaults.Mixnet.MixnodeSession.MeanAuthoredPacketPeriod.String(),

		"mixnet.non_mixnode_session.enabled":                        defaults.Mixnet.NonMixnodeSession.Enabled,
		"mixnet.non_mixnode_session.authored_packet_queue_capacity": defaults.Mixnet.NonMixnodeSession.AuthoredPacketQueueCapacity,
		"mixnet.non_mixnode_session.mean_authored_packet_period":    defaults.Mixnet.NonMixnodeSession.MeanAuthoredPacketPeriod.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyControlAddr indicates the control listen address is empty.
	ErrEmptyControlAddr = errors.New("control.addr must not be empty")

	// ErrEmptyTransportAddr indicates the transport listen address is empty.
	ErrEmptyTransportAddr = errors.New("transport.addr must not be empty")

	// ErrInvalidLoopCoverProportion indicates mixnet.loop_cover_proportion
	// is outside [0, 1].
	ErrInvalidLoopCoverProportion = errors.New("mixnet.loop_cover_proportion must be within [0, 1]")

	// ErrInvalidNumHops indicates mixnet.num_hops is out of range.
	ErrInvalidNumHops = errors.New("mixnet.num_hops must be between 1 and the maximum supported hop count")

	// ErrInvalidMinMixnodes indicates mixnet.min_mixnodes is not positive.
	ErrInvalidMinMixnodes = errors.New("mixnet.min_mixnodes must be >= 1")

	// ErrInvalidMeanForwardingDelay indicates mixnet.mean_forwarding_delay
	// is not positive.
	ErrInvalidMeanForwardingDelay = errors.New("mixnet.mean_forwarding_delay must be > 0")

	// ErrInvalidMaxFragmentsPerMessage indicates the fragment cap is not
	// positive.
	ErrInvalidMaxFragmentsPerMessage = errors.New("mixnet.max_fragments_per_message must be >= 1")

	// ErrInvalidMixnodeKxPublic indicates a mixnode entry's key-exchange
	// public key is not valid hex of the expected length.
	ErrInvalidMixnodeKxPublic = errors.New("mixnode kx_public must be 32 bytes of hex")

	// ErrInvalidMixnodePeerID indicates a mixnode entry's peer id is not
	// valid hex of the expected length.
	ErrInvalidMixnodePeerID = errors.New("mixnode peer_id must be 32 bytes of hex")

	// ErrDuplicateMixnodeKxPublic indicates two mixnode entries share a
	// key-exchange public key.
	ErrDuplicateMixnodeKxPublic = errors.New("duplicate mixnode kx_public")
)

// maxSupportedHops mirrors internal/sphinx.MaxHops without importing it,
// keeping internal/config free of a dependency on the engine's wire
// format.
const maxSupportedHops = 5

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Control.Addr == "" {
		return ErrEmptyControlAddr
	}

	if cfg.Transport.Addr == "" {
		return ErrEmptyTransportAddr
	}

	if cfg.Mixnet.LoopCoverProportion < 0 || cfg.Mixnet.LoopCoverProportion > 1 {
		return ErrInvalidLoopCoverProportion
	}

	if cfg.Mixnet.NumHops < 1 || cfg.Mixnet.NumHops > maxSupportedHops {
		return ErrInvalidNumHops
	}

	if cfg.Mixnet.MinMixnodes < 1 {
		return ErrInvalidMinMixnodes
	}

	if cfg.Mixnet.MeanForwardingDelay <= 0 {
		return ErrInvalidMeanForwardingDelay
	}

	if cfg.Mixnet.MaxFragmentsPerMessage < 1 {
		return ErrInvalidMaxFragmentsPerMessage
	}

	if err := validateMixnodes(cfg.Mixnodes); err != nil {
		return err
	}

	return nil
}

// validateMixnodes checks each statically-declared mixnode entry for
// correctness.
func validateMixnodes(mixnodes []MixnodeConfig) error {
	seen := make(map[string]struct{}, len(mixnodes))

	for i, mn := range mixnodes {
		if len(mn.KxPublic) != 64 || !isHex(mn.KxPublic) {
			return fmt.Errorf("mixnodes[%d]: %w", i, ErrInvalidMixnodeKxPublic)
		}
		if len(mn.PeerID) != 64 || !isHex(mn.PeerID) {
			return fmt.Errorf("mixnodes[%d]: %w", i, ErrInvalidMixnodePeerID)
		}

		if _, dup := seen[mn.KxPublic]; dup {
			return fmt.Errorf("mixnodes[%d]: %w", i, ErrDuplicateMixnodeKxPublic)
		}
		seen[mn.KxPublic] = struct{}{}
	}

	return nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
