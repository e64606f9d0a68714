package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/uinotify/internal/idgen"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "UINOTIFY_"

// Cluster transports.
const (
	ClusterNone     = ""
	ClusterNATS     = "nats"
	ClusterPostgres = "postgres"
)

type Config struct {
	NodeID    string     // UINOTIFY_NODE_ID (default: random "node-" id)
	HTTPAddr  string     // UINOTIFY_HTTP_ADDR (default ":8080")
	GRPCAddr  string     // UINOTIFY_GRPC_ADDR (default ":9090"; empty = gRPC disabled)
	AuthToken string     // UINOTIFY_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel  slog.Level // UINOTIFY_LOG_LEVEL (default "info")

	// Cluster fan-out
	Cluster         string        // UINOTIFY_CLUSTER ("", "nats" or "postgres")
	NATSURL         string        // UINOTIFY_NATS_URL (required for nats)
	ClusterSubject  string        // UINOTIFY_CLUSTER_SUBJECT (default "uinotify.cluster")
	DatabaseURL     string        // UINOTIFY_DATABASE_URL (required for postgres)
	BreakerFailures int           // UINOTIFY_BREAKER_FAILURES (default 5)
	BreakerReset    time.Duration // UINOTIFY_BREAKER_RESET (default 30s)

	// Registry
	NotificationTTL   time.Duration // UINOTIFY_NOTIFICATION_TTL (default 3m)
	WaitTimeout       time.Duration // UINOTIFY_WAIT_TIMEOUT (default 1m)
	CleanupInterval   time.Duration // UINOTIFY_CLEANUP_INTERVAL (default 1m; 0 = disabled)
	HandlerThroughput int           // UINOTIFY_HANDLER_THROUGHPUT (default 30 per second)

	// Long-poll rate limit
	PollRate  float64 // UINOTIFY_POLL_RATE (requests per second; 0 = unlimited)
	PollBurst int     // UINOTIFY_POLL_BURST (default 100)

	// Backlog snapshots
	SnapshotInterval   time.Duration // UINOTIFY_SNAPSHOT_INTERVAL (default 0 = disabled)
	SnapshotS3Bucket   string        // UINOTIFY_SNAPSHOT_S3_BUCKET (required when enabled)
	SnapshotS3Key      string        // UINOTIFY_SNAPSHOT_S3_KEY (default "uinotify/backlog.jsonl")
	SnapshotS3Region   string        // UINOTIFY_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Endpoint string        // UINOTIFY_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)

	ConfigFile string // UINOTIFY_CONFIG_FILE (optional TOML file with defaults)
}

// keys lists every setting without its prefix. A TOML config file uses the
// lower-case form ("notification_ttl = \"5m\"").
var keys = []string{
	"NODE_ID", "HTTP_ADDR", "GRPC_ADDR", "AUTH_TOKEN", "LOG_LEVEL",
	"CLUSTER", "NATS_URL", "CLUSTER_SUBJECT", "DATABASE_URL",
	"BREAKER_FAILURES", "BREAKER_RESET",
	"NOTIFICATION_TTL", "WAIT_TIMEOUT", "CLEANUP_INTERVAL", "HANDLER_THROUGHPUT",
	"POLL_RATE", "POLL_BURST",
	"SNAPSHOT_INTERVAL", "SNAPSHOT_S3_BUCKET", "SNAPSHOT_S3_KEY", "SNAPSHOT_S3_REGION", "SNAPSHOT_S3_ENDPOINT",
}

// Load reads the configuration from the environment. When UINOTIFY_CONFIG_FILE
// names a TOML file its values replace the built-in defaults; environment
// variables still take precedence.
func Load() (*Config, error) {
	src := source{file: map[string]string{}}
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	c := &Config{
		NodeID:             src.get("NODE_ID", ""),
		HTTPAddr:           src.get("HTTP_ADDR", ":8080"),
		GRPCAddr:           src.get("GRPC_ADDR", ":9090"),
		AuthToken:          src.get("AUTH_TOKEN", ""),
		Cluster:            strings.ToLower(src.get("CLUSTER", ClusterNone)),
		NATSURL:            src.get("NATS_URL", ""),
		ClusterSubject:     src.get("CLUSTER_SUBJECT", "uinotify.cluster"),
		DatabaseURL:        src.get("DATABASE_URL", ""),
		SnapshotS3Bucket:   src.get("SNAPSHOT_S3_BUCKET", ""),
		SnapshotS3Key:      src.get("SNAPSHOT_S3_KEY", "uinotify/backlog.jsonl"),
		SnapshotS3Region:   src.get("SNAPSHOT_S3_REGION", "us-east-1"),
		SnapshotS3Endpoint: src.get("SNAPSHOT_S3_ENDPOINT", ""),
		ConfigFile:         os.Getenv(envPrefix + "CONFIG_FILE"),
	}
	if c.NodeID == "" {
		id, err := idgen.GenerateNodeID()
		if err != nil {
			return nil, fmt.Errorf("%sNODE_ID: %w", envPrefix, err)
		}
		c.NodeID = id
	}

	if err := c.LogLevel.UnmarshalText([]byte(src.get("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err)
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"BREAKER_RESET", "30s", &c.BreakerReset},
		{"NOTIFICATION_TTL", "3m", &c.NotificationTTL},
		{"WAIT_TIMEOUT", "1m", &c.WaitTimeout},
		{"CLEANUP_INTERVAL", "1m", &c.CleanupInterval},
		{"SNAPSHOT_INTERVAL", "0", &c.SnapshotInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(src.get(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", envPrefix, d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: %s%s must not be negative", ErrInvalid, envPrefix, d.key)
		}
		*d.dst = v
	}

	ints := []struct {
		key      string
		fallback string
		dst      *int
	}{
		{"BREAKER_FAILURES", "5", &c.BreakerFailures},
		{"HANDLER_THROUGHPUT", "30", &c.HandlerThroughput},
		{"POLL_BURST", "100", &c.PollBurst},
	}
	for _, i := range ints {
		v, err := strconv.Atoi(src.get(i.key, i.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", envPrefix, i.key, err)
		}
		*i.dst = v
	}

	rate, err := strconv.ParseFloat(src.get("POLL_RATE", "0"), 64)
	if err != nil {
		return nil, fmt.Errorf("%sPOLL_RATE: %w", envPrefix, err)
	}
	c.PollRate = rate

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Cluster {
	case ClusterNone:
	case ClusterNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("%w: %sCLUSTER=nats requires %sNATS_URL", ErrInvalid, envPrefix, envPrefix)
		}
	case ClusterPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: %sCLUSTER=postgres requires %sDATABASE_URL", ErrInvalid, envPrefix, envPrefix)
		}
	default:
		return fmt.Errorf("%w: unknown %sCLUSTER %q (want nats or postgres)", ErrInvalid, envPrefix, c.Cluster)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: %sHTTP_ADDR is empty", ErrInvalid, envPrefix)
	}
	if c.HandlerThroughput < 1 {
		return fmt.Errorf("%w: %sHANDLER_THROUGHPUT must be at least 1", ErrInvalid, envPrefix)
	}
	if c.PollRate < 0 || c.PollBurst < 1 {
		return fmt.Errorf("%w: %sPOLL_RATE must be >= 0 and %sPOLL_BURST >= 1", ErrInvalid, envPrefix, envPrefix)
	}
	if c.SnapshotInterval > 0 && c.SnapshotS3Bucket == "" {
		return fmt.Errorf("%w: %sSNAPSHOT_INTERVAL requires %sSNAPSHOT_S3_BUCKET", ErrInvalid, envPrefix, envPrefix)
	}
	return nil
}

// source resolves a setting from the environment, then the config file, then
// the built-in default.
type source struct {
	file map[string]string
}

func (s source) get(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return fallback
}

func readFile(path string) (map[string]string, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}

	out := make(map[string]string, len(raw))
	var unknown []string
	for k, v := range raw {
		key := strings.ToUpper(k)
		if !known[key] {
			unknown = append(unknown, k)
			continue
		}
		switch v := v.(type) {
		case string, int64, float64, bool:
			out[key] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("%w: %s: %s must be a scalar", ErrInvalid, path, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(unknown, ", "))
	}
	return out, nil
}
