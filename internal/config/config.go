package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/minhtran241/edge-computing-models/internal/algorithm"
	"github.com/minhtran241/edge-computing-models/internal/model"
)

// ErrConfiguration marks settings that make the process unable to start.
var ErrConfiguration = errors.New("configuration error")

type Role string

const (
	RoleIoT   Role = "iot"
	RoleEdge  Role = "edge"
	RoleCloud Role = "cloud"
)

type StreamMode string

const (
	StreamModeWebSocket StreamMode = "websocket"
	StreamModeGRPC      StreamMode = "grpc"
)

const (
	DefaultIterations = 54
	DefaultSizeTier   = "small"
	DefaultEdgeAddr   = ":10000"
	DefaultCloudAddr  = ":20000"
)

// Config is resolved once at process start and never mutated afterwards.
type Config struct {
	Role            Role
	NodeID          string
	Architecture    model.Architecture
	StreamMode      StreamMode
	ListenAddr      string
	TargetAddresses []string
	UpstreamAddress string
	Algorithm       algorithm.Algorithm
	SizeTier        string
	Iterations      int
	DataRoot        string

	ConnectTimeout   time.Duration
	ConnectRetries   int
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	MaxMessageBytes  int64
	QueuePollTimeout time.Duration
	Linger           time.Duration
	ShutdownTimeout  time.Duration
	AdminAddr        string
	ReportPath       string
	HostSampleEvery  time.Duration
	LogJSON          bool
	LogLevel         string
}

// Overrides carries command line values. Zero values leave the environment
// setting in place.
type Overrides struct {
	NodeID       string
	Architecture string
	Algorithm    string
	SizeTier     string
	Iterations   int
}

// Load reads .env (if present) and the process environment for role.
func Load(role Role, o Overrides) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load .env: %v", ErrConfiguration, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		Role:             role,
		NodeID:           pick(o.NodeID, env("NODE_ID", hostname)),
		StreamMode:       StreamMode(strings.ToLower(env("STREAM_MODE", string(StreamModeWebSocket)))),
		ListenAddr:       env("LISTEN_ADDR", defaultListenAddr(role)),
		TargetAddresses:  envList("IOT_TARGETS", []string{"ws://127.0.0.1:10000/ws"}),
		UpstreamAddress:  env("EDGE_TARGET", ""),
		SizeTier:         pick(o.SizeTier, env("SIZE_TIER", DefaultSizeTier)),
		Iterations:       envInt("ITERATIONS", DefaultIterations),
		DataRoot:         env("DATA_ROOT", "data"),
		ConnectTimeout:   envDuration("CONNECT_TIMEOUT", 10*time.Second),
		ConnectRetries:   envInt("CONNECT_RETRIES", 5),
		WriteTimeout:     envDuration("WS_WRITE_TIMEOUT", 30*time.Second),
		PingInterval:     envDuration("WS_PING_INTERVAL", 10*time.Second),
		MaxMessageBytes:  int64(envInt("MAX_MESSAGE_BYTES", 100_000_000)),
		QueuePollTimeout: envDuration("QUEUE_POLL_TIMEOUT", time.Second),
		Linger:           envDuration("IOT_LINGER", 0),
		ShutdownTimeout:  envDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		AdminAddr:        env("ADMIN_ADDR", ""),
		ReportPath:       env("REPORT_PATH", ""),
		HostSampleEvery:  envDuration("HOST_SAMPLE_INTERVAL", 5*time.Second),
		LogJSON:          envBool("LOG_JSON", false),
		LogLevel:         strings.ToLower(env("LOG_LEVEL", "info")),
	}
	if o.Iterations > 0 {
		cfg.Iterations = o.Iterations
	}

	arch, err := model.ParseArchitecture(pick(o.Architecture, env("ROLE_ARCH", string(model.ArchEdge))))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.Architecture = arch

	algo, err := algorithm.Parse(pick(o.Algorithm, env("ALGORITHM", "SW")))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.Algorithm = algo

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return fmt.Errorf("%w: NODE_ID is required", ErrConfiguration)
	}
	switch c.Role {
	case RoleIoT, RoleEdge, RoleCloud:
	default:
		return fmt.Errorf("%w: unsupported role %q", ErrConfiguration, c.Role)
	}
	switch c.StreamMode {
	case StreamModeWebSocket, StreamModeGRPC:
	default:
		return fmt.Errorf("%w: unsupported stream mode %q", ErrConfiguration, c.StreamMode)
	}
	if c.ConnectTimeout <= 0 || c.WriteTimeout <= 0 || c.QueuePollTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be > 0", ErrConfiguration)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: SHUTDOWN_TIMEOUT must be > 0", ErrConfiguration)
	}
	if c.HostSampleEvery < 0 {
		return fmt.Errorf("%w: HOST_SAMPLE_INTERVAL must be >= 0", ErrConfiguration)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("%w: CONNECT_RETRIES must be >= 0", ErrConfiguration)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%w: MAX_MESSAGE_BYTES must be > 0", ErrConfiguration)
	}

	switch c.Role {
	case RoleIoT:
		if len(c.TargetAddresses) == 0 {
			return fmt.Errorf("%w: IOT_TARGETS is required for the iot role", ErrConfiguration)
		}
		if c.Iterations <= 0 {
			return fmt.Errorf("%w: ITERATIONS must be > 0", ErrConfiguration)
		}
		if _, err := c.Algorithm.DataDirectory(c.DataRoot, c.SizeTier); err != nil {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	case RoleEdge, RoleCloud:
		if strings.TrimSpace(c.ListenAddr) == "" {
			return fmt.Errorf("%w: LISTEN_ADDR is required for the %s role", ErrConfiguration, c.Role)
		}
	}
	return nil
}

// DataDirectory is the directory the IoT role reads its input from.
func (c Config) DataDirectory() string {
	dir, _ := c.Algorithm.DataDirectory(c.DataRoot, c.SizeTier)
	return dir
}

func defaultListenAddr(role Role) string {
	if role == RoleCloud {
		return DefaultCloudAddr
	}
	return DefaultEdgeAddr
}

func pick(override, fallback string) string {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override)
	}
	return fallback
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
