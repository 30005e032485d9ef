// Package config loads the process configuration from environment variables
// with a small set of flag overrides for local development.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr        = "RENDEZVOUS_LISTEN_ADDR"
	envVarMode              = "RENDEZVOUS_MODE"
	envVarLogFormat         = "RENDEZVOUS_LOG_FORMAT"
	envVarLogLevel          = "RENDEZVOUS_LOG_LEVEL"
	envVarInstanceName      = "RENDEZVOUS_INSTANCE_NAME"
	envVarShutdownTimeout   = "RENDEZVOUS_SHUTDOWN_TIMEOUT"
	envVarTLSCertFile       = "RENDEZVOUS_TLS_CERT_FILE"
	envVarTLSKeyFile        = "RENDEZVOUS_TLS_KEY_FILE"
	envVarSupportedVersions = "RENDEZVOUS_SUPPORTED_VERSIONS"
	envVarAllowedOrigins    = "ALLOWED_ORIGINS"

	// WebSocket hardening knobs.
	envVarMaxMessageBytes      = "MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_MESSAGES_PER_SECOND"
	envVarWSIdleTimeout        = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "WS_PING_INTERVAL"

	// Optional room-lifecycle event publishing.
	envVarMQURL      = "RENDEZVOUS_MQ_URL"
	envVarMQExchange = "RENDEZVOUS_MQ_EXCHANGE"
)

const (
	DefaultListenAddr           = "127.0.0.1:8787"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultSupportedVersions    = "1.0.0"
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMQExchange           = "rendezvous.events"

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

var versionRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

type Config struct {
	ListenAddr   string
	Mode         Mode
	LogFormat    LogFormat
	LogLevel     slog.Level
	InstanceName string

	ShutdownTimeout time.Duration

	TLSCertFile string
	TLSKeyFile  string

	// SupportedVersions is the accepted set of client protocol versions,
	// matched against the <major>.<minor>.<patch> portion of the client's
	// declared identifier.
	SupportedVersions []string

	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int64
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration

	MQURL      string
	MQExchange string
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if strings.TrimSpace(envMode) != "" {
		modeDefault = strings.TrimSpace(envMode)
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	logFormatDefault := strings.TrimSpace(envLogFormat)
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	logLevelDefault := strings.TrimSpace(envLogLevel)
	if logLevelDefault == "" {
		logLevelDefault = "info"
	}

	envListenAddr, _ := lookup(envVarListenAddr)

	fs := flag.NewFlagSet("rendezvousd", flag.ContinueOnError)
	modeFlag := fs.String("mode", modeDefault, "run mode: dev or prod")
	logFormatFlag := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevelFlag := fs.String("log-level", logLevelDefault, "log level: debug, info, warn or error")
	listenAddrFlag := fs.String("listen-addr", strings.TrimSpace(envListenAddr), "address to listen on")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode := Mode(strings.TrimSpace(*modeFlag))
	if mode != ModeDev && mode != ModeProd {
		return Config{}, fmt.Errorf("invalid mode %q (want dev or prod)", *modeFlag)
	}

	logFormat := LogFormat(strings.TrimSpace(*logFormatFlag))
	if logFormat != LogFormatText && logFormat != LogFormatJSON {
		return Config{}, fmt.Errorf("invalid log format %q (want text or json)", *logFormatFlag)
	}

	logLevel, err := parseLogLevel(*logLevelFlag)
	if err != nil {
		return Config{}, err
	}

	listenAddr := strings.TrimSpace(*listenAddrFlag)
	if listenAddr == "" {
		if mode == ModeProd {
			// The one unrecoverable deployment error: a prod instance with no
			// configured address must not silently bind a dev default.
			return Config{}, fmt.Errorf("%s is required in prod mode", envVarListenAddr)
		}
		listenAddr = DefaultListenAddr
	}

	instanceName := envOrDefault(lookup, envVarInstanceName, "")
	if instanceName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "rendezvous"
		}
		instanceName = host
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	tlsCert := envOrDefault(lookup, envVarTLSCertFile, "")
	tlsKey := envOrDefault(lookup, envVarTLSKeyFile, "")
	if (tlsCert == "") != (tlsKey == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", envVarTLSCertFile, envVarTLSKeyFile)
	}

	supportedVersions := splitList(envOrDefault(lookup, envVarSupportedVersions, DefaultSupportedVersions))
	if len(supportedVersions) == 0 {
		return Config{}, fmt.Errorf("%s must name at least one version", envVarSupportedVersions)
	}
	for _, v := range supportedVersions {
		if !versionRe.MatchString(v) {
			return Config{}, fmt.Errorf("invalid %s entry %q (want major.minor.patch)", envVarSupportedVersions, v)
		}
	}

	allowedOrigins := splitList(envOrDefault(lookup, envVarAllowedOrigins, ""))

	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}

	maxMessagesPerSecond, err := envInt64OrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessagesPerSecond)
	}

	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}

	mqURL := envOrDefault(lookup, envVarMQURL, "")
	mqExchange := envOrDefault(lookup, envVarMQExchange, DefaultMQExchange)

	return Config{
		ListenAddr:           listenAddr,
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             logLevel,
		InstanceName:         instanceName,
		ShutdownTimeout:      shutdownTimeout,
		TLSCertFile:          tlsCert,
		TLSKeyFile:           tlsKey,
		SupportedVersions:    supportedVersions,
		AllowedOrigins:       allowedOrigins,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MQURL:                mqURL,
		MQExchange:           mqExchange,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func defaultLogFormatForMode(mode string) string {
	if Mode(mode) == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, def string) string {
	if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw)
	}
	return def
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, def int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
