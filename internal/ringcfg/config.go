// Package ringcfg loads the ring-buffer filter's tunables and the ambient
// server configuration from the environment, in the same getEnv/getEnvInt64
// style used throughout this codebase.
package ringcfg

import (
	"os"
	"strconv"
	"strings"
	"time"

	"ringstream/internal/ringbuf"
)

// Config is the full environment-sourced configuration for cmd/server: the
// ring-buffer tunables (ringbuf.Config) plus activation, logging, and
// wiring settings that sit outside the filter itself.
type Config struct {
	RingBufEnable bool
	RingBuf       ringbuf.Config

	LogLevel  string
	LogFormat string

	HTTPAddr      string
	SourceURL     string
	MongoURI      string
	MongoDatabase string

	// SourceRateBytesPerSec throttles source.HTTPRangeSource's reads to
	// model a bandwidth-capped origin. 0 means unlimited.
	SourceRateBytesPerSec int64
}

// LoadConfig reads Config from the environment, falling back to the
// reference defaults (spec.md §3.1) for anything unset.
func LoadConfig() Config {
	defaults := ringbuf.DefaultConfig()
	return Config{
		RingBufEnable: getEnvBool("RINGBUF_ENABLE", false),
		RingBuf: ringbuf.Config{
			BlockSize:         getEnvInt64("RINGBUF_BLOCK_SIZE", defaults.BlockSize),
			BlockCount:        int(getEnvInt64("RINGBUF_BLOCK_COUNT", int64(defaults.BlockCount))),
			RWGuard:           getEnvInt64("RINGBUF_RW_GUARD", defaults.RWGuard),
			SeekGuard:         getEnvInt64("RINGBUF_SEEK_GUARD", defaults.SeekGuard),
			LongSeekThreshold: getEnvInt64("RINGBUF_LONG_SEEK_THRESHOLD", defaults.LongSeekThreshold),
			StepRead:          getEnvInt64("RINGBUF_STEP_READ", defaults.StepRead),
			PollInterval:      time.Duration(getEnvInt64("RINGBUF_POLL_INTERVAL_MS", defaults.PollInterval.Milliseconds())) * time.Millisecond,
		},
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		SourceURL:     getEnv("SOURCE_URL", ""),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DB", "ringstream"),

		SourceRateBytesPerSec: getEnvInt64NonNegative("RINGBUF_SOURCE_RATE_BYTES_PER_SEC", 0),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvInt64NonNegative parses key as a non-negative integer, unlike
// getEnvInt64 (used for the ring-buffer tunables, where 0 is never a valid
// setting): here 0 is a legitimate value, meaning "unlimited".
func getEnvInt64NonNegative(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
