package simcast

import (
	"os"
	"strconv"
)

// Config holds all runtime settings. Every field has a working default
// and can be overridden through SIMCAST_* environment variables.
type Config struct {
	HTTPAddr   string // Viewer HTTP server (player, /offer, /control, /status)
	IngestAddr string // WebSocket ingest for the capture app
	RTMPAddr   string // RTMP ingest ("" disables)
	WDAURL     string // WebDriverAgent base URL

	QueueSize   int // Frame queue bound
	Width       int // Default video width before the stream reports one
	Height      int // Default video height
	FPS         int // Output frame rate
	BitrateBps  int // WebRTC encode bitrate
	ScaleFactor float64
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8999",
		IngestAddr:  ":8765",
		RTMPAddr:    ":1935",
		WDAURL:      "http://localhost:8100",
		QueueSize:   DefaultQueueSize,
		Width:       1080,
		Height:      1920,
		FPS:         30,
		BitrateBps:  2_000_000,
		ScaleFactor: 3,
	}
}

// LoadConfig builds a Config from defaults plus environment overrides.
func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = getEnv("SIMCAST_HTTP_ADDR", cfg.HTTPAddr)
	cfg.IngestAddr = getEnv("SIMCAST_INGEST_ADDR", cfg.IngestAddr)
	cfg.RTMPAddr = getEnv("SIMCAST_RTMP_ADDR", cfg.RTMPAddr)
	cfg.WDAURL = getEnv("SIMCAST_WDA_URL", cfg.WDAURL)
	cfg.QueueSize = getEnvInt("SIMCAST_QUEUE_SIZE", cfg.QueueSize)
	cfg.Width = getEnvInt("SIMCAST_WIDTH", cfg.Width)
	cfg.Height = getEnvInt("SIMCAST_HEIGHT", cfg.Height)
	cfg.FPS = getEnvInt("SIMCAST_FPS", cfg.FPS)
	cfg.BitrateBps = getEnvInt("SIMCAST_BITRATE", cfg.BitrateBps)
	if v := os.Getenv("SIMCAST_SCALE_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.ScaleFactor = f
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
