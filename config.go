package main

import (
	"os"
	"time"

	"fieldscan/backend"

	"github.com/joho/godotenv"
)

type Config struct {
	BackendURL       string
	Store            string // "file" | "mongo"
	DataDir          string
	MongoURI         string
	MongoDB          string
	SessionRetention time.Duration
	SessionIdleTTL   time.Duration
	JWTSecret        string
	Port             string
	TickInterval     time.Duration
	RedirectDelay    time.Duration
	CaptureDelay     time.Duration
	WeatherCacheTTL  time.Duration
	GeoIPURL         string
	LogLevel         string
}

// loadConfig reads an optional .env file, then the environment.
func loadConfig() Config {
	_ = godotenv.Load()

	cfg := Config{
		BackendURL:       getenv("ANALYSIS_API_URL", backend.DefaultBaseURL),
		Store:            getenv("STORE", "file"),
		DataDir:          getenv("DATA_DIR", "./data"),
		MongoURI:         getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:          getenv("MONGO_DB", "fieldscan"),
		SessionRetention: getduration("SESSION_RETENTION", 720*time.Hour),
		SessionIdleTTL:   getduration("SESSION_IDLE_TTL", 30*time.Minute),
		JWTSecret:        getenv("JWT_SECRET", "change_me"),
		Port:             getenv("PORT", "8080"),
		TickInterval:     getduration("TICK_INTERVAL", 500*time.Millisecond),
		RedirectDelay:    getduration("REDIRECT_DELAY", 1500*time.Millisecond),
		CaptureDelay:     getduration("CAPTURE_DELAY", 1500*time.Millisecond),
		WeatherCacheTTL:  getduration("WEATHER_CACHE_TTL", 5*time.Minute),
		GeoIPURL:         getenv("GEOIP_URL", "http://ip-api.com/json"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
	}

	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getduration parses k as a Go duration, falling back to def when unset or invalid.
func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
