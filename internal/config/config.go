package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	HTTPAddr        string
	HTTPMaxConns    int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	JWTSecret []byte
	JWTTTL    time.Duration

	MapsAPIKey    string
	USPSUserID    string
	VisionEnabled bool
	CalendarID    string

	WritebackWorkers int
	WritebackQueue   int
}

func Load() *Config {
	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     intEnv("DB_PORT", 5432),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  stringEnv("DB_SSLMODE", "disable"),

		HTTPAddr:        stringEnv("HTTP_ADDR", ":8080"),
		HTTPMaxConns:    intEnv("HTTP_MAX_CONNS", 256),
		ShutdownTimeout: durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSOrigins:     listEnv("CORS_ORIGINS", []string{"*"}),

		JWTSecret: []byte(os.Getenv("JWT_SECRET")),
		JWTTTL:    durationEnv("JWT_TTL", 24*time.Hour),

		MapsAPIKey:    os.Getenv("MAPS_API_KEY"),
		USPSUserID:    os.Getenv("USPS_USER_ID"),
		VisionEnabled: boolEnv("VISION_ENABLED", false),
		CalendarID:    os.Getenv("CALENDAR_ID"),

		WritebackWorkers: intEnv("WRITEBACK_WORKERS", 4),
		WritebackQueue:   intEnv("WRITEBACK_QUEUE", 256),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.WritebackWorkers <= 0 || c.WritebackQueue <= 0 {
		return fmt.Errorf("WRITEBACK_WORKERS and WRITEBACK_QUEUE must be positive")
	}
	return nil
}

func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}

func boolEnv(key string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return b
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// listEnv splits a comma separated value, dropping blanks.
func listEnv(key string, fallback []string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
