// Package config centralizes every tunable the dispatch core needs,
// sourced from environment variables; cmd/server/main.go builds one with
// FromEnv at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is process-wide, explicitly constructed at startup and passed to
// component constructors instead of read ad hoc from globals.
type Config struct {
	HTTPAddr    string
	Environment string

	DatabaseURL string
	RedisURL    string

	InitialSearchRadiusKM float64
	SearchRadiusStepKM    float64
	MaxSearchRadiusKM     float64
	MatchTimeout          time.Duration
	RoundTimeout          time.Duration
	ClaimTTL              time.Duration

	StaleLocationTTL time.Duration
	PickupProximityM float64
	ProximityNotifyM float64

	BaseFare               float64
	PerKMRate              float64
	FareProtectionThreshold float64

	DriverShare          float64
	PayoutDelay          time.Duration
	PaymentMaxRetries    int
	GatewayFailureThresh int
	GatewayRecovery      time.Duration
	PaymentAttemptTimeout time.Duration

	CancellationGraceWindow time.Duration
	CancellationFee         float64

	ServiceAreaPrimary  BoundingBox
	ServiceAreaExtended BoundingBox

	DriverHeartbeatTTL time.Duration
	IdempotencyTTL     time.Duration
	AuthTokenTTL       time.Duration

	SessionIdleTimeout time.Duration
}

// BoundingBox is an axis-aligned lat/lon rectangle used for service-area
// checks.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether a point falls within the box, inclusive of the
// boundary (a point exactly on an edge is "within").
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// FromEnv builds a Config from environment variables, falling back to
// documented defaults for anything unset.
func FromEnv() Config {
	return Config{
		HTTPAddr:    envOrDefault("HTTP_ADDR", ":8080"),
		Environment: envOrDefault("ENV", "dev"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    envOrDefault("REDIS_URL", "redis://redis:6379"),

		InitialSearchRadiusKM: envFloat("INITIAL_SEARCH_RADIUS_KM", 5),
		SearchRadiusStepKM:    envFloat("SEARCH_RADIUS_EXPANSION_KM", 2),
		MaxSearchRadiusKM:     envFloat("MAX_SEARCH_RADIUS_KM", 15),
		MatchTimeout:          envDuration("MATCH_TIMEOUT_SECONDS", 120*time.Second),
		RoundTimeout:          envDuration("ROUND_TIMEOUT_SECONDS", 30*time.Second),
		ClaimTTL:              envDuration("CLAIM_TTL_SECONDS", 10*time.Second),

		StaleLocationTTL: envDuration("STALE_LOCATION_TTL_SECONDS", 60*time.Second),
		PickupProximityM: envFloat("PICKUP_PROXIMITY_M", 200),
		ProximityNotifyM: envFloat("PROXIMITY_NOTIFY_M", 500),

		BaseFare:                envFloat("BASE_FARE", 40),
		PerKMRate:               envFloat("PER_KM_RATE", 12),
		FareProtectionThreshold: envFloat("FARE_PROTECTION_THRESHOLD", 0.20),

		DriverShare:           envFloat("DRIVER_SHARE", 0.80),
		PayoutDelay:           time.Duration(envFloat("PAYOUT_DELAY_HOURS", 24) * float64(time.Hour)),
		PaymentMaxRetries:     envInt("PAYMENT_MAX_RETRIES", 2),
		GatewayFailureThresh:  envInt("GATEWAY_FAILURE_THRESHOLD", 5),
		GatewayRecovery:       envDuration("GATEWAY_RECOVERY_SECONDS", 60*time.Second),
		PaymentAttemptTimeout: envDuration("PAYMENT_ATTEMPT_TIMEOUT_SECONDS", 10*time.Second),

		CancellationGraceWindow: envDuration("CANCELLATION_GRACE_WINDOW_SECONDS", 120*time.Second),
		CancellationFee:         envFloat("CANCELLATION_FEE", 50),

		ServiceAreaPrimary:  envBBox("SERVICE_AREA_PRIMARY_BBOX", BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}),
		ServiceAreaExtended: envBBox("SERVICE_AREA_EXTENDED_BBOX", BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}),

		DriverHeartbeatTTL: envDuration("DRIVER_TTL", 5*time.Minute),
		IdempotencyTTL:     envDuration("IDEMPOTENCY_TTL", 30*time.Minute),
		AuthTokenTTL:       envDuration("AUTH_TTL", 720*time.Hour),

		SessionIdleTimeout: envDuration("SESSION_IDLE_TIMEOUT_SECONDS", 90*time.Second),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}

// envBBox reads "minLat,maxLat,minLon,maxLon" from the environment.
func envBBox(key string, fallback BoundingBox) BoundingBox {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var box BoundingBox
	n, err := parseBBox(v, &box)
	if err != nil || n != 4 {
		return fallback
	}
	return box
}

func parseBBox(v string, box *BoundingBox) (int, error) {
	var minLat, maxLat, minLon, maxLon float64
	n, err := fmt.Sscanf(v, "%f,%f,%f,%f", &minLat, &maxLat, &minLon, &maxLon)
	if err == nil {
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon = minLat, maxLat, minLon, maxLon
	}
	return n, err
}
