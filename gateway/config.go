package gateway

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig captures runtime configuration for the trust oracle gateway
// service, loaded from the environment like the rest of the fleet.
type ServiceConfig struct {
	ListenAddress string
	SourceURL     string
	MaxScoreAge   time.Duration
	BonusPoints   uint64
	BonusTTL      time.Duration
	Auth          AuthConfig
}

// LoadServiceConfigFromEnv builds the service configuration from TRUST_GATEWAY_*
// environment variables.
func LoadServiceConfigFromEnv() (ServiceConfig, error) {
	cfg := ServiceConfig{
		ListenAddress: getenvDefault("TRUST_GATEWAY_LISTEN", ":8082"),
		MaxScoreAge:   5 * time.Minute,
		BonusPoints:   50,
		BonusTTL:      7 * 24 * time.Hour,
	}
	cfg.SourceURL = strings.TrimSpace(os.Getenv("TRUST_GATEWAY_SOURCE_URL"))
	if raw := strings.TrimSpace(os.Getenv("TRUST_GATEWAY_MAX_SCORE_AGE")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse TRUST_GATEWAY_MAX_SCORE_AGE: %w", err)
		}
		if dur <= 0 {
			return ServiceConfig{}, errors.New("TRUST_GATEWAY_MAX_SCORE_AGE must be positive")
		}
		cfg.MaxScoreAge = dur
	}
	if raw := strings.TrimSpace(os.Getenv("TRUST_GATEWAY_BONUS_POINTS")); raw != "" {
		points, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse TRUST_GATEWAY_BONUS_POINTS: %w", err)
		}
		cfg.BonusPoints = points
	}
	if raw := strings.TrimSpace(os.Getenv("TRUST_GATEWAY_BONUS_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse TRUST_GATEWAY_BONUS_TTL: %w", err)
		}
		if dur <= 0 {
			return ServiceConfig{}, errors.New("TRUST_GATEWAY_BONUS_TTL must be positive")
		}
		cfg.BonusTTL = dur
	}
	secret := strings.TrimSpace(os.Getenv("TRUST_GATEWAY_JWT_SECRET"))
	cfg.Auth = AuthConfig{
		Enabled:    secret != "",
		HMACSecret: secret,
		Issuer:     strings.TrimSpace(os.Getenv("TRUST_GATEWAY_JWT_ISSUER")),
		Audience:   strings.TrimSpace(os.Getenv("TRUST_GATEWAY_JWT_AUDIENCE")),
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
