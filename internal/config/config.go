package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr                string
	DatabaseURL         string
	SupabaseURL         string
	SupabaseAnonKey     string
	AdminEmails         []string
	PriceTickEvery      time.Duration
	MarketVolatility    string
	StartupSeedGoods    bool
	MissionSweepEvery   time.Duration
	RankingRefreshEvery time.Duration
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TRADEWINDS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:                addr,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:         strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:     strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		AdminEmails:         envEmailList("TRADEWINDS_ADMIN_EMAILS"),
		PriceTickEvery:      envDurationDefault("TRADEWINDS_PRICE_TICK_EVERY", time.Minute),
		MarketVolatility:    envVolatilityDefault(),
		StartupSeedGoods:    envBoolDefault("TRADEWINDS_STARTUP_SEED_GOODS", true),
		MissionSweepEvery:   envDurationDefault("TRADEWINDS_MISSION_SWEEP_EVERY", time.Minute),
		RankingRefreshEvery: envDurationDefault("TRADEWINDS_RANKING_REFRESH_EVERY", 30*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TWC_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func (c APIConfig) IsAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, admin := range c.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envEmailList(key string) []string {
	raw := strings.Split(os.Getenv(key), ",")
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
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

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envVolatilityDefault() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("TRADEWINDS_MARKET_VOLATILITY")))
	switch v {
	case "calm", "fair", "wild":
		return v
	default:
		return "fair"
	}
}
