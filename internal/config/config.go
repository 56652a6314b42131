package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportTTLSeconds      int
	ReportWindowDays      int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LoyaltyEarnThreshold  decimal.Decimal
	LoyaltyEarnRate       int64
	LoyaltyPointValue     decimal.Decimal
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	reportTTL, err := strconv.Atoi(getEnv("REPORT_TTL_SECONDS", "30"))
	if err != nil || reportTTL < 1 {
		reportTTL = 30
	}
	reportWindow, err := strconv.Atoi(getEnv("REPORT_WINDOW_DAYS", "7"))
	if err != nil || reportWindow < 1 {
		reportWindow = 7
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	earnRate, err := strconv.ParseInt(getEnv("LOYALTY_EARN_RATE", "1"), 10, 64)
	if err != nil || earnRate < 0 {
		earnRate = 1
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ReportTTLSeconds:      reportTTL,
		ReportWindowDays:      reportWindow,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LoyaltyEarnThreshold:  getDecimalEnv("LOYALTY_EARN_THRESHOLD", "100000"),
		LoyaltyEarnRate:       earnRate,
		LoyaltyPointValue:     getDecimalEnv("LOYALTY_POINT_VALUE", "1000"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Loyalty() domain.LoyaltyConfig {
	return domain.LoyaltyConfig{
		EarnThreshold: c.LoyaltyEarnThreshold,
		EarnRate:      c.LoyaltyEarnRate,
		PointValue:    c.LoyaltyPointValue,
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getDecimalEnv(key string, fallback string) decimal.Decimal {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return decimal.RequireFromString(fallback)
	}
	parsed, err := decimal.NewFromString(val)
	if err != nil || parsed.IsNegative() {
		return decimal.RequireFromString(fallback)
	}
	return parsed
}
