package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	// Policy knobs for the wallet and moderation engine. Amounts are in
	// integer minor currency units.
	MinDepositAmount int64
	PostFeeAmount    int64

	CatalogURL   string
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() (*Config, error) {
	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	cfg := &Config{
		DBSource:         os.Getenv("DB_SOURCE"),
		Port:             getEnv("SERVER_PORT", "8080"),
		Env:              getEnv("ENVIRONMENT", "development"),
		CatalogURL:       os.Getenv("CATALOG_URL"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "wallet.decisions"),
		MinDepositAmount: 10000,
		PostFeeAmount:    20000,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.MinDepositAmount, err = getEnvInt64("MIN_DEPOSIT_AMOUNT", cfg.MinDepositAmount); err != nil {
		return nil, err
	}
	if cfg.PostFeeAmount, err = getEnvInt64("POST_FEE_AMOUNT", cfg.PostFeeAmount); err != nil {
		return nil, err
	}
	if cfg.MinDepositAmount <= 0 {
		return nil, fmt.Errorf("MIN_DEPOSIT_AMOUNT must be positive")
	}
	if cfg.PostFeeAmount < 0 {
		return nil, fmt.Errorf("POST_FEE_AMOUNT must not be negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
