package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "development", cfg.Env)
	require.Equal(t, int64(10000), cfg.MinDepositAmount)
	require.Equal(t, int64(20000), cfg.PostFeeAmount)
	require.Equal(t, "wallet.decisions", cfg.KafkaTopic)
	require.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MIN_DEPOSIT_AMOUNT", "50000")
	t.Setenv("POST_FEE_AMOUNT", "0")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, int64(50000), cfg.MinDepositAmount)
	require.Equal(t, int64(0), cfg.PostFeeAmount)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MIN_DEPOSIT_AMOUNT", "ten thousand")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("MIN_DEPOSIT_AMOUNT", "0")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("MIN_DEPOSIT_AMOUNT", "10000")
	t.Setenv("POST_FEE_AMOUNT", "-1")
	_, err = Load()
	require.Error(t, err)
}
