package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(5000), cfg.Pricing.FlatDeliveryFee)
	assert.Equal(t, int64(1300), cfg.Pricing.VATBasisPoints)
	assert.Equal(t, "NPR", cfg.Pricing.Currency)
	assert.Equal(t, 5, cfg.Dispatch.InitialCount)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HOMETASTE_HTTP_ADDR", ":9090")
	t.Setenv("HOMETASTE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HOMETASTE_PRICING_VAT_BASIS_POINTS", "1000")
	t.Setenv("HOMETASTE_DISPATCH_RADIUS_KM", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(1000), cfg.Pricing.VATBasisPoints)
	assert.InDelta(t, 2.5, cfg.Dispatch.RadiusKm, 1e-9)
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Setenv("HOMETASTE_DISPATCH_TICK_SECONDS", "soon")
	_, err := Load()
	assert.Error(t, err)
}
