package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServiceDefaults(t *testing.T) {
	t.Setenv("PROMOTION_GATEWAY_URL", "http://gw:8090/mcp")
	t.Setenv("DATABASE_URL", "postgres://localhost/errors")

	cfg, err := LoadService()
	require.NoError(t, err)
	assert.Equal(t, ":8060", cfg.Addr)
	assert.Equal(t, "promotion.db", cfg.DocStorePath)
	assert.Equal(t, "postgres://localhost/errors", cfg.ErrorLogDatabaseURL)
	assert.Equal(t, 30*time.Second, cfg.FinalizeTimeout)
	assert.Equal(t, uint(3), cfg.ReadAttempts)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadServiceRequiresGateway(t *testing.T) {
	t.Setenv("PROMOTION_GATEWAY_URL", "")
	_, err := LoadService()
	assert.ErrorContains(t, err, "PROMOTION_GATEWAY_URL")
}

func TestLoadServiceKafka(t *testing.T) {
	t.Setenv("PROMOTION_GATEWAY_URL", "http://gw:8090/mcp")
	t.Setenv("PROMOTION_AUDIT_TOPIC", "promotion-log")
	_, err := LoadService()
	assert.Error(t, err)

	t.Setenv("PROMOTION_KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := LoadService()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoadGateway(t *testing.T) {
	t.Setenv("GATEWAY_DATABASE_URL", "")
	t.Setenv("GATEWAY_IN_MEMORY", "")
	_, err := LoadGateway()
	assert.Error(t, err)

	t.Setenv("GATEWAY_IN_MEMORY", "true")
	cfg, err := LoadGateway()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.ReplayWindow)
	assert.True(t, cfg.InMemory)
}

func TestLoadCtl(t *testing.T) {
	t.Setenv("PROMOTECTL_SERVICE_URL", "http://svc:9000")
	cfg, err := LoadCtl()
	require.NoError(t, err)
	assert.Equal(t, "http://svc:9000", cfg.ServiceURL)
}
