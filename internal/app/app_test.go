package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-tktt/immo-crawler/internal/common/indexer"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/config"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

func loadMemoryConfig(t *testing.T, redisAddr string) *config.Config {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", redisAddr)
	t.Setenv("ELASTICSEARCH_ENABLED", "false")
	cfg, err := config.LoadFrom(viper.New())
	require.NoError(t, err)
	return cfg
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadMemoryConfig(t, mr.Addr())

	a, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Redis)
	assert.NotNil(t, a.Seen)
	assert.NotNil(t, a.Publisher)
	assert.NotNil(t, a.Consumer)
	require.NotNil(t, a.Orchestrator)

	_, ok := a.Store.(*indexer.MemoryStore)
	assert.True(t, ok)
	assert.Same(t, a.Registry, a.Orchestrator.Registry())

	reason := a.Registry.DisabledReason(domain.SourceFigaro)
	assert.NotEmpty(t, reason)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := loadMemoryConfig(t, "127.0.0.1:1")

	a, err := New(context.Background(), cfg, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Seen)
	assert.Nil(t, a.Publisher)
	assert.Nil(t, a.Consumer)
	assert.NotNil(t, a.Orchestrator)

	status := a.Orchestrator.Status("nobody")
	assert.Equal(t, domain.RunIdle, status.State)
}

func TestSourceKeys(t *testing.T) {
	assert.Equal(t, []domain.SourceKey{domain.SourcePap, domain.SourceLeboncoin}, sourceKeys([]string{"pap", "leboncoin"}))
	assert.Empty(t, sourceKeys(nil))
}
