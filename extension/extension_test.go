package extension_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/courier"
	"github.com/xraph/courier/extension"
	memqueue "github.com/xraph/courier/queue/memory"
	"github.com/xraph/courier/store/memory"
)

func TestInitRequiresBackends(t *testing.T) {
	err := extension.New().Init(context.Background())
	assert.ErrorIs(t, err, courier.ErrNoStore)

	err = extension.New(extension.WithStore(memory.New())).Init(context.Background())
	assert.ErrorIs(t, err, courier.ErrNoQueue)
}

func TestUseBeforeInit(t *testing.T) {
	ext := extension.New()
	assert.Nil(t, ext.Courier())
	assert.Nil(t, ext.Handler())
	assert.ErrorIs(t, ext.Start(context.Background()), extension.ErrNotInitialized)
	assert.NoError(t, ext.Stop(context.Background()))
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	ext := extension.New(
		extension.WithStore(s),
		extension.WithQueue(memqueue.New()),
		extension.WithPrefix("/hooks"),
		extension.WithCourierOption(courier.WithMaxAttempts(2)),
	)
	require.NoError(t, ext.Init(ctx))
	require.NotNil(t, ext.Courier())
	assert.Equal(t, 2, ext.Courier().Config().MaxAttempts)
	assert.Equal(t, "/hooks", ext.Prefix())
	assert.NoError(t, ext.Health(ctx))

	srv := httptest.NewServer(ext.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/hooks/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ext.Start(ctx))
	require.NoError(t, ext.Stop(ctx))
	assert.ErrorIs(t, ext.Health(ctx), courier.ErrStoreClosed)
}

func TestLoadConfig(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
courier:
  base_path: /events
  disable_migrate: true
  concurrency: 4
  max_attempts: 7
  backoff_base: 2s
`)))

	cfg, err := extension.LoadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "/events", cfg.BasePath)
	assert.True(t, cfg.DisableMigrate)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, courier.DefaultConfig().RequestTimeout, cfg.RequestTimeout)

	cfg, err = extension.LoadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, extension.DefaultConfig(), cfg)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("courier.concurrency", 0)
	_, err := extension.LoadConfig(v)
	assert.Error(t, err)
}
