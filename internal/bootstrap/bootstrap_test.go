package bootstrap_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/bootstrap"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/internal/storage"
)

const sheet = `Audit ID,Proveedor,Sitio,Atención,Usuario,Marca CPU,Modelo CPU,Velocidad CPU,Memoria RAM,Tipo de disco,Capacidad disco,Sistema Operativo
AUD-7,Acme,Monterrey,OS,u-001,Intel,Core i7-1165G7,2.8 GHz,32 GB,SSD,1 TB,Windows 11 Pro
`

func testConfig(t *testing.T, redisAddr string) bootstrap.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "audit.csv"), []byte(sheet), 0o600))
	return bootstrap.Config{
		WorkerID:     "test-worker",
		RedisAddr:    redisAddr,
		PollInterval: 10 * time.Millisecond,
		Queues:       domain.DefaultQueues(),
		Rules:        inventory.DefaultRules(),
		Scoring:      inventory.DefaultScoring(),
		Storage:      storage.Config{Type: storage.TypeLocal, Root: root},
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func runETL(t *testing.T, app *bootstrap.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	app.Start(ctx)
	t.Cleanup(func() {
		cancel()
		app.Wait()
		app.Close()
	})

	job, err := app.Manager.Submit(ctx, domain.QueueETL, "etl.inventory",
		json.RawMessage(`{"file":"audit.csv","audit_id":"AUD-9"}`), domain.JobOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := app.Manager.GetJob(ctx, domain.QueueETL, job.ID)
		return err == nil && j.Status == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	res, err := app.Manager.GetResult(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Statistics.Total)
	assert.Equal(t, "AUD-9", *res.Records[0].AuditID)
}

func TestBuild_DurableWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	app, err := bootstrap.Build(context.Background(), testConfig(t, mr.Addr()), discard())
	require.NoError(t, err)

	assert.False(t, app.Manager.Degraded())
	assert.NotNil(t, app.Limiter)
	assert.Len(t, app.Manager.Queues(), 4)
	assert.Equal(t, []string{
		"etl.inventory",
		"ia.analyze-image",
		"ia.analyze-text",
		"maintenance.clean",
		"maintenance.purge-results",
		"notify.email",
		"notify.webhook",
	}, app.Registry.JobTypes())
	require.NoError(t, app.Ready(context.Background()))

	runETL(t, app)
}

func TestBuild_InlineWhenRedisUnreachable(t *testing.T) {
	app, err := bootstrap.Build(context.Background(), testConfig(t, "127.0.0.1:1"), discard())
	require.NoError(t, err)

	assert.True(t, app.Manager.Degraded())
	assert.Nil(t, app.Redis)
	assert.Nil(t, app.Limiter)

	runETL(t, app)
}

func TestBuild_ETLSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	app, err := bootstrap.Build(context.Background(), testConfig(t, mr.Addr()), discard())
	require.NoError(t, err)
	defer app.Close()
	require.False(t, app.Manager.Degraded())

	mr.Close()

	ctx := context.Background()
	job, err := app.Manager.Submit(ctx, domain.QueueETL, "etl.inventory",
		json.RawMessage(`{"file":"audit.csv","audit_id":"AUD-9"}`), domain.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status, "failure: %s", job.FailureReason)

	got, err := app.Manager.GetJob(ctx, domain.QueueETL, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	res, err := app.Manager.GetResult(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Statistics.Total)
}

func TestBuild_BadQueueOnlyAffectsThatQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	cfg.Queues[1].Concurrency = 0

	app, err := bootstrap.Build(context.Background(), cfg, discard())
	require.NoError(t, err)
	defer app.Close()

	require.Len(t, app.ConfigErrors, 1)
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(app.ConfigErrors[0], &cfgErr))
	assert.Equal(t, domain.QueueIA, cfgErr.Queue)
	assert.Len(t, app.Manager.Queues(), 3)
}

func TestBuild_UnknownStorage(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.Storage.Type = "ftp"

	_, err := bootstrap.Build(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}
