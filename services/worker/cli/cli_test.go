package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/kafka"
	"github.com/ramiqadoumi/go-audit-jobs/services/worker/config"
)

func eventMessage(t *testing.T, e domain.Event) kafka.Message {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestPrintEvent_Filters(t *testing.T) {
	var buf bytes.Buffer
	h := printEvent(&buf, domain.QueueETL, "")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, h(context.Background(), eventMessage(t, domain.Event{
		Type: domain.EventProgress, Queue: domain.QueueETL, JobID: "j1", JobType: "etl.inventory", Progress: 40, At: at,
	})))
	require.NoError(t, h(context.Background(), eventMessage(t, domain.Event{
		Type: domain.EventCompleted, Queue: domain.QueueIA, JobID: "j2", At: at,
	})))
	require.NoError(t, h(context.Background(), eventMessage(t, domain.Event{
		Type: domain.EventFailed, Queue: domain.QueueETL, JobID: "j3", Attempt: 1, Terminal: true,
		Error: "file not found", Degraded: true, At: at,
	})))
	require.NoError(t, h(context.Background(), kafka.Message{Value: []byte("not json")}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "j1")
	assert.Contains(t, lines[0], "40%")
	assert.Contains(t, lines[1], `error="file not found"`)
	assert.Contains(t, lines[1], "[inline]")
}

func TestDefaultYAML_Loads(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(defaultWorkerYAML)))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	for _, def := range cfg.Core.Queues {
		assert.NoError(t, def.Validate(), def.Name)
	}
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "maintenance.clean", cfg.Schedules[0].JobType)
	assert.Equal(t, 16.0, cfg.Core.Rules.MinRAMGB)
}

func TestWriteConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "worker.yaml")

	require.NoError(t, writeConfig(dest, "log_level: info\n", false))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "log_level: info\n", string(data))

	err = writeConfig(dest, "x", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, writeConfig(dest, "log_level: debug\n", true))
}
