package handlers_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/handlers"
	"github.com/ramiqadoumi/go-audit-jobs/internal/storage"
)

func newJob(jobType, payload string) *domain.Job {
	return &domain.Job{ID: "job-1", Queue: "test", Type: jobType, Payload: json.RawMessage(payload)}
}

func noProgress(int) {}

// progressLog records reported checkpoints.
type progressLog struct {
	mu  sync.Mutex
	pct []int
}

func (p *progressLog) report(pct int) {
	p.mu.Lock()
	p.pct = append(p.pct, pct)
	p.mu.Unlock()
}

func (p *progressLog) values() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.pct...)
}

func imageHandler(t *testing.T, cfg handlers.AnalysisConfig, files map[string]string) (*handlers.ImageAnalysisHandler, string) {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return handlers.NewImageAnalysisHandler(cfg, storage.NewLocal(root)), root
}
