package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/handlers"
)

// stub is a minimal Handler that echoes its type.
type stub struct{ jobType string }

func (s *stub) JobType() string { return s.jobType }
func (s *stub) Handle(_ context.Context, _ *domain.Job, progress func(int)) (json.RawMessage, error) {
	progress(50)
	return json.RawMessage(`"` + s.jobType + `"`), nil
}

func TestRegistry_Get_KnownType(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{jobType: "notify.email"})

	h, err := reg.Get("notify.email")
	require.NoError(t, err)
	assert.Equal(t, "notify.email", h.JobType())
}

func TestRegistry_Get_UnknownType(t *testing.T) {
	reg := handlers.NewRegistry()

	_, err := reg.Get("sms")
	require.Error(t, err)

	var invalidType *domain.InvalidJobTypeError
	assert.True(t, errors.As(err, &invalidType),
		"expected InvalidJobTypeError, got %T", err)
	assert.Equal(t, "sms", invalidType.JobType)
	assert.False(t, domain.IsRetryable(err))
}

func TestRegistry_ProcessRoutesByType(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{jobType: "ia.analyze-text"})
	reg.Register(&stub{jobType: "notify.webhook"})

	var got []int
	out, err := reg.Process(context.Background(), &domain.Job{Type: "notify.webhook"}, func(p int) { got = append(got, p) })
	require.NoError(t, err)
	assert.JSONEq(t, `"notify.webhook"`, string(out))
	assert.Equal(t, []int{50}, got)

	_, err = reg.Process(context.Background(), &domain.Job{Type: "etl.unknown"}, func(int) {})
	var invalidType *domain.InvalidJobTypeError
	assert.ErrorAs(t, err, &invalidType)

	assert.Equal(t, []string{"ia.analyze-text", "notify.webhook"}, reg.JobTypes())
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{jobType: "notify.email"})
	reg.Register(&stub{jobType: "notify.email"})

	h, err := reg.Get("notify.email")
	require.NoError(t, err)
	assert.Equal(t, "notify.email", h.JobType())
	assert.Len(t, reg.JobTypes(), 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{jobType: "notify.email"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); reg.Register(&stub{jobType: "notify.webhook"}) }()
		go func() { defer wg.Done(); _, _ = reg.Get("notify.email") }()
	}
	wg.Wait()
}
