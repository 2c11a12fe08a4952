package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
	"github.com/saturnino-fabrica-de-software/shophook/internal/queue"
)

type staticTenants struct {
	shops []string
	err   error
}

func (s staticTenants) ListActive(context.Context) ([]string, error) {
	return s.shops, s.err
}

type enqueued struct {
	lane    domain.Lane
	jobType string
	payload []byte
}

type recordingEnqueuer struct {
	mu     sync.Mutex
	jobs   []enqueued
	failOn string
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, lane domain.Lane, jobType string, payload []byte, _ queue.EnqueueOptions) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var p domain.TenantJobPayload
	_ = json.Unmarshal(payload, &p)
	if e.failOn != "" && p.ShopDomain == e.failOn {
		return uuid.Nil, errors.New("insert failed")
	}
	e.jobs = append(e.jobs, enqueued{lane: lane, jobType: jobType, payload: payload})
	return uuid.New(), nil
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func TestCredentialSweeper_Sweep(t *testing.T) {
	t.Run("schedules a check per active tenant", func(t *testing.T) {
		jobs := &recordingEnqueuer{}
		s := NewCredentialSweeper(staticTenants{shops: []string{"a.example.com", "b.example.com"}}, jobs, nil, discardLogger(), time.Hour)

		n, err := s.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.Len(t, jobs.jobs, 2)

		for i, shop := range []string{"a.example.com", "b.example.com"} {
			assert.Equal(t, domain.LaneGeneral, jobs.jobs[i].lane)
			assert.Equal(t, domain.JobTypeCredentialCheck, jobs.jobs[i].jobType)

			var p domain.TenantJobPayload
			require.NoError(t, json.Unmarshal(jobs.jobs[i].payload, &p))
			assert.Equal(t, shop, p.ShopDomain)
		}
	})

	t.Run("one failed enqueue does not stop the rest", func(t *testing.T) {
		jobs := &recordingEnqueuer{failOn: "a.example.com"}
		s := NewCredentialSweeper(staticTenants{shops: []string{"a.example.com", "b.example.com"}}, jobs, nil, discardLogger(), time.Hour)

		n, err := s.Sweep(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a.example.com")
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, jobs.count())
	})

	t.Run("listing error", func(t *testing.T) {
		jobs := &recordingEnqueuer{}
		s := NewCredentialSweeper(staticTenants{err: errors.New("db down")}, jobs, nil, discardLogger(), time.Hour)

		_, err := s.Sweep(context.Background())
		assert.ErrorContains(t, err, "db down")
		assert.Zero(t, jobs.count())
	})
}

func TestCredentialSweeper_Run(t *testing.T) {
	clock := clockwork.NewFakeClock()
	jobs := &recordingEnqueuer{}
	s := NewCredentialSweeper(staticTenants{shops: []string{"a.example.com"}}, jobs, clock, discardLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Zero(t, jobs.count())

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return jobs.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestCredentialSweeper_RunDisabled(t *testing.T) {
	jobs := &recordingEnqueuer{}
	s := NewCredentialSweeper(staticTenants{shops: []string{"a.example.com"}}, jobs, nil, discardLogger(), 0)

	s.Run(context.Background())
	assert.Zero(t, jobs.count())
}

func TestCredentialSweeper_FeedsCredentialCheckHandler(t *testing.T) {
	q := newMemQueue()
	registry := new(MockRegistry)
	registry.On("GetActiveCredential", mock.Anything, "a.example.com").Return(nil, domain.ErrCredentialUnavailable)
	registry.On("MarkNeedsReauth", mock.Anything, "a.example.com").Return(nil)

	handlers := NewHandlers()
	RegisterDefaults(handlers, Dependencies{Registry: registry, Logger: discardLogger()})
	pool := NewPool(q, newMemDeliveries(), handlers, discardLogger(), Options{})

	s := NewCredentialSweeper(staticTenants{shops: []string{"a.example.com"}}, q, nil, discardLogger(), time.Hour)
	_, err := s.Sweep(context.Background())
	require.NoError(t, err)

	processed, err := pool.processNext(context.Background(), domain.LaneGeneral)
	require.NoError(t, err)
	assert.True(t, processed)
	registry.AssertExpectations(t)
}
