package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/marketdata/internal/domain"
)

// RefreshFunc re-fetches one entry and writes it through to the store.
type RefreshFunc func(ctx context.Context, dataType domain.DataType, key string, params map[string]string) error

// RefreshPool runs background refreshes for stale entries. Capacity is
// bounded and refreshes are deduplicated per cache key, so a burst of
// stale hits for the same entry costs one upstream call.
type RefreshPool struct {
	maxTasks    int
	taskTimeout time.Duration
	refresh     RefreshFunc
	log         zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]string // cache key -> task ID
	cancels  map[string]context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

// NewRefreshPool creates a refresh pool. maxTasks bounds concurrent
// refreshes; enqueues beyond the bound are dropped, not queued.
func NewRefreshPool(maxTasks int, taskTimeout time.Duration, refresh RefreshFunc, log zerolog.Logger) *RefreshPool {
	return &RefreshPool{
		maxTasks:    maxTasks,
		taskTimeout: taskTimeout,
		refresh:     refresh,
		inFlight:    make(map[string]string),
		cancels:     make(map[string]context.CancelFunc),
		log:         log.With().Str("component", "refresh_pool").Logger(),
	}
}

// Enqueue schedules a background refresh for the given entry. It returns
// the task ID and true when a new task was started, or the existing task
// ID and false when a refresh for the same key is already in flight. A
// pool at capacity drops the request and returns ("", false).
func (p *RefreshPool) Enqueue(dataType domain.DataType, key string, params map[string]string) (string, bool) {
	cacheKey := domain.CacheKey(dataType, key)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return "", false
	}
	if taskID, ok := p.inFlight[cacheKey]; ok {
		p.log.Debug().
			Str("cache_key", cacheKey).
			Str("task_id", taskID).
			Msg("Refresh already in flight, deduplicated")
		return taskID, false
	}
	if len(p.inFlight) >= p.maxTasks {
		p.log.Warn().
			Str("cache_key", cacheKey).
			Int("max_tasks", p.maxTasks).
			Msg("Refresh pool at capacity, dropping request")
		return "", false
	}

	taskID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
	p.inFlight[cacheKey] = taskID
	p.cancels[taskID] = cancel

	p.wg.Add(1)
	go p.runTask(ctx, taskID, cacheKey, dataType, key, params)

	p.log.Debug().
		Str("cache_key", cacheKey).
		Str("task_id", taskID).
		Msg("Background refresh scheduled")
	return taskID, true
}

func (p *RefreshPool) runTask(ctx context.Context, taskID, cacheKey string, dataType domain.DataType, key string, params map[string]string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.inFlight[cacheKey] == taskID {
			delete(p.inFlight, cacheKey)
		}
		if cancel, ok := p.cancels[taskID]; ok {
			cancel()
			delete(p.cancels, taskID)
		}
		p.mu.Unlock()
	}()

	if err := p.refresh(ctx, dataType, key, params); err != nil {
		p.log.Warn().
			Err(err).
			Str("cache_key", cacheKey).
			Str("task_id", taskID).
			Msg("Background refresh failed")
		return
	}

	p.log.Debug().
		Str("cache_key", cacheKey).
		Str("task_id", taskID).
		Msg("Background refresh completed")
}

// InFlight returns the number of refreshes currently running.
func (p *RefreshPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// Stop cancels all running refreshes and waits for them to finish. The
// pool accepts no new work afterwards.
func (p *RefreshPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("Refresh pool stopped")
}
