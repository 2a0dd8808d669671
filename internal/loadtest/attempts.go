package loadtest

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/retry"
)

// results holds the first reply of every idempotency key.
type results struct {
	mu    sync.Mutex
	byKey map[string]AttemptResponse
}

func (r *results) put(key string, resp AttemptResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = resp
}

func (r *results) get(key string) (AttemptResponse, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byKey[key]
	return resp, ok
}

// submitAttempt posts a, retrying while the service reports contention.
func submitAttempt(ctx context.Context, client *HTTPClient, a Attempt, retried *int64) (AttemptResponse, error) {
	return retry.DoWithData(ctx, func(ctx context.Context) (AttemptResponse, error) {
		var resp AttemptResponse
		err := client.Call(ctx, a.PlayerID, http.MethodPost, "/attempts", a, &resp)
		return resp, err
	},
		retry.WithMaxAttempts(MaxRetryableAttempts),
		retry.WithInitialDelay(RetryBackoff),
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, errRetryable) }),
		retry.WithOnRetry(func(int, error, time.Duration) { atomic.AddInt64(retried, 1) }),
	)
}

// submitAttempts submits attempts concurrently using a worker pool.
func submitAttempts(ctx context.Context, config *Config, client *HTTPClient, attempts []Attempt, stats *Stats) *results {
	log.Printf("📤 Submitting %d attempts with %d workers...", len(attempts), config.Workers)

	out := &results{byKey: make(map[string]AttemptResponse, len(attempts))}
	var submitted, accepted, retried, failed int64

	attemptChan := make(chan Attempt, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range attemptChan {
				resp, err := submitAttempt(ctx, client, a, &retried)
				atomic.AddInt64(&submitted, 1)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						logger.Get().Warn(ctx, "attempt failed",
							logger.String("player", a.PlayerID),
							logger.Error(err))
					}
					continue
				}
				atomic.AddInt64(&accepted, 1)
				out.put(a.IdempotencyKey, resp)
			}
		}()
	}

	go func() {
		defer close(attemptChan)
		for _, a := range attempts {
			select {
			case <-ctx.Done():
				return
			case attemptChan <- a:
			}
		}
	}()

	wg.Wait()

	stats.AttemptsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.AttemptsAccepted = int(atomic.LoadInt64(&accepted))
	stats.AttemptsRetryable = int(atomic.LoadInt64(&retried))
	stats.AttemptsFailed = int(atomic.LoadInt64(&failed))

	log.Printf(`✅ Attempt submission completed:
   Accepted: %d
   Retried: %d
   Failed: %d
`, stats.AttemptsAccepted, stats.AttemptsRetryable, stats.AttemptsFailed)
	return out
}
