package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// Scheduler defaults.
const (
	DefaultInterval = 2 * time.Second
	DefaultMaxWait  = 2 * time.Minute
)

// State is the scheduler's tick state.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// SessionFactory creates a battle session for a formed group.
type SessionFactory interface {
	CreateMatch(ctx context.Context, req model.MatchRequest) (string, error)
}

// TickReport summarises one tick.
type TickReport struct {
	Skipped bool
	// Matches counts sessions created.
	Matches int
	// TimedOut counts players removed for waiting too long.
	TimedOut int
	// Conflicts counts groups dropped because a member had already left.
	Conflicts int
	// Failed counts groups whose session could not be created; they were re-queued.
	Failed int
}

// Scheduler runs the periodic matchmaking pass. At most one tick runs at a
// time; a tick due while another runs is skipped.
type Scheduler struct {
	queue    Queue
	sessions SessionFactory
	notifier model.Notifier
	logger   logger.Logger
	now      func() time.Time

	interval   time.Duration
	maxWait    time.Duration
	clusters   int
	minScore   float64
	allowCross bool

	state atomic.Int32
}

// NewScheduler creates a Scheduler over q producing sessions through f.
func NewScheduler(q Queue, f SessionFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:      q,
		sessions:   f,
		notifier:   model.Discard,
		logger:     logger.Default().Named("matchmaking"),
		now:        time.Now,
		interval:   DefaultInterval,
		maxWait:    DefaultMaxWait,
		clusters:   DefaultClusters,
		minScore:   DefaultMinMatchScore,
		allowCross: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports whether a tick is in flight.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run ticks every interval until ctx ends. Ticks run on their own goroutine
// so a slow tick makes the following ones skip rather than queue up.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info(ctx, "matchmaking scheduler started", logger.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "matchmaking scheduler stopped")
			return nil
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.Tick(ctx)
			}()
		}
	}
}

// Tick runs one pass unless another is in flight. Errors and panics are
// logged and returned; they never stop the scheduler.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport, err error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		metrics.RecordTick("skipped", 0)
		s.logger.Debug(ctx, "tick skipped, previous tick still running")
		return TickReport{Skipped: true}, nil
	}
	defer s.state.Store(int32(Idle))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
		ms := float64(time.Since(start).Milliseconds())
		if err != nil {
			metrics.RecordTick("failed", ms)
			metrics.RecordErrorByComponent("matchmaking", "tick")
			s.logger.Error(ctx, "matchmaking tick failed", logger.Error(err))
			return
		}
		metrics.RecordTick("completed", ms)
	}()

	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	now := s.now()

	expired, err := s.queue.Expire(ctx, now.Add(-s.maxWait))
	if err != nil {
		return report, fmt.Errorf("expire: %w", err)
	}
	report.TimedOut = len(expired)
	if len(expired) > 0 {
		metrics.RecordNoMatch(len(expired))
	}
	for _, e := range expired {
		s.notifier.Notify(ctx, model.Notification{
			Kind:       model.EventNoMatch,
			Recipients: []string{e.PlayerID},
			State:      string(model.EventNoMatch),
			At:         now,
		})
	}

	entries, err := s.queue.Snapshot(ctx)
	if err != nil {
		return report, fmt.Errorf("snapshot: %w", err)
	}

	for _, bucket := range partition(entries) {
		size := bucket[0].MatchSize
		for _, g := range s.form(bucket, size) {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			s.place(ctx, bucket[0].Bucket(), g, &report)
		}
	}
	return report, nil
}

// form clusters one compatible bucket and pairs inside the clusters, then
// across adjacent clusters, then over the whole bucket.
func (s *Scheduler) form(bucket []Entry, size int) []Group {
	clusters := Assign(bucket, s.clusters)
	taken := make(map[string]bool)
	var groups []Group
	take := func(pool []Entry) {
		if len(pool) < size {
			return
		}
		gs, _ := Pair(pool, size, s.minScore)
		for _, g := range gs {
			for _, e := range g.Members {
				taken[e.PlayerID] = true
			}
		}
		groups = append(groups, gs...)
	}

	for i := range clusters {
		take(Candidates(clusters, i, size, false, taken))
	}
	if s.allowCross {
		for i := range clusters {
			take(Candidates(clusters, i, size, true, taken))
		}
		take(free(bucket, taken))
	}
	return groups
}

// place removes the group from the queue and creates its session. A group
// with a member that already left is dropped; the rest stay queued.
func (s *Scheduler) place(ctx context.Context, b model.Bucket, g Group, report *TickReport) {
	ids := g.PlayerIDs()
	ok, err := s.queue.TakeAll(ctx, ids)
	if err != nil {
		s.logger.Warn(ctx, "take from queue failed", logger.Any("players", ids), logger.Error(err))
		report.Failed++
		return
	}
	if !ok {
		report.Conflicts++
		return
	}

	_, err = s.create(ctx, model.MatchRequest{
		Players:   ids,
		MatchType: b.MatchType,
		Language:  b.Language,
		Score:     g.Score,
		Origin:    model.OriginQueue,
	})
	if err != nil {
		report.Failed++
		s.logger.Warn(ctx, "session creation failed, re-queueing players",
			logger.Any("players", ids), logger.Error(err))
		for _, e := range g.Members {
			if jerr := s.queue.Join(ctx, e); jerr != nil && !errors.Is(jerr, ErrAlreadyQueued) {
				s.logger.Error(ctx, "re-queue failed", logger.String("player", e.PlayerID), logger.Error(jerr))
			}
		}
		return
	}
	report.Matches++
	metrics.RecordMatchCreated(model.OriginQueue, g.Score)
}

// create shields the taken players from a panicking factory so they can be re-queued.
func (s *Scheduler) create(ctx context.Context, req model.MatchRequest) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("create match: panic: %v", r)
		}
	}()
	return s.sessions.CreateMatch(ctx, req)
}

// partition splits entries into compatible buckets in a stable order.
func partition(entries []Entry) [][]Entry {
	byBucket := make(map[model.Bucket][]Entry)
	var order []model.Bucket
	for _, e := range entries {
		b := e.Bucket()
		if _, ok := byBucket[b]; !ok {
			order = append(order, b)
		}
		byBucket[b] = append(byBucket[b], e)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.MatchType != b.MatchType {
			return a.MatchType < b.MatchType
		}
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		return a.MatchSize < b.MatchSize
	})
	out := make([][]Entry, 0, len(order))
	for _, b := range order {
		out = append(out, byBucket[b])
	}
	return out
}
