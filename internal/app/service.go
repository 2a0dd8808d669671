// Package service wires the engine's components together and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/audit"
	"github.com/kurogames77/puzzcode-sub003/internal/adapters/mq/queue"
	"github.com/kurogames77/puzzcode-sub003/internal/adapters/mq/worker"
	"github.com/kurogames77/puzzcode-sub003/internal/adapters/realtime"
	"github.com/kurogames77/puzzcode-sub003/internal/adapters/redisstore"
	"github.com/kurogames77/puzzcode-sub003/internal/adapters/repository"
	"github.com/kurogames77/puzzcode-sub003/internal/config"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/attempt"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/challenge"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/compute"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/idempotency"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/matchmaking"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/skill"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("service not started")

const redisDialTimeout = 5 * time.Second

// Service owns every engine component.
type Service struct {
	mu      sync.RWMutex
	started bool

	cfg    *config.Config
	logger logger.Logger
	now    func() time.Time

	// Injected or built in Start.
	store     repository.Store
	publisher audit.Publisher
	rdb       goredis.UniversalClient

	processor  *attempt.Processor
	outbox     *queue.InMemoryQueue
	pool       *worker.Pool
	queue      matchmaking.Queue
	scheduler  *matchmaking.Scheduler
	battles    *battle.Manager
	challenges *challenge.Mediator
	gateway    *realtime.Gateway
	auth       *realtime.Authenticator
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration; defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects the skill store instead of building one from config.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithAuditPublisher injects the audit publisher instead of building one from config.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts the components. It is a no-op once started.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger.Info(ctx, "starting puzzcode engine...")

	defer func() {
		if err != nil {
			s.closeResources(ctx)
		}
	}()

	if err := s.buildStore(ctx); err != nil {
		return err
	}
	if err := s.buildRedis(ctx); err != nil {
		return err
	}
	if err := s.buildPublisher(); err != nil {
		return err
	}
	if err := s.buildAttempts(); err != nil {
		return err
	}
	if err := s.buildBattles(ctx); err != nil {
		return err
	}

	// Workers outlive the caller's context; Stop drains them.
	s.pool.Start(context.WithoutCancel(ctx))
	s.started = true
	s.logger.Info(ctx, "puzzcode engine started",
		logger.String("storage", s.cfg.Storage),
		logger.String("matchmaking", s.cfg.MatchmakingBackend),
		logger.Int("workers", s.pool.Size()),
		logger.Bool("kafka", len(s.cfg.Brokers()) > 0),
	)
	return nil
}

func (s *Service) buildStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	switch s.cfg.Storage {
	case config.StoragePostgres:
		pg, err := repository.NewPostgres(ctx, s.cfg.PostgresURL,
			repository.WithPostgresLockTimeout(s.cfg.LockTimeout()))
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		s.store = pg
	default:
		s.store = repository.NewMemory(repository.WithLockTimeout(s.cfg.LockTimeout()))
	}
	return nil
}

func (s *Service) buildRedis(ctx context.Context) error {
	if s.cfg.RedisAddr == "" {
		return nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        s.cfg.RedisAddr,
		DialTimeout: redisDialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	s.rdb = rdb
	return nil
}

func (s *Service) buildPublisher() error {
	if s.publisher != nil {
		return nil
	}
	if brokers := s.cfg.Brokers(); len(brokers) > 0 {
		k, err := audit.NewKafka(brokers, s.cfg.KafkaAuditTopic)
		if err != nil {
			return fmt.Errorf("kafka audit publisher: %w", err)
		}
		s.publisher = k
		return nil
	}
	s.publisher = audit.NewLog(s.logger.Named("audit"))
	return nil
}

func (s *Service) buildAttempts() error {
	params := s.cfg.DifficultyParams()
	controller, err := difficulty.NewController(params)
	if err != nil {
		return fmt.Errorf("difficulty controller: %w", err)
	}
	var computer compute.Computer = compute.NewLocal(skill.Default(), controller)
	if s.cfg.ComputeURL != "" {
		computer = compute.NewFallback(
			compute.NewRemote(s.cfg.ComputeURL, params),
			computer,
			compute.WithTimeout(s.cfg.ComputeTimeout()),
			compute.WithLogger(s.logger.Named("compute")),
		)
	}

	s.outbox = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.OutboxSize))
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.outbox, s.publisher,
		worker.WithLogger(s.logger.Named("outbox")))

	s.processor = attempt.NewProcessor(s.store, computer,
		attempt.WithReplayCache(idempotency.NewInMemory(idempotency.WithMaxSize(s.cfg.IdempotencyCacheSize))),
		attempt.WithAuditSink(s.outbox),
		attempt.WithWindowSize(s.cfg.WindowSize),
		attempt.WithSuccessWindow(params.SuccessWindow),
		attempt.WithEpsilon(s.cfg.DifficultyEpsilon),
		attempt.WithLockRetry(s.cfg.LockRetries, s.cfg.LockRetryDelay()),
		attempt.WithLogger(s.logger.Named("attempt")),
		attempt.WithClock(s.now),
	)
	return nil
}

func (s *Service) buildBattles(ctx context.Context) error {
	var bus realtime.Bus
	if s.rdb != nil {
		bus = realtime.NewRedisBus(s.rdb, s.cfg.RedisChannel, s.logger.Named("realtime.bus"))
	}
	hub := realtime.NewHub(
		realtime.WithHubLogger(s.logger.Named("realtime")),
		realtime.WithOnDisconnect(s.announceDisconnect),
	)
	s.gateway = realtime.NewGateway(hub, bus, s.logger.Named("realtime"))
	if err := s.gateway.Start(ctx); err != nil {
		return fmt.Errorf("realtime gateway: %w", err)
	}
	s.auth = realtime.NewAuthenticator(s.cfg.JWTSecret)

	s.battles = battle.NewManager(
		battle.WithReadyTimeout(s.cfg.ReadyTimeout()),
		battle.WithTimeLimit(s.cfg.SessionTimeLimit()),
		battle.WithNotifier(s.gateway),
		battle.WithSettler(&expSettler{store: s.store}),
		battle.WithLogger(s.logger.Named("battle")),
		battle.WithClock(s.now),
	)

	var base matchmaking.Queue
	if s.cfg.MatchmakingBackend == config.BackendRedis {
		if s.rdb == nil {
			return fmt.Errorf("%w: redis backend without redis_addr", config.ErrInvalidConfig)
		}
		base = redisstore.NewQueue(s.rdb, redisstore.WithCapacity(s.cfg.QueueCapacity))
	} else {
		base = matchmaking.NewMemoryQueue(s.cfg.QueueCapacity)
	}
	s.queue = &guardedQueue{Queue: base, battles: s.battles}

	s.scheduler = matchmaking.NewScheduler(s.queue, s.battles,
		matchmaking.WithInterval(s.cfg.TickInterval()),
		matchmaking.WithMaxWait(s.cfg.MaxWait()),
		matchmaking.WithClusters(s.cfg.KClusters),
		matchmaking.WithMinMatchScore(s.cfg.MinMatchScore),
		matchmaking.WithCrossCluster(s.cfg.AllowCrossCluster),
		matchmaking.WithNotifier(s.gateway),
		matchmaking.WithLogger(s.logger.Named("matchmaking")),
		matchmaking.WithClock(s.now),
	)

	s.challenges = challenge.NewMediator(
		&challengeFactory{battles: s.battles, queue: s.queue},
		challenge.WithTTL(s.cfg.ChallengeTTL()),
		challenge.WithNotifier(s.gateway),
		challenge.WithLogger(s.logger.Named("challenge")),
		challenge.WithClock(s.now),
	)
	return nil
}

// Run drives the periodic loops until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.scheduler.Run(ctx) })
	g.Go(func() error { return s.battles.Run(ctx) })
	g.Go(func() error { return s.challenges.Run(ctx) })
	return g.Wait()
}

// Stop drains the outbox and releases external resources.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping puzzcode engine...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain outbox: %w", err))
	}
	if err := s.gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close realtime bus: %w", err))
	}
	s.closeResources(ctx)

	s.started = false
	s.logger.Info(ctx, "puzzcode engine stopped")
	return errors.Join(errs...)
}

func (s *Service) closeResources(ctx context.Context) {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn(ctx, "close audit publisher", logger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "close store", logger.Error(err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Warn(ctx, "close redis", logger.Error(err))
		}
	}
}

// announceDisconnect tells a player's opponents that their last connection dropped.
func (s *Service) announceDisconnect(ctx context.Context, playerID string) {
	id, ok := s.battles.ActiveSession(playerID)
	if !ok {
		return
	}
	sess, err := s.battles.Get(ctx, id)
	if err != nil {
		return
	}
	var others []string
	for _, p := range sess.PlayerIDs() {
		if p != playerID {
			others = append(others, p)
		}
	}
	s.gateway.Notify(ctx, model.Notification{
		Kind:         model.EventDisconnect,
		Recipients:   others,
		SessionID:    sess.ID,
		State:        string(sess.State),
		Participants: []string{playerID},
		At:           s.now(),
	})
}

// Authenticator verifies bearer tokens for the HTTP layer.
func (s *Service) Authenticator() *realtime.Authenticator { return s.auth }

// Hub returns the local realtime connection hub.
func (s *Service) Hub() *realtime.Hub { return s.gateway.Hub() }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// SubmitAttempt parses and processes one puzzle submission.
func (s *Service) SubmitAttempt(ctx context.Context, playerID string, body []byte) (attempt.Outcome, error) {
	sub, err := attempt.ParseSubmission(playerID, body)
	if err != nil {
		return attempt.Outcome{}, err
	}
	return s.processor.Submit(ctx, playerID, sub)
}

// Progress returns the player's state for levelID.
func (s *Service) Progress(ctx context.Context, playerID, levelID string) (attempt.Snapshot, error) {
	return s.processor.Progress(ctx, playerID, levelID)
}

// JoinQueue enqueues playerID at their global ability.
func (s *Service) JoinQueue(ctx context.Context, playerID, matchType, language string, matchSize int) (model.QueueEntry, error) {
	st, found, err := s.store.Skill(ctx, globalKey(playerID))
	if err != nil {
		return model.QueueEntry{}, fmt.Errorf("join queue: %w", err)
	}
	theta := attempt.DefaultInitialTheta
	if found {
		theta = st.Theta
	}
	e := model.QueueEntry{
		PlayerID:  playerID,
		Theta:     theta,
		MatchType: matchType,
		Language:  language,
		MatchSize: matchSize,
		JoinedAt:  s.now(),
	}
	if err := s.queue.Join(ctx, e); err != nil {
		return model.QueueEntry{}, err
	}
	return e, nil
}

// LeaveQueue removes playerID from the queue.
func (s *Service) LeaveQueue(ctx context.Context, playerID string) error {
	return s.queue.Leave(ctx, playerID)
}

// Session returns a session the player takes part in.
func (s *Service) Session(ctx context.Context, playerID, id string) (battle.Session, error) {
	sess, err := s.battles.Get(ctx, id)
	if err != nil {
		return battle.Session{}, err
	}
	for _, p := range sess.PlayerIDs() {
		if p == playerID {
			return sess, nil
		}
	}
	return battle.Session{}, fmt.Errorf("%w: %s", battle.ErrNotParticipant, id)
}

// ActiveSession returns the id of playerID's live session.
func (s *Service) ActiveSession(playerID string) (string, bool) {
	return s.battles.ActiveSession(playerID)
}

// JoinSession marks playerID as connected to the session.
func (s *Service) JoinSession(ctx context.Context, playerID, id string) (battle.Session, error) {
	return s.battles.Join(ctx, id, playerID)
}

// ReadySession marks playerID ready.
func (s *Service) ReadySession(ctx context.Context, playerID, id string) (battle.Session, error) {
	return s.battles.Ready(ctx, id, playerID)
}

// SubmitSolution records a battle submission.
func (s *Service) SubmitSolution(ctx context.Context, playerID, id, code, language string, passed bool) (battle.Session, error) {
	return s.battles.Submit(ctx, id, playerID, code, language, passed)
}

// ExitSession forfeits playerID.
func (s *Service) ExitSession(ctx context.Context, playerID, id string) (battle.Session, error) {
	return s.battles.Exit(ctx, id, playerID)
}

// CreateChallenge invites opponent to a battle.
func (s *Service) CreateChallenge(ctx context.Context, playerID, opponent, language string, wager int) (challenge.Challenge, error) {
	return s.challenges.Create(ctx, playerID, opponent, language, wager)
}

// RespondChallenge accepts or declines a challenge addressed to playerID.
func (s *Service) RespondChallenge(ctx context.Context, playerID, id string, accept bool) (challenge.Challenge, error) {
	return s.challenges.Respond(ctx, id, playerID, accept)
}

// Challenge returns a challenge the player sent or received.
func (s *Service) Challenge(ctx context.Context, playerID, id string) (challenge.Challenge, error) {
	c, err := s.challenges.Get(ctx, id)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if c.From != playerID && c.To != playerID {
		return challenge.Challenge{}, fmt.Errorf("%w: %s", challenge.ErrNotFound, id)
	}
	return c, nil
}

// Tick runs one matchmaking pass; exposed for tests and admin tooling.
func (s *Service) Tick(ctx context.Context) (matchmaking.TickReport, error) {
	return s.scheduler.Tick(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":            s.started,
		"storage":            s.cfg.Storage,
		"matchmakingBackend": s.cfg.MatchmakingBackend,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	outboxLen := s.outbox.Len(ctx)
	stats["outboxLength"] = outboxLen
	stats["workerCount"] = s.pool.Size()
	stats["schedulerState"] = s.scheduler.State().String()
	stats["liveSessions"] = s.battles.Live()
	stats["realtimeClients"] = s.gateway.Hub().Clients()
	if n, err := s.queue.Len(ctx); err == nil {
		stats["queueLength"] = n
		metrics.UpdateMatchmakingQueueSize(n)
	}
	metrics.UpdateOutboxSize(outboxLen)
	return stats
}
