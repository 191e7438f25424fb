package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ZWatch/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Redis-backed job queue. Messages are pushed onto a
// list and consumed by a worker pool; failed messages wait in a sorted
// set scored by their retry deadline, and messages that exhaust their
// retries are parked on a dead letter list for inspection.
type RedisQueue struct {
	log    *logger.Logger
	cfg    *Config
	client *redis.Client

	jobs     map[string]Job
	observer Observer

	keyJobs  string
	keyRetry string
	keyDead  string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// RedisQueueOption configures a RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys so several queues can share
// one Redis.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.setKeys(prefix) }
}

// WithObserver installs a callback fired after each job attempt.
func WithObserver(fn Observer) RedisQueueOption {
	return func(r *RedisQueue) { r.observer = fn }
}

// NewRedisQueue creates the queue. Start launches the workers.
func NewRedisQueue(log *logger.Logger, cfg *Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		log:    log,
		cfg:    cfg,
		client: client,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	r.setKeys("zwatch:queue")
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) setKeys(prefix string) {
	r.keyJobs = prefix + ":jobs"
	r.keyRetry = prefix + ":retry"
	r.keyDead = prefix + ":dead"
}

// RegisterJob adds a handler for its message type. Duplicate types keep
// the first registration.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.jobs[job.Type()]; dup {
		r.log.Warn("queue job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("queue job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start verifies the Redis connection, then launches the worker pool
// and the retry redeliverer.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.running = true
	r.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.redeliverLoop()

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("addr", r.client.Options().Addr))
	return nil
}

// Stop cancels the workers and waits for them up to the context
// deadline.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		r.log.Warn("queue workers did not stop in time", logger.Error(ctx.Err()))
		return fmt.Errorf("stop queue: %w", ctx.Err())
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	}
}

// PublishMessage enqueues a payload for the job registered under
// msgType.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return fmt.Errorf("queue not running")
	}
	if !known {
		return fmt.Errorf("no job registered for type %s", msgType)
	}

	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.keyJobs, data).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()

	for r.ctx.Err() == nil {
		result, err := r.client.BRPop(r.ctx, 2*time.Second, r.keyJobs).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			r.log.Error("queue pop failed", logger.Int("worker", id), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-r.ctx.Done():
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			r.log.Error("queue message undecodable", logger.Error(err))
			continue
		}
		r.runJob(msg)
	}
}

func (r *RedisQueue) runJob(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("no job for queued type",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, msg.Payload)
	if r.observer != nil {
		r.observer(job.Name(), msg.Attempts+1, time.Since(start), err)
	}
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Shutdown interrupted the job. Requeue without burning an
		// attempt so the next run picks it up.
		r.scheduleRetry(msg, time.Now())
		r.log.Warn("queued job interrupted by shutdown",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()))
		return
	}
	r.failJob(msg, job, err)
}

func (r *RedisQueue) failJob(msg Message, job Job, err error) {
	attempt := msg.Attempts + 1
	r.log.Error("queued job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", attempt),
		logger.Error(err))

	if msg.Attempts >= r.cfg.RetryLimit {
		r.parkDead(msg)
		return
	}

	msg.Attempts = attempt
	due := time.Now().Add(r.cfg.RetryDelay)
	r.scheduleRetry(msg, due)
	r.log.Info("queued job retry scheduled",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.String("due", due.Format(time.RFC3339)))
}

func (r *RedisQueue) scheduleRetry(msg Message, due time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal retry message", logger.Error(err))
		return
	}
	err = r.client.ZAdd(context.Background(), r.keyRetry, redis.Z{
		Score:  float64(due.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		r.log.Error("schedule retry", logger.Error(err))
	}
}

func (r *RedisQueue) parkDead(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal dead message", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.keyDead, data).Err(); err != nil {
		r.log.Error("park dead message", logger.Error(err))
		return
	}
	r.log.Error("queued job moved to dead letter list", logger.String("id", msg.ID))
}

// redeliverLoop moves due retry messages back onto the job list.
func (r *RedisQueue) redeliverLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.redeliverDue()
		}
	}
}

func (r *RedisQueue) redeliverDue() {
	due, err := r.client.ZRangeByScore(r.ctx, r.keyRetry, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.log.Error("fetch due retries", logger.Error(err))
		return
	}

	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.keyRetry, member)
		pipe.LPush(r.ctx, r.keyJobs, member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.log.Error("redeliver retry", logger.Error(err))
		}
	}
}
