package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"VolSurface/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a list-backed job queue. Producers LPUSH onto <prefix>:messages and
// workers BRPOP from it. Failed messages wait in the <prefix>:retry sorted set, scored
// by due time, and land in <prefix>:dlq after the retry limit.
type RedisQueue struct {
	logger *logger.Logger
	cfg    QueueConfig
	client *redis.Client
	now    func() time.Time

	pendingKey string
	retryKey   string
	deadKey    string
	dedupeKey  string

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets the prefix of every redis key the queue touches.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.setKeys(prefix)
		}
	}
}

// NewRedisQueue creates a queue serving jobs. Start launches the workers.
func NewRedisQueue(lgr *logger.Logger, cfg QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}

	r := &RedisQueue{
		logger: lgr,
		cfg:    cfg,
		client: client,
		now:    time.Now,
		jobs:   make(map[string]Job, len(jobs)),
	}
	r.setKeys("volsurface:queue")
	for _, opt := range opts {
		opt(r)
	}
	for _, job := range jobs {
		r.RegisterJob(job)
	}
	return r
}

func (r *RedisQueue) setKeys(prefix string) {
	r.pendingKey = prefix + ":messages"
	r.retryKey = prefix + ":retry"
	r.deadKey = prefix + ":dlq"
	r.dedupeKey = prefix + ":pending:"
}

// RegisterJob adds a job. A second job for the same type is ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings redis and launches the workers plus the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("queue already running")
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.retryLoop(ctx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("addr", r.client.Options().Addr),
		logger.String("key", r.pendingKey))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("stop queue: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for a registered job type. Messages of a Deduper job whose
// key is already pending are rejected with ErrDuplicate.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	running := r.running
	job, ok := r.jobs[msgType]
	r.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}
	if !ok {
		return fmt.Errorf("no job registered for type %s", msgType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: r.now().UTC(),
	}
	if d, ok := job.(Deduper); ok {
		msg.Key = d.DedupeKey(payload)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if msg.Key != "" {
		fresh, err := r.client.SetNX(ctx, r.dedupeKey+msg.Key, msg.ID, r.cfg.DedupeTTL).Result()
		if err != nil {
			return fmt.Errorf("setnx: %w", err)
		}
		if !fresh {
			return ErrDuplicate
		}
	}
	if err := r.client.LPush(ctx, r.pendingKey, data).Err(); err != nil {
		if msg.Key != "" {
			r.client.Del(ctx, r.dedupeKey+msg.Key)
		}
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// PublishMessage implements QueueService.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

func (r *RedisQueue) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	r.logger.Debug("queue worker started", logger.Int("worker_id", id))

	for ctx.Err() == nil {
		res, err := r.client.BRPop(ctx, r.cfg.PollTimeout, r.pendingKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			r.logger.Error("brpop", logger.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.logger.Error("unmarshal message", logger.Error(err))
			continue
		}
		r.process(ctx, msg)
	}
	r.logger.Debug("queue worker stopped", logger.Int("worker_id", id))
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	start := r.now()
	err := job.Handle(ctx, msg.Payload)
	fields := []logger.Field{
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Duration("elapsed", r.now().Sub(start)),
	}
	switch {
	case err == nil:
		r.logger.Debug("message handled", fields...)
		r.release(msg)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// shutting down: park it as due now so the next start picks it up
		r.logger.Warn("message interrupted", fields...)
		r.schedule(msg, r.now())
	case msg.Attempts < r.cfg.RetryLimit:
		msg.Attempts++
		due := r.now().Add(time.Duration(msg.Attempts) * r.cfg.RetryDelay)
		r.logger.Warn("message failed, retrying", append(fields, logger.Error(err), logger.Time("retry_at", due))...)
		r.schedule(msg, due)
	default:
		r.logger.Error("message failed, giving up", append(fields, logger.Error(err))...)
		r.deadLetter(msg)
	}
}

// release frees the dedupe key, but only while it still belongs to msg.
func (r *RedisQueue) release(msg Message) {
	if msg.Key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := r.dedupeKey + msg.Key
	if owner, err := r.client.Get(ctx, key).Result(); err == nil && owner == msg.ID {
		r.client.Del(ctx, key)
	}
}

func (r *RedisQueue) schedule(msg Message, due time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	z := redis.Z{Score: float64(due.Unix()), Member: data}
	if err := r.client.ZAdd(ctx, r.retryKey, z).Err(); err != nil {
		r.logger.Error("zadd retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.client.LPush(ctx, r.deadKey, data).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.String("id", msg.ID), logger.Error(err))
	}
	r.release(msg)
}

func (r *RedisQueue) retryLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.moveDue(ctx)
		}
	}
}

// moveDue pushes retries whose due time has passed back onto the pending list.
func (r *RedisQueue) moveDue(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("fetch retries", logger.Error(err))
		}
		return
	}

	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey, member)
		pipe.LPush(ctx, r.pendingKey, member)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() == nil {
				r.logger.Error("move retry", logger.Error(err))
			}
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
