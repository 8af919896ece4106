package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pdf-ocr-pipeline/internal/config"
)

// reclaimBatch bounds how many expired leases one Receive moves back to ready.
const reclaimBatch = 100

// DefaultMessageTTL is how long a message may live before Receive drops it.
const DefaultMessageTTL = 7 * 24 * time.Hour

// RedisQueue implements Client with a ready list, an in-flight sorted set
// scored by lease deadline, and one hash per message.
type RedisQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	msgPrefix   string
	ttl         time.Duration
	now         func() time.Time
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := NewRedisQueueWithClient(client, cfg.QueueName)
	q.SetMessageTTL(cfg.MessageTTL)
	return q
}

// NewRedisQueueWithClient wraps an existing client; name namespaces all keys.
func NewRedisQueueWithClient(client *redis.Client, name string) *RedisQueue {
	if name == "" {
		name = "ocr-jobs"
	}
	return &RedisQueue{
		client:      client,
		readyKey:    fmt.Sprintf("queue:%s:ready", name),
		inflightKey: fmt.Sprintf("queue:%s:inflight", name),
		msgPrefix:   fmt.Sprintf("queue:%s:msg:", name),
		ttl:         DefaultMessageTTL,
		now:         time.Now,
	}
}

// SetMessageTTL changes how long after Send a message is dropped instead of
// delivered. Zero or negative disables expiry.
func (q *RedisQueue) SetMessageTTL(ttl time.Duration) {
	q.ttl = ttl
}

func (q *RedisQueue) msgKey(id string) string {
	return q.msgPrefix + id
}

// Init verifies connectivity. The keys are created lazily, so calling it more
// than once is harmless.
func (q *RedisQueue) Init(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Send stores the message body and appends its id to the ready list.
func (q *RedisQueue) Send(ctx context.Context, body string) error {
	id := uuid.New().String()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(id), "body", body, "enqueued_at", q.now().UnixMilli(), "dequeue_count", 0)
	pipe.RPush(ctx, q.readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive first returns expired leases to the ready list, then pops the next
// message and leases it until now+visibility under a fresh receipt. Messages
// older than the TTL are deleted in both steps and never delivered.
func (q *RedisQueue) Receive(ctx context.Context, visibility time.Duration) (*Message, error) {
	now := q.now()
	receipt := uuid.New().String()
	res, err := receiveScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		q.msgPrefix, now.UnixMilli(), now.Add(visibility).UnixMilli(), receipt, reclaimBatch, q.ttl.Milliseconds(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 4 {
		return nil, fmt.Errorf("unexpected reply from receive script: %T", res)
	}
	msg := &Message{}
	msg.ID, _ = arr[0].(string)
	msg.Body, _ = arr[1].(string)
	msg.Receipt, _ = arr[2].(string)
	switch v := arr[3].(type) {
	case int64:
		msg.DequeueCount = int(v)
	case string:
		msg.DequeueCount, _ = strconv.Atoi(v)
	}
	return msg, nil
}

// Delete acknowledges a message if the caller still holds its lease.
func (q *RedisQueue) Delete(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrMessageNotFound
	}
	n, err := deleteScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey, q.msgKey(msg.ID)},
		msg.ID, msg.Receipt,
	).Int()
	if err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ReadyDepth returns the number of messages waiting to be received.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlight returns the number of messages currently leased.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var receiveScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local prefix = ARGV[1]
local now = tonumber(ARGV[2])
local deadline = tonumber(ARGV[3])
local receipt = ARGV[4]
local limit = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local function stale(key)
  if ttl <= 0 then return false end
  local raw = redis.call('HGET', key, 'enqueued_at')
  if not raw then return false end
  local at = tonumber(raw)
  return at ~= nil and at + ttl < now
end

local expired = redis.call('ZRANGEBYSCORE', inflight, '-inf', now, 'LIMIT', 0, limit)
for _, id in ipairs(expired) do
  redis.call('ZREM', inflight, id)
  local key = prefix .. id
  if stale(key) then
    redis.call('DEL', key)
  else
    redis.call('RPUSH', ready, id)
  end
end

while true do
  local id = redis.call('LPOP', ready)
  if not id then return nil end
  local key = prefix .. id
  if stale(key) then
    redis.call('DEL', key)
  elseif redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', inflight, deadline, id)
    redis.call('HSET', key, 'receipt', receipt)
    local count = redis.call('HINCRBY', key, 'dequeue_count', 1)
    local body = redis.call('HGET', key, 'body')
    return {id, body, receipt, count}
  end
end
`)

var deleteScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[3], 'receipt')
if not current or current ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('DEL', KEYS[3])
return 1
`)
