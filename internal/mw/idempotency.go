package mw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the client-chosen key of a mutating request.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyPrefix = "idempotency:"

// ErrMiss is returned by a ResponseStore when the key is unknown.
var ErrMiss = errors.New("idempotency key not found")

// ResponseStore persists the outcome of mutating requests by key.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisStore struct {
	rdb *goredis.Client
}

// NewRedisStore returns a ResponseStore backed by redis.
func NewRedisStore(rdb *goredis.Client) ResponseStore {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (s *redisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// storedResponse is what a replay needs. A record without a status is a
// reservation held by a request still in flight.
type storedResponse struct {
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

var pendingRecord = []byte(`{}`)

// Idempotency replays the stored response of a mutating request whose
// Idempotency-Key was already seen on the same route. Requests without the
// header pass straight through. When the store is unreachable the request
// runs undeduplicated.
func Idempotency(store ResponseStore, ttl time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(IdempotencyHeader)
		if raw == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := idempotencyPrefix + c.Request.Method + ":" + c.FullPath() + ":" + raw

		reserved, err := store.SetNX(ctx, key, pendingRecord, ttl)
		if err != nil {
			log.Warn("idempotency store unavailable, running request without deduplication", zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			replay(c, store, key, log)
			return
		}

		blw := newBodyCacheWriter(c.Writer)
		c.Writer = blw

		c.Next()

		// Server errors release the key; the client may retry.
		if blw.Status() >= 500 {
			if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("failed to release idempotency key", zap.String("key", raw), zap.Error(err))
			}
			return
		}
		record, err := json.Marshal(storedResponse{
			Status:      blw.Status(),
			ContentType: blw.Header().Get("Content-Type"),
			Body:        blw.body.Bytes(),
		})
		if err == nil {
			err = store.Set(context.WithoutCancel(ctx), key, record, ttl)
		}
		if err != nil {
			log.Warn("failed to store idempotent response", zap.String("key", raw), zap.Error(err))
		}
	}
}

func replay(c *gin.Context, store ResponseStore, key string, log *zap.Logger) {
	b, err := store.Get(c.Request.Context(), key)
	if err != nil && !errors.Is(err, ErrMiss) {
		log.Warn("failed to load idempotent response", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable", "code": "IDEMPOTENCY_UNAVAILABLE"})
		return
	}

	var stored storedResponse
	if err == nil {
		if jsonErr := json.Unmarshal(b, &stored); jsonErr != nil {
			log.Warn("corrupt idempotency record", zap.Error(jsonErr))
		}
	}
	if stored.Status == 0 {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this idempotency key is still in progress", "code": "IDEMPOTENCY_IN_PROGRESS"})
		return
	}

	c.Header("Idempotent-Replayed", "true")
	if len(stored.Body) == 0 {
		c.AbortWithStatus(stored.Status)
		return
	}
	c.Data(stored.Status, stored.ContentType, stored.Body)
	c.Abort()
}
