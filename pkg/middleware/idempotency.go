package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/jirayu-w/eventseat/internal/dto"
)

const (
	// IdempotencyKeyHeader carries the client-chosen idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is the gin context key holding the request's idempotency key
	ContextKeyIdempotencyKey = "idempotency_key"

	idempotencyKeyPrefix = "idempotency:"
)

// Idempotency record lifecycle
const (
	idemStatusProcessing = "processing"
	idemStatusCompleted  = "completed"
)

// IdempotencyRecord is the stored state of a deduplicated request
type IdempotencyRecord struct {
	Key          string     `json:"key"`
	Status       string     `json:"status"`
	RequestHash  string     `json:"request_hash"`
	ResponseCode int        `json:"response_code"`
	ResponseBody string     `json:"response_body"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// RedisClient is the subset of redis.Client the middleware needs
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig holds settings for the idempotency middleware
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL for completed records. Short-lived on purpose: the window only
	// needs to cover client network retries.
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight claim blocks duplicates
	ProcessingTTL time.Duration
	// RequireKey rejects write requests that omit the header. When false,
	// requests without a key pass through undeduplicated.
	RequireKey bool
	// SkipPaths bypass deduplication entirely; a trailing * matches a prefix
	SkipPaths []string
	// Methods that participate in deduplication
	Methods []string
}

// DefaultIdempotencyConfig returns the standard configuration
func DefaultIdempotencyConfig(redis RedisClient) *IdempotencyConfig {
	return &IdempotencyConfig{
		Redis:         redis,
		TTL:           5 * time.Minute,
		ProcessingTTL: 60 * time.Second,
		RequireKey:    false,
		Methods:       []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}
}

// idemStore wraps the Redis operations on idempotency records
type idemStore struct {
	redis RedisClient
}

func (s idemStore) get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	raw, err := s.redis.Get(ctx, idempotencyKeyPrefix+key).Result()
	if err != nil {
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// claim atomically registers a processing record; false means another
// request holds the key already
func (s idemStore) claim(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) bool {
	data, err := json.Marshal(record)
	if err != nil {
		return false
	}
	ok, err := s.redis.SetNX(ctx, idempotencyKeyPrefix+key, string(data), ttl).Result()
	return err == nil && ok
}

func (s idemStore) complete(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, idempotencyKeyPrefix+key, string(data), ttl).Err()
}

func (s idemStore) delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// IdempotencyMiddleware deduplicates retried write requests. A repeated key
// with an identical request replays the stored response; a repeated key with
// a different request is rejected.
func IdempotencyMiddleware(config *IdempotencyConfig) gin.HandlerFunc {
	if config.ProcessingTTL <= 0 {
		config.ProcessingTTL = 60 * time.Second
	}
	store := idemStore{redis: config.Redis}

	return func(c *gin.Context) {
		if skipIdempotency(c, config) {
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			if config.RequireKey {
				c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
					Error:   "missing idempotency key",
					Code:    "MISSING_IDEMPOTENCY_KEY",
					Message: IdempotencyKeyHeader + " header is required",
				})
				return
			}
			c.Next()
			return
		}
		c.Set(ContextKeyIdempotencyKey, key)

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		hash := requestHash(c, body)

		ctx := c.Request.Context()

		existing, err := store.get(ctx, key)
		if err != nil && !errors.Is(err, redis.Nil) {
			// Redis trouble: fail open rather than block bookings
			c.Next()
			return
		}
		if existing != nil {
			replayOrReject(c, existing, hash)
			return
		}

		record := &IdempotencyRecord{
			Key:         key,
			Status:      idemStatusProcessing,
			RequestHash: hash,
			CreatedAt:   time.Now(),
		}
		if !store.claim(ctx, key, record, config.ProcessingTTL) {
			// Lost the race; whoever won owns the key now
			if existing, _ = store.get(ctx, key); existing != nil {
				replayOrReject(c, existing, hash)
				return
			}
		}

		rw := &captureWriter{ResponseWriter: c.Writer, body: bytes.NewBuffer(nil)}
		c.Writer = rw

		c.Next()

		now := time.Now()
		record.Status = idemStatusCompleted
		record.ResponseCode = rw.status
		record.ResponseBody = rw.body.String()
		record.CompletedAt = &now
		store.complete(ctx, key, record, config.TTL)
	}
}

// replayOrReject serves the terminal outcome for a key seen before
func replayOrReject(c *gin.Context, record *IdempotencyRecord, hash string) {
	if record.RequestHash != hash {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error:   "idempotency key reused",
			Code:    "IDEMPOTENCY_KEY_REUSED",
			Message: "Idempotency key already used with a different request",
		})
		return
	}

	if record.Status == idemStatusProcessing {
		c.AbortWithStatusJSON(http.StatusConflict, dto.ErrorResponse{
			Error:   "request in progress",
			Code:    "REQUEST_IN_PROGRESS",
			Message: "A request with this idempotency key is still being processed",
		})
		return
	}

	c.Data(record.ResponseCode, "application/json", []byte(record.ResponseBody))
	c.Abort()
}

func skipIdempotency(c *gin.Context, config *IdempotencyConfig) bool {
	path := c.Request.URL.Path
	for _, pattern := range config.SkipPaths {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(path, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		} else if path == pattern {
			return true
		}
	}

	for _, m := range config.Methods {
		if c.Request.Method == m {
			return false
		}
	}
	return true
}

// requestHash binds a key to the request it was first used with
func requestHash(c *gin.Context, body []byte) string {
	h := sha256.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte(c.Request.URL.Path))
	if userID, ok := GetUserID(c); ok {
		h.Write([]byte(userID))
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// GetIdempotencyKey extracts the request's idempotency key from gin context
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyIdempotencyKey)
	if !exists {
		return "", false
	}
	key, ok := v.(string)
	return key, ok
}

// DeleteIdempotencyRecord removes a stored record, mainly for tests
func DeleteIdempotencyRecord(ctx context.Context, redis RedisClient, key string) error {
	return idemStore{redis: redis}.delete(ctx, key)
}

// captureWriter duplicates the response body so it can be replayed later
type captureWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
