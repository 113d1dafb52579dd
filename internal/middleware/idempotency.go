package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/settlus/settlegate/internal/pkg/apperrors"
)

const (
	HeaderIdempotencyKey    = "X-Idempotency-Key"
	HeaderIdempotencyReplay = "X-Idempotent-Replay"

	maxIdempotencyKeyLen = 128
)

type IdempotencyRecord struct {
	Status     int
	Body       []byte
	CreatedAt  time.Time
	Processing bool // 正在处理中，用于防止并发竞争
}

// IdempotencyStore keeps the first response of a keyed write request.
// GetOrLock returns (record, true) when the key is known, and (nil, false)
// when the caller now holds the key and must Save or Unlock it.
type IdempotencyStore interface {
	GetOrLock(key string) (*IdempotencyRecord, bool)
	Save(key string, status int, body []byte)
	Unlock(key string)
}

// InMemIdempotencyStore 用于单进程部署, 多副本请用 Redis
type InMemIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]*IdempotencyRecord
}

func NewInMemIdempotencyStore() *InMemIdempotencyStore {
	return &InMemIdempotencyStore{
		ttl:     24 * time.Hour,
		now:     time.Now,
		records: make(map[string]*IdempotencyRecord),
	}
}

func (s *InMemIdempotencyStore) GetOrLock(key string) (*IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok {
		if now.Sub(rec.CreatedAt) < s.ttl {
			return rec, true
		}
		delete(s.records, key)
	}
	s.records[key] = &IdempotencyRecord{Processing: true, CreatedAt: now}
	return nil, false
}

func (s *InMemIdempotencyStore) Save(key string, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = &IdempotencyRecord{
		Status:    status,
		Body:      body,
		CreatedAt: s.now(),
	}
}

func (s *InMemIdempotencyStore) Unlock(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// IdempotencyMiddleware replays the first response of a write request that
// carries X-Idempotency-Key. Keys are scoped to the calling account, the
// method and the path, so the same key on another tenant is a new request.
// Responses with a 5xx status are not kept and the request may be retried.
// Must run after AuthMiddleware.
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := c.GetHeader(HeaderIdempotencyKey)
		if idemKey == "" || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		if len(idemKey) > maxIdempotencyKeyLen {
			abortWith(c, apperrors.NewInvalidRequest(HeaderIdempotencyKey+" is longer than 128 characters"))
			return
		}
		account, ok := AccountFrom(c)
		if !ok {
			c.Next()
			return
		}

		storeKey := idempotencyStoreKey(account.Address.Hex(), c.Request.Method, c.Request.URL.Path, idemKey)
		record, hit := store.GetOrLock(storeKey)
		if hit {
			if record.Processing {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"code":    "REQUEST_IN_PROGRESS",
					"message": "a request with this " + HeaderIdempotencyKey + " is still being processed",
				})
				return
			}
			c.Header(HeaderIdempotencyReplay, "true")
			c.Data(record.Status, "application/json; charset=utf-8", record.Body)
			c.Abort()
			return
		}

		// 处理函数 panic 时也要释放 key, 否则重试会一直 409
		saved := false
		defer func() {
			if !saved {
				store.Unlock(storeKey)
			}
		}()

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if status := w.Status(); status < http.StatusInternalServerError {
			store.Save(storeKey, status, w.body)
			saved = true
		}
	}
}

// idempotencyStoreKey hashes the scope so every store sees a fixed-size key.
func idempotencyStoreKey(account, method, path, key string) string {
	return crypto.Keccak256Hash([]byte(account + "\n" + method + "\n" + path + "\n" + key)).Hex()
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

func (w *responseBodyWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return w.ResponseWriter.WriteString(s)
}
