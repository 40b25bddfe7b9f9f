package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.data[key], nil
}

func (s *memoryStore) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func newRouter(store IdempotencyStore, log logrus.FieldLogger, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireActor(), IdempotencyMiddleware(store, log))
	r.POST("/v1/pings/:id/accept", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusOK, gin.H{"order_id": "order-o", "call": *calls})
	})
	return r
}

func post(r http.Handler, path, actor, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(ActorHeader, actor)
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireActor())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, ActorID(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"unauthorized"`)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(ActorHeader, "rider-a")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rider-a", w.Body.String())
}

func TestIdempotency_ReplaysResponse(t *testing.T) {
	log, _ := test.NewNullLogger()
	calls := 0
	r := newRouter(newMemoryStore(), log, &calls)

	first := post(r, "/v1/pings/ping-1/accept", "rider-a", "retry-1")
	require.Equal(t, http.StatusOK, first.Code)

	second := post(r, "/v1/pings/ping-1/accept", "rider-a", "retry-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotency_KeysAreScopedByActor(t *testing.T) {
	log, _ := test.NewNullLogger()
	calls := 0
	r := newRouter(newMemoryStore(), log, &calls)

	post(r, "/v1/pings/ping-1/accept", "rider-a", "same-key")
	w := post(r, "/v1/pings/ping-1/accept", "rider-b", "same-key")
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))

	post(r, "/v1/pings/ping-1/accept", "rider-a", "")
	assert.Equal(t, 3, calls)
}

func TestIdempotency_StoreFailureServesRequest(t *testing.T) {
	log, hook := test.NewNullLogger()
	store := newMemoryStore()
	store.getErr = errors.New("redis: connection refused")
	calls := 0
	r := newRouter(store, log, &calls)

	w := post(r, "/v1/pings/ping-1/accept", "rider-a", "k")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
