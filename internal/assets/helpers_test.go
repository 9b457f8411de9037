package assets

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asset-hub/asset-hub/internal/cache"
)

// originStub 记录源站收到的请求，handler 可按用例替换。
type originStub struct {
	*httptest.Server

	hits    atomic.Int32
	mu      sync.Mutex
	paths   []string
	agents  []string
	handler http.HandlerFunc
}

func newOriginStub(t *testing.T, handler http.HandlerFunc) *originStub {
	t.Helper()
	stub := &originStub{handler: handler}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.hits.Add(1)
		stub.mu.Lock()
		stub.paths = append(stub.paths, r.URL.Path)
		stub.agents = append(stub.agents, r.Header.Get("User-Agent"))
		stub.mu.Unlock()
		stub.handler(w, r)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *originStub) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *originStub) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.agents...)
}

// bodyFromPath 以请求路径作为响应体，便于断言不同 key 的内容。
func bodyFromPath(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("body:" + r.URL.Path))
}

type managerFixture struct {
	manager *Manager
	store   cache.Store
	origin  *originStub
}

func newFixture(t *testing.T, handler http.HandlerFunc, mutate func(*Options)) *managerFixture {
	t.Helper()
	stub := newOriginStub(t, handler)

	store, err := cache.NewStore(t.TempDir(), "passionfruit")
	require.NoError(t, err)

	origin, err := NewOrigin(&http.Client{Timeout: 5 * time.Second}, stub.URL+"/", "passionfruit", "asset-hub-test")
	require.NoError(t, err)

	opts := Options{
		Store:        store,
		Origin:       origin,
		Namespace:    "passionfruit",
		MaxWorkers:   8,
		PollInterval: 10 * time.Millisecond,
		PollAttempts: 50,
	}
	if mutate != nil {
		mutate(&opts)
	}
	manager, err := NewManager(opts)
	require.NoError(t, err)

	return &managerFixture{manager: manager, store: store, origin: stub}
}
