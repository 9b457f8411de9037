package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asset-hub/asset-hub/internal/cache"
)

func TestGetOrFetchEndToEnd(t *testing.T) {
	payload := []byte("sprite-bytes")
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}, nil)
	ctx := context.Background()

	first, err := fx.manager.GetOrFetch(ctx, "passionfruit/sprites/a.png")
	require.NoError(t, err)
	assert.Equal(t, payload, first.Data)
	assert.False(t, first.CacheHit)
	assert.Equal(t, []string{"/sprites/a.png"}, fx.origin.Paths())
	assert.Equal(t, []string{"asset-hub-test"}, fx.origin.Agents())

	onDisk, err := os.ReadFile(filepath.Join(fx.store.Root(), "passionfruit", "sprites", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	second, err := fx.manager.GetOrFetch(ctx, "passionfruit/sprites/a.png")
	require.NoError(t, err)
	assert.Equal(t, payload, second.Data)
	assert.True(t, second.CacheHit)
	assert.EqualValues(t, 1, fx.origin.hits.Load())
}

func TestGetOrFetchNormalizesEquivalentKeys(t *testing.T) {
	fx := newFixture(t, bodyFromPath, nil)
	ctx := context.Background()

	for _, raw := range []string{"assets/passionfruit/x.png?v=2", "/passionfruit/x.png", "passionfruit\\x.png"} {
		res, err := fx.manager.GetOrFetch(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "passionfruit/x.png", res.Key)
		assert.Equal(t, "body:/x.png", string(res.Data))
	}
	assert.EqualValues(t, 1, fx.origin.hits.Load())
}

func TestGetOrFetchServesExistingFileWithoutNetwork(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected upstream request %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)
	target := filepath.Join(fx.store.Root(), "icons", "foo.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("icon"), 0o644))

	res, err := fx.manager.GetOrFetch(context.Background(), "Icons/Foo.PNG")
	require.NoError(t, err)
	assert.Equal(t, "icon", string(res.Data))
	assert.Equal(t, target, res.Path)
	assert.True(t, res.CacheHit)

	again, err := fx.manager.GetOrFetch(context.Background(), "Icons/Foo.PNG")
	require.NoError(t, err)
	assert.Equal(t, target, again.Path)
	assert.Zero(t, fx.origin.hits.Load())
}

func TestGetOrFetchUpstreamStatus(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}, nil)

	_, err := fx.manager.GetOrFetch(context.Background(), "passionfruit/missing.png")
	require.Error(t, err)
	var statusErr *UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.True(t, IsUpstreamFailure(err))

	status := fx.manager.Status()
	assert.Zero(t, status.QueueLength)
	assert.Zero(t, status.ActiveDownloads)
	assert.False(t, status.IsDownloading)
	assert.Zero(t, status.DownloadedCount)

	_, err = fx.manager.GetOrFetch(context.Background(), "passionfruit/missing.png")
	require.Error(t, err)
	assert.EqualValues(t, 2, fx.origin.hits.Load(), "a failed fetch must not block later attempts")

	_, statErr := os.Stat(filepath.Join(fx.store.Root(), "passionfruit", "missing.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestGetOrFetchNetworkFailure(t *testing.T) {
	fx := newFixture(t, bodyFromPath, nil)
	fx.origin.Close()

	_, err := fx.manager.GetOrFetch(context.Background(), "passionfruit/a.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsUpstreamFailure(err))
	assert.False(t, fx.manager.Status().IsDownloading)
}

func TestGetOrFetchRejectsEmptyAndEscapingKeys(t *testing.T) {
	fx := newFixture(t, bodyFromPath, nil)

	_, err := fx.manager.GetOrFetch(context.Background(), "/")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fx.manager.GetOrFetch(context.Background(), "?v=1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fx.manager.GetOrFetch(context.Background(), "../outside.png")
	assert.ErrorIs(t, err, cache.ErrInvalidKey)
	assert.Zero(t, fx.origin.hits.Load())
}

func TestGetOrFetchRefetchesWhenFileRemovedExternally(t *testing.T) {
	fx := newFixture(t, bodyFromPath, nil)
	ctx := context.Background()

	res, err := fx.manager.GetOrFetch(ctx, "passionfruit/gone.png")
	require.NoError(t, err)
	require.NoError(t, os.Remove(res.Path))

	again, err := fx.manager.GetOrFetch(ctx, "passionfruit/gone.png")
	require.NoError(t, err)
	assert.Equal(t, res.Data, again.Data)
	assert.EqualValues(t, 2, fx.origin.hits.Load())
}

func TestConcurrentRequestsShareSingleFetch(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("shared"))
	}, nil)

	const callers = 8
	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.manager.GetOrFetch(context.Background(), "passionfruit/shared.png")
			errs[i] = err
			if err == nil {
				results[i] = res.Data
			}
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", string(results[i]))
	}
	assert.EqualValues(t, 1, fx.origin.hits.Load())

	status := fx.manager.Status()
	assert.Equal(t, 1, status.DownloadedCount)
	assert.False(t, status.IsDownloading)
}

func TestFollowerFetchesIndependentlyAfterPollBudget(t *testing.T) {
	arrived := make(chan struct{}, 2)
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("slow"))
	}, func(opts *Options) {
		opts.PollAttempts = 2
		opts.PollInterval = 10 * time.Millisecond
	})

	results := runClaimantAndFollower(t, fx, arrived)
	for _, data := range results {
		assert.Equal(t, "slow", string(data))
	}
	assert.EqualValues(t, 2, fx.origin.hits.Load())
	assert.False(t, fx.manager.Status().IsDownloading)
}

func TestStrictDedupJoinsSlowFetch(t *testing.T) {
	arrived := make(chan struct{}, 2)
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("slow"))
	}, func(opts *Options) {
		opts.PollAttempts = 2
		opts.PollInterval = 10 * time.Millisecond
		opts.StrictDedup = true
	})

	results := runClaimantAndFollower(t, fx, arrived)
	for _, data := range results {
		assert.Equal(t, "slow", string(data))
	}
	assert.EqualValues(t, 1, fx.origin.hits.Load())
}

// runClaimantAndFollower 先启动认领者，等它抵达源站后再启动跟随者。
func runClaimantAndFollower(t *testing.T, fx *managerFixture, arrived <-chan struct{}) [][]byte {
	t.Helper()
	results := make([][]byte, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	start := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.manager.GetOrFetch(context.Background(), "passionfruit/slow.png")
			errs[i] = err
			if err == nil {
				results[i] = res.Data
			}
		}()
	}

	start(0)
	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatalf("claimant never reached the origin")
	}
	start(1)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	return results
}

func TestWorkerCeilingBoundsConcurrentFetches(t *testing.T) {
	var current, peak atomic.Int32
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		current.Add(-1)
		bodyFromPath(w, r)
	}, func(opts *Options) {
		opts.MaxWorkers = 2
	})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.manager.GetOrFetch(context.Background(), fmt.Sprintf("passionfruit/k%d.png", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.EqualValues(t, 10, fx.origin.hits.Load())
	assert.Equal(t, 2, fx.manager.Status().MaxWorkers)
}

func TestStatusAccounting(t *testing.T) {
	release := make(chan struct{})
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocked.png" {
			<-release
		}
		bodyFromPath(w, r)
	}, nil)
	ctx := context.Background()

	for i := range 3 {
		_, err := fx.manager.GetOrFetch(ctx, fmt.Sprintf("passionfruit/s%d.png", i))
		require.NoError(t, err)
	}
	status := fx.manager.Status()
	assert.Equal(t, Status{MaxWorkers: 8, DownloadedCount: 3}, status)

	done := make(chan error, 1)
	go func() {
		_, err := fx.manager.GetOrFetch(ctx, "passionfruit/blocked.png")
		done <- err
	}()

	require.Eventually(t, func() bool {
		s := fx.manager.Status()
		return s.IsDownloading && s.QueueLength == 1 && s.ActiveDownloads == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	status = fx.manager.Status()
	assert.Equal(t, 4, status.DownloadedCount)
	assert.False(t, status.IsDownloading)
	assert.Zero(t, status.QueueLength)
}

func TestExistsLocalAndCheck(t *testing.T) {
	fx := newFixture(t, bodyFromPath, nil)

	exists, absPath := fx.manager.ExistsLocal("passionfruit/a.png")
	assert.False(t, exists)
	assert.Empty(t, absPath)

	check := fx.manager.Check("assets/passionfruit/a.png")
	assert.False(t, check.Exists)
	assert.True(t, check.Downloading)
	assert.Nil(t, check.AbsPath)
	assert.Equal(t, "assets/passionfruit/a.png", check.Path)

	other := fx.manager.Check("icons/a.png")
	assert.False(t, other.Exists)
	assert.False(t, other.Downloading)

	assert.Zero(t, fx.origin.hits.Load(), "existence checks must never fetch")
	assert.Zero(t, fx.manager.Status().QueueLength)

	target := filepath.Join(fx.store.Root(), "passionfruit", "a.png")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0o644))

	check = fx.manager.Check("passionfruit/a.png")
	assert.True(t, check.Exists)
	assert.False(t, check.Downloading)
	require.NotNil(t, check.AbsPath)
	assert.Equal(t, target, *check.AbsPath)

	exists, absPath = fx.manager.ExistsLocal("/passionfruit/a.png?v=3")
	assert.True(t, exists)
	assert.Equal(t, target, absPath)
}

func TestPrefetch(t *testing.T) {
	fx := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.png" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		bodyFromPath(w, r)
	}, nil)

	err := fx.manager.Prefetch(context.Background(), []string{"passionfruit/p1.png", "passionfruit/p2.png"})
	require.NoError(t, err)
	for _, key := range []string{"passionfruit/p1.png", "passionfruit/p2.png"} {
		exists, _ := fx.manager.ExistsLocal(key)
		assert.True(t, exists, key)
	}

	err = fx.manager.Prefetch(context.Background(), []string{"passionfruit/p3.png", "passionfruit/bad.png"})
	require.Error(t, err)
	var statusErr *UpstreamStatusError
	assert.True(t, errors.As(err, &statusErr))
	exists, _ := fx.manager.ExistsLocal("passionfruit/p3.png")
	assert.True(t, exists)
	assert.Equal(t, 3, fx.manager.Status().DownloadedCount)
}

func TestNewManagerValidatesOptions(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)

	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	origin, err := NewOrigin(http.DefaultClient, "http://127.0.0.1/", "", "")
	require.NoError(t, err)

	_, err = NewManager(Options{Store: store, Origin: origin})
	assert.Error(t, err, "worker ceiling must be positive")

	m, err := NewManager(Options{Store: store, Origin: origin, MaxWorkers: 4, PollAttempts: -1})
	require.NoError(t, err)
	assert.Equal(t, 4, m.MaxWorkers())
	assert.Equal(t, defaultPollAttempts, m.pollAttempts)
}
