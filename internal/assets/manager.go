package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/asset-hub/asset-hub/internal/cache"
	"github.com/asset-hub/asset-hub/internal/logging"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultPollAttempts = 20
)

// Options 描述 Manager 的依赖与调优参数。
type Options struct {
	Store  cache.Store
	Origin *Origin
	Logger *logrus.Logger
	// Namespace 是按需回源的本地命名空间，仅用于 Check 的 downloading 提示。
	Namespace string
	// MaxWorkers 为回源并发上限，必须大于 0。
	MaxWorkers int
	// PollInterval/PollAttempts 控制跟随者等待首个认领者落盘的节奏，
	// 预算用尽后跟随者自行回源。PollAttempts 为 0 时跟随者不等待。
	PollInterval time.Duration
	PollAttempts int
	// StrictDedup 打开后同一 key 的并发回源合并为一次，跟随者不再超时自行回源。
	StrictDedup bool
}

// Manager 是进程级的资源协调器，所有请求共享同一实例。
type Manager struct {
	store     cache.Store
	origin    *Origin
	logger    *logrus.Logger
	namespace string

	sem          *semaphore.Weighted
	maxWorkers   int
	pollInterval time.Duration
	pollAttempts int
	strict       bool
	group        singleflight.Group

	index *index
}

// Resource 是一次 GetOrFetch 的结果。Path 为实际读取或写入的磁盘路径，
// 大小写可能与请求不同。
type Resource struct {
	Key      string
	Path     string
	Data     []byte
	CacheHit bool
}

// Existence 是 Check 的结果，AbsPath 在资源不存在时为 nil。
type Existence struct {
	Exists      bool    `json:"exists"`
	Downloading bool    `json:"downloading"`
	Path        string  `json:"path"`
	AbsPath     *string `json:"absPath"`
}

// NewManager 校验依赖并构建协调器。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.MaxWorkers <= 0 {
		return nil, fmt.Errorf("invalid worker ceiling: %d", opts.MaxWorkers)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := opts.PollAttempts
	if attempts < 0 {
		attempts = defaultPollAttempts
	}

	return &Manager{
		store:        opts.Store,
		origin:       opts.Origin,
		logger:       logger,
		namespace:    opts.Namespace,
		sem:          semaphore.NewWeighted(int64(opts.MaxWorkers)),
		maxWorkers:   opts.MaxWorkers,
		pollInterval: interval,
		pollAttempts: attempts,
		strict:       opts.StrictDedup,
		index:        newIndex(),
	}, nil
}

// ExistsLocal 在不回源的前提下判断资源是否已在磁盘上，命中时记入索引。
// 不修改下载中集合，也不触发下载。
func (m *Manager) ExistsLocal(raw string) (bool, string) {
	locator, err := m.store.Locate(raw)
	if err != nil || locator.Key == "" {
		return false, ""
	}
	if p, ok := m.index.lookup(locator.Key); ok {
		return true, p
	}
	found, ok := m.store.Probe(locator)
	if !ok {
		return false, ""
	}
	m.index.markPresent(locator.Key, found)
	return true, found
}

// Check 返回前端使用的存在性查询结果。命名空间内缺失的资源会被标记为 downloading，
// 提示 UI 该资源将按需下载。
func (m *Manager) Check(raw string) Existence {
	exists, absPath := m.ExistsLocal(raw)
	result := Existence{
		Exists:      exists,
		Downloading: !exists && cache.HasNamespace(raw, m.namespace),
		Path:        raw,
	}
	if exists {
		result.AbsPath = &absPath
	}
	return result
}

// GetOrFetch 返回资源正文，必要时回源下载并原子落盘。
func (m *Manager) GetOrFetch(ctx context.Context, raw string) (*Resource, error) {
	locator, err := m.store.Locate(raw)
	if err != nil {
		return nil, err
	}
	if locator.Key == "" {
		return nil, ErrNotFound
	}

	if remembered, ok := m.index.lookup(locator.Key); ok {
		data, err := m.store.Read(ctx, remembered)
		switch {
		case err == nil:
			return &Resource{Key: locator.Key, Path: remembered, Data: data, CacheHit: true}, nil
		case !errors.Is(err, cache.ErrNotFound):
			return nil, ioError("read cached", err)
		}
		m.logger.WithFields(logrus.Fields{"action": "index_stale", "key": locator.Key, "path": remembered}).
			Warn("cached file disappeared, re-probing")
	}

	if found, ok := m.store.Probe(locator); ok {
		data, err := m.store.Read(ctx, found)
		if err != nil {
			return nil, ioError("read cached", err)
		}
		m.index.markPresent(locator.Key, found)
		return &Resource{Key: locator.Key, Path: found, Data: data, CacheHit: true}, nil
	}

	data, err := m.fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &Resource{Key: locator.Key, Path: locator.Path, Data: data}, nil
}

// Status 返回当前下载活动快照。
func (m *Manager) Status() Status {
	return m.index.snapshot(m.maxWorkers)
}

// MaxWorkers 返回回源并发上限。
func (m *Manager) MaxWorkers() int {
	return m.maxWorkers
}

// Prefetch 并发预热一组资源，并发度受同一信号量约束。所有任务结束后返回首个错误。
func (m *Manager) Prefetch(ctx context.Context, raws []string) error {
	var g errgroup.Group
	g.SetLimit(m.maxWorkers)
	for _, raw := range raws {
		g.Go(func() error {
			if _, err := m.GetOrFetch(ctx, raw); err != nil {
				return fmt.Errorf("prefetch %s: %w", raw, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) fetch(ctx context.Context, locator cache.Locator) ([]byte, error) {
	if !m.strict {
		return m.fetchAndCache(ctx, locator)
	}
	value, err, shared := m.group.Do(locator.Key, func() (interface{}, error) {
		return m.fetchAndCache(ctx, locator)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.WithFields(logrus.Fields{"action": "fetch_shared", "key": locator.Key}).Debug("joined in-flight fetch")
	}
	return value.([]byte), nil
}

// fetchAndCache 是并发关键路径：占用信号量 → 计入活跃下载 → 认领 key；
// 跟随者先轮询首个认领者的落盘结果，超出预算后自行回源。
func (m *Manager) fetchAndCache(ctx context.Context, locator cache.Locator) ([]byte, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	done := m.index.beginActive()
	defer done()

	if m.index.claim(locator.Key) {
		defer m.index.release(locator.Key)
		// 排队期间上一个认领者可能已经完成。
		if remembered, ok := m.index.lookup(locator.Key); ok {
			if data, err := m.store.Read(ctx, remembered); err == nil {
				return data, nil
			}
		}
	} else {
		data, ok, err := m.awaitClaimant(ctx, locator)
		if err != nil || ok {
			return data, err
		}
		m.logger.WithFields(logrus.Fields{"action": "follower_fallback", "key": locator.Key}).
			Info("claimant did not finish within poll budget, fetching independently")
	}

	started := time.Now()
	fields := logging.FetchFields(locator.Key, m.origin.URL(locator.Key))
	m.logger.WithFields(fields).Debug("fetch_start")

	data, err := m.origin.Fetch(ctx, locator.Key)
	if err != nil {
		fields["error"] = err.Error()
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		m.logger.WithFields(fields).Warn("fetch_failed")
		return nil, err
	}

	entry, err := m.store.Put(ctx, locator, bytes.NewReader(data))
	if err != nil {
		return nil, ioError("persist", err)
	}
	m.index.completeDownload(locator.Key, entry.FilePath)

	fields["bytes"] = len(data)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	m.logger.WithFields(fields).Info("fetch_complete")
	return data, nil
}

// awaitClaimant 按固定间隔检查目标文件是否出现。ok 为 false 表示预算耗尽。
func (m *Manager) awaitClaimant(ctx context.Context, locator cache.Locator) ([]byte, bool, error) {
	for range m.pollAttempts {
		if info, err := os.Stat(locator.Path); err == nil && info.Mode().IsRegular() {
			data, err := m.store.Read(ctx, locator.Path)
			if err != nil {
				return nil, false, ioError("read followed", err)
			}
			m.index.markPresent(locator.Key, locator.Path)
			return data, true, nil
		}

		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, false, nil
}
