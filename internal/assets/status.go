package assets

import "sync"

// Status 是下载活动的快照，字段名与前端轮询接口保持一致。
type Status struct {
	QueueLength     int  `json:"queueLength"`
	IsDownloading   bool `json:"isDownloading"`
	ActiveDownloads int  `json:"activeDownloads"`
	MaxWorkers      int  `json:"maxWorkers"`
	DownloadedCount int  `json:"downloadedCount"`
}

// index 汇总协调器的全部可变状态，由单个互斥锁保护，快照在同一临界区内取得。
// 锁只覆盖单次读改写，不跨越任何 IO。
type index struct {
	mu         sync.Mutex
	present    map[string]string // key -> 已确认的磁盘路径
	inflight   map[string]struct{}
	active     int
	downloaded int
}

func newIndex() *index {
	return &index{
		present:  make(map[string]string),
		inflight: make(map[string]struct{}),
	}
}

func (x *index) lookup(key string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	p, ok := x.present[key]
	return p, ok
}

func (x *index) markPresent(key, filePath string) {
	x.mu.Lock()
	x.present[key] = filePath
	x.mu.Unlock()
}

// claim 尝试登记 key 为下载中，返回 true 表示当前调用是首个认领者。
func (x *index) claim(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, exists := x.inflight[key]; exists {
		return false
	}
	x.inflight[key] = struct{}{}
	return true
}

func (x *index) release(key string) {
	x.mu.Lock()
	delete(x.inflight, key)
	x.mu.Unlock()
}

// beginActive 增加活跃下载计数，返回的函数负责在任意退出路径上回减。
func (x *index) beginActive() func() {
	x.mu.Lock()
	x.active++
	x.mu.Unlock()
	return func() {
		x.mu.Lock()
		if x.active > 0 {
			x.active--
		}
		x.mu.Unlock()
	}
}

func (x *index) completeDownload(key, filePath string) {
	x.mu.Lock()
	x.present[key] = filePath
	x.downloaded++
	x.mu.Unlock()
}

func (x *index) snapshot(maxWorkers int) Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Status{
		QueueLength:     len(x.inflight),
		IsDownloading:   len(x.inflight) > 0 || x.active > 0,
		ActiveDownloads: x.active,
		MaxWorkers:      maxWorkers,
		DownloadedCount: x.downloaded,
	}
}
