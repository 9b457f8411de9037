package server

import (
	"net"
	"net/http"
	"time"

	"github.com/asset-hub/asset-hub/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   32,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有回源请求。空闲连接数不低于并发上限，
// 避免满载时频繁建连。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	transport := defaultTransport.Clone()
	if cfg != nil {
		if d := cfg.Assets.UpstreamTimeout.DurationValue(); d > 0 {
			timeout = d
		}
		if workers := cfg.Assets.WorkerCeiling(); workers > transport.MaxIdleConnsPerHost {
			transport.MaxIdleConnsPerHost = workers
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
