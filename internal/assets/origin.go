package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Origin 负责向远端内容服务器发起 GET。本地命名空间前缀只用于缓存目录与路由，
// 源站上并不存在，构造 URL 时需要去掉。
type Origin struct {
	client    *http.Client
	base      *url.URL
	namespace string
	userAgent string
}

// NewOrigin 解析源站基础地址并绑定共享 http.Client。
func NewOrigin(client *http.Client, baseURL, namespace, userAgent string) (*Origin, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %s", baseURL)
	}
	return &Origin{
		client:    client,
		base:      base,
		namespace: strings.Trim(namespace, "/"),
		userAgent: userAgent,
	}, nil
}

// URL 返回 key 对应的源站地址。
func (o *Origin) URL(key string) string {
	remote := key
	if o.namespace != "" {
		remote = strings.TrimPrefix(remote, o.namespace+"/")
	}
	return o.base.JoinPath(remote).String()
}

// Fetch 下载 key 对应的完整正文。非 2xx 返回 *UpstreamStatusError，传输失败包装 ErrNetwork。
func (o *Origin) Fetch(ctx context.Context, key string) ([]byte, error) {
	target := o.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrNetwork, err)
	}
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &UpstreamStatusError{Status: resp.StatusCode, URL: target}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	return data, nil
}
