package assets

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示请求的资源无法映射到可缓存的文件（例如空 key）。
	ErrNotFound = errors.New("asset not found")
	// ErrNetwork 表示访问源站时出现连接或传输错误。
	ErrNetwork = errors.New("origin request failed")
	// ErrIO 表示本地磁盘读写、创建目录或 rename 失败。
	ErrIO = errors.New("asset io failed")
)

// UpstreamStatusError 表示源站返回了非 2xx 状态码。
type UpstreamStatusError struct {
	Status int
	URL    string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.Status)
}

// IsUpstreamFailure 判断错误是否来自源站（状态码或网络），网关据此返回 502。
func IsUpstreamFailure(err error) bool {
	var statusErr *UpstreamStatusError
	return errors.As(err, &statusErr) || errors.Is(err, ErrNetwork)
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
