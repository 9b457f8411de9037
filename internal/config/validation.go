package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if err := validateListenHost(g.ListenHost); err != nil {
		return newFieldError("Global.ListenHost", err.Error())
	}
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}

	o := c.Assets
	if err := validateOrigin(o.Origin); err != nil {
		return fmt.Errorf("Assets.Origin: %w", err)
	}
	if strings.Contains(o.Namespace, "\\") || strings.Contains(o.Namespace, "?") {
		return newFieldError("Assets.Namespace", "不允许包含 \\ 或 ?")
	}
	if o.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Assets.UpstreamTimeout", "必须大于 0")
	}
	if o.MaxWorkers < 0 {
		return newFieldError("Assets.MaxWorkers", "不能为负数")
	}
	if o.FollowerPollInterval.DurationValue() <= 0 {
		return newFieldError("Assets.FollowerPollInterval", "必须大于 0")
	}
	if o.FollowerPollAttempts < 0 {
		return newFieldError("Assets.FollowerPollAttempts", "不能为负数")
	}

	return nil
}

// validateListenHost 仅允许回环地址，资源服务不应暴露在局域网。
func validateListenHost(host string) error {
	if host == "" {
		return errors.New("不能为空")
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return fmt.Errorf("无法解析地址: %s", host)
	}
	if !ip.IsLoopback() {
		return fmt.Errorf("仅允许回环地址: %s", host)
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
