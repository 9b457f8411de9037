package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DefaultListenHost = "127.0.0.1"
	DefaultListenPort = 8765
	DefaultOrigin     = "https://media.komisureiya.com/"
	DefaultNamespace  = "passionfruit"
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。path 为空时仅使用默认值，
// 桌面端首次启动时通常没有配置文件。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyOriginDefaults(&cfg.Assets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenHost", DefaultListenHost)
	v.SetDefault("ListenPort", DefaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", ".")
	v.SetDefault("Origin", DefaultOrigin)
	v.SetDefault("Namespace", DefaultNamespace)
	v.SetDefault("UserAgent", DefaultUserAgent)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxWorkers", 0)
	v.SetDefault("FollowerPollInterval", "50ms")
	v.SetDefault("FollowerPollAttempts", 20)
	v.SetDefault("StrictDedup", false)
	v.SetDefault("CORSAllowOrigins", []string{"*"})
}

func applyGlobalDefaults(g *GlobalConfig) {
	if strings.TrimSpace(g.ListenHost) == "" {
		g.ListenHost = DefaultListenHost
	}
	if g.ListenPort == 0 {
		g.ListenPort = DefaultListenPort
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
}

func applyOriginDefaults(o *OriginConfig) {
	o.Namespace = strings.Trim(strings.TrimSpace(o.Namespace), "/")
	if o.UpstreamTimeout.DurationValue() == 0 {
		o.UpstreamTimeout = Duration(30 * time.Second)
	}
	if o.FollowerPollInterval.DurationValue() == 0 {
		o.FollowerPollInterval = Duration(50 * time.Millisecond)
	}
	if len(o.CORSAllowOrigins) == 0 {
		o.CORSAllowOrigins = []string{"*"}
	}
}

// WorkerCeiling 计算回源并发上限：显式配置优先，否则取 clamp(NumCPU*2, 4, 32)。
func (o OriginConfig) WorkerCeiling() int {
	if o.MaxWorkers > 0 {
		return o.MaxWorkers
	}
	return ClampWorkers(runtime.NumCPU())
}

// ClampWorkers 将可用并行度换算为下载并发上限。
func ClampWorkers(parallelism int) int {
	return min(max(parallelism*2, 4), 32)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
