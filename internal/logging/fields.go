package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供资源 key、命名空间与命中状态字段，供网关请求日志复用。
func RequestFields(key string, namespaced, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"key":        key,
		"namespaced": namespaced,
		"cache_hit":  cacheHit,
	}
}

// FetchFields 提供回源日志的公共字段。
func FetchFields(key, upstream string) logrus.Fields {
	return logrus.Fields{
		"action":   "fetch",
		"key":      key,
		"upstream": upstream,
	}
}
