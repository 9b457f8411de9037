package cache

import "strings"

// assetsPrefix 是前端打包路径遗留的重复前缀，本地缓存与远端都不包含它。
const assetsPrefix = "assets/"

// NormalizeKey 将外部传入的资源标识转换为规范 key：
// 反斜杠转为 /，截断 ? 之后的查询串，去掉开头的 assets/，再去掉所有前导 /。
// 该函数是纯函数，不做 IO，对任何输入都有结果。
func NormalizeKey(raw string) string {
	key := strings.ReplaceAll(raw, "\\", "/")
	if idx := strings.IndexByte(key, '?'); idx >= 0 {
		key = key[:idx]
	}
	key = strings.TrimPrefix(key, assetsPrefix)
	return strings.TrimLeft(key, "/")
}

// HasNamespace 判断原始标识是否位于指定命名空间（可带 assets/ 前缀）下。
func HasNamespace(raw, namespace string) bool {
	if namespace == "" {
		return false
	}
	prefix := namespace + "/"
	return strings.HasPrefix(raw, prefix) || strings.HasPrefix(raw, assetsPrefix+prefix)
}
