package cache

import (
	"os"
	"path/filepath"
	"strings"
)

// findExisting 查找磁盘上已存在的文件：先直接 stat，再尝试解析符号链接，
// 最后自 root 起逐段按小写名称比对目录项。返回的路径可能与请求大小写不同。
//
// 目录列举的开销与目录项数量成正比，资源目录规模有限时可以接受。
func findExisting(root, absPath string) (string, bool) {
	if isRegular(absPath) {
		return absPath, true
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil && isRegular(resolved) {
		return resolved, true
	}

	rel, err := filepath.Rel(root, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	current := root
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		next, ok := matchEntry(current, segment)
		if !ok {
			return "", false
		}
		current = next
	}
	if !isRegular(current) {
		return "", false
	}
	return current, true
}

// matchEntry 在 dir 中查找名为 name 的目录项，精确匹配优先，其次是大小写不敏感匹配。
func matchEntry(dir, name string) (string, bool) {
	exact := filepath.Join(dir, name)
	if _, err := os.Lstat(exact); err == nil {
		return exact, true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	target := strings.ToLower(name)
	for _, entry := range entries {
		if strings.ToLower(entry.Name()) == target {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

func isRegular(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
