package proxy

import (
	"path/filepath"
	"strings"
)

const octetStream = "application/octet-stream"

// mediaContentTypes 覆盖命名空间内的游戏资源：图片、音频与视频。
var mediaContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
}

// documentContentTypes 额外覆盖前端脚本、样式与数据文件，仅用于通用路由。
var documentContentTypes = map[string]string{
	".html": "text/html",
	".js":   "text/javascript",
	".css":  "text/css",
	".json": "application/json",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
}

// contentTypeFor 根据实际落盘路径的扩展名推断 Content-Type。
func contentTypeFor(filePath string, namespaced bool) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ct, ok := mediaContentTypes[ext]; ok {
		return ct
	}
	if !namespaced {
		if ct, ok := documentContentTypes[ext]; ok {
			return ct
		}
	}
	return octetStream
}
