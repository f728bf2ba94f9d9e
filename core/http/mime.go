package http

import (
	"path/filepath"
	"strings"
)

// DefaultContentType is sent for files whose extension is not mapped
const DefaultContentType = "application/octet-stream"

// mimeTypes is read-only after package initialization
var mimeTypes = map[string]string{
	".mp3":  "audio/mp3",
	".avi":  "video/x-msvideo",
	".gz":   "application/x-gzip",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".zip":  "application/zip",
	".pdf":  "application/pdf",
	".json": "application/json; charset=utf-8",
	".xml":  "application/xml; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",

	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".ico":  "image/x-icon",
	".svg":  "image/svg+xml",

	".c":    "text/plain",
	".txt":  "text/plain",
	".htm":  "text/html",
	".html": "text/html",
	".css":  "text/css; charset=utf-8",
}

// ContentType returns the MIME type for name based on its extension
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return DefaultContentType
}
