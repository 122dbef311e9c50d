package pipeline

import (
	"path"
	"strings"
)

// videoExtensions are the container formats accepted for embedding.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".flv":  true,
	".wmv":  true,
	".mpeg": true,
	".mpg":  true,
	".mpe":  true,
	".m4v":  true,
	".3gp":  true,
	".ogv":  true,
	".ts":   true,
	".mxf":  true,
}

// IsSupportedVideo reports whether the object key carries a recognized video
// file extension. Matching is case-insensitive.
func IsSupportedVideo(key string) bool {
	return videoExtensions[strings.ToLower(path.Ext(key))]
}
