package storage

import "path/filepath"

const (
	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
)

// ContentType returns the MIME type for an HLS artifact name.
func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".m3u8":
		return ContentTypePlaylist
	case ".ts":
		return ContentTypeSegment
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the Cache-Control value for an HLS artifact. Live
// playlists change every segment; segments are immutable once written.
func CacheControl(name string) string {
	if filepath.Ext(name) == ".ts" {
		return "public, max-age=60"
	}
	return "no-cache"
}
