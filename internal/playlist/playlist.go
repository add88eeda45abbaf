// Package playlist pulls the bootstrap segment reference out of a media
// playlist and resolves it against the playlist URL. It is not an m3u8 parser.
package playlist

import "strings"

// SegmentMarker precedes every media segment URI in an HLS media playlist.
const SegmentMarker = "EXTINF"

// FindLineAfter returns the first non-blank line following the first line
// that contains marker. Only the first occurrence of marker is considered.
func FindLineAfter(text, marker string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, marker) {
			continue
		}
		for _, next := range lines[i+1:] {
			if trimmed := strings.TrimSpace(next); trimmed != "" {
				return trimmed, true
			}
		}
		return "", false
	}
	return "", false
}

// ResolveSegment makes ref absolute by replacing the last path element of
// playlistURL. References starting with "http" are returned as is.
//
// The rewrite is textual: everything after the last "/" of playlistURL is
// replaced, and "../" is not resolved.
func ResolveSegment(playlistURL, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	pos := strings.LastIndex(playlistURL, "/")
	if pos < 0 {
		return ref
	}
	return playlistURL[:pos+1] + ref
}
