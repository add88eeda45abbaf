package playlist

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLineAfter_FirstOccurrenceOnly(t *testing.T) {
	body, err := os.ReadFile("testdata/live.m3u8")
	require.NoError(t, err)

	got, ok := FindLineAfter(string(body), SegmentMarker)
	require.True(t, ok)
	assert.Equal(t, "hls/stream-video=5000000-455767831.m4s", got)
}

func TestFindLineAfter(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"simple", "#EXTM3U\n#EXTINF:10,\nsegment.ts", "segment.ts", true},
		{"crlf", "#EXTM3U\r\n#EXTINF:10,\r\nsegment.ts\r\n", "segment.ts", true},
		{"marker mid line", "#EXTM3U\nfoo EXTINF bar\n  a.ts  \n", "a.ts", true},
		{"skips blank lines", "#EXTINF:10,\n\n   \nb.ts", "b.ts", true},
		{"absolute", "#EXTINF:2,\nhttps://cdn.example.com/s/1.ts\n", "https://cdn.example.com/s/1.ts", true},
		{"no marker", "#EXTM3U\n#EXT-X-VERSION:3\n", "", false},
		{"marker on last line", "#EXTM3U\n#EXTINF:10,", "", false},
		{"only blanks after marker", "#EXTINF:10,\n\n\n", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FindLineAfter(tc.text, SegmentMarker)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveSegment(t *testing.T) {
	assert.Equal(t,
		"https://my.test.domain.com/first/second/replaced.ism",
		ResolveSegment("https://my.test.domain.com/first/second/last.ism", "replaced.ism"))

	assert.Equal(t,
		"http://127.0.0.1:8080/live/hls/seg-1.m4s",
		ResolveSegment("http://127.0.0.1:8080/live/index.m3u8", "hls/seg-1.m4s"))

	// no slash at all
	assert.Equal(t, "seg.ts", ResolveSegment("index.m3u8", "seg.ts"))

	// the split is on the last "/" even when it sits inside the query
	assert.Equal(t,
		"https://cdn.example.com/live/index.m3u8?redirect=/seg.ts",
		ResolveSegment("https://cdn.example.com/live/index.m3u8?redirect=/home", "seg.ts"))
}

func TestResolveSegment_AbsoluteUnchanged(t *testing.T) {
	abs := "https://cdn.example.com/a/b/seg.ts"
	for _, base := range []string{
		"https://origin.example.com/x/index.m3u8",
		"index.m3u8",
		"",
	} {
		assert.Equal(t, abs, ResolveSegment(base, abs))
	}
	assert.Equal(t, "http://x/y.ts", ResolveSegment("https://a/b/c.m3u8", "http://x/y.ts"))
}
