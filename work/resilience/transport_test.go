package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"livetv-hub/work/client"
	"livetv-hub/work/config"
)

const masterManifest = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2500000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2"
720p/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
1080p/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=8000000,RESOLUTION=3840x2160,CODECS="hvc1.2.4.L153.B0,mp4a.40.2"
2160p/index.m3u8
`

const mediaManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:6.000,
seg100.ts
#EXTINF:6.000,
seg101.ts
#EXTINF:5.500,
seg102.ts
`

func TestParseManifestMaster(t *testing.T) {
	m, err := ParseManifest(masterManifest, "https://origin.example/hls/master.m3u8")
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if !m.Master {
		t.Fatal("master playlist not flagged")
	}

	// the hvc1 variant is filtered; survivors sorted by height descending
	if len(m.Renditions) != 2 {
		t.Fatalf("got %d renditions, want 2 (unsupported codec filtered)", len(m.Renditions))
	}
	if m.Renditions[0].Height != 1080 || m.Renditions[1].Height != 720 {
		t.Errorf("rendition order = %d, %d", m.Renditions[0].Height, m.Renditions[1].Height)
	}
	if m.Renditions[0].Bandwidth != 5000000 {
		t.Errorf("bandwidth = %d", m.Renditions[0].Bandwidth)
	}
	// relative variant URIs resolve against the manifest URL
	if m.Renditions[0].URI != "https://origin.example/hls/1080p/index.m3u8" {
		t.Errorf("rendition uri = %q", m.Renditions[0].URI)
	}
}

func TestParseManifestAllCodecsUnsupported(t *testing.T) {
	body := `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=8000000,RESOLUTION=3840x2160,CODECS="hvc1.2.4.L153.B0"
2160p/index.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=4000000,RESOLUTION=1920x1080,CODECS="av01.0.08M.08"
1080p/index.m3u8
`
	_, err := ParseManifest(body, "https://origin.example/master.m3u8")
	if !errors.Is(err, ErrIncompatibleCodec) {
		t.Fatalf("err = %v, want ErrIncompatibleCodec", err)
	}
}

func TestParseManifestMedia(t *testing.T) {
	m, err := ParseManifest(mediaManifest, "https://origin.example/hls/720p/index.m3u8")
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Master {
		t.Fatal("media playlist flagged as master")
	}
	if len(m.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(m.Segments))
	}
	if m.Segments[0].URI != "https://origin.example/hls/720p/seg100.ts" {
		t.Errorf("segment uri = %q", m.Segments[0].URI)
	}
	if m.Segments[2].Duration != 5500*time.Millisecond {
		t.Errorf("segment duration = %v", m.Segments[2].Duration)
	}
	if m.TargetDuration != 6*time.Second {
		t.Errorf("target duration = %v", m.TargetDuration)
	}
}

func TestParseManifestGarbage(t *testing.T) {
	if _, err := ParseManifest("this is not a playlist", "https://x.example/a.m3u8"); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestCodecsPlayable(t *testing.T) {
	tests := []struct {
		codecs string
		want   bool
	}{
		{"avc1.640028,mp4a.40.2", true},
		{"avc3.4d401f", true},
		{"ec-3", true},
		{"ac-3,avc1.64001f", true},
		{"hvc1.2.4.L153.B0,mp4a.40.2", false},
		{"av01.0.08M.08", false},
		{"AVC1.640028", true}, // case-insensitive
	}
	for _, tt := range tests {
		if got := codecsPlayable(tt.codecs); got != tt.want {
			t.Errorf("codecsPlayable(%q) = %v, want %v", tt.codecs, got, tt.want)
		}
	}
}

func TestParseResolution(t *testing.T) {
	if w, h := parseResolution("1920x1080"); w != 1920 || h != 1080 {
		t.Errorf("parseResolution = %dx%d", w, h)
	}
	if w, h := parseResolution(""); w != 0 || h != 0 {
		t.Errorf("empty resolution = %dx%d", w, h)
	}
	if _, h := parseResolution("1280X720"); h != 720 {
		t.Errorf("uppercase X not handled, h = %d", h)
	}
}

func TestFetchManifestProxiedResolvesAgainstOrigin(t *testing.T) {
	// stand-in public proxy: serves the media playlist whatever the query
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, mediaManifest)
	}))
	defer srv.Close()

	tr := &HTTPTransport{Client: client.NewHeaderSettingClient(config.DefaultConfig())}

	origin := "https://origin.example/hls/720p/index.m3u8"
	wrapped := srv.URL + "/?u=" + url.QueryEscape(origin)

	m, err := tr.FetchManifest(context.Background(), wrapped, origin)
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if len(m.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(m.Segments))
	}
	// relative segment URIs resolve against the origin, not the proxy
	if m.Segments[0].URI != "https://origin.example/hls/720p/seg100.ts" {
		t.Errorf("segment uri = %q", m.Segments[0].URI)
	}
	for _, seg := range m.Segments {
		if strings.Contains(seg.URI, srv.URL) {
			t.Errorf("segment uri leaked the proxy host: %q", seg.URI)
		}
	}
}

func TestFetchManifestDirectFollowsRedirects(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/live.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hls/720p/index.m3u8", http.StatusFound)
	})
	handler.HandleFunc("/hls/720p/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, mediaManifest)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	tr := &HTTPTransport{Client: client.NewHeaderSettingClient(config.DefaultConfig()), Direct: true}

	origin := srv.URL + "/live.m3u8"
	m, err := tr.FetchManifest(context.Background(), origin, origin)
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	// a direct fetch resolves against the redirect target, so sibling
	// segment files land next to the real playlist
	if m.Segments[0].URI != srv.URL+"/hls/720p/seg100.ts" {
		t.Errorf("segment uri = %q", m.Segments[0].URI)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 403}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("status error message = %q", err.Error())
	}
}
