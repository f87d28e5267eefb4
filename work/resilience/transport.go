package resilience

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/valyala/bytebufferpool"

	"livetv-hub/work/client"
	"livetv-hub/work/gateway"
	"livetv-hub/work/logger"
	"livetv-hub/work/types"
)

// Manifest is the transport's parsed view of an HLS playlist fetch.
type Manifest struct {
	Master         bool
	Renditions     []types.Rendition // master only, sorted by height descending
	Segments       []Segment         // media only
	TargetDuration time.Duration     // media only
	URL            string            // final manifest URL after wrapping/redirects
}

// Segment is one media segment reference with its advertised duration.
type Segment struct {
	URI      string
	Duration time.Duration
}

// StatusError carries a non-success HTTP status through the error chain so
// the classifier can distinguish policy blocks from transport failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.Code)
}

// Transport abstracts the stream fetch path so sessions can be driven by a
// fake in tests. The production implementation wraps the shared
// HeaderSettingClient plus the gateway rewrite layer.
type Transport interface {
	// FetchManifest fetches the playlist at url (already wrapped by the
	// active strategy) and parses it with origin, the unwrapped stream URL,
	// as the base for relative URIs. Manifest URIs therefore always come
	// back fully resolved against the origin, never against a proxy.
	FetchManifest(ctx context.Context, url, origin string) (*Manifest, error)
	// FetchSegment downloads one media segment, returning the byte count.
	FetchSegment(ctx context.Context, url string) (int64, error)
}

// codecSupported lists codec-string prefixes the playback runtimes we target
// can decode in software. Variants requiring anything else need hardware
// support we cannot assume.
var codecSupported = []string{"avc1", "avc3", "mp4a", "ac-3", "ec-3"}

// HTTPTransport is the production Transport.
type HTTPTransport struct {
	Client       *client.HeaderSettingClient
	Gateway      *gateway.Gateway
	SecureOrigin bool
	Direct       bool // active strategy is direct (CORS rules apply)

	segmentBuffers bytebufferpool.Pool
}

// FetchManifest implements Transport.
func (t *HTTPTransport) FetchManifest(ctx context.Context, manifestURL, origin string) (*Manifest, error) {
	resp, err := t.Client.Get(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	// Emulate the browser's cross-origin rule: a direct fetch from a secure
	// origin needs the upstream to opt in. Proxy strategies exist precisely
	// to sidestep this, so they skip the check.
	if t.Direct && t.SecureOrigin && resp.Header.Get("Access-Control-Allow-Origin") == "" {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrCORSBlocked
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	// Relative URIs resolve against the origin URL, never the wrapped proxy
	// form: a proxy rung re-wraps every resolved URI, so resolving against
	// the wrapper would point segments back at the proxy itself. Direct
	// fetches can follow redirects, so the final request URL wins there.
	base := origin
	if t.Direct && resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}

	return ParseManifest(string(body), base)
}

// FetchSegment implements Transport. Segment bytes are drained through a
// pooled buffer; the session only needs the count and duration accounting.
func (t *HTTPTransport) FetchSegment(ctx context.Context, segmentURL string) (int64, error) {
	resp, err := t.Client.Get(ctx, segmentURL)
	if err != nil {
		return 0, fmt.Errorf("fetch segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 && resp.StatusCode != 206 {
		io.Copy(io.Discard, resp.Body)
		return 0, &StatusError{Code: resp.StatusCode}
	}

	buf := t.segmentBuffers.Get()
	defer t.segmentBuffers.Put(buf)
	if cap(buf.B) < 64<<10 {
		buf.B = make([]byte, 64<<10)
	}

	n, err := io.CopyBuffer(io.Discard, resp.Body, buf.B[:cap(buf.B)])
	if err != nil {
		return n, fmt.Errorf("read segment: %w", err)
	}
	return n, nil
}

// ParseManifest decodes HLS playlist text into a Manifest. Master playlists
// yield the rendition list (height descending); media playlists yield the
// segment list. A playlist with nothing playable is ErrEmptyManifest, and a
// master whose every variant needs an unsupported codec is
// ErrIncompatibleCodec.
func ParseManifest(body, manifestURL string) (*Manifest, error) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	base, _ := url.Parse(manifestURL)
	m := &Manifest{URL: manifestURL}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		playable := 0
		for _, variant := range master.Variants {
			if variant == nil || variant.URI == "" {
				continue
			}
			playable++
			if variant.Codecs != "" && !codecsPlayable(variant.Codecs) {
				continue
			}
			w, h := parseResolution(variant.Resolution)
			m.Renditions = append(m.Renditions, types.Rendition{
				URI:       resolveAgainst(base, variant.URI),
				Width:     w,
				Height:    h,
				Bandwidth: variant.Bandwidth,
				Name:      variant.Name,
			})
		}
		if playable == 0 {
			return nil, ErrEmptyManifest
		}
		if len(m.Renditions) == 0 {
			// every variant demanded a codec we cannot decode
			return nil, ErrIncompatibleCodec
		}
		sort.SliceStable(m.Renditions, func(i, j int) bool {
			if m.Renditions[i].Height != m.Renditions[j].Height {
				return m.Renditions[i].Height > m.Renditions[j].Height
			}
			return m.Renditions[i].Bandwidth > m.Renditions[j].Bandwidth
		})
		m.Master = true

	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		for _, seg := range media.Segments {
			if seg == nil || seg.URI == "" {
				continue
			}
			m.Segments = append(m.Segments, Segment{
				URI:      resolveAgainst(base, seg.URI),
				Duration: time.Duration(seg.Duration * float64(time.Second)),
			})
		}
		if len(m.Segments) == 0 {
			return nil, ErrEmptyManifest
		}
		m.TargetDuration = time.Duration(media.TargetDuration * float64(time.Second))

	default:
		return nil, ErrEmptyManifest
	}

	logger.Debug("{resilience/transport - ParseManifest} master=%v renditions=%d segments=%d",
		m.Master, len(m.Renditions), len(m.Segments))
	return m, nil
}

func codecsPlayable(codecs string) bool {
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(strings.ToLower(c))
		ok := false
		for _, prefix := range codecSupported {
			if strings.HasPrefix(c, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func parseResolution(res string) (w, h int) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, _ = strconv.Atoi(parts[0])
	h, _ = strconv.Atoi(parts[1])
	return w, h
}

func resolveAgainst(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
