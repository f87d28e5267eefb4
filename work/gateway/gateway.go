package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"livetv-hub/work/config"
	"livetv-hub/work/types"
)

// Header names attached to gateway-routed requests. The region headers are a
// compatibility shim for CDN-edge simulation, not a core algorithm.
const (
	HeaderMode       = "X-Gateway-Mode"
	HeaderEdgeRegion = "X-Edge-Region"
	HeaderForwarded  = "X-Forwarded-For"
)

// regionIPs maps a region tag to the simulated edge IP presented upstream.
var regionIPs = map[string]string{
	"us-east": "3.216.44.10",
	"us-west": "54.177.12.88",
	"eu-west": "52.212.90.31",
	"eu-east": "3.120.188.7",
	"asia":    "13.228.64.55",
	"oceania": "13.236.101.20",
}

// Strategy is one rung of the connection ladder: a connection mode plus the
// proxy prefix that realizes it (empty for direct and spoofed-proxy).
type Strategy struct {
	Mode        types.ConnectionMode
	ProxyPrefix string
}

// Gateway rewrites outbound stream URLs and requests according to the active
// gateway configuration. The configuration can be swapped at runtime when the
// stored settings change; sessions pick the new config up on their next
// connection attempt.
type Gateway struct {
	mu  sync.RWMutex
	cfg config.Gateway
}

// New builds a Gateway for the given configuration.
func New(cfg config.Gateway) *Gateway {
	return &Gateway{cfg: cfg}
}

// Config exposes the active gateway configuration.
func (g *Gateway) Config() config.Gateway {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Update swaps the active configuration.
func (g *Gateway) Update(cfg config.Gateway) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// Ladder returns the ordered escalation strategies for a playback session:
// direct first, then each configured public proxy, then the spoofed gateway
// when one is configured. The resilience controller walks this list one rung
// at a time.
func Ladder(pb config.Playback, gw config.Gateway) []Strategy {
	ladder := []Strategy{{Mode: types.ModeDirect}}
	for _, prefix := range pb.ProxyList {
		if prefix != "" {
			ladder = append(ladder, Strategy{Mode: types.ModeProxy, ProxyPrefix: prefix})
		}
	}
	if gw.BaseURL != "" {
		ladder = append(ladder, Strategy{Mode: types.ModeSpoofedProxy})
	}
	return ladder
}

// StartIndex returns the ladder rung a channel's persisted connection mode
// points at, so a channel that previously needed a proxy starts there instead
// of re-discovering it.
func StartIndex(ladder []Strategy, mode types.ConnectionMode) int {
	if mode == types.ModeAuto {
		return 0
	}
	for i, s := range ladder {
		if s.Mode == mode {
			return i
		}
	}
	return 0
}

// WrapURL rewrites a stream URL for the given strategy. Direct returns the
// URL untouched; proxy strategies URL-encode the target and prepend the proxy
// prefix; spoofed-proxy routes through the configured gateway base.
func (g *Gateway) WrapURL(raw string, s Strategy) string {
	switch s.Mode {
	case types.ModeProxy:
		if s.ProxyPrefix == "" {
			return raw
		}
		return s.ProxyPrefix + url.QueryEscape(raw)
	case types.ModeSpoofedProxy:
		base := g.Config().BaseURL
		if base == "" {
			return raw
		}
		return strings.TrimSuffix(base, "/") + "/fetch?url=" + url.QueryEscape(raw)
	default:
		return raw
	}
}

// ApplyHeaders stamps gateway mode and simulated edge-region headers onto an
// outbound request. Only requests leaving through the gateway carry them.
func (g *Gateway) ApplyHeaders(req *http.Request) {
	cfg := g.Config()

	mode := cfg.Mode
	if mode == "" {
		mode = config.GatewayDirect
	}
	req.Header.Set(HeaderMode, mode)

	if cfg.Region == "" {
		return
	}
	if ip, ok := regionIPs[cfg.Region]; ok {
		req.Header.Set(HeaderForwarded, ip)
		req.Header.Set(HeaderEdgeRegion, cfg.Region)
	}
}

// RewriteManifest rewrites every URL in an HLS manifest through wrap while
// leaving all non-URL playlist directives byte-for-byte intact. Relative URIs
// are resolved against base first. URI="" attributes inside directive lines
// (#EXT-X-KEY, #EXT-X-MAP, #EXT-X-MEDIA) are rewritten in place.
func RewriteManifest(body string, base *url.URL, wrap func(string) string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			if strings.Contains(trimmed, `URI="`) {
				lines[i] = rewriteURIAttr(line, base, wrap)
			}
			continue
		}
		lines[i] = wrap(resolveRef(base, trimmed))
	}
	return strings.Join(lines, "\n")
}

func rewriteURIAttr(line string, base *url.URL, wrap func(string) string) string {
	start := strings.Index(line, `URI="`)
	if start == -1 {
		return line
	}
	start += len(`URI="`)
	end := strings.Index(line[start:], `"`)
	if end == -1 {
		return line
	}
	uri := line[start : start+end]
	return line[:start] + wrap(resolveRef(base, uri)) + line[start+end:]
}

func resolveRef(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
