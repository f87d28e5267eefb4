// Package guide owns channel ingestion and the EPG refresh pipeline: playlist
// import and merge, XMLTV fetch/parse across all configured sources, matching
// programmes onto channels and falling back to a synthetic grid when no real
// data survives.
package guide

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"livetv-hub/work/cache"
	"livetv-hub/work/client"
	"livetv-hub/work/config"
	"livetv-hub/work/epg"
	"livetv-hub/work/identity"
	"livetv-hub/work/logger"
	"livetv-hub/work/match"
	"livetv-hub/work/metrics"
	"livetv-hub/work/playlist"
	"livetv-hub/work/store"
	"livetv-hub/work/types"
	"livetv-hub/work/utils"
)

// maxDocumentBytes caps a fetched playlist or guide document.
const maxDocumentBytes = 256 << 20

// Service drives ingestion and guide refresh. One instance lives for the
// process; concurrent refreshes are allowed and guarded by a monotonic
// sequence so a slow stale run can never overwrite a newer one's programmes.
type Service struct {
	cfg    *config.Config
	client *client.HeaderSettingClient
	cache  *cache.DocumentCache
	store  *store.Store
	pool   *ants.Pool

	limiters *xsync.MapOf[string, ratelimit.Limiter]

	refreshSeq atomic.Uint64
}

// New wires the guide service onto the shared worker pool.
func New(cfg *config.Config, hsc *client.HeaderSettingClient, dc *cache.DocumentCache,
	st *store.Store, pool *ants.Pool) *Service {
	return &Service{
		cfg:      cfg,
		client:   hsc,
		cache:    dc,
		store:    st,
		pool:     pool,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Start kicks an initial refresh and then refreshes on the configured
// interval until the context ends. A zero interval disables the loop.
func (s *Service) Start(ctx context.Context) {
	go func() {
		if err := s.Refresh(ctx); err != nil {
			logger.Warn("{guide/guide - Start} initial refresh: %v", err)
		}

		if s.cfg.GuideRefreshInterval <= 0 {
			return
		}
		ticker := time.NewTicker(s.cfg.GuideRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Refresh(ctx); err != nil {
					logger.Warn("{guide/guide - Start} periodic refresh: %v", err)
				}
			}
		}
	}()
}

// ImportFromURL fetches a playlist document and merges it into the store.
func (s *Service) ImportFromURL(ctx context.Context, url string) (added, total int, err error) {
	body, err := s.fetchDocument(ctx, url)
	if err != nil {
		metrics.PlaylistImports.WithLabelValues("fetch_error").Inc()
		return 0, 0, fmt.Errorf("fetch playlist %s: %w", utils.LogURL(s.cfg, url), err)
	}
	return s.ImportText(ctx, string(body))
}

// ImportText parses raw playlist text and merges the candidates into the
// existing channel set. Existing channels keep their identity, flags and
// user edits; new channels append in playlist order.
func (s *Service) ImportText(ctx context.Context, text string) (added, total int, err error) {
	candidates := playlist.Parse(text)
	if len(candidates) == 0 {
		metrics.PlaylistImports.WithLabelValues("empty").Inc()
		return 0, 0, fmt.Errorf("no channels found in playlist")
	}

	existing, err := s.store.ListChannels()
	if err != nil {
		return 0, 0, err
	}

	merged := identity.Merge(existing, candidates)
	identity.ApplySort(merged, s.cfg.SortField, s.cfg.SortDirection)

	if err := s.store.ReplaceAllChannels(merged); err != nil {
		metrics.PlaylistImports.WithLabelValues("store_error").Inc()
		return 0, 0, err
	}

	added = len(merged) - len(existing)
	metrics.PlaylistImports.WithLabelValues("ok").Inc()
	metrics.ChannelsActive.Set(float64(len(merged)))
	logger.Info("{guide/guide - ImportText} imported %d candidates: %d new, %d total",
		len(candidates), added, len(merged))

	// new channels need guide rows; refresh in the background
	if added != 0 {
		if err := s.pool.Submit(func() { _ = s.Refresh(context.Background()) }); err != nil {
			logger.Warn("{guide/guide - ImportText} refresh submit: %v", err)
		}
	}
	return added, len(merged), nil
}

// AddChannel merges a single URL into the channel set. The candidate goes
// through the same identity merge as a playlist import, so adding an existing
// URL updates in place instead of duplicating.
func (s *Service) AddChannel(ctx context.Context, name, rawURL string) (*types.Channel, error) {
	if !strings.Contains(rawURL, "://") || strings.ContainsAny(rawURL, " \t") {
		return nil, fmt.Errorf("invalid stream url")
	}
	if name == "" {
		name = rawURL
	}

	existing, err := s.store.ListChannels()
	if err != nil {
		return nil, err
	}

	merged := identity.Merge(existing, []types.Candidate{{Name: name, URL: rawURL}})
	identity.ApplySort(merged, s.cfg.SortField, s.cfg.SortDirection)

	if err := s.store.ReplaceAllChannels(merged); err != nil {
		return nil, err
	}
	metrics.ChannelsActive.Set(float64(len(merged)))

	id := identity.Identify(rawURL)
	for i := range merged {
		if merged[i].ID == id {
			return &merged[i], nil
		}
	}
	return nil, fmt.Errorf("channel %s missing after merge", id)
}

// Refresh runs one full guide refresh: fetch every configured source, parse,
// match against the current channels, and persist. When no source yields a
// single matched programme the synthetic grid takes over so the guide is
// never empty.
func (s *Service) Refresh(ctx context.Context) error {
	seq := s.refreshSeq.Add(1)
	started := time.Now()
	defer func() {
		metrics.GuideRefreshDuration.Observe(time.Since(started).Seconds())
	}()

	channels, err := s.store.ListChannels()
	if err != nil {
		metrics.GuideRefreshes.WithLabelValues("error").Inc()
		return err
	}
	if len(channels) == 0 {
		metrics.GuideRefreshes.WithLabelValues("no_channels").Inc()
		return nil
	}

	source := s.collectSources(ctx)
	programs := match.Programs(channels, source)

	matched := make(map[string]struct{})
	for i := range programs {
		matched[programs[i].ChannelID] = struct{}{}
	}
	metrics.GuideMatches.WithLabelValues("matched").Add(float64(len(matched)))
	metrics.GuideMatches.WithLabelValues("none").Add(float64(len(channels) - len(matched)))

	if len(programs) == 0 {
		logger.Warn("{guide/guide - Refresh} no guide data matched, generating synthetic grid for %d channels",
			len(channels))
		programs = match.Synthetic(channels, time.Now())
		metrics.GuideMatches.WithLabelValues("synthetic").Add(float64(len(channels)))
	}

	// a newer refresh started while this one was fetching; drop our results
	if seq != s.refreshSeq.Load() {
		logger.Debug("{guide/guide - Refresh} stale refresh %d superseded, discarding", seq)
		metrics.GuideRefreshes.WithLabelValues("superseded").Inc()
		return nil
	}

	if err := s.store.ReplacePrograms(programs); err != nil {
		metrics.GuideRefreshes.WithLabelValues("error").Inc()
		return err
	}

	metrics.GuideRefreshes.WithLabelValues("ok").Inc()
	logger.Info("{guide/guide - Refresh} stored %d programmes for %d channels in %s",
		len(programs), len(channels), time.Since(started).Round(time.Millisecond))
	return nil
}

// collectSources fetches and parses every configured XMLTV source on the
// shared worker pool and merges the per-source maps. A failing source logs
// and contributes nothing; the refresh carries on with the rest.
func (s *Service) collectSources(ctx context.Context) map[string][]types.Program {
	merged := make(map[string][]types.Program)
	if len(s.cfg.EPGSources) == 0 {
		return merged
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range s.cfg.EPGSources {
		src := src
		wg.Add(1)
		task := func() {
			defer wg.Done()
			parsed, err := s.fetchSource(ctx, src)
			if err != nil {
				logger.Warn("{guide/guide - collectSources} source %s: %v", src.Name, err)
				return
			}
			mu.Lock()
			for id, progs := range parsed {
				merged[id] = append(merged[id], progs...)
			}
			mu.Unlock()
		}
		if err := s.pool.Submit(task); err != nil {
			// pool saturated or released; run inline rather than dropping the source
			task()
		}
	}
	wg.Wait()

	for _, progs := range merged {
		sort.Slice(progs, func(i, j int) bool { return progs[i].Start.Before(progs[j].Start) })
	}
	return merged
}

func (s *Service) fetchSource(ctx context.Context, src config.EPGSource) (map[string][]types.Program, error) {
	body, err := s.fetchDocument(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	text, err := epg.DecodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("decode guide body: %w", err)
	}

	parsed, err := epg.ParseXMLTV(text)
	if err != nil {
		return nil, fmt.Errorf("parse guide: %w", err)
	}
	logger.Debug("{guide/guide - fetchSource} source %s yielded %d guide channels", src.Name, len(parsed))
	return parsed, nil
}

// fetchDocument returns a cached document body or fetches it, honoring the
// per-source rate limit.
func (s *Service) fetchDocument(ctx context.Context, url string) ([]byte, error) {
	if body, ok := s.cache.Get(url); ok {
		logger.Debug("{guide/guide - fetchDocument} cache hit for %s", utils.LogURL(s.cfg, url))
		return body, nil
	}

	s.limiterFor(url).Take()

	resp, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, err
	}

	s.cache.Set(url, body)
	return body, nil
}

func (s *Service) limiterFor(url string) ratelimit.Limiter {
	limiter, _ := s.limiters.LoadOrCompute(url, func() ratelimit.Limiter {
		rps := s.cfg.SourceRateLimit
		if rps <= 0 {
			return ratelimit.NewUnlimited()
		}
		return ratelimit.New(rps)
	})
	return limiter
}
