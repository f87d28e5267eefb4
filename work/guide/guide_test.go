package guide

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"livetv-hub/work/cache"
	"livetv-hub/work/client"
	"livetv-hub/work/config"
	"livetv-hub/work/store"
	"livetv-hub/work/types"
)

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("ants.NewPool: %v", err)
	}
	t.Cleanup(pool.Release)

	dc := cache.New(cfg.CacheMaxBytes, cfg.CacheDuration)
	hsc := client.NewHeaderSettingClient(cfg)
	return New(cfg, hsc, dc, st, pool), st
}

const testPlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="espn.us" group-title="Sports",ESPN
http://stream.example/espn.m3u8
#EXTINF:-1 tvg-id="cnn.us" group-title="News",CNN
http://stream.example/cnn.m3u8
`

func TestImportText(t *testing.T) {
	svc, st := newTestService(t, config.DefaultConfig())

	added, total, err := svc.ImportText(context.Background(), testPlaylist)
	if err != nil {
		t.Fatalf("ImportText: %v", err)
	}
	if added != 2 || total != 2 {
		t.Errorf("added=%d total=%d, want 2/2", added, total)
	}

	channels, err := st.ListChannels()
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("stored %d channels", len(channels))
	}
	if channels[0].Name != "ESPN" || channels[0].EPGID != "espn.us" {
		t.Errorf("first channel = %+v", channels[0])
	}

	// re-import is a merge, not a duplicate append
	added, total, err = svc.ImportText(context.Background(), testPlaylist)
	if err != nil {
		t.Fatalf("ImportText repeat: %v", err)
	}
	if added != 0 || total != 2 {
		t.Errorf("re-import added=%d total=%d, want 0/2", added, total)
	}
}

func TestImportTextEmpty(t *testing.T) {
	svc, _ := newTestService(t, config.DefaultConfig())
	if _, _, err := svc.ImportText(context.Background(), "#EXTM3U\njust some noise\n"); err == nil {
		t.Fatal("empty import accepted")
	}
}

func TestImportFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testPlaylist))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, config.DefaultConfig())
	added, total, err := svc.ImportFromURL(context.Background(), srv.URL+"/list.m3u")
	if err != nil {
		t.Fatalf("ImportFromURL: %v", err)
	}
	if added != 2 || total != 2 {
		t.Errorf("added=%d total=%d", added, total)
	}
}

func TestAddChannelValidation(t *testing.T) {
	svc, _ := newTestService(t, config.DefaultConfig())

	for _, bad := range []string{"", "not a url", "http://has space.example/x"} {
		if _, err := svc.AddChannel(context.Background(), "X", bad); err == nil {
			t.Errorf("AddChannel(%q) accepted", bad)
		}
	}

	ch, err := svc.AddChannel(context.Background(), "Solo", "http://stream.example/solo.m3u8")
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}
	if ch.Name != "Solo" || ch.ID == "" {
		t.Errorf("added channel = %+v", ch)
	}
}

func TestRefreshMatchesGuideData(t *testing.T) {
	const xmltv = `<?xml version="1.0"?>
<tv>
  <programme start="20260110080000 +0000" stop="20260110090000 +0000" channel="espn.us">
    <title>SportsCenter</title>
  </programme>
</tv>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(xmltv))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.EPGSources = []config.EPGSource{{ID: "t", Name: "Test Feed", URL: srv.URL + "/guide.xml"}}

	svc, st := newTestService(t, cfg)
	if _, _, err := svc.ImportText(context.Background(), testPlaylist); err != nil {
		t.Fatalf("ImportText: %v", err)
	}

	channels, _ := st.ListChannels()
	var espnID string
	for _, ch := range channels {
		if ch.EPGID == "espn.us" {
			espnID = ch.ID
		}
	}

	// the import itself schedules a refresh; drive one explicitly and poll
	// until the matched programmes land
	var progs []types.Program
	waitFor(t, "matched programmes", func() bool {
		if err := svc.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		var err error
		progs, err = st.ListPrograms(espnID)
		if err != nil {
			t.Fatalf("ListPrograms: %v", err)
		}
		return len(progs) == 1
	})
	if progs[0].Title != "SportsCenter" {
		t.Errorf("title = %q", progs[0].Title)
	}
	if progs[0].ChannelID != espnID {
		t.Errorf("program channel id = %q, want rewritten %q", progs[0].ChannelID, espnID)
	}
}

func TestRefreshFallsBackToSynthetic(t *testing.T) {
	// source serves guide data matching nothing in the channel list
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<tv><programme start="20260110080000 +0000" stop="20260110090000 +0000" channel="qqq.zz"><title>X</title></programme></tv>`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.EPGSources = []config.EPGSource{{ID: "t", Name: "Test Feed", URL: srv.URL}}

	svc, st := newTestService(t, cfg)
	if _, _, err := svc.ImportText(context.Background(), testPlaylist); err != nil {
		t.Fatalf("ImportText: %v", err)
	}

	// the guide is never empty: 24 synthetic blocks per channel
	var progs []types.Program
	waitFor(t, "synthetic programmes", func() bool {
		if err := svc.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		progs, _ = st.ListPrograms("")
		return len(progs) == 2*24
	})
	for _, p := range progs {
		if !strings.HasSuffix(p.Title, " Programming") {
			t.Errorf("synthetic title = %q", p.Title)
			break
		}
	}
}

func TestRefreshSupersededResultsDiscarded(t *testing.T) {
	const staleXML = `<tv><programme start="20260110080000 +0000" stop="20260110090000 +0000" channel="espn.us"><title>Stale Listing</title></programme></tv>`
	const freshXML = `<tv><programme start="20260110090000 +0000" stop="20260110100000 +0000" channel="espn.us"><title>Fresh Listing</title></programme></tv>`

	// the first request hangs until released so a second refresh can lap it
	release := make(chan struct{})
	firstArrived := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(firstArrived)
			<-release
			w.Write([]byte(staleXML))
			return
		}
		w.Write([]byte(freshXML))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.EPGSources = []config.EPGSource{{ID: "t", Name: "Test Feed", URL: srv.URL + "/guide.xml"}}

	svc, st := newTestService(t, cfg)
	if err := st.ReplaceAllChannels([]types.Channel{
		{ID: "ch1", Name: "ESPN", URL: "http://stream.example/espn.m3u8", EPGID: "espn.us", Mode: types.ModeAuto},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	slowDone := make(chan error, 1)
	go func() { slowDone <- svc.Refresh(context.Background()) }()
	<-firstArrived

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("superseded refresh: %v", err)
	}

	// the lapped refresh must not overwrite the newer programmes
	progs, err := st.ListPrograms("ch1")
	if err != nil {
		t.Fatalf("ListPrograms: %v", err)
	}
	if len(progs) != 1 || progs[0].Title != "Fresh Listing" {
		t.Errorf("programs = %+v, want only the fresh listing", progs)
	}
}

func TestRefreshUnreachableSourceFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EPGSources = []config.EPGSource{{ID: "t", Name: "Dead Feed", URL: "http://127.0.0.1:1/guide.xml"}}

	svc, st := newTestService(t, cfg)
	if _, _, err := svc.ImportText(context.Background(), testPlaylist); err != nil {
		t.Fatalf("ImportText: %v", err)
	}

	waitFor(t, "synthetic fallback", func() bool {
		if err := svc.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh must not fail on a dead source: %v", err)
		}
		progs, _ := st.ListPrograms("")
		return len(progs) == 2*24
	})
}

func TestDocumentCacheHit(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(testPlaylist))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, config.DefaultConfig())

	url := srv.URL + "/list.m3u"
	if _, err := svc.fetchDocument(context.Background(), url); err != nil {
		t.Fatalf("fetchDocument: %v", err)
	}
	if _, err := svc.fetchDocument(context.Background(), url); err != nil {
		t.Fatalf("fetchDocument cached: %v", err)
	}
	if hits != 1 {
		t.Errorf("upstream fetched %d times, want 1 (second call cached)", hits)
	}
}
