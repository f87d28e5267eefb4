package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livetv-hub/work/cache"
	"livetv-hub/work/client"
	"livetv-hub/work/config"
	"livetv-hub/work/gateway"
	"livetv-hub/work/guide"
	"livetv-hub/work/handlers"
	"livetv-hub/work/logger"
	"livetv-hub/work/middleware"
	"livetv-hub/work/resilience"
	"livetv-hub/work/store"
	"livetv-hub/work/types"
	"livetv-hub/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// application bundles the wired services for route setup and restart.
type application struct {
	cfg     *config.Config
	store   *store.Store
	guide   *guide.Service
	manager *resilience.Manager
	gateway *gateway.Gateway
	client  *client.HeaderSettingClient
}

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	logger.SetLogLevel(cfg.LogLevel)
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// open the channel/guide store
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// initialize document cache
	docCache := cache.New(cfg.CacheMaxBytes, cfg.CacheDuration)

	// initialize HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// gateway config: stored settings win over the config file
	gwCfg, err := st.GetGateway(cfg.Gateway)
	if err != nil {
		logger.Warn("{main - main} stored gateway config unreadable, using file defaults: %v", err)
		gwCfg = cfg.Gateway
	}
	gw := gateway.New(gwCfg)

	// guide service: ingestion + EPG refresh pipeline
	guideSvc := guide.New(cfg, httpClient, docCache, st, workerPool)

	// playback session manager; working escalations persist onto the channel
	manager := resilience.NewManager(cfg, httpClient, gw, resilience.PermissiveAutoplay{},
		func(channelID string, mode types.ConnectionMode) {
			if err := st.SetChannelMode(channelID, mode); err != nil {
				logger.Warn("{main - main} persist connection mode for %s: %v", channelID, err)
			}
		})

	app := &application{
		cfg:     cfg,
		store:   st,
		guide:   guideSvc,
		manager: manager,
		gateway: gw,
		client:  httpClient,
	}

	// start the periodic guide refresh
	guideCtx, guideCancel := context.WithCancel(context.Background())
	defer guideCancel()
	guideSvc.Start(guideCtx)

	// setup HTTP routes
	router := mux.NewRouter()

	// playlist import/export and single-channel add
	router.HandleFunc("/api/playlist/import", handlers.HandleImportPlaylist(guideSvc)).Methods("POST")
	router.Handle("/playlist", middleware.Gzip(handlers.HandleExportPlaylist(st))).Methods("GET")
	router.HandleFunc("/api/channels", handlers.HandleAddChannel(guideSvc)).Methods("POST")
	router.Handle("/api/channels", middleware.Gzip(handlers.HandleListChannels(st))).Methods("GET")

	// channel management
	router.HandleFunc("/api/channels/{id}", handlers.HandleUpdateChannel(st)).Methods("PATCH")
	router.HandleFunc("/api/channels/{id}", handlers.HandleDeleteChannel(st)).Methods("DELETE")
	router.HandleFunc("/api/channels/{id}/favorite", handlers.HandleChannelFlag(st, "favorite")).Methods("POST")
	router.HandleFunc("/api/channels/{id}/unstable", handlers.HandleChannelFlag(st, "unstable")).Methods("POST")
	router.HandleFunc("/api/channels/{id}/mode", handlers.HandleChannelMode(st)).Methods("POST")

	// backup and restore
	router.HandleFunc("/api/backup", handlers.HandleBackup(st)).Methods("GET")
	router.HandleFunc("/api/backup/restore", handlers.HandleRestore(st, guideSvc)).Methods("POST")

	// guide
	router.HandleFunc("/api/guide/refresh", handlers.HandleGuideRefresh(guideSvc)).Methods("POST")
	router.Handle("/api/guide", middleware.Gzip(handlers.HandleGuide(st))).Methods("GET")

	// playback control; fixed paths register before the {id} catch-all
	router.HandleFunc("/api/playback/retry", handlers.HandleRetryPlayback(manager)).Methods("POST")
	router.HandleFunc("/api/playback/quality", handlers.HandleQuality(manager)).Methods("POST")
	router.HandleFunc("/api/playback/status", handlers.HandlePlaybackStatus(manager)).Methods("GET")
	router.HandleFunc("/api/playback/{id}", handlers.HandleStartPlayback(manager, st)).Methods("POST")
	router.HandleFunc("/api/playback", handlers.HandleStopPlayback(manager)).Methods("DELETE")

	// gateway-rewritten manifest proxy
	router.HandleFunc("/stream/{id}/playlist.m3u8", handlers.HandleStreamManifest(st, gw, httpClient, cfg)).Methods("GET")

	// gateway config
	router.HandleFunc("/api/gateway", handlers.HandleGetGateway(st, cfg)).Methods("GET")
	router.HandleFunc("/api/gateway", handlers.HandleSetGateway(st, gw)).Methods("PUT")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, app)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting LiveTV Hub %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Port: %d", cfg.ListenPort)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - EPG Sources: %d", len(cfg.EPGSources))
	logger.Info("  - Guide Refresh: %s", cfg.GuideRefreshInterval)
	logger.Info("  - Cache Budget: %s", utils.FormatBytes(cfg.CacheMaxBytes))
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Gateway Mode: %s", gwCfg.Mode)
	logger.Info("  - Escalation Policy: %s", cfg.Playback.EscalationPolicy)
	logger.Info("  - Proxy Ladder Rungs: %d", len(gateway.Ladder(cfg.Playback, gwCfg)))
	logger.Info("  - Sort: %s %s", cfg.SortField, cfg.SortDirection)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// gracefully restart if it's requested to do.
	go func() {

		// start a loop
		for {
			<-restartChan

			if cfg.Debug {
				logger.Debug("{main - main} graceful restart requested...")
			}

			// stop the active playback session and the refresh loop
			manager.Stop()
			guideCancel()

			// reload config from file
			config.ClearConfigCache()
			newConfig := config.LoadConfig()
			*cfg = *newConfig
			logger.SetLogLevel(cfg.LogLevel)

			// drop cached documents so new sources fetch fresh
			docCache.Clear()

			// restart the guide refresh loop
			var newCtx context.Context
			newCtx, guideCancel = context.WithCancel(context.Background())
			guideSvc.Start(newCtx)

			if cfg.Debug {
				logger.Debug("{main - main} graceful restart completed - %d EPG sources", len(cfg.EPGSources))
			}
		}

	}()

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
