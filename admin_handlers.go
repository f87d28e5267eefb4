package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"livetv-hub/work/config"
	"livetv-hub/work/logger"
	"livetv-hub/work/types"
	"livetv-hub/work/utils"
)

// StatsResponse carries the operational snapshot served by the admin stats
// endpoint: channel and guide totals, playback state, and process health.
type StatsResponse struct {
	TotalChannels    int    `json:"totalChannels"`
	FavoriteChannels int    `json:"favoriteChannels"`
	UnstableChannels int    `json:"unstableChannels"`
	TotalPrograms    int    `json:"totalPrograms"`
	EPGSources       int    `json:"epgSources"`
	PlaybackState    string `json:"playbackState"`
	PlaybackChannel  string `json:"playbackChannel,omitempty"`
	Uptime           string `json:"uptime"`
	MemoryUsage      string `json:"memoryUsage"`
	WorkerThreads    int    `json:"workerThreads"`
	GatewayMode      string `json:"gatewayMode"`
}

var (
	// startTime anchors the uptime report
	startTime = time.Now()

	// restartChan provides a signaling mechanism for graceful application restart
	restartChan = make(chan bool, 1)
)

// setupAdminRoutes registers the administrative endpoints: stats, raw config
// read/write and graceful restart.
func setupAdminRoutes(router *mux.Router, app *application) {
	router.HandleFunc("/api/admin/stats", handleStats(app)).Methods("GET")
	router.HandleFunc("/api/admin/config", handleGetConfig(app)).Methods("GET")
	router.HandleFunc("/api/admin/config", handleSetConfig(app)).Methods("PUT")
	router.HandleFunc("/api/admin/restart", handleRestart()).Methods("POST")
}

func handleStats(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := app.store.ListChannels()
		if err != nil {
			http.Error(w, fmt.Sprintf("list channels: %v", err), http.StatusInternalServerError)
			return
		}
		programs, err := app.store.ListPrograms("")
		if err != nil {
			http.Error(w, fmt.Sprintf("list programs: %v", err), http.StatusInternalServerError)
			return
		}

		favorites, unstable := 0, 0
		for i := range channels {
			if channels[i].IsFavorite {
				favorites++
			}
			if channels[i].IsUnstable {
				unstable++
			}
		}

		stats := StatsResponse{
			TotalChannels:    len(channels),
			FavoriteChannels: favorites,
			UnstableChannels: unstable,
			TotalPrograms:    len(programs),
			EPGSources:       len(app.cfg.EPGSources),
			PlaybackState:    string(types.StateIdle),
			Uptime:           time.Since(startTime).Round(time.Second).String(),
			MemoryUsage:      memoryUsage(),
			WorkerThreads:    app.cfg.WorkerThreads,
			GatewayMode:      app.gateway.Config().Mode,
		}
		if status, ok := app.manager.Status(); ok {
			stats.PlaybackState = string(status.State)
			stats.PlaybackChannel = status.ChannelName
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleGetConfig(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(app.cfg)
	}
}

// handleSetConfig validates and writes the raw config file, then requests a
// graceful restart so every component picks the new settings up.
func handleSetConfig(app *application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var incoming config.ConfigFile
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			http.Error(w, fmt.Sprintf("invalid config: %v", err), http.StatusBadRequest)
			return
		}

		raw, err := json.MarshalIndent(incoming, "", "  ")
		if err != nil {
			http.Error(w, fmt.Sprintf("encode config: %v", err), http.StatusInternalServerError)
			return
		}
		if err := os.WriteFile(config.DefaultConfigPath, raw, 0644); err != nil {
			http.Error(w, fmt.Sprintf("write config: %v", err), http.StatusInternalServerError)
			return
		}

		logger.Info("{main/admin - handleSetConfig} configuration saved, requesting restart")
		select {
		case restartChan <- true:
		default:
			// restart already pending
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleRestart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case restartChan <- true:
		default:
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func memoryUsage() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return utils.FormatBytes(int64(m.Alloc))
}
