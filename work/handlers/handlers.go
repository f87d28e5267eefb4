// Package handlers exposes the HTTP API: channel and playlist management,
// guide access, backup/restore, playback control and the gateway-rewritten
// manifest proxy.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"livetv-hub/work/client"
	"livetv-hub/work/config"
	"livetv-hub/work/gateway"
	"livetv-hub/work/guide"
	"livetv-hub/work/logger"
	"livetv-hub/work/playlist"
	"livetv-hub/work/resilience"
	"livetv-hub/work/store"
	"livetv-hub/work/types"
	"livetv-hub/work/utils"
)

const maxBodyBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// HandleImportPlaylist accepts either raw M3U text or a JSON body with a
// playlist URL to fetch.
func HandleImportPlaylist(svc *guide.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: %v", err)
			return
		}

		var added, total int
		trimmed := strings.TrimSpace(string(body))
		if strings.HasPrefix(trimmed, "{") {
			var req struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(body, &req); err != nil || req.URL == "" {
				writeError(w, http.StatusBadRequest, "expected {\"url\": ...} or raw playlist text")
				return
			}
			added, total, err = svc.ImportFromURL(r.Context(), req.URL)
		} else {
			added, total, err = svc.ImportText(r.Context(), trimmed)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "import failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"added": added, "total": total})
	}
}

// HandleAddChannel adds a single stream URL as a channel.
func HandleAddChannel(svc *guide.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: %v", err)
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}

		ch, err := svc.AddChannel(r.Context(), req.Name, req.URL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, ch)
	}
}

// HandleListChannels returns the full channel list in stored order.
func HandleListChannels(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := st.ListChannels()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list channels: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, channels)
	}
}

// HandleUpdateChannel applies a partial edit to a channel's structural
// fields, marking each changed field so later imports leave it alone.
func HandleUpdateChannel(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ch, err := st.GetChannel(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load channel: %v", err)
			return
		}
		if ch == nil {
			writeError(w, http.StatusNotFound, "channel %s not found", id)
			return
		}

		var req struct {
			Name  *string `json:"name"`
			Group *string `json:"group"`
			Logo  *string `json:"logo"`
			EPGID *string `json:"epgId"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: %v", err)
			return
		}

		if req.Name != nil {
			if strings.TrimSpace(*req.Name) == "" {
				writeError(w, http.StatusBadRequest, "name cannot be empty")
				return
			}
			ch.Name = *req.Name
			ch.MarkEdited(types.FieldName)
		}
		if req.Group != nil {
			ch.Group = *req.Group
			ch.MarkEdited(types.FieldGroup)
		}
		if req.Logo != nil {
			ch.Logo = *req.Logo
			ch.MarkEdited(types.FieldLogo)
		}
		if req.EPGID != nil {
			ch.EPGID = *req.EPGID
			ch.MarkEdited(types.FieldEPGID)
		}

		if err := st.UpdateChannel(ch); err != nil {
			writeError(w, http.StatusInternalServerError, "update channel: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	}
}

// HandleChannelFlag toggles the favorite or unstable flag named in the route.
func HandleChannelFlag(st *store.Store, flag string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req struct {
			Value bool `json:"value"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: %v", err)
			return
		}
		if err := st.SetChannelFlag(id, flag, req.Value); err != nil {
			writeError(w, http.StatusInternalServerError, "set %s: %v", flag, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{flag: req.Value})
	}
}

// HandleChannelMode pins a connection mode on a channel (or returns it to
// auto). This is the user override the strategy write-back never fights.
func HandleChannelMode(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: %v", err)
			return
		}
		mode, err := types.ParseConnectionMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		if err := st.SetChannelMode(id, mode); err != nil {
			writeError(w, http.StatusInternalServerError, "set mode: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
	}
}

// HandleDeleteChannel removes a channel and, via cascade, its programmes.
func HandleDeleteChannel(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := st.DeleteChannel(id); err != nil {
			writeError(w, http.StatusInternalServerError, "delete channel: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleExportPlaylist serves the channel set as an M3U document.
func HandleExportPlaylist(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := st.ListChannels()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list channels: %v", err)
			return
		}
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		w.Header().Set("Content-Disposition", `attachment; filename="channels.m3u"`)
		io.WriteString(w, playlist.BuildM3U(channels))
	}
}

// HandleBackup serves a portable JSON backup, or its base64 clipboard form
// when ?clipboard=1.
func HandleBackup(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := st.ListChannels()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list channels: %v", err)
			return
		}
		backup, err := playlist.BuildBackup(channels, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "build backup: %v", err)
			return
		}
		if r.URL.Query().Get("clipboard") == "1" {
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, playlist.EncodeClipboard(backup))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(backup)
	}
}

// HandleRestore replaces the channel set from a JSON or base64 backup.
func HandleRestore(st *store.Store, svc *guide.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: %v", err)
			return
		}

		channels, err := playlist.ParseBackup(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "restore failed: %v", err)
			return
		}
		if err := st.ReplaceAllChannels(channels); err != nil {
			writeError(w, http.StatusInternalServerError, "restore failed: %v", err)
			return
		}

		// restored channels need guide rows
		go func() { _ = svc.Refresh(context.Background()) }()
		writeJSON(w, http.StatusOK, map[string]int{"restored": len(channels)})
	}
}

// HandleGuideRefresh triggers an asynchronous guide refresh.
func HandleGuideRefresh(svc *guide.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if err := svc.Refresh(context.Background()); err != nil {
				logger.Warn("{handlers/handlers - HandleGuideRefresh} refresh: %v", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	}
}

// HandleGuide returns programmes. With ?channel= it scopes to one channel;
// with ?now=1 it returns the currently airing programme per channel.
func HandleGuide(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("now") == "1" {
			current, err := st.CurrentPrograms(time.Now())
			if err != nil {
				writeError(w, http.StatusInternalServerError, "current programs: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, current)
			return
		}

		programs, err := st.ListPrograms(r.URL.Query().Get("channel"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list programs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, programs)
	}
}

// HandleStartPlayback starts a playback session for a channel, tearing down
// any previous session first.
func HandleStartPlayback(mgr *resilience.Manager, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ch, err := st.GetChannel(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load channel: %v", err)
			return
		}
		if ch == nil {
			writeError(w, http.StatusNotFound, "channel %s not found", id)
			return
		}
		writeJSON(w, http.StatusOK, mgr.Play(*ch))
	}
}

// HandleStopPlayback tears down the active session.
func HandleStopPlayback(mgr *resilience.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mgr.Stop()
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRetryPlayback rebuilds the active session with fresh counters.
func HandleRetryPlayback(mgr *resilience.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := mgr.Retry()
		if err != nil {
			writeError(w, http.StatusConflict, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// HandleQuality selects a rendition on the active session; height 0 is auto.
func HandleQuality(mgr *resilience.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Height int `json:"height"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: %v", err)
			return
		}
		if req.Height < 0 {
			writeError(w, http.StatusBadRequest, "height must be 0 (auto) or positive")
			return
		}
		if err := mgr.SetQuality(req.Height); err != nil {
			writeError(w, http.StatusConflict, "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandlePlaybackStatus reports the active session snapshot.
func HandlePlaybackStatus(mgr *resilience.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, ok := mgr.Status()
		if !ok {
			writeJSON(w, http.StatusOK, map[string]string{"state": string(types.StateIdle)})
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// HandleStreamManifest proxies a channel's manifest with every URI rewritten
// through the channel's active gateway strategy, so clients only ever see
// same-origin URLs.
func HandleStreamManifest(st *store.Store, gw *gateway.Gateway, hsc *client.HeaderSettingClient,
	cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		ch, err := st.GetChannel(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load channel: %v", err)
			return
		}
		if ch == nil {
			writeError(w, http.StatusNotFound, "channel %s not found", id)
			return
		}

		ladder := gateway.Ladder(cfg.Playback, gw.Config())
		strategy := ladder[gateway.StartIndex(ladder, ch.Mode)]

		ctx, cancel := context.WithTimeout(r.Context(), cfg.Playback.StreamTimeout)
		defer cancel()

		resp, err := hsc.Get(ctx, gw.WrapURL(ch.URL, strategy))
		if err != nil {
			writeError(w, http.StatusBadGateway, "fetch manifest: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			io.Copy(io.Discard, resp.Body)
			writeError(w, http.StatusBadGateway, "upstream status %d for %s",
				resp.StatusCode, utils.LogURL(cfg, ch.URL))
			return
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadGateway, "read manifest: %v", err)
			return
		}

		// Relative URIs resolve against the origin stream URL; for a proxy
		// rung the request URL is the wrapped form and must not be the base.
		base := resp.Request.URL
		if strategy.Mode != types.ModeDirect {
			base, err = url.Parse(ch.URL)
			if err != nil {
				writeError(w, http.StatusBadGateway, "channel url: %v", err)
				return
			}
		}

		rewritten := gateway.RewriteManifest(string(body), base, func(u string) string {
			return gw.WrapURL(u, strategy)
		})

		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, rewritten)
	}
}

// HandleGetGateway returns the effective gateway configuration.
func HandleGetGateway(st *store.Store, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw, err := st.GetGateway(cfg.Gateway)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load gateway: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, gw)
	}
}

// HandleSetGateway persists gateway configuration to the store and applies
// it to the live gateway.
func HandleSetGateway(st *store.Store, gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var gwCfg config.Gateway
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&gwCfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: %v", err)
			return
		}
		if gwCfg.Mode != config.GatewayDirect && gwCfg.Mode != config.GatewayEdgeOptimized {
			writeError(w, http.StatusBadRequest, "mode must be %q or %q",
				config.GatewayDirect, config.GatewayEdgeOptimized)
			return
		}
		if err := st.SetGateway(gwCfg); err != nil {
			writeError(w, http.StatusInternalServerError, "save gateway: %v", err)
			return
		}
		gw.Update(gwCfg)
		writeJSON(w, http.StatusOK, gwCfg)
	}
}
