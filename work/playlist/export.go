package playlist

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"livetv-hub/work/types"
)

// BackupVersion identifies the JSON backup format emitted by BuildBackup.
const BackupVersion = 1

// Backup is the portable JSON export of a channel list.
type Backup struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exportedAt"`
	Channels   []BackupChannel `json:"channels"`
}

// BackupChannel carries the user-meaningful subset of a channel record.
// Connection mode is deliberately omitted: it is machine-discovered state that
// should be re-learned on the importing side.
type BackupChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	OriginalURL string `json:"originalUrl"`
	Logo        string `json:"logo"`
	Group       string `json:"group"`
	EPGID       string `json:"epgId"`
	IsFavorite  bool   `json:"isFavorite"`
	IsUnstable  bool   `json:"isUnstable"`
}

// BuildM3U renders channels back to an M3U8 playlist carrying name, logo,
// group and the canonical (original) URL only.
func BuildM3U(channels []types.Channel) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	for _, ch := range channels {
		b.WriteString("#EXTINF:-1")
		if ch.EPGID != "" {
			fmt.Fprintf(&b, " tvg-id=%q", ch.EPGID)
		}
		if ch.Logo != "" {
			fmt.Fprintf(&b, " tvg-logo=%q", ch.Logo)
		}
		if ch.Group != "" {
			fmt.Fprintf(&b, " group-title=%q", ch.Group)
		}
		fmt.Fprintf(&b, ",%s\n", ch.Name)

		url := ch.OriginalURL
		if url == "" {
			url = ch.URL
		}
		b.WriteString(url)
		b.WriteByte('\n')
	}

	return b.String()
}

// BuildBackup produces the JSON backup document for the given channels.
func BuildBackup(channels []types.Channel, now time.Time) ([]byte, error) {
	backup := Backup{
		Version:    BackupVersion,
		ExportedAt: now.UTC(),
		Channels:   make([]BackupChannel, 0, len(channels)),
	}
	for _, ch := range channels {
		backup.Channels = append(backup.Channels, BackupChannel{
			ID:          ch.ID,
			Name:        ch.Name,
			URL:         ch.URL,
			OriginalURL: ch.OriginalURL,
			Logo:        ch.Logo,
			Group:       ch.Group,
			EPGID:       ch.EPGID,
			IsFavorite:  ch.IsFavorite,
			IsUnstable:  ch.IsUnstable,
		})
	}
	return json.Marshal(backup)
}

// ParseBackup decodes a backup document, accepting either raw JSON or the
// base64 clipboard form.
func ParseBackup(data []byte) ([]types.Channel, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty backup")
	}
	if !strings.HasPrefix(trimmed, "{") {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("backup is neither JSON nor base64: %w", err)
		}
		trimmed = string(decoded)
	}

	var backup Backup
	if err := json.Unmarshal([]byte(trimmed), &backup); err != nil {
		return nil, fmt.Errorf("parse backup: %w", err)
	}
	if backup.Version != BackupVersion {
		return nil, fmt.Errorf("unsupported backup version %d", backup.Version)
	}

	channels := make([]types.Channel, 0, len(backup.Channels))
	for _, bc := range backup.Channels {
		channels = append(channels, types.Channel{
			ID:          bc.ID,
			Name:        bc.Name,
			URL:         bc.URL,
			OriginalURL: bc.OriginalURL,
			Logo:        bc.Logo,
			Group:       bc.Group,
			EPGID:       bc.EPGID,
			IsFavorite:  bc.IsFavorite,
			IsUnstable:  bc.IsUnstable,
			Mode:        types.ModeAuto,
		})
	}
	return channels, nil
}

// EncodeClipboard wraps a backup document in base64 for clipboard sharing.
func EncodeClipboard(backup []byte) string {
	return base64.StdEncoding.EncodeToString(backup)
}
