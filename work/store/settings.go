package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"livetv-hub/work/config"
)

const gatewaySettingKey = "gateway"

// GetSetting reads one settings value; ok is false when the key is unset.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes one settings value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}

	s.notifyLocal("settings")
	return nil
}

// GetGateway returns the persisted gateway configuration, falling back to the
// config-file defaults when nothing has been saved yet.
func (s *Store) GetGateway(fallback config.Gateway) (config.Gateway, error) {
	raw, ok, err := s.GetSetting(gatewaySettingKey)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}

	var gw config.Gateway
	if err := json.Unmarshal([]byte(raw), &gw); err != nil {
		return fallback, fmt.Errorf("parse gateway setting: %w", err)
	}
	return gw, nil
}

// SetGateway persists the gateway configuration across sessions.
func (s *Store) SetGateway(gw config.Gateway) error {
	raw, err := json.Marshal(gw)
	if err != nil {
		return fmt.Errorf("encode gateway setting: %w", err)
	}
	return s.SetSetting(gatewaySettingKey, string(raw))
}
