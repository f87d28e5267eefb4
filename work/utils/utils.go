package utils

import (
	"fmt"
	"net/url"

	"livetv-hub/work/config"
)

// LogURL returns either the original URL or an obfuscated form for logging,
// depending on configuration. Stream URLs frequently embed credentials.
func LogURL(cfg *config.Config, raw string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(raw)
	}
	return raw
}

// ObfuscateURL keeps the scheme and host of a URL and masks everything else.
func ObfuscateURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	return result
}

// FormatBytes renders a byte count in human readable units.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
