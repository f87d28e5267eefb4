package types

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionMode selects how a channel's stream is fetched. "auto" lets the
// resilience controller pick; the remaining modes pin a specific strategy
// discovered earlier (or chosen manually by the user).
type ConnectionMode string

const (
	ModeAuto         ConnectionMode = "auto"
	ModeDirect       ConnectionMode = "direct"
	ModeProxy        ConnectionMode = "proxy"
	ModeSpoofedProxy ConnectionMode = "spoofed-proxy"
)

// ParseConnectionMode maps a string to a ConnectionMode. Unknown values
// return an error alongside the auto fallback, so callers that trust their
// input can ignore it.
func ParseConnectionMode(s string) (ConnectionMode, error) {
	switch ConnectionMode(s) {
	case ModeAuto, ModeDirect, ModeProxy, ModeSpoofedProxy:
		return ConnectionMode(s), nil
	default:
		return ModeAuto, fmt.Errorf("unknown connection mode %q", s)
	}
}

// Editable structural fields a user may override on a channel. The merge
// engine preserves edited fields across playlist re-imports and refreshes the
// rest from the fresh import.
const (
	FieldName  = "name"
	FieldGroup = "group"
	FieldLogo  = "logo"
	FieldEPGID = "epgId"
)

// Channel is a user's saved live-stream source. Its ID is a pure function of
// the original stream URL so repeated imports of the same URL always collapse
// to one record.
type Channel struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	OriginalURL string         `json:"originalUrl"`       // canonical source URL, never rewritten
	Logo        string         `json:"logo"`
	Group       string         `json:"group"`
	EPGID       string         `json:"epgId"`             // free text, may not match any EPG source
	IsFavorite  bool           `json:"isFavorite"`
	IsUnstable  bool           `json:"isUnstable"`        // known playback problems, user- or system-set
	Mode        ConnectionMode `json:"mode"`
	Edited      []string       `json:"edited,omitempty"`  // structural fields the user has touched
}

// Touched reports whether the user has edited the given structural field.
func (c *Channel) Touched(field string) bool {
	for _, f := range c.Edited {
		if f == field {
			return true
		}
	}
	return false
}

// MarkEdited records a user edit of a structural field, once.
func (c *Channel) MarkEdited(field string) {
	if !c.Touched(field) {
		c.Edited = append(c.Edited, field)
	}
}

// EditedCSV serializes the edited-field set for storage.
func (c *Channel) EditedCSV() string {
	return strings.Join(c.Edited, ",")
}

// SetEditedCSV restores the edited-field set from storage.
func (c *Channel) SetEditedCSV(csv string) {
	c.Edited = nil
	for _, f := range strings.Split(csv, ",") {
		if f != "" {
			c.Edited = append(c.Edited, f)
		}
	}
}

// Candidate is a parsed playlist entry before identity assignment. The
// playlist parser emits candidates; the merge engine turns them into channels.
type Candidate struct {
	Name  string
	URL   string
	Logo  string
	Group string
	EPGID string
}

// Program is one EPG listing entry, keyed to an application channel (not to
// the raw XMLTV source id). Programs are replaced wholesale on every refresh.
type Program struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
}

// Current reports whether the program is airing at the given instant,
// using the half-open interval start <= now < stop.
func (p *Program) Current(now time.Time) bool {
	return !now.Before(p.Start) && now.Before(p.Stop)
}

// MockSourceID is the sentinel EPG source id for the synthetically generated
// guide used when no real EPG data could be matched.
const MockSourceID = "mock"

// BufferHealth classifies how much playable data is buffered ahead of the
// playhead relative to the configured target.
type BufferHealth string

const (
	BufferGood    BufferHealth = "good"
	BufferWarning BufferHealth = "warning"
	BufferPoor    BufferHealth = "poor"
)

// PlayerState enumerates the resilience controller's states. Error sub-states
// carry their classification in the state itself rather than in side flags so
// impossible combinations cannot be represented.
type PlayerState string

const (
	StateIdle         PlayerState = "idle"
	StateConnecting   PlayerState = "connecting"
	StatePlaying      PlayerState = "playing"
	StateNetworkError PlayerState = "network-error"
	StateMediaError   PlayerState = "media-error"
	StateCodecError   PlayerState = "codec-error"
	StateForbidden    PlayerState = "forbidden"
	StateCORSBlocked  PlayerState = "cors-blocked"
	StateMixedContent PlayerState = "mixed-content-blocked"
	StateFailed       PlayerState = "failed"
)

// Terminal reports whether the state admits no automatic recovery. Forbidden
// and cors-blocked are terminal but user-actionable (enable proxy mode, try a
// different source); mixed-content and codec errors cannot succeed at all.
func (s PlayerState) Terminal() bool {
	switch s {
	case StateCodecError, StateForbidden, StateCORSBlocked, StateMixedContent, StateFailed:
		return true
	}
	return false
}

// Rendition is one discrete quality level exposed by an HLS master playlist.
type Rendition struct {
	URI       string `json:"uri"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bandwidth uint32 `json:"bandwidth"`
	Name      string `json:"name"`
}
