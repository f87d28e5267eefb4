package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"livetv-hub/work/types"
)

// ErrorClass is the classified cause of a playback failure. Classification
// decides the recovery path: network errors walk the retry/escalation ladder,
// media errors get an in-place recovery call, everything else is terminal.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassNetwork
	ClassMedia
	ClassCodec
	ClassForbidden
	ClassCORSBlocked
	ClassMixedContent
)

// String returns the class name used in logs and metrics labels.
func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassMedia:
		return "media"
	case ClassCodec:
		return "codec"
	case ClassForbidden:
		return "forbidden"
	case ClassCORSBlocked:
		return "cors"
	case ClassMixedContent:
		return "mixed-content"
	default:
		return "none"
	}
}

// State maps an error class onto the session state it puts the player in.
func (c ErrorClass) State() types.PlayerState {
	switch c {
	case ClassNetwork:
		return types.StateNetworkError
	case ClassMedia:
		return types.StateMediaError
	case ClassCodec:
		return types.StateCodecError
	case ClassForbidden:
		return types.StateForbidden
	case ClassCORSBlocked:
		return types.StateCORSBlocked
	case ClassMixedContent:
		return types.StateMixedContent
	default:
		return types.StatePlaying
	}
}

// Sentinel errors raised by the transport layer for conditions that do not
// map onto an HTTP status code.
var (
	ErrCORSBlocked       = errors.New("stream blocked by cross-origin policy")
	ErrIncompatibleCodec = errors.New("stream codec not supported by this runtime")
	ErrEmptyManifest     = errors.New("manifest contained no playable entries")
)

// MixedContent reports the one combination that can never succeed regardless
// of proxying: a secure app origin asked to load a plain-http stream. The
// controller classifies it before any connection attempt and skips the whole
// retry ladder.
func MixedContent(secureOrigin bool, streamURL string) bool {
	return secureOrigin && strings.HasPrefix(strings.ToLower(streamURL), "http://")
}

// ClassifyStatus maps an HTTP response status onto an error class.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusForbidden:
		return ClassForbidden
	case status == http.StatusUnauthorized:
		return ClassForbidden
	case status >= 400:
		return ClassNetwork
	default:
		return ClassNone
	}
}

// ClassifyError maps a transport error onto an error class.
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrCORSBlocked):
		return ClassCORSBlocked
	case errors.Is(err, ErrIncompatibleCodec):
		return ClassCodec
	case errors.Is(err, ErrEmptyManifest):
		return ClassMedia
	case errors.Is(err, context.DeadlineExceeded):
		return ClassNetwork
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ClassifyStatus(statusErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassNetwork
	}
	return ClassNetwork
}

// Guidance returns the user-facing message and suggested next action for a
// failure class. Terminal-but-actionable classes point at the proxy toggle or
// a different source instead of promising a retry that cannot help.
func Guidance(c ErrorClass) (message, suggestion string) {
	switch c {
	case ClassNetwork:
		return "The stream connection was lost.",
			"Check your connection, then retry. Persistent failures may mean the source is down."
	case ClassMedia:
		return "The stream data could not be decoded.",
			"Playback will attempt to recover automatically."
	case ClassCodec:
		return "This stream uses a codec your device cannot play.",
			"Try a different source for this channel, or a browser/device with hardware decoding support."
	case ClassForbidden:
		return "The stream provider refused the connection (403).",
			"Enable proxy mode for this channel or try a different source."
	case ClassCORSBlocked:
		return "The stream is blocked by the provider's cross-origin policy.",
			"Enable proxy mode for this channel or try a different source."
	case ClassMixedContent:
		return "This insecure (http://) stream cannot be loaded from a secure page.",
			"Use an https:// source for this channel; no proxy can work around this."
	default:
		return "", ""
	}
}
