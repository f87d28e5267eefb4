package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"livetv-hub/work/types"
)

func TestMixedContent(t *testing.T) {
	tests := []struct {
		secure bool
		url    string
		want   bool
	}{
		{true, "http://stream.example/live.m3u8", true},
		{true, "HTTP://stream.example/live.m3u8", true},
		{true, "https://stream.example/live.m3u8", false},
		{false, "http://stream.example/live.m3u8", false},
		{false, "https://stream.example/live.m3u8", false},
	}
	for _, tt := range tests {
		if got := MixedContent(tt.secure, tt.url); got != tt.want {
			t.Errorf("MixedContent(%v, %q) = %v, want %v", tt.secure, tt.url, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ClassNone},
		{206, ClassNone},
		{401, ClassForbidden},
		{403, ClassForbidden},
		{404, ClassNetwork},
		{500, ClassNetwork},
		{503, ClassNetwork},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "connection refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"cors sentinel", ErrCORSBlocked, ClassCORSBlocked},
		{"wrapped cors", fmt.Errorf("fetch: %w", ErrCORSBlocked), ClassCORSBlocked},
		{"codec sentinel", ErrIncompatibleCodec, ClassCodec},
		{"empty manifest", ErrEmptyManifest, ClassMedia},
		{"deadline", context.DeadlineExceeded, ClassNetwork},
		{"status 403", &StatusError{Code: 403}, ClassForbidden},
		{"wrapped status 500", fmt.Errorf("fetch: %w", &StatusError{Code: 500}), ClassNetwork},
		{"net error", fakeNetErr{}, ClassNetwork},
		{"unknown", errors.New("something odd"), ClassNetwork},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("%s: ClassifyError = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestErrorClassState(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  types.PlayerState
	}{
		{ClassNetwork, types.StateNetworkError},
		{ClassMedia, types.StateMediaError},
		{ClassCodec, types.StateCodecError},
		{ClassForbidden, types.StateForbidden},
		{ClassCORSBlocked, types.StateCORSBlocked},
		{ClassMixedContent, types.StateMixedContent},
	}
	for _, tt := range tests {
		if got := tt.class.State(); got != tt.want {
			t.Errorf("%v.State() = %v, want %v", tt.class, got, tt.want)
		}
	}

	// recoverable classes map to transient states, the rest to terminal ones
	for _, c := range []ErrorClass{ClassNetwork, ClassMedia} {
		if c.State().Terminal() {
			t.Errorf("%v state should not be terminal", c)
		}
	}
	for _, c := range []ErrorClass{ClassCodec, ClassForbidden, ClassCORSBlocked, ClassMixedContent} {
		if !c.State().Terminal() {
			t.Errorf("%v state should be terminal", c)
		}
	}
}

func TestGuidanceCoversFailureClasses(t *testing.T) {
	for _, c := range []ErrorClass{ClassNetwork, ClassMedia, ClassCodec, ClassForbidden, ClassCORSBlocked, ClassMixedContent} {
		msg, suggestion := Guidance(c)
		if msg == "" || suggestion == "" {
			t.Errorf("Guidance(%v) incomplete: %q / %q", c, msg, suggestion)
		}
	}
}

func TestClassifyBuffer(t *testing.T) {
	target := 15 * time.Second
	tests := []struct {
		ahead time.Duration
		want  types.BufferHealth
	}{
		{20 * time.Second, types.BufferGood},
		{15 * time.Second, types.BufferGood},
		{10 * time.Second, types.BufferWarning},
		{7500 * time.Millisecond, types.BufferWarning},
		{5 * time.Second, types.BufferPoor},
		{0, types.BufferPoor},
	}
	for _, tt := range tests {
		if got := ClassifyBuffer(tt.ahead, target); got != tt.want {
			t.Errorf("ClassifyBuffer(%v) = %v, want %v", tt.ahead, got, tt.want)
		}
	}
}
