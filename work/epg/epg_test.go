package epg

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestParseXMLTVTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"20231225120000 +0000", time.Date(2023, 12, 25, 12, 0, 0, 0, time.UTC)},
		{"20231225120000 +0200", time.Date(2023, 12, 25, 10, 0, 0, 0, time.UTC)},
		{"20231225120000 -0500", time.Date(2023, 12, 25, 17, 0, 0, 0, time.UTC)},
		// no offset means UTC
		{"20231225120000", time.Date(2023, 12, 25, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseXMLTVTime(tt.raw)
		if err != nil {
			t.Errorf("ParseXMLTVTime(%q): %v", tt.raw, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseXMLTVTime(%q) = %v, want %v", tt.raw, got, tt.want)
		}
		if got.Location() != time.UTC {
			t.Errorf("ParseXMLTVTime(%q) not normalized to UTC", tt.raw)
		}
	}
}

func TestParseXMLTVTimeRejectsJunk(t *testing.T) {
	for _, raw := range []string{"", "yesterday", "2023-12-25 12:00:00", "20231225120000 +0000 extra"} {
		if _, err := ParseXMLTVTime(raw); err == nil {
			t.Errorf("ParseXMLTVTime(%q) succeeded, want error", raw)
		}
	}
}

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="espn.us">
    <display-name>ESPN</display-name>
  </channel>
  <programme start="20231225120000 +0000" stop="20231225130000 +0000" channel="espn.us">
    <title>SportsCenter</title>
    <desc>Morning edition.</desc>
  </programme>
  <programme start="20231225130000 +0000" stop="20231225150000 +0000" channel="espn.us">
    <title>College Football</title>
  </programme>
  <programme start="not-a-date" stop="20231225160000 +0000" channel="espn.us">
    <title>Broken Start</title>
  </programme>
  <programme start="20231225170000 +0000" stop="20231225160000 +0000" channel="espn.us">
    <title>Inverted Interval</title>
  </programme>
  <programme start="20231225120000 +0000" stop="20231225130000 +0000" channel="">
    <title>No Channel</title>
  </programme>
</tv>`

func TestParseXMLTV(t *testing.T) {
	got, err := ParseXMLTV(sampleXMLTV)
	if err != nil {
		t.Fatalf("ParseXMLTV: %v", err)
	}

	progs := got["espn.us"]
	if len(progs) != 2 {
		t.Fatalf("parsed %d programmes for espn.us, want 2 (malformed skipped)", len(progs))
	}

	first := progs[0]
	if first.Title != "SportsCenter" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Description != "Morning edition." {
		t.Errorf("description = %q", first.Description)
	}
	want := time.Date(2023, 12, 25, 12, 0, 0, 0, time.UTC)
	if !first.Start.Equal(want) {
		t.Errorf("start = %v, want %v", first.Start, want)
	}
	if !first.Stop.Equal(want.Add(time.Hour)) {
		t.Errorf("stop = %v", first.Stop)
	}
	// programs are keyed by the source's own channel id until matching
	if first.ChannelID != "espn.us" {
		t.Errorf("channel id = %q", first.ChannelID)
	}
}

func TestParseXMLTVBadDocument(t *testing.T) {
	if _, err := ParseXMLTV("<tv><programme"); err == nil {
		t.Fatal("broken XML accepted")
	}
}

func TestDecodeBodyPlain(t *testing.T) {
	got, err := DecodeBody([]byte(sampleXMLTV))
	if err != nil {
		t.Fatalf("DecodeBody(plain): %v", err)
	}
	if got != sampleXMLTV {
		t.Error("plain text body was altered")
	}
}

func TestDecodeBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(sampleXMLTV)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeBody(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBody(gzip): %v", err)
	}
	if got != sampleXMLTV {
		t.Error("gzip round trip mismatch")
	}
}

func TestDecodeBodyTruncatedGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(strings.Repeat(sampleXMLTV, 10)))
	gz.Close()

	truncated := buf.Bytes()[:buf.Len()/2]
	if _, err := DecodeBody(truncated); err == nil {
		t.Fatal("truncated gzip stream accepted")
	}
}

func TestDecodeBodyEmpty(t *testing.T) {
	if _, err := DecodeBody(nil); err == nil {
		t.Fatal("empty body accepted")
	}
}
