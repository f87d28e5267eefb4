package epg

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"livetv-hub/work/logger"
	"livetv-hub/work/metrics"
	"livetv-hub/work/types"
)

// XMLTV timestamps are a fixed fourteen-digit block optionally followed by a
// UTC-offset token. A missing offset means UTC.
const (
	timeLayoutOffset = "20060102150405 -0700"
	timeLayoutPlain  = "20060102150405"
)

type xmltvDoc struct {
	XMLName    xml.Name         `xml:"tv"`
	Channels   []xmltvChannel   `xml:"channel"`
	Programmes []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
}

type xmltvProgramme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   string `xml:"title"`
	Desc    string `xml:"desc"`
}

// ParseXMLTV decodes an XMLTV document into a map from the document's own
// channel-identifier strings to that channel's program list. Programs keep the
// source channel id in ChannelID until the matcher rewrites them to
// application channel ids.
//
// Individual <programme> elements with missing or unparseable start/stop
// timestamps are skipped; only a document that fails to decode at all is an
// error.
func ParseXMLTV(text string) (map[string][]types.Program, error) {
	var doc xmltvDoc
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode xmltv: %w", err)
	}

	programs := make(map[string][]types.Program)
	skipped := 0

	for _, p := range doc.Programmes {
		if p.Channel == "" || p.Start == "" || p.Stop == "" {
			skipped++
			continue
		}
		start, err := ParseXMLTVTime(p.Start)
		if err != nil {
			skipped++
			continue
		}
		stop, err := ParseXMLTVTime(p.Stop)
		if err != nil {
			skipped++
			continue
		}
		if !start.Before(stop) {
			skipped++
			continue
		}

		programs[p.Channel] = append(programs[p.Channel], types.Program{
			ID:          fmt.Sprintf("%s-%d", p.Channel, start.Unix()),
			ChannelID:   p.Channel,
			Start:       start,
			Stop:        stop,
			Title:       strings.TrimSpace(p.Title),
			Description: strings.TrimSpace(p.Desc),
		})
	}

	if skipped > 0 {
		metrics.ParseSkips.WithLabelValues("programme").Add(float64(skipped))
		logger.Debug("{epg - ParseXMLTV} skipped %d programmes with bad timestamps", skipped)
	}

	return programs, nil
}

// ParseXMLTVTime parses one XMLTV timestamp to a normalized UTC instant.
func ParseXMLTVTime(raw string) (time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	switch len(fields) {
	case 1:
		t, err := time.Parse(timeLayoutPlain, fields[0])
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	case 2:
		t, err := time.Parse(timeLayoutOffset, fields[0]+" "+fields[1])
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("malformed xmltv timestamp %q", raw)
	}
}

// DecodeBody turns a fetched XMLTV response body into document text. Feeds
// are commonly gzip-compressed with no reliable content negotiation, so the
// payload is probed: if it decompresses as gzip, the decompressed text is
// used, otherwise the bytes are treated as plain text.
func DecodeBody(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty epg document")
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err == nil {
		plain, rerr := io.ReadAll(gz)
		gz.Close()
		if rerr == nil {
			logger.Debug("{epg - DecodeBody} gzip payload decompressed %d -> %d bytes", len(data), len(plain))
			return string(plain), nil
		}
		// truncated gzip stream; the raw bytes are not usable XML either
		return "", fmt.Errorf("decompress epg document: %w", rerr)
	}

	return string(data), nil
}
