package playlist

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/grafana/regexp"

	"livetv-hub/work/logger"
	"livetv-hub/work/metrics"
	"livetv-hub/work/types"
)

// Attribute extractors for EXTINF metadata. Attributes may appear in any
// order; quoted values carry no nested quotes.
var (
	reTvgID   = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup   = regexp.MustCompile(`group-title="([^"]*)"`)
)

// Parse scans M3U/M3U8 playlist text and returns the ordered candidate
// channels it contains. Malformed entries are skipped, never fatal: a playlist
// with N well-formed entries always yields exactly N candidates regardless of
// interspersed garbage.
//
// An #EXTINF line carries attributes plus a trailing display name after the
// last comma outside quotes; the next non-comment, non-blank line is that
// entry's stream URL. A bare URL-looking line with no pending #EXTINF becomes
// an anonymous channel with a generated placeholder name.
func Parse(text string) []types.Candidate {
	var candidates []types.Candidate
	var pending *types.Candidate
	skipped := 0
	anonymous := 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			if pending != nil {
				// previous EXTINF never got a URL
				skipped++
			}
			c := parseEXTINF(line)
			pending = &c

		case strings.HasPrefix(line, "#"):
			// other directives (#EXTM3U, #EXTVLCOPT, ...) pass through
			continue

		case urlLooking(line):
			if pending != nil {
				pending.URL = line
				candidates = append(candidates, *pending)
				pending = nil
			} else {
				anonymous++
				candidates = append(candidates, types.Candidate{
					Name: fmt.Sprintf("Channel %d", len(candidates)+1),
					URL:  line,
				})
			}

		default:
			// non-URL junk; a pending EXTINF pointing at it is malformed
			if pending != nil {
				pending = nil
			}
			skipped++
		}
	}

	if pending != nil {
		skipped++
	}
	if skipped > 0 || anonymous > 0 {
		metrics.ParseSkips.WithLabelValues("playlist_entry").Add(float64(skipped))
		logger.Debug("{playlist - Parse} parsed %d entries (%d anonymous, %d malformed skipped)",
			len(candidates), anonymous, skipped)
	}

	return candidates
}

// parseEXTINF extracts the attributes and display name from one #EXTINF line.
// The display name follows the last comma that sits outside quoted values;
// missing attributes default to the empty string.
func parseEXTINF(line string) types.Candidate {
	body := strings.TrimPrefix(line, "#EXTINF:")

	lastComma := -1
	inQuotes := false
	for i := len(body) - 1; i >= 0; i-- {
		switch body[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				lastComma = i
			}
		}
		if lastComma != -1 {
			break
		}
	}

	attrPart := body
	name := ""
	if lastComma != -1 {
		attrPart = body[:lastComma]
		name = strings.TrimSpace(body[lastComma+1:])
	}

	return types.Candidate{
		Name:  name,
		Logo:  matchFirst(reTvgLogo, attrPart),
		Group: matchFirst(reGroup, attrPart),
		EPGID: matchFirst(reTvgID, attrPart),
	}
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func urlLooking(line string) bool {
	return strings.Contains(line, "://") && !strings.ContainsAny(line, " \t")
}
