package match

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"livetv-hub/work/logger"
	"livetv-hub/work/types"
)

// Threshold is the minimum fuzzy similarity score accepted when matching a
// channel to an EPG source key. Downstream fallback-to-synthetic behavior is
// calibrated against this value; change it only together with the metric.
const Threshold = 0.6

// syntheticHours is the half-window of generated guide data on each side of
// the current time.
const syntheticHours = 12

// Normalize lowercases a string and strips every non-alphanumeric rune,
// so "ESPN HD" and "espn-hd" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity scores two already-normalized strings: 1.0 for equality, 0.8
// when one contains the other, otherwise the count of positionally agreeing
// characters (over the shorter string) divided by the longer string's length.
//
// The positional metric is deliberately simple and is kept as the contract;
// it is not an edit distance.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	agree := 0
	for i := 0; i < len(shorter); i++ {
		if shorter[i] == longer[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(longer))
}

// Programs flattens the EPG parser's source-id keyed program map onto the
// application channel set.
//
// Per channel, in order of preference: an exact match of the channel's
// configured EPG id against a source key, then the best fuzzy score of the
// channel's display name and EPG id against every source key (accepted only
// above Threshold), else nothing. Source keys are walked in sorted order so
// ties break deterministically on the first-enumerated key.
func Programs(channels []types.Channel, source map[string][]types.Program) []types.Program {
	if len(channels) == 0 || len(source) == 0 {
		return nil
	}

	keys := make([]string, 0, len(source))
	for k := range source {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matched []types.Program
	for i := range channels {
		ch := &channels[i]

		key, score := bestKey(ch, keys, source)
		if key == "" {
			logger.Debug("{match - Programs} no EPG match for channel %q (best score %.2f)", ch.Name, score)
			continue
		}

		for _, p := range source[key] {
			p.ChannelID = ch.ID
			p.ID = fmt.Sprintf("%s-%d", ch.ID, p.Start.Unix())
			matched = append(matched, p)
		}
	}

	return matched
}

func bestKey(ch *types.Channel, keys []string, source map[string][]types.Program) (string, float64) {
	// exact verbatim match on the configured EPG id short-circuits
	if ch.EPGID != "" {
		if _, ok := source[ch.EPGID]; ok {
			return ch.EPGID, 1.0
		}
	}

	normName := Normalize(ch.Name)
	normEPGID := Normalize(ch.EPGID)

	best := ""
	bestScore := 0.0
	for _, key := range keys {
		normKey := Normalize(key)
		score := Similarity(normName, normKey)
		if s := Similarity(normEPGID, normKey); s > score {
			score = s
		}
		if score > bestScore {
			best, bestScore = key, score
		}
	}

	if bestScore > Threshold {
		return best, bestScore
	}
	return "", bestScore
}

// Synthetic generates the placeholder guide used when no real EPG data could
// be matched: per channel, 24 non-overlapping one-hour blocks spanning twelve
// hours back and twelve forward from now, titled after the channel.
func Synthetic(channels []types.Channel, now time.Time) []types.Program {
	base := now.UTC().Truncate(time.Hour).Add(-syntheticHours * time.Hour)

	programs := make([]types.Program, 0, len(channels)*2*syntheticHours)
	for i := range channels {
		ch := &channels[i]
		for h := 0; h < 2*syntheticHours; h++ {
			start := base.Add(time.Duration(h) * time.Hour)
			programs = append(programs, types.Program{
				ID:          fmt.Sprintf("%s-%s-%d", types.MockSourceID, ch.ID, start.Unix()),
				ChannelID:   ch.ID,
				Start:       start,
				Stop:        start.Add(time.Hour),
				Title:       fmt.Sprintf("%s Programming", ch.Name),
				Description: fmt.Sprintf("Live programming on %s", ch.Name),
			})
		}
	}
	return programs
}
