package identity

import (
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"livetv-hub/work/logger"
	"livetv-hub/work/types"
)

// idLen is the number of digest bytes kept for a channel identifier. 12 bytes
// keeps ids short while leaving collisions vanishingly unlikely for a personal
// list of a few thousand entries.
const idLen = 12

// Identify computes the stable channel identifier for a stream URL. It is a
// pure function of the URL: the same URL always maps to the same id, so
// repeated imports collapse without a server round trip.
func Identify(url string) string {
	sum := blake2b.Sum256([]byte(url))
	return hex.EncodeToString(sum[:idLen])
}

// Merge folds freshly imported candidates into an existing channel list.
//
// The merge is asymmetric: for a candidate whose id already exists, the
// existing record's user-set state (favorite, unstable, connection-mode,
// user-edited structural fields) is preserved and only unedited structural
// fields are refreshed from the import. Unknown ids append at the end in
// import order. Existing entries keep their order; nothing is ever removed.
// Duplicate URLs inside one incoming batch collapse last-wins.
func Merge(existing []types.Channel, incoming []types.Candidate) []types.Channel {
	if len(incoming) == 0 {
		return existing
	}

	// collapse in-batch duplicates, last occurrence wins for structural fields
	order := make([]string, 0, len(incoming))
	byID := make(map[string]types.Candidate, len(incoming))
	for _, cand := range incoming {
		id := Identify(cand.URL)
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = cand
	}

	index := make(map[string]int, len(existing))
	merged := make([]types.Channel, len(existing))
	copy(merged, existing)
	for i := range merged {
		index[merged[i].ID] = i
	}

	added, refreshed := 0, 0
	for _, id := range order {
		cand := byID[id]
		if i, ok := index[id]; ok {
			refresh(&merged[i], cand)
			refreshed++
			continue
		}
		merged = append(merged, types.Channel{
			ID:          id,
			Name:        cand.Name,
			URL:         cand.URL,
			OriginalURL: cand.URL,
			Logo:        cand.Logo,
			Group:       cand.Group,
			EPGID:       cand.EPGID,
			Mode:        types.ModeAuto,
		})
		added++
	}

	logger.Debug("{identity - Merge} merged %d candidates: %d new, %d refreshed, %d existing kept",
		len(order), added, refreshed, len(existing))

	return merged
}

// refresh updates the structural fields of an existing channel from a fresh
// import, skipping any field the user has edited. User flags and connection
// mode are never touched here.
func refresh(ch *types.Channel, cand types.Candidate) {
	ch.URL = cand.URL
	ch.OriginalURL = cand.URL
	if !ch.Touched(types.FieldName) && cand.Name != "" {
		ch.Name = cand.Name
	}
	if !ch.Touched(types.FieldGroup) {
		ch.Group = cand.Group
	}
	if !ch.Touched(types.FieldLogo) {
		ch.Logo = cand.Logo
	}
	if !ch.Touched(types.FieldEPGID) {
		ch.EPGID = cand.EPGID
	}
}

// ApplySort stably sorts channels by the configured field and direction.
// An empty field keeps import order.
func ApplySort(channels []types.Channel, field, direction string) {
	if field == "" {
		return
	}

	key := func(ch *types.Channel) string {
		switch field {
		case "group":
			return strings.ToLower(ch.Group)
		default:
			return strings.ToLower(ch.Name)
		}
	}

	sort.SliceStable(channels, func(i, j int) bool {
		if direction == "desc" {
			return key(&channels[i]) > key(&channels[j])
		}
		return key(&channels[i]) < key(&channels[j])
	})
}
