package identity

import (
	"fmt"
	"testing"

	"livetv-hub/work/types"
)

func TestIdentifyStable(t *testing.T) {
	a := Identify("http://stream.example/espn.m3u8")
	b := Identify("http://stream.example/espn.m3u8")
	if a != b {
		t.Fatalf("same URL produced different ids: %q vs %q", a, b)
	}
	if len(a) != idLen*2 {
		t.Errorf("id length = %d, want %d hex chars", len(a), idLen*2)
	}
	if a == Identify("http://stream.example/espn.m3u8 ") {
		t.Error("trailing space should change the id")
	}
}

func TestIdentifyUnique(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 10000; i++ {
		url := fmt.Sprintf("http://stream.example/ch/%d/index.m3u8", i)
		id := Identify(url)
		if prev, dup := seen[id]; dup {
			t.Fatalf("collision: %q and %q both map to %s", prev, url, id)
		}
		seen[id] = url
	}
}

func TestMergeAppendsNew(t *testing.T) {
	existing := []types.Channel{
		{ID: Identify("http://a/1"), Name: "One", URL: "http://a/1"},
	}
	incoming := []types.Candidate{
		{Name: "One Updated", URL: "http://a/1"},
		{Name: "Two", URL: "http://a/2", Group: "News"},
	}

	merged := Merge(existing, incoming)
	if len(merged) != 2 {
		t.Fatalf("merged %d channels, want 2", len(merged))
	}
	if merged[0].ID != existing[0].ID {
		t.Error("existing channel lost its position")
	}
	if merged[1].Name != "Two" || merged[1].Group != "News" {
		t.Errorf("appended channel = %+v", merged[1])
	}
	if merged[1].Mode != types.ModeAuto {
		t.Errorf("new channel mode = %q, want auto", merged[1].Mode)
	}
	if merged[1].OriginalURL != "http://a/2" {
		t.Errorf("original url = %q", merged[1].OriginalURL)
	}
}

func TestMergeIdempotent(t *testing.T) {
	incoming := []types.Candidate{
		{Name: "One", URL: "http://a/1"},
		{Name: "Two", URL: "http://a/2"},
	}

	once := Merge(nil, incoming)
	twice := Merge(once, incoming)

	if len(twice) != len(once) {
		t.Fatalf("re-import grew the list: %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Errorf("order changed at %d: %s -> %s", i, once[i].ID, twice[i].ID)
		}
	}
}

func TestMergePreservesUserState(t *testing.T) {
	id := Identify("http://a/1")
	existing := []types.Channel{{
		ID:         id,
		Name:       "My Custom Name",
		URL:        "http://a/1",
		Group:      "Old Group",
		IsFavorite: true,
		IsUnstable: true,
		Mode:       types.ModeProxy,
		Edited:     []string{types.FieldName},
	}}
	incoming := []types.Candidate{
		{Name: "Provider Name", URL: "http://a/1", Group: "New Group"},
	}

	merged := Merge(existing, incoming)
	got := merged[0]

	if !got.IsFavorite || !got.IsUnstable {
		t.Error("user flags lost on re-import")
	}
	if got.Mode != types.ModeProxy {
		t.Errorf("mode = %q, want proxy", got.Mode)
	}
	// name was user-edited and must survive; group was not and must refresh
	if got.Name != "My Custom Name" {
		t.Errorf("edited name overwritten: %q", got.Name)
	}
	if got.Group != "New Group" {
		t.Errorf("group = %q, want refreshed %q", got.Group, "New Group")
	}
}

func TestMergeEmptyCandidateNameKept(t *testing.T) {
	id := Identify("http://a/1")
	existing := []types.Channel{{ID: id, Name: "Existing", URL: "http://a/1"}}
	incoming := []types.Candidate{{Name: "", URL: "http://a/1"}}

	merged := Merge(existing, incoming)
	if merged[0].Name != "Existing" {
		t.Errorf("empty import name clobbered existing: %q", merged[0].Name)
	}
}

func TestMergeInBatchDuplicatesLastWins(t *testing.T) {
	incoming := []types.Candidate{
		{Name: "First", URL: "http://a/1", Group: "G1"},
		{Name: "Last", URL: "http://a/1", Group: "G2"},
	}

	merged := Merge(nil, incoming)
	if len(merged) != 1 {
		t.Fatalf("merged %d channels, want 1", len(merged))
	}
	if merged[0].Name != "Last" || merged[0].Group != "G2" {
		t.Errorf("duplicate resolution = %+v, want last occurrence", merged[0])
	}
}

func TestMergeNeverRemoves(t *testing.T) {
	existing := []types.Channel{
		{ID: Identify("http://a/1"), Name: "Keep Me", URL: "http://a/1"},
	}
	// incoming playlist no longer carries the channel
	merged := Merge(existing, []types.Candidate{{Name: "Other", URL: "http://a/2"}})

	if len(merged) != 2 {
		t.Fatalf("merged %d channels, want 2", len(merged))
	}
	if merged[0].Name != "Keep Me" {
		t.Error("channel missing from import was removed")
	}
}

func TestApplySort(t *testing.T) {
	channels := []types.Channel{
		{Name: "zebra", Group: "B"},
		{Name: "Alpha", Group: "A"},
		{Name: "mid", Group: "A"},
	}

	ApplySort(channels, "name", "asc")
	if channels[0].Name != "Alpha" || channels[2].Name != "zebra" {
		t.Errorf("name asc order = %v", names(channels))
	}

	ApplySort(channels, "name", "desc")
	if channels[0].Name != "zebra" {
		t.Errorf("name desc order = %v", names(channels))
	}

	// empty field keeps current order
	before := names(channels)
	ApplySort(channels, "", "asc")
	if fmt.Sprint(before) != fmt.Sprint(names(channels)) {
		t.Error("empty sort field changed order")
	}
}

func names(channels []types.Channel) []string {
	out := make([]string, len(channels))
	for i := range channels {
		out[i] = channels[i].Name
	}
	return out
}
