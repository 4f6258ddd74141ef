package scraper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrapeResultMarshalOnlyEnabledKeys(t *testing.T) {
	t.Parallel()

	result := ScrapeResult{
		Text:     &ExtractedText{Title: "t", Headings: map[string][]string{"h1": {"a"}}, Paragraphs: []string{}, Links: []LinkEntry{}},
		Images:   []ImageEntry{},
		Metadata: &ExtractedMetadata{},
	}
	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	require.Contains(t, decoded, "text")
	require.Contains(t, decoded, "images")
	require.Contains(t, decoded, "metadata")
	require.NotContains(t, decoded, "videos")
	require.JSONEq(t, `[]`, string(decoded["images"]))
	require.JSONEq(t, `{"title":"","description":"","keywords":"","author":"","viewport":""}`, string(decoded["metadata"]))
}

func TestScrapeResultRoundTripKeepsPresence(t *testing.T) {
	t.Parallel()

	in := ScrapeResult{Videos: []VideoEntry{{URL: "https://x.test/v.mp4", Type: VideoTypeVideo, Filename: "f", Path: "videos/f"}}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out ScrapeResult
	require.NoError(t, json.Unmarshal(data, &out))
	require.Nil(t, out.Images)
	require.Equal(t, in.Videos, out.Videos)
	require.Equal(t, map[Category]int{CategoryVideos: 1}, out.Counts())
}

func TestScrapeResultCloneIsDeep(t *testing.T) {
	t.Parallel()

	in := ScrapeResult{
		Text:   &ExtractedText{Headings: map[string][]string{"h1": {"a"}}},
		Tables: []TableEntry{{Rows: [][]string{{"1"}}}},
	}
	out := in.Clone()
	out.Text.Headings["h1"][0] = "changed"
	out.Tables[0].Rows[0][0] = "changed"

	require.Equal(t, "a", in.Text.Headings["h1"][0])
	require.Equal(t, "1", in.Tables[0].Rows[0][0])
}
