package healing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/mend/pkg/snapshot"
)

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"submit", "submlt", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, editDistance(tc.a, tc.b), "editDistance(%q, %q)", tc.a, tc.b)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("save", "save"))
	assert.Equal(t, 1.0, similarity("", ""))
	assert.Equal(t, 0.0, similarity("abcd", "wxyz"))
	assert.InDelta(t, 0.5, similarity("ab", "aa"), 0.01)
}

func TestFuzzyScore_OverlapDominates(t *testing.T) {
	keywords := []string{"place", "order"}

	full := fuzzyScore("place order", keywords, "place your order now")
	partial := fuzzyScore("place order", keywords, "order history")
	none := fuzzyScore("place order", keywords, "contact us")

	assert.Greater(t, full, partial)
	assert.Greater(t, partial, none)
}

func TestBuildCatalog_RanksAndFilters(t *testing.T) {
	idx := snapshot.Parse(json.RawMessage(`{"role":"WebArea","children":[
		{"role":"button","name":"Place your order"},
		{"role":"link","name":"Order history"},
		{"role":"button","name":"Contact support"},
		{"role":"heading","name":"Place your order"},
		{"role":"button"}
	]}`))

	entries := buildCatalog(idx, "place order")

	// The heading is not interactive and the bare button has no label;
	// "contact support" scores under the floor
	require.Len(t, entries, 2)
	assert.Equal(t, "place your order", nodeLabel(entries[0].node))
	assert.Equal(t, "order history", nodeLabel(entries[1].node))
	assert.Greater(t, entries[0].score, entries[1].score)
}

func TestBuildCatalog_Deterministic(t *testing.T) {
	raw := json.RawMessage(`{"role":"WebArea","children":[
		{"role":"button","name":"Save draft"},
		{"role":"button","name":"Save file"}
	]}`)

	first := buildCatalog(snapshot.Parse(raw), "save")
	for i := 0; i < 10; i++ {
		again := buildCatalog(snapshot.Parse(raw), "save")
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].locator, again[j].locator)
		}
	}
}

func TestBuildCatalog_EmptyInputs(t *testing.T) {
	idx := snapshot.Parse(json.RawMessage(`{"role":"WebArea","children":[{"role":"button","name":"Go"}]}`))

	assert.Nil(t, buildCatalog(idx, ""))
	assert.Nil(t, buildCatalog(idx, "   "))
	assert.Nil(t, buildCatalog(nil, "go"))
	assert.Empty(t, buildCatalog(snapshot.Parse(nil), "go"))
}
