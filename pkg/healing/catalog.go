package healing

import (
	"context"
	"sort"
	"strings"

	"github.com/entrhq/mend/pkg/locator"
	"github.com/entrhq/mend/pkg/snapshot"
)

// catalogRoles are the roles admitted to the interactive element catalog.
// Wider than the scorer's interactive set: by the time this tier runs the
// cheap matchers have failed, so the net is cast over everything clickable.
var catalogRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"textbox":  true,
	"combobox": true,
	"checkbox": true,
	"radio":    true,
	"menuitem": true,
	"tab":      true,
	"option":   true,
	"switch":   true,
}

const (
	// minCatalogScore is the fuzzy score below which entries are not tried
	minCatalogScore = 0.3

	// catalogConfidenceCap bounds catalog candidate confidence; fuzzy
	// matches are guesses and must never outrank scored candidates in the
	// recorded history
	catalogConfidenceCap = 0.6
)

// catalogStrategy fuzzy-matches the target description against a catalog of
// the page's interactive elements, using keyword overlap and edit distance
// rather than the scorer's literal matchers.
type catalogStrategy struct {
	o *Orchestrator
}

func (s *catalogStrategy) Tier() Tier {
	return TierCatalogFuzzyMatch
}

func (s *catalogStrategy) Available(*Session) bool {
	return true
}

func (s *catalogStrategy) Recover(ctx context.Context, h *Session) (bool, error) {
	idx := h.Refresh(ctx)
	entries := buildCatalog(idx, h.step().Target)

	tried := 0
	for _, entry := range entries {
		if tried >= s.o.budget.MaxCatalogMatches {
			break
		}
		if entry.locator == h.FailedLocator() {
			continue
		}
		if tried > 0 {
			if err := sleepCtx(ctx, s.o.budget.RetryDelay); err != nil {
				return false, err
			}
		}
		tried++

		cand := &locator.Candidate{
			ElementID:  entry.node.ID,
			Strategy:   entry.kind,
			Locator:    entry.locator,
			Confidence: entry.score * catalogConfidenceCap,
			Rationale:  []string{"catalog fuzzy match"},
		}
		healed, err := h.TryLocator(ctx, TierCatalogFuzzyMatch, cand)
		if healed || err != nil {
			return healed, err
		}
	}
	return false, nil
}

// catalogEntry is one interactive element ranked against the description.
type catalogEntry struct {
	node    *snapshot.Node
	kind    locator.Kind
	locator string
	score   float64
}

// buildCatalog collects the index's interactive elements, scores each
// against the description, and returns those above the floor in descending
// score order. Ties break on element ID for determinism.
func buildCatalog(idx *snapshot.Index, description string) []catalogEntry {
	query := snapshot.Normalize(description)
	keywords := strings.Fields(query)
	if len(keywords) == 0 || idx == nil {
		return nil
	}

	var entries []catalogEntry
	for _, id := range idx.All() {
		node := idx.Get(id)
		if node == nil || !catalogRoles[snapshot.Normalize(node.Role)] {
			continue
		}
		label := nodeLabel(node)
		if label == "" {
			continue
		}
		score := fuzzyScore(query, keywords, label)
		if score < minCatalogScore {
			continue
		}
		kind, loc := locator.For(node)
		entries = append(entries, catalogEntry{node: node, kind: kind, locator: loc, score: score})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].node.ID < entries[j].node.ID
	})
	return entries
}

// nodeLabel picks the text an element presents to users, in signal order.
func nodeLabel(node *snapshot.Node) string {
	switch {
	case node.Text != "":
		return snapshot.Normalize(node.Text)
	case node.AriaLabel != "":
		return snapshot.Normalize(node.AriaLabel)
	case node.Placeholder != "":
		return snapshot.Normalize(node.Placeholder)
	default:
		return ""
	}
}

// fuzzyScore blends keyword overlap with whole-string similarity. Overlap
// dominates: a label containing most of the description's words is a better
// bet than one a few edits away from it.
func fuzzyScore(query string, keywords []string, label string) float64 {
	hits := 0
	for _, keyword := range keywords {
		if strings.Contains(label, keyword) {
			hits++
		}
	}
	overlap := float64(hits) / float64(len(keywords))
	return 0.6*overlap + 0.4*similarity(query, label)
}

// similarity maps edit distance onto [0, 1], 1 meaning identical.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(a, b))/float64(longest)
}

// editDistance computes the Levenshtein distance between two strings using
// the two-row dynamic programming form.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
