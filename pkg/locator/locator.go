// Package locator ranks ways of finding a page element from a natural
// language description of it.
//
// Given a parsed snapshot index, the Scorer generates locator candidates from
// several independent matchers (exact text, partial text, aria-label,
// placeholder), assigns each a confidence score, and returns them in a
// deterministic order. Candidates are immutable once produced; they are only
// compared and sorted, never mutated.
package locator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/entrhq/mend/pkg/snapshot"
)

// Kind identifies the strategy a candidate uses to resolve its element.
type Kind string

const (
	// KindRole locates by accessibility role plus accessible name
	KindRole Kind = "role"

	// KindText locates by visible text content
	KindText Kind = "text"

	// KindAriaLabel locates by the aria-label attribute
	KindAriaLabel Kind = "ariaLabel"

	// KindPlaceholder locates by the placeholder attribute
	KindPlaceholder Kind = "placeholder"

	// KindXPathFallback locates by tree position; last resort only
	KindXPathFallback Kind = "xpathFallback"
)

// Kinds lists every strategy kind in preference order.
func Kinds() []Kind {
	return []Kind{KindRole, KindText, KindAriaLabel, KindPlaceholder, KindXPathFallback}
}

// Candidate is one scored way of locating an element in the current snapshot.
type Candidate struct {
	// ElementID references the element in the snapshot index that produced
	// this candidate. It is only valid for that index's lifetime.
	ElementID string `json:"element_id"`

	// Strategy is the locator strategy kind
	Strategy Kind `json:"strategy"`

	// Locator is the resolvable locator string for the driver
	Locator string `json:"locator"`

	// Confidence estimates how likely the locator uniquely identifies the
	// intended element, in [0.0, 1.0]
	Confidence float64 `json:"confidence"`

	// Rationale lists the signals that contributed to the score
	Rationale []string `json:"rationale,omitempty"`

	// BelowThreshold marks candidates scoring under the configured
	// threshold. They are still returned; the caller decides whether to
	// accept them under relaxed policy.
	BelowThreshold bool `json:"below_threshold,omitempty"`
}

// Weighter supplies an advisory confidence multiplier per strategy kind,
// derived from historical outcomes. Implementations must return values in a
// bounded range around 1.0; the multiplier biases ordering between close
// candidates but can never invert an exact match below a distant fallback.
type Weighter interface {
	Weighting(kind Kind) float64
}

// Config holds the scoring parameters. Base scores and bonuses are
// deliberately configurable; the defaults carry no special derivation.
type Config struct {
	ExactTextBase   float64 `json:"exact_text_base"`
	PartialTextBase float64 `json:"partial_text_base"`
	AriaLabelBase   float64 `json:"aria_label_base"`
	PlaceholderBase float64 `json:"placeholder_base"`

	InteractiveRoleBonus float64 `json:"interactive_role_bonus"`
	AriaLabelBonus       float64 `json:"aria_label_bonus"`
	ShallowDepthBonus    float64 `json:"shallow_depth_bonus"`
	LeafBonus            float64 `json:"leaf_bonus"`

	// ShallowDepthLimit is the depth below which the shallow bonus applies
	ShallowDepthLimit int `json:"shallow_depth_limit"`

	// Threshold is the confidence under which candidates are flagged
	Threshold float64 `json:"threshold"`

	// InteractiveRoles are the roles granted the interactive bonus
	InteractiveRoles []string `json:"interactive_roles"`
}

// DefaultConfig returns the default scoring parameters.
func DefaultConfig() Config {
	return Config{
		ExactTextBase:        0.95,
		PartialTextBase:      0.75,
		AriaLabelBase:        0.85,
		PlaceholderBase:      0.80,
		InteractiveRoleBonus: 0.05,
		AriaLabelBonus:       0.03,
		ShallowDepthBonus:    0.02,
		LeafBonus:            0.02,
		ShallowDepthLimit:    5,
		Threshold:            0.70,
		InteractiveRoles:     []string{"button", "link", "textbox", "combobox"},
	}
}

// Fallback confidence caps for the alternates FindFallbacks generates.
const (
	sameRoleSiblingCap = 0.6
	parentChildCap     = 0.5
	xpathFallbackCap   = 0.4
)

// Scorer generates and ranks locator candidates.
type Scorer struct {
	cfg      Config
	weighter Weighter
	roles    map[string]bool
}

// NewScorer creates a scorer with the given configuration. The weighter is
// optional; pass nil to score without historical bias.
func NewScorer(cfg Config, weighter Weighter) *Scorer {
	roles := make(map[string]bool, len(cfg.InteractiveRoles))
	for _, role := range cfg.InteractiveRoles {
		roles[snapshot.Normalize(role)] = true
	}
	return &Scorer{cfg: cfg, weighter: weighter, roles: roles}
}

// FindBest returns the highest-ranked candidate for the description, or nil
// when no matcher produces any signal at all. A candidate under the
// configured threshold is returned flagged rather than suppressed.
//
// FindBest is deterministic: the same index and description always yield the
// same candidate.
func (s *Scorer) FindBest(description string, idx *snapshot.Index) *Candidate {
	candidates := s.score(description, idx)
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// FindAll returns every candidate for the description in rank order.
func (s *Scorer) FindAll(description string, idx *snapshot.Index) []Candidate {
	return s.score(description, idx)
}

// FindFallbacks generates lower-confidence alternates for a candidate:
// same-role siblings, then the parent's other children, then a positional
// xpath for the original element. At most limit candidates are returned,
// ranked by confidence.
func (s *Scorer) FindFallbacks(cand *Candidate, idx *snapshot.Index, limit int) []Candidate {
	if cand == nil || limit <= 0 {
		return nil
	}
	node := idx.Get(cand.ElementID)
	if node == nil {
		return nil
	}

	var fallbacks []Candidate
	seen := map[string]bool{node.ID: true}

	for _, siblingID := range idx.Siblings(node.ID) {
		sibling := idx.Get(siblingID)
		if sibling == nil || seen[siblingID] {
			continue
		}
		if snapshot.Normalize(sibling.Role) == snapshot.Normalize(node.Role) && sibling.Role != "" {
			seen[siblingID] = true
			fallbacks = append(fallbacks, s.fallbackFor(sibling, sameRoleSiblingCap, "same-role sibling"))
		}
	}

	if parent := idx.Get(node.ParentID); parent != nil {
		for _, childID := range parent.ChildIDs {
			child := idx.Get(childID)
			if child == nil || seen[childID] {
				continue
			}
			seen[childID] = true
			fallbacks = append(fallbacks, s.fallbackFor(child, parentChildCap, "parent's other child"))
		}
	}

	if xpath := positionalXPath(node, idx); xpath != "" {
		fallbacks = append(fallbacks, Candidate{
			ElementID:      node.ID,
			Strategy:       KindXPathFallback,
			Locator:        xpath,
			Confidence:     xpathFallbackCap,
			Rationale:      []string{"positional xpath for original element"},
			BelowThreshold: xpathFallbackCap < s.cfg.Threshold,
		})
	}

	sort.SliceStable(fallbacks, func(i, j int) bool {
		if fallbacks[i].Confidence != fallbacks[j].Confidence {
			return fallbacks[i].Confidence > fallbacks[j].Confidence
		}
		return fallbacks[i].ElementID < fallbacks[j].ElementID
	})

	if len(fallbacks) > limit {
		fallbacks = fallbacks[:limit]
	}
	return fallbacks
}

// fallbackFor builds a capped-confidence candidate for an alternate element.
func (s *Scorer) fallbackFor(node *snapshot.Node, ceiling float64, reason string) Candidate {
	kind, loc := locatorFor(node, false)
	return Candidate{
		ElementID:      node.ID,
		Strategy:       kind,
		Locator:        loc,
		Confidence:     ceiling,
		Rationale:      []string{reason},
		BelowThreshold: ceiling < s.cfg.Threshold,
	}
}

// match is one matcher hit on one element, prior to bonus application.
type match struct {
	node      *snapshot.Node
	kind      Kind
	base      float64
	rationale string
}

// score runs all matchers over the index and returns ranked candidates.
func (s *Scorer) score(description string, idx *snapshot.Index) []Candidate {
	query := snapshot.Normalize(description)
	if query == "" || idx == nil || idx.Count() == 0 {
		return nil
	}

	// A description like "search button" names both the text and the role.
	// Matchers try the full query and the role-stripped form.
	stripped, mentioned := s.stripRoleWords(query)

	matches := s.collectMatches(idx, query, stripped)
	if len(matches) == 0 {
		return nil
	}

	// Deduplicate: keep the strongest match per element
	best := make(map[string]match, len(matches))
	for _, m := range matches {
		if prev, ok := best[m.node.ID]; !ok || m.base > prev.base {
			best[m.node.ID] = m
		}
	}

	candidates := make([]Candidate, 0, len(best))
	depthCounts := make(map[int]int, len(best))
	for _, m := range best {
		depthCounts[m.node.Depth]++
	}
	for _, m := range best {
		candidates = append(candidates, s.build(m, mentioned))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		na, nb := idx.Get(a.ElementID), idx.Get(b.ElementID)
		if na.Depth != nb.Depth {
			return na.Depth < nb.Depth
		}
		// Prefer the depth with fewer competing candidates (more unique)
		if depthCounts[na.Depth] != depthCounts[nb.Depth] {
			return depthCounts[na.Depth] < depthCounts[nb.Depth]
		}
		return a.ElementID < b.ElementID
	})

	return candidates
}

// collectMatches runs the four matchers in document order.
func (s *Scorer) collectMatches(idx *snapshot.Index, query, stripped string) []match {
	var matches []match

	addAll := func(ids []string, kind Kind, base float64, rationale string) {
		for _, id := range ids {
			matches = append(matches, match{node: idx.Get(id), kind: kind, base: base, rationale: rationale})
		}
	}

	// Exact text, on the full query and the role-stripped form
	addAll(idx.MatchText(query), KindText, s.cfg.ExactTextBase, "exact text match")
	if stripped != query {
		addAll(idx.MatchText(stripped), KindText, s.cfg.ExactTextBase, "exact text match (role word stripped)")
	}

	// Partial text
	addAll(idx.SearchText(query), KindText, s.cfg.PartialTextBase, "partial text match")
	if stripped != query {
		addAll(idx.SearchText(stripped), KindText, s.cfg.PartialTextBase, "partial text match (role word stripped)")
	}

	// Aria-label and placeholder are always partial matches
	addAll(idx.SearchLabel(stripped), KindAriaLabel, s.cfg.AriaLabelBase, "aria-label match")
	addAll(idx.SearchPlaceholder(stripped), KindPlaceholder, s.cfg.PlaceholderBase, "placeholder match")

	return matches
}

// build turns a matcher hit into a candidate: weighting applied to the base,
// bounded bonuses added, total clamped to 1.0.
func (s *Scorer) build(m match, roleMentioned bool) Candidate {
	confidence := m.base
	rationale := []string{m.rationale}

	if s.weighter != nil {
		if w := s.weighter.Weighting(m.kind); w > 0 && w != 1.0 {
			confidence *= w
			rationale = append(rationale, fmt.Sprintf("historical weighting %.2f", w))
		}
	}

	role := snapshot.Normalize(m.node.Role)
	if s.roles[role] {
		confidence += s.cfg.InteractiveRoleBonus
		rationale = append(rationale, "interactive role")
	}
	if m.node.AriaLabel != "" {
		confidence += s.cfg.AriaLabelBonus
		rationale = append(rationale, "aria-label present")
	}
	if m.node.Depth < s.cfg.ShallowDepthLimit {
		confidence += s.cfg.ShallowDepthBonus
		rationale = append(rationale, "shallow depth")
	}
	if m.node.IsLeaf() {
		confidence += s.cfg.LeafBonus
		rationale = append(rationale, "leaf node")
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0 {
		confidence = 0
	}

	kind := m.kind
	var loc string
	switch {
	case kind == KindText && roleMentioned && role != "":
		// A text match on an element whose role the description names
		// resolves more precisely as a role locator.
		kind = KindRole
		loc = roleLocator(m.node)
		rationale = append(rationale, "role named in description")
	case kind == KindText:
		loc = textLocator(m.node)
	case kind == KindAriaLabel:
		loc = fmt.Sprintf("[aria-label=%q]", m.node.AriaLabel)
	case kind == KindPlaceholder:
		loc = fmt.Sprintf("[placeholder=%q]", m.node.Placeholder)
	default:
		kind, loc = locatorFor(m.node, false)
	}

	return Candidate{
		ElementID:      m.node.ID,
		Strategy:       kind,
		Locator:        loc,
		Confidence:     confidence,
		Rationale:      rationale,
		BelowThreshold: confidence < s.cfg.Threshold,
	}
}

// stripRoleWords removes known role words from a normalized query, returning
// the stripped query and whether any role word was present.
func (s *Scorer) stripRoleWords(query string) (string, bool) {
	words := strings.Fields(query)
	kept := words[:0]
	mentioned := false
	for _, w := range words {
		if s.roles[w] {
			mentioned = true
			continue
		}
		kept = append(kept, w)
	}
	if !mentioned {
		return query, false
	}
	stripped := strings.Join(kept, " ")
	if stripped == "" {
		return query, true
	}
	return stripped, true
}

// For picks the most specific locator a node supports, preferring attribute
// locators over bare text. Used by recovery tiers that derive candidates
// from elements the scorer never ranked.
func For(node *snapshot.Node) (Kind, string) {
	return locatorFor(node, false)
}

// KindOf classifies a locator string by its syntax. CSS selectors and
// anything else unrecognized classify as the xpath-fallback kind, the
// lowest-trust bucket for outcome statistics.
func KindOf(loc string) Kind {
	switch {
	case strings.HasPrefix(loc, "role="):
		return KindRole
	case strings.HasPrefix(loc, "text="):
		return KindText
	case strings.HasPrefix(loc, "[aria-label="):
		return KindAriaLabel
	case strings.HasPrefix(loc, "[placeholder="):
		return KindPlaceholder
	default:
		return KindXPathFallback
	}
}

// locatorFor picks the most specific locator string a node supports. When
// preferText is set, a text locator wins over attribute locators.
func locatorFor(node *snapshot.Node, preferText bool) (Kind, string) {
	switch {
	case preferText && node.Text != "":
		return KindText, textLocator(node)
	case node.AriaLabel != "":
		return KindAriaLabel, fmt.Sprintf("[aria-label=%q]", node.AriaLabel)
	case node.Placeholder != "":
		return KindPlaceholder, fmt.Sprintf("[placeholder=%q]", node.Placeholder)
	case node.Text != "" && node.Role != "":
		return KindRole, roleLocator(node)
	case node.Text != "":
		return KindText, textLocator(node)
	default:
		return KindRole, fmt.Sprintf("role=%s", snapshot.Normalize(node.Role))
	}
}

// textLocator builds a Playwright-style text locator.
func textLocator(node *snapshot.Node) string {
	return fmt.Sprintf("text=%q", node.Text)
}

// roleLocator builds a Playwright-style role locator with accessible name.
func roleLocator(node *snapshot.Node) string {
	if node.Text == "" {
		return fmt.Sprintf("role=%s", snapshot.Normalize(node.Role))
	}
	return fmt.Sprintf("role=%s[name=%q]", snapshot.Normalize(node.Role), node.Text)
}

// positionalXPath builds a tree-position xpath for a node by walking parent
// links. Tag names are used where the capture provided them; otherwise a
// wildcard with a position predicate keeps the path resolvable.
func positionalXPath(node *snapshot.Node, idx *snapshot.Index) string {
	var segments []string
	current := node
	for current != nil {
		parent := idx.Get(current.ParentID)

		position := 1
		if parent != nil {
			for _, siblingID := range parent.ChildIDs {
				if siblingID == current.ID {
					break
				}
				sibling := idx.Get(siblingID)
				if sibling != nil && sibling.TagName == current.TagName {
					position++
				}
			}
		}

		tag := current.TagName
		if tag == "" {
			tag = "*"
		}
		segments = append([]string{fmt.Sprintf("%s[%d]", tag, position)}, segments...)

		if parent == nil {
			break
		}
		current = parent
	}
	if len(segments) == 0 {
		return ""
	}
	return "xpath=/" + strings.Join(segments, "/")
}
