// Package snapshot turns raw accessibility-tree captures from the browser
// into an indexed, queryable view of the page.
//
// A snapshot is parsed once into an Index and treated as immutable until the
// next capture replaces it wholesale. Malformed or empty captures produce an
// empty index rather than an error: callers are expected to continue with
// degraded capability (typically by re-capturing) instead of aborting.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node is a single element from a parsed page snapshot.
//
// Nodes are identified by synthetic ids ("e0", "e1", ...) assigned in
// document order during parsing. Ids are only meaningful within the Index
// that produced them; a fresh capture invalidates all previous ids.
type Node struct {
	// ID is the synthetic id assigned during parsing
	ID string

	// Role is the accessibility role (button, link, textbox, ...)
	Role string

	// Text is the accessible name or text content
	Text string

	// AriaLabel is the aria-label attribute, if present
	AriaLabel string

	// Placeholder is the placeholder attribute, if present
	Placeholder string

	// TagName is the HTML tag name when the capture provides one
	TagName string

	// Attributes holds any additional attributes from the capture
	Attributes map[string]string

	// ParentID is the id of the parent node ("" for roots). It is a weak
	// reference: resolve it through Index.Get, never hold the parent itself.
	ParentID string

	// ChildIDs lists child node ids in document order
	ChildIDs []string

	// Depth is the distance from the snapshot root (0 for roots)
	Depth int
}

// IsLeaf returns true when the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.ChildIDs) == 0
}

// Index is an immutable indexed view of one page snapshot.
//
// All lookups normalize text to lowercase with collapsed whitespace, so
// queries are case-insensitive. An Index is safe for concurrent readers.
type Index struct {
	nodes         map[string]*Node
	order         []string
	byRole        map[string][]string
	byText        map[string][]string
	byLabel       map[string][]string
	byPlaceholder map[string][]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		nodes:         make(map[string]*Node),
		byRole:        make(map[string][]string),
		byText:        make(map[string][]string),
		byLabel:       make(map[string][]string),
		byPlaceholder: make(map[string][]string),
	}
}

// Count returns the number of indexed nodes.
func (idx *Index) Count() int {
	return len(idx.nodes)
}

// Get returns the node with the given id, or nil if it does not exist.
func (idx *Index) Get(id string) *Node {
	return idx.nodes[id]
}

// All returns the ids of every indexed node in document order.
func (idx *Index) All() []string {
	return idx.order
}

// ByRole returns the ids of all nodes with the given role, in document order.
func (idx *Index) ByRole(role string) []string {
	return idx.byRole[Normalize(role)]
}

// MatchText returns the ids of nodes whose normalized text equals the
// normalized query.
func (idx *Index) MatchText(text string) []string {
	return idx.byText[Normalize(text)]
}

// SearchText returns the ids of nodes whose normalized text contains the
// normalized query as a substring. Exact matches are excluded; use MatchText
// for those.
func (idx *Index) SearchText(text string) []string {
	query := Normalize(text)
	if query == "" {
		return nil
	}
	var ids []string
	for _, id := range idx.order {
		node := idx.nodes[id]
		normalized := Normalize(node.Text)
		if normalized != query && strings.Contains(normalized, query) {
			ids = append(ids, id)
		}
	}
	return ids
}

// SearchLabel returns the ids of nodes whose aria-label contains the query.
func (idx *Index) SearchLabel(label string) []string {
	return searchIndex(idx, idx.byLabel, label)
}

// SearchPlaceholder returns the ids of nodes whose placeholder contains the
// query.
func (idx *Index) SearchPlaceholder(placeholder string) []string {
	return searchIndex(idx, idx.byPlaceholder, placeholder)
}

// searchIndex scans a reverse index for keys containing the normalized query.
func searchIndex(idx *Index, index map[string][]string, query string) []string {
	normalized := Normalize(query)
	if normalized == "" {
		return nil
	}
	seen := make(map[string]bool)
	for key, ids := range index {
		if !strings.Contains(key, normalized) {
			continue
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	// Return in document order for deterministic results
	var out []string
	for _, id := range idx.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Siblings returns the ids of the node's siblings (children of its parent,
// excluding the node itself). Root nodes have no siblings.
func (idx *Index) Siblings(id string) []string {
	node := idx.nodes[id]
	if node == nil || node.ParentID == "" {
		return nil
	}
	parent := idx.nodes[node.ParentID]
	if parent == nil {
		return nil
	}
	var siblings []string
	for _, childID := range parent.ChildIDs {
		if childID != id {
			siblings = append(siblings, childID)
		}
	}
	return siblings
}

// Normalize lowercases a string and collapses runs of whitespace to single
// spaces. All index keys and queries pass through it.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// add registers a node and updates every reverse index.
func (idx *Index) add(node *Node) {
	idx.nodes[node.ID] = node
	idx.order = append(idx.order, node.ID)

	if role := Normalize(node.Role); role != "" {
		idx.byRole[role] = append(idx.byRole[role], node.ID)
	}
	if text := Normalize(node.Text); text != "" {
		idx.byText[text] = append(idx.byText[text], node.ID)
	}
	if label := Normalize(node.AriaLabel); label != "" {
		idx.byLabel[label] = append(idx.byLabel[label], node.ID)
	}
	if placeholder := Normalize(node.Placeholder); placeholder != "" {
		idx.byPlaceholder[placeholder] = append(idx.byPlaceholder[placeholder], node.ID)
	}
}

// rawNode is the permissive decode target for a single capture node. It
// covers both tree-shaped captures (children inline) and flat CDP-style
// captures (nodeId/parentId/childIds references).
type rawNode struct {
	NodeID      string          `json:"nodeId"`
	ParentID    string          `json:"parentId"`
	ChildIDs    []string        `json:"childIds"`
	Role        json.RawMessage `json:"role"`
	Name        json.RawMessage `json:"name"`
	Text        string          `json:"text"`
	AriaLabel   string          `json:"ariaLabel"`
	Placeholder string          `json:"placeholder"`
	TagName     string          `json:"tagName"`
	Attributes  map[string]string `json:"attributes"`
	Properties  []rawProperty   `json:"properties"`
	Children    []rawNode       `json:"children"`
}

// rawProperty is a CDP accessibility property ({name, value:{value}}).
type rawProperty struct {
	Name  string   `json:"name"`
	Value rawValue `json:"value"`
}

// rawValue decodes either a bare JSON scalar or a CDP {type, value} wrapper.
type rawValue struct {
	str string
}

func (v *rawValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.str = s
		return nil
	}
	var wrapped struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Value != nil {
		v.str = fmt.Sprintf("%v", wrapped.Value)
		return nil
	}
	var scalar any
	if err := json.Unmarshal(data, &scalar); err == nil && scalar != nil {
		v.str = fmt.Sprintf("%v", scalar)
	}
	// Undecodable values are treated as absent
	return nil
}

// String returns the decoded scalar as a string ("" when absent).
func (v rawValue) String() string {
	return v.str
}

// decodeScalar extracts a string from either a bare JSON string or a CDP
// {type, value} wrapper.
func decodeScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v rawValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.String()
}

// Parse builds an Index from a raw snapshot capture.
//
// Three capture shapes are accepted:
//   - a tree node with inline "children" (Playwright accessibility snapshot)
//   - an object with a "nodes" array of flat nodes carrying parent/child
//     references (CDP Accessibility.getFullAXTree)
//   - a bare array of either of the above
//
// Anything that cannot be decoded yields an empty index. Parse never fails:
// a page with no readable structure is a degraded state, not an error.
func Parse(raw json.RawMessage) *Index {
	idx := NewIndex()
	if len(raw) == 0 {
		return idx
	}

	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var roots []rawNode
		if err := json.Unmarshal(raw, &roots); err != nil {
			return idx
		}
		if isFlatCapture(roots) {
			idx.buildFlat(roots)
			return idx
		}
		for _, root := range roots {
			idx.buildTree(&root, "", 0)
		}
	case strings.HasPrefix(trimmed, "{"):
		var envelope struct {
			Nodes []rawNode `json:"nodes"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Nodes) > 0 {
			idx.buildFlat(envelope.Nodes)
			return idx
		}
		var root rawNode
		if err := json.Unmarshal(raw, &root); err != nil {
			return idx
		}
		idx.buildTree(&root, "", 0)
	}
	return idx
}

// isFlatCapture reports whether a node array uses id references instead of
// inline children.
func isFlatCapture(nodes []rawNode) bool {
	for _, n := range nodes {
		if n.NodeID != "" {
			return true
		}
	}
	return false
}

// buildTree walks a tree-shaped capture depth-first, assigning synthetic ids
// in visit order.
func (idx *Index) buildTree(raw *rawNode, parentID string, depth int) string {
	node := newNode(raw, fmt.Sprintf("e%d", len(idx.order)), parentID, depth)
	idx.add(node)
	for i := range raw.Children {
		childID := idx.buildTree(&raw.Children[i], node.ID, depth+1)
		node.ChildIDs = append(node.ChildIDs, childID)
	}
	return node.ID
}

// buildFlat converts a flat capture with parent/child references. Synthetic
// ids follow array order, which CDP emits as document order. Depth is derived
// by walking parent links after all nodes are registered.
func (idx *Index) buildFlat(nodes []rawNode) {
	byCapture := make(map[string]string, len(nodes))
	for i := range nodes {
		id := fmt.Sprintf("e%d", len(idx.order))
		if nodes[i].NodeID != "" {
			byCapture[nodes[i].NodeID] = id
		}
		idx.add(newNode(&nodes[i], id, "", 0))
	}

	// Second pass: resolve parent/child references to synthetic ids
	for i := range nodes {
		node := idx.nodes[fmt.Sprintf("e%d", i)]
		if parentID, ok := byCapture[nodes[i].ParentID]; ok && nodes[i].ParentID != "" {
			node.ParentID = parentID
		}
		for _, childCaptureID := range nodes[i].ChildIDs {
			if childID, ok := byCapture[childCaptureID]; ok {
				node.ChildIDs = append(node.ChildIDs, childID)
			}
		}
	}

	// Third pass: derive depth from parent chains
	for _, id := range idx.order {
		idx.nodes[id].Depth = idx.depthOf(id, 0)
	}
}

// depthOf walks parent links counting hops; guard stops on reference cycles
// in corrupt captures.
func (idx *Index) depthOf(id string, guard int) int {
	if guard > len(idx.nodes) {
		return guard
	}
	node := idx.nodes[id]
	if node == nil || node.ParentID == "" {
		return 0
	}
	return idx.depthOf(node.ParentID, guard+1) + 1
}

// newNode maps a decoded capture node to a Node, merging the scattered
// places a capture can carry text, labels, and placeholders.
func newNode(raw *rawNode, id, parentID string, depth int) *Node {
	node := &Node{
		ID:          id,
		Role:        decodeScalar(raw.Role),
		Text:        raw.Text,
		AriaLabel:   raw.AriaLabel,
		Placeholder: raw.Placeholder,
		TagName:     raw.TagName,
		ParentID:    parentID,
		Depth:       depth,
	}

	if node.Text == "" {
		node.Text = decodeScalar(raw.Name)
	}

	if len(raw.Attributes) > 0 {
		node.Attributes = make(map[string]string, len(raw.Attributes))
		for k, v := range raw.Attributes {
			node.Attributes[k] = v
		}
		if node.AriaLabel == "" {
			node.AriaLabel = raw.Attributes["aria-label"]
		}
		if node.Placeholder == "" {
			node.Placeholder = raw.Attributes["placeholder"]
		}
		if node.TagName == "" {
			node.TagName = raw.Attributes["tag"]
		}
	}

	for _, prop := range raw.Properties {
		switch prop.Name {
		case "placeholder":
			if node.Placeholder == "" {
				node.Placeholder = prop.Value.String()
			}
		case "label":
			if node.AriaLabel == "" {
				node.AriaLabel = prop.Value.String()
			}
		}
	}

	return node
}
