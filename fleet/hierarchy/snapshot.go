// Package hierarchy parses uiautomator dump XML into an in-memory snapshot.
// A snapshot is immutable once built; the resolver and classifier only ever
// read it, which keeps both independently testable against recorded fixtures.
package hierarchy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/gramherd/gramherd/fleet/definitions"
)

// Node is one element of the flattened UI hierarchy.
type Node struct {
	Text       string
	ResourceID string
	Desc       string // content-desc
	Class      string
	Package    string
	Bounds     definitions.Bounds
	Clickable  bool
	Selected   bool
	Enabled    bool
	Depth      int
}

// Snapshot is a parsed hierarchy dump plus the pre-lowered text blob used by
// the classifier's single-pass keyword scan.
type Snapshot struct {
	Nodes      []*Node
	CapturedAt time.Time

	lowerText string
}

// LowerText returns every text and content-desc value of the snapshot joined
// and lower-cased. Built once at parse time so keyword scans never walk the
// node list again.
func (s *Snapshot) LowerText() string { return s.lowerText }

// Empty reports whether the snapshot carries no elements at all.
func (s *Snapshot) Empty() bool { return len(s.Nodes) == 0 }

// Parse decodes a uiautomator dump document. Both the classic dump format
// (class name as tag) and the <node> form are accepted.
func Parse(data []byte) (*Snapshot, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing hierarchy xml: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parsing hierarchy xml: empty document")
	}
	if root.Tag != "hierarchy" {
		return nil, fmt.Errorf("parsing hierarchy xml: unexpected root element %q", root.Tag)
	}

	snap := &Snapshot{CapturedAt: time.Now()}
	var text strings.Builder
	for _, child := range root.ChildElements() {
		walk(child, 0, snap, &text)
	}
	snap.lowerText = strings.ToLower(text.String())
	return snap, nil
}

func walk(el *etree.Element, depth int, snap *Snapshot, text *strings.Builder) {
	n := &Node{
		Class:      el.Tag,
		Depth:      depth,
		Text:       el.SelectAttrValue("text", ""),
		ResourceID: el.SelectAttrValue("resource-id", ""),
		Desc:       el.SelectAttrValue("content-desc", ""),
		Package:    el.SelectAttrValue("package", ""),
		Clickable:  el.SelectAttrValue("clickable", "") == "true",
		Selected:   el.SelectAttrValue("selected", "") == "true",
		Enabled:    el.SelectAttrValue("enabled", "true") != "false",
		Bounds:     parseBounds(el.SelectAttrValue("bounds", "")),
	}
	if cls := el.SelectAttrValue("class", ""); cls != "" {
		n.Class = cls
	}
	snap.Nodes = append(snap.Nodes, n)

	if n.Text != "" {
		text.WriteString(n.Text)
		text.WriteByte('\n')
	}
	if n.Desc != "" {
		text.WriteString(n.Desc)
		text.WriteByte('\n')
	}

	for _, child := range el.ChildElements() {
		walk(child, depth+1, snap, text)
	}
}

// parseBounds decodes the Android bounds form "[x1,y1][x2,y2]". Malformed
// input yields zero bounds rather than an error; a node without usable bounds
// simply never wins a hit test.
func parseBounds(s string) definitions.Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return definitions.Bounds{}
	}

	x1, _ := strconv.Atoi(parts[0])
	y1, _ := strconv.Atoi(parts[1])
	x2, _ := strconv.Atoi(parts[2])
	y2, _ := strconv.Atoi(parts[3])

	return definitions.Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}
