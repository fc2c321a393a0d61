// Package resolver locates UI elements in a hierarchy snapshot. It is
// stateless and never touches the device, so it can be driven entirely from
// recorded fixtures.
package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
)

// StrategyTimeout bounds the scan each individual strategy may spend on one
// snapshot. Hierarchy dumps of heavyweight screens can run to thousands of
// nodes; a missing element must not stall the whole action.
const StrategyTimeout = 300 * time.Millisecond

// deadline is checked in batches to keep time.Now out of the hot loop.
const deadlineCheckStride = 64

// Resolve tries each selector of the spec strictly in declaration order and
// returns the bounds of the first match. Coordinate selectors always match,
// which makes a spec ending in one guaranteed-terminal.
func Resolve(snap *hierarchy.Snapshot, spec definitions.SelectorSpec) (definitions.Bounds, error) {
	node, bounds, err := lookup(snap, spec)
	if err != nil {
		return definitions.Bounds{}, err
	}
	if node != nil {
		return node.Bounds, nil
	}
	return bounds, nil
}

// Lookup is Resolve for callers that need the matched node's attributes, e.g.
// a postcondition check on a toggle's content-desc. Coordinate selectors have
// no backing node and yield ErrElementNotFound here.
func Lookup(snap *hierarchy.Snapshot, spec definitions.SelectorSpec) (*hierarchy.Node, error) {
	node, _, err := lookup(snap, spec)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("coordinate selector has no node: %w", definitions.ErrElementNotFound)
	}
	return node, nil
}

// Exists reports whether the spec resolves without exposing the match.
func Exists(snap *hierarchy.Snapshot, spec definitions.SelectorSpec) bool {
	_, _, err := lookup(snap, spec)
	return err == nil
}

func lookup(snap *hierarchy.Snapshot, spec definitions.SelectorSpec) (*hierarchy.Node, definitions.Bounds, error) {
	if len(spec) == 0 {
		return nil, definitions.Bounds{}, fmt.Errorf("empty selector spec: %w", definitions.ErrElementNotFound)
	}

	for _, sel := range spec {
		if sel.Kind == definitions.ByCoordinate {
			return nil, definitions.Bounds{X: sel.X, Y: sel.Y}, nil
		}
		if node := scan(snap, sel); node != nil {
			return node, node.Bounds, nil
		}
	}

	return nil, definitions.Bounds{}, fmt.Errorf("selector %s: %w", spec, definitions.ErrElementNotFound)
}

// scan walks the flattened node list for a single strategy, giving up once
// the strategy's deadline passes.
func scan(snap *hierarchy.Snapshot, sel definitions.Selector) *hierarchy.Node {
	deadline := time.Now().Add(StrategyTimeout)

	for i, node := range snap.Nodes {
		if i%deadlineCheckStride == deadlineCheckStride-1 && time.Now().After(deadline) {
			return nil
		}
		if matches(node, sel) {
			return node
		}
	}
	return nil
}

func matches(node *hierarchy.Node, sel definitions.Selector) bool {
	switch sel.Kind {
	case definitions.ByID:
		return node.ResourceID == sel.Value
	case definitions.ByText:
		return node.Text == sel.Value
	case definitions.ByDesc:
		return node.Desc == sel.Value
	case definitions.ByDescContains:
		return sel.Value != "" && strings.Contains(node.Desc, sel.Value)
	default:
		return false
	}
}
