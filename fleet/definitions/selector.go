package definitions

import "fmt"

// Strategy is one method of locating a UI element within a hierarchy snapshot.
type Strategy string

const (
	ByID           Strategy = "id"            // exact resource-id match
	ByText         Strategy = "text"          // exact text match
	ByDesc         Strategy = "desc"          // exact content-desc match
	ByDescContains Strategy = "desc_contains" // substring content-desc match
	ByCoordinate   Strategy = "coordinate"    // fixed point, always found
)

// Selector is a single (strategy, value) pair.
type Selector struct {
	Kind  Strategy `json:"kind"`
	Value string   `json:"value,omitempty"`
	X     int      `json:"x,omitempty"`
	Y     int      `json:"y,omitempty"`
}

func (s Selector) String() string {
	if s.Kind == ByCoordinate {
		return fmt.Sprintf("%s(%d,%d)", s.Kind, s.X, s.Y)
	}
	return fmt.Sprintf("%s=%q", s.Kind, s.Value)
}

// SelectorSpec is an ordered list of selectors tried strictly in sequence.
// A trailing ByCoordinate selector makes the spec guaranteed-terminal.
type SelectorSpec []Selector

func (spec SelectorSpec) String() string {
	switch len(spec) {
	case 0:
		return "<empty>"
	case 1:
		return spec[0].String()
	}
	out := spec[0].String()
	for _, s := range spec[1:] {
		out += " > " + s.String()
	}
	return out
}

// Constructors for the common spec shapes.

func ID(value string) SelectorSpec   { return SelectorSpec{{Kind: ByID, Value: value}} }
func Text(value string) SelectorSpec { return SelectorSpec{{Kind: ByText, Value: value}} }
func Desc(value string) SelectorSpec { return SelectorSpec{{Kind: ByDesc, Value: value}} }

func DescContains(value string) SelectorSpec {
	return SelectorSpec{{Kind: ByDescContains, Value: value}}
}

func Point(x, y int) SelectorSpec {
	return SelectorSpec{{Kind: ByCoordinate, X: x, Y: y}}
}

// Then appends further selectors, keeping declaration order.
func (spec SelectorSpec) Then(next SelectorSpec) SelectorSpec {
	return append(append(SelectorSpec{}, spec...), next...)
}

// Bounds is an element's on-screen rectangle.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the tap point for the bounds. Zero-sized bounds (coordinate
// selectors) return the point itself.
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}
