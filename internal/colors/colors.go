// Package colors assigns stable display colors to calendar sources.
//
// Colors are a pure function of the source identifier and the configured
// overrides, so adding or removing a source never shifts another source's
// color and nothing needs to be persisted between sessions.
package colors

import (
	"fmt"
	"unicode/utf16"

	"calview/internal/model"
)

const (
	// DefaultText is the text color used whenever none is configured.
	DefaultText = "#fff"

	saturation = 65
	lightness  = 48
)

// Pair is the resolved background/text color for a source.
type Pair struct {
	Background string `json:"background"`
	Text       string `json:"text"`
}

// Assigner resolves colors for sources. The zero value derives every color.
type Assigner struct {
	overrides map[string]model.ColorSpec
}

// NewAssigner copies overrides so later config mutation cannot leak in.
func NewAssigner(overrides map[string]model.ColorSpec) *Assigner {
	cp := make(map[string]model.ColorSpec, len(overrides))
	for k, v := range overrides {
		cp[k] = v
	}
	return &Assigner{overrides: cp}
}

// For returns the color pair for source.
func (a *Assigner) For(source string) Pair {
	var spec model.ColorSpec
	if a != nil {
		spec = a.overrides[source]
	}

	p := Pair{Background: spec.Background, Text: spec.Text}
	if p.Background == "" {
		p.Background = Derive(source)
	}
	if p.Text == "" {
		p.Text = DefaultText
	}
	return p
}

// LegendEntry is one row of the widget legend.
type LegendEntry struct {
	Source string `json:"source"`
	Pair
}

// Legend returns entries in the given source order.
func (a *Assigner) Legend(sources []string) []LegendEntry {
	out := make([]LegendEntry, 0, len(sources))
	for _, s := range sources {
		out = append(out, LegendEntry{Source: s, Pair: a.For(s)})
	}
	return out
}

// Derive computes the hash-based HSL color for source.
func Derive(source string) string {
	return fmt.Sprintf("hsl(%d %d%% %d%%)", Hue(source), saturation, lightness)
}

// Hue hashes the UTF-16 code units of source with multiplier 31 in 32-bit
// wraparound arithmetic and reduces the magnitude modulo 360.
func Hue(source string) int {
	var h int32
	for _, u := range utf16.Encode([]rune(source)) {
		h = h*31 + int32(u)
	}
	mag := int64(h)
	if mag < 0 {
		mag = -mag
	}
	return int(mag % 360)
}
