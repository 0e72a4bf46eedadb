// Package normalize turns source-native RawEvents into DisplayEvents.
package normalize

import (
	"strconv"

	"calview/internal/colors"
	"calview/internal/model"
)

// UntitledPlaceholder replaces missing titles.
const UntitledPlaceholder = "(untitled)"

// Normalizer converts raw records using a fixed color assigner.
type Normalizer struct {
	colors *colors.Assigner
}

func New(assigner *colors.Assigner) *Normalizer {
	return &Normalizer{colors: assigner}
}

// Normalize builds the DisplayEvent for raw. index is the record's position
// within its source batch and only shows up in the ID when raw has no ID.
// Records without a usable start come out with a null Start; filtering them
// is up to the presenter.
func (n *Normalizer) Normalize(source string, index int, raw model.RawEvent) model.DisplayEvent {
	start := raw.Start.Resolve()
	end := raw.End.Resolve()

	ident := raw.ID
	if ident == "" {
		ident = strconv.Itoa(index)
	}

	title := raw.Title
	if title == "" {
		title = UntitledPlaceholder
	}

	pair := n.colors.For(source)

	return model.DisplayEvent{
		ID:              source + ":" + ident + ":" + start,
		Title:           title,
		Start:           model.Stamp(start),
		End:             model.Stamp(end),
		AllDay:          raw.Kind() == model.KindAllDay,
		BackgroundColor: pair.Background,
		BorderColor:     pair.Background,
		TextColor:       pair.Text,
		SourceID:        source,
	}
}

// All normalizes one source batch, keeping the source's order.
func (n *Normalizer) All(source string, raws []model.RawEvent) []model.DisplayEvent {
	out := make([]model.DisplayEvent, 0, len(raws))
	for i, raw := range raws {
		out = append(out, n.Normalize(source, i, raw))
	}
	return out
}
