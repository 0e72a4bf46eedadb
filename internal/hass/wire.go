package hass

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"calview/internal/model"
)

type wireMoment struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

// wireEvent is the record shape of /api/calendars/{entity}.
type wireEvent struct {
	UID     json.RawMessage `json:"uid"`
	ID      json.RawMessage `json:"id"`
	Summary string          `json:"summary"`
	Title   string          `json:"title"`
	Start   *wireMoment     `json:"start"`
	End     *wireMoment     `json:"end"`
}

// decode validates both sides and always returns a RawEvent; the error wraps
// model.ErrMalformedRecord when a side is missing or unparseable.
func (w wireEvent) decode() (model.RawEvent, error) {
	raw := model.RawEvent{
		ID:    firstNonEmpty(identifier(w.UID), identifier(w.ID)),
		Title: firstNonEmpty(w.Summary, w.Title),
	}

	var errs []error
	start, err := decodeMoment(w.Start)
	if err != nil {
		errs = append(errs, fmt.Errorf("start: %w", err))
	}
	end, err := decodeMoment(w.End)
	if err != nil {
		errs = append(errs, fmt.Errorf("end: %w", err))
	}
	raw.Start = start
	raw.End = end

	return raw, errors.Join(errs...)
}

func decodeMoment(m *wireMoment) (model.Moment, error) {
	if m == nil {
		return model.ParseMoment("", "")
	}
	return model.ParseMoment(m.DateTime, m.Date)
}

// identifier renders a string or numeric JSON value as text. Anything else
// counts as absent.
func identifier(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
