package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidWindow is returned when a window's end is not after its start.
	ErrInvalidWindow = errors.New("invalid window")

	// ErrMalformedRecord marks a raw record whose start or end could not be
	// decoded. Decoders wrap it with detail and still emit the record.
	ErrMalformedRecord = errors.New("malformed record")
)

// keyLayout matches JavaScript's Date.toISOString output.
const keyLayout = "2006-01-02T15:04:05.000Z07:00"

// Window is the visible time range of the calendar widget.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates the range.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow, ISO(w.End), ISO(w.Start))
	}
	return nil
}

// Key is the cache key for the window.
func (w Window) Key() string {
	return ISO(w.Start) + "__" + ISO(w.End)
}

// ISO renders t in UTC with millisecond precision.
func ISO(t time.Time) string {
	return t.UTC().Format(keyLayout)
}

// Moment is one side (start or end) of a raw event. Exactly one of DateTime
// and Date is set for a well-formed record.
type Moment struct {
	// DateTime is the RFC 3339 text as supplied by the source.
	DateTime string
	// Date is a calendar date (YYYY-MM-DD) without time of day.
	Date string
}

func (m Moment) IsZero() bool {
	return m.DateTime == "" && m.Date == ""
}

// DateOnly reports whether the moment is a calendar date without time.
func (m Moment) DateOnly() bool {
	return m.DateTime == "" && m.Date != ""
}

// Resolve returns the timestamp text, synthesizing midnight for dates.
// A missing moment resolves to the empty string.
func (m Moment) Resolve() string {
	switch {
	case m.DateTime != "":
		return m.DateTime
	case m.Date != "":
		return m.Date + "T00:00:00"
	default:
		return ""
	}
}

// ParseMoment builds a Moment from the two optional wire fields and validates
// whichever one is used.
func ParseMoment(dateTime, date string) (Moment, error) {
	switch {
	case dateTime != "":
		if _, err := time.Parse(time.RFC3339, dateTime); err != nil {
			return Moment{}, fmt.Errorf("%w: dateTime %q: %v", ErrMalformedRecord, dateTime, err)
		}
		return Moment{DateTime: dateTime}, nil
	case date != "":
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return Moment{}, fmt.Errorf("%w: date %q: %v", ErrMalformedRecord, date, err)
		}
		return Moment{Date: date}, nil
	default:
		return Moment{}, fmt.Errorf("%w: neither dateTime nor date present", ErrMalformedRecord)
	}
}

// TimedMoment formats t as a timestamp moment.
func TimedMoment(t time.Time) Moment {
	return Moment{DateTime: t.Format(time.RFC3339)}
}

// DateMoment formats t's calendar date in its own location.
func DateMoment(t time.Time) Moment {
	return Moment{Date: t.Format(time.DateOnly)}
}

// Kind classifies a RawEvent.
type Kind int

const (
	KindMalformed Kind = iota
	KindTimed
	KindAllDay
)

func (k Kind) String() string {
	switch k {
	case KindTimed:
		return "timed"
	case KindAllDay:
		return "all_day"
	default:
		return "malformed"
	}
}

// RawEvent is a source-native event record after boundary decoding.
type RawEvent struct {
	// ID is the source's stable identifier, empty when it has none.
	ID    string
	Title string
	Start Moment
	End   Moment
}

func (e RawEvent) Kind() Kind {
	switch {
	case e.Start.IsZero() || e.End.IsZero():
		return KindMalformed
	case e.Start.DateOnly() && e.End.DateOnly():
		return KindAllDay
	default:
		return KindTimed
	}
}

// Stamp is a resolved timestamp string; empty means unknown and encodes as
// JSON null.
type Stamp string

func (s Stamp) Valid() bool { return s != "" }

func (s Stamp) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Stamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Stamp(v)
	return nil
}

// DisplayEvent is the normalized, render-ready record handed to the widget.
type DisplayEvent struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Start           Stamp  `json:"start"`
	End             Stamp  `json:"end"`
	AllDay          bool   `json:"allDay"`
	BackgroundColor string `json:"backgroundColor"`
	BorderColor     string `json:"color"`
	TextColor       string `json:"textColor"`
	// SourceID routes activations back to the originating source.
	SourceID string `json:"sourceId"`
}
