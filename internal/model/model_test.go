package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWindowKey(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	w, err := NewWindow(
		time.Date(2024, 1, 8, 9, 0, 0, 0, loc),
		time.Date(2024, 1, 15, 9, 0, 0, 0, loc),
	)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08T00:00:00.000Z__2024-01-15T00:00:00.000Z", w.Key())
}

func TestWindowValidate(t *testing.T) {
	now := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

	_, err := NewWindow(now, now)
	assert.True(t, errors.Is(err, ErrInvalidWindow))

	_, err = NewWindow(now, now.Add(-time.Hour))
	assert.True(t, errors.Is(err, ErrInvalidWindow))

	_, err = NewWindow(time.Time{}, now)
	assert.True(t, errors.Is(err, ErrInvalidWindow))
}

func TestParseMoment(t *testing.T) {
	m, err := ParseMoment("2024-01-08T09:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-08T09:00:00Z", m.Resolve())
	assert.False(t, m.DateOnly())

	m, err = ParseMoment("", "2024-01-08")
	require.NoError(t, err)
	assert.True(t, m.DateOnly())
	assert.Equal(t, "2024-01-08T00:00:00", m.Resolve())

	_, err = ParseMoment("yesterday", "")
	assert.True(t, errors.Is(err, ErrMalformedRecord))

	_, err = ParseMoment("", "2024-13-40")
	assert.True(t, errors.Is(err, ErrMalformedRecord))

	m, err = ParseMoment("", "")
	assert.True(t, errors.Is(err, ErrMalformedRecord))
	assert.True(t, m.IsZero())
	assert.Equal(t, "", m.Resolve())
}

func TestRawEventKind(t *testing.T) {
	date := Moment{Date: "2024-01-08"}
	stamp := Moment{DateTime: "2024-01-08T09:00:00Z"}

	assert.Equal(t, KindAllDay, RawEvent{Start: date, End: date}.Kind())
	assert.Equal(t, KindTimed, RawEvent{Start: stamp, End: stamp}.Kind())
	assert.Equal(t, KindTimed, RawEvent{Start: date, End: stamp}.Kind())
	assert.Equal(t, KindMalformed, RawEvent{Start: date}.Kind())
	assert.Equal(t, KindMalformed, RawEvent{}.Kind())
}

func TestStampJSON(t *testing.T) {
	ev := DisplayEvent{ID: "x", Start: "", End: "2024-01-08T09:00:00Z"}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"start":null`)
	assert.Contains(t, string(b), `"end":"2024-01-08T09:00:00Z"`)

	var back DisplayEvent
	require.NoError(t, json.Unmarshal(b, &back))
	assert.False(t, back.Start.Valid())
	assert.Equal(t, ev.End, back.End)
}

func TestColorSpecDecoding(t *testing.T) {
	var fromYAML map[string]ColorSpec
	require.NoError(t, yaml.Unmarshal([]byte(`
calendar.a: "#ff0000"
calendar.b:
  bg: "#00ff00"
calendar.c:
  background: "#0000ff"
  text: "#000"
`), &fromYAML))
	assert.Equal(t, ColorSpec{Background: "#ff0000"}, fromYAML["calendar.a"])
	assert.Equal(t, ColorSpec{Background: "#00ff00"}, fromYAML["calendar.b"])
	assert.Equal(t, ColorSpec{Background: "#0000ff", Text: "#000"}, fromYAML["calendar.c"])

	var fromJSON map[string]ColorSpec
	require.NoError(t, json.Unmarshal([]byte(`{"a":"red","b":{"text":"#111"}}`), &fromJSON))
	assert.Equal(t, ColorSpec{Background: "red"}, fromJSON["a"])
	assert.Equal(t, ColorSpec{Text: "#111"}, fromJSON["b"])

	var bad ColorSpec
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}
