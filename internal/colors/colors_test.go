package colors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"calview/internal/model"
)

func TestHueKnownValues(t *testing.T) {
	assert.Equal(t, 0, Hue(""))
	assert.Equal(t, 97, Hue("a"))
	// 97*31 + 98 = 3105; 3105 mod 360 = 225
	assert.Equal(t, 225, Hue("ab"))
	assert.Equal(t, "hsl(225 65% 48%)", Derive("ab"))
}

func TestHueWrapsAround(t *testing.T) {
	long := "calendar.a-very-long-source-identifier-that-overflows-int32"
	h := Hue(long)
	assert.GreaterOrEqual(t, h, 0)
	assert.Less(t, h, 360)
}

func TestHueNonASCII(t *testing.T) {
	// Characters outside the BMP hash as two UTF-16 units.
	h := Hue("calendar.🎉")
	assert.GreaterOrEqual(t, h, 0)
	assert.Less(t, h, 360)
	assert.Equal(t, h, Hue("calendar.🎉"))
}

func TestForIsDeterministic(t *testing.T) {
	a := NewAssigner(nil)
	b := NewAssigner(map[string]model.ColorSpec{"calendar.other": {Background: "#123"}})

	for _, src := range []string{"calendar.team", "cal.team", "ics.family", "x"} {
		first := a.For(src)
		assert.Equal(t, first, a.For(src))
		assert.Equal(t, first, b.For(src), "unrelated overrides must not perturb %s", src)
		assert.Equal(t, DefaultText, first.Text)
	}
}

func TestForOverrides(t *testing.T) {
	a := NewAssigner(map[string]model.ColorSpec{
		"calendar.str":      {Background: "#ff0000"},
		"calendar.full":     {Background: "#00ff00", Text: "#000"},
		"calendar.textonly": {Text: "#222"},
	})

	assert.Equal(t, Pair{Background: "#ff0000", Text: DefaultText}, a.For("calendar.str"))
	assert.Equal(t, Pair{Background: "#00ff00", Text: "#000"}, a.For("calendar.full"))
	assert.Equal(t, Pair{Background: Derive("calendar.textonly"), Text: "#222"}, a.For("calendar.textonly"))
}

func TestNilAssigner(t *testing.T) {
	var a *Assigner
	assert.Equal(t, Pair{Background: Derive("x"), Text: DefaultText}, a.For("x"))
}

func TestLegendOrder(t *testing.T) {
	a := NewAssigner(nil)
	legend := a.Legend([]string{"b", "a"})
	if assert.Len(t, legend, 2) {
		assert.Equal(t, "b", legend[0].Source)
		assert.Equal(t, "a", legend[1].Source)
		assert.Equal(t, a.For("a"), legend[1].Pair)
	}
}
