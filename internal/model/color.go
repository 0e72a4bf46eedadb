package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ColorSpec is a per-source color override. In YAML and JSON it is either a
// bare color string or an object with background and text.
type ColorSpec struct {
	Background string `yaml:"background,omitempty" json:"background,omitempty"`
	Text       string `yaml:"text,omitempty" json:"text,omitempty"`
}

type colorObject struct {
	Background string `yaml:"background" json:"background"`
	Bg         string `yaml:"bg" json:"bg"`
	Text       string `yaml:"text" json:"text"`
}

func (o colorObject) spec() ColorSpec {
	bg := o.Background
	if bg == "" {
		bg = o.Bg
	}
	return ColorSpec{Background: bg, Text: o.Text}
}

func (c *ColorSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*c = ColorSpec{Background: s}
		return nil
	case yaml.MappingNode:
		var o colorObject
		if err := node.Decode(&o); err != nil {
			return err
		}
		*c = o.spec()
		return nil
	default:
		return fmt.Errorf("color: expected string or mapping at line %d", node.Line)
	}
}

func (c *ColorSpec) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = ColorSpec{Background: s}
		return nil
	}
	var o colorObject
	if err := json.Unmarshal(b, &o); err != nil {
		return errors.New("color: expected string or object")
	}
	*c = o.spec()
	return nil
}
