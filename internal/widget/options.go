package widget

import (
	"calview/internal/config"
	appLog "calview/internal/log"
)

// CardSize is the layout height hint reported to the host dashboard.
const CardSize = 6

// MoreInfoEvent is the host event type raised when an event is clicked.
const MoreInfoEvent = "hass-more-info"

// Toolbar is the rendering widget's header layout.
type Toolbar struct {
	Left   string `json:"left"`
	Center string `json:"center"`
	Right  string `json:"right"`
}

// RenderOptions configure the client-side calendar grid.
type RenderOptions struct {
	View          string  `json:"view"`
	HeaderToolbar Toolbar `json:"headerToolbar"`
	Locale        string  `json:"locale"`
	Height        string  `json:"height"`
	Editable      bool    `json:"editable"`
	NowIndicator  bool    `json:"nowIndicator"`
	Title         string  `json:"title"`
	Theme         string  `json:"theme"`
	CardSize      int     `json:"cardSize"`
}

func renderOptions(cfg config.WidgetConfig) RenderOptions {
	return RenderOptions{
		View: cfg.DefaultView,
		HeaderToolbar: Toolbar{
			Left:   "prev,next today",
			Center: "title",
			Right:  config.ViewMonth + "," + config.ViewWeek + "," + config.ViewDay,
		},
		Locale:       cfg.Locale,
		Height:       "auto",
		Editable:     false,
		NowIndicator: true,
		Title:        cfg.Title,
		Theme:        cfg.Theme,
		CardSize:     CardSize,
	}
}

// StubConfig is the minimal configuration offered to a dashboard editor.
func StubConfig() config.WidgetConfig {
	return config.WidgetConfig{
		Title:       "Calendar",
		DefaultView: config.ViewWeek,
		Locale:      "en",
	}
}

// Activation asks the host to open the detail view of a source.
type Activation struct {
	Type     string `json:"type"`
	SourceID string `json:"entityId"`
}

type Notifier interface {
	Notify(Activation)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Activation)

func (f NotifierFunc) Notify(a Activation) { f(a) }

// LogNotifier records activations in the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(a Activation) {
	appLog.Info("widget activation", "type", a.Type, "entity_id", a.SourceID)
}
