package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"calview/internal/model"
	"calview/internal/widget"
)

func newEventsCmd(configPath *string) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the merged events of one window as JSON",
		Long: `Fetch every configured source once for the window [start, end) and print
the merged, colored events as JSON. Bounds are RFC 3339 timestamps or dates;
dates are read in the configured timezone. Without bounds the current week
starting today is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvents(cmd.Context(), cmd.OutOrStdout(), *configPath, start, end)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Window start (inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (exclusive)")
	return cmd
}

func newSourcesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Print the resolved sources and their colors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSources(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	}
}

type eventsOutput struct {
	Start    string               `json:"start"`
	End      string               `json:"end"`
	Events   []model.DisplayEvent `json:"events"`
	Failures map[string]string    `json:"failures,omitempty"`
}

func runEvents(ctx context.Context, out io.Writer, configPath, startArg, endArg string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	loc := cfg.Location()
	win, err := windowFromArgs(startArg, endArg, time.Now().In(loc), loc)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	sess, err := attachedSession(ctx, a)
	if err != nil {
		return err
	}
	defer sess.Destroy()

	view, err := sess.SetWindow(ctx, win)
	if err != nil {
		return err
	}

	res := eventsOutput{
		Start:  model.ISO(win.Start),
		End:    model.ISO(win.End),
		Events: view.Events,
	}
	if res.Events == nil {
		res.Events = []model.DisplayEvent{}
	}
	if len(view.Failures) > 0 {
		res.Failures = make(map[string]string, len(view.Failures))
		for _, f := range view.Failures {
			res.Failures[f.Source] = f.Err.Error()
		}
	}
	return writeIndented(out, res)
}

func runSources(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	sess, err := attachedSession(ctx, a)
	if err != nil {
		return err
	}
	defer sess.Destroy()

	legend, err := sess.Legend()
	if err != nil {
		return err
	}
	return writeIndented(out, legend)
}

// attachedSession returns a standalone session outside the manager's table.
func attachedSession(ctx context.Context, a *app) (*widget.Session, error) {
	sess := widget.NewSession(a.router, a.loader, nil)
	if err := sess.Configure(a.cfg.Widget); err != nil {
		return nil, err
	}
	if err := sess.Attach(ctx); err != nil {
		sess.Destroy()
		return nil, fmt.Errorf("resolve sources: %w", err)
	}
	return sess, nil
}

// windowFromArgs parses the bounds; an empty start means the start of now's
// day and an empty end means seven days after start.
func windowFromArgs(startArg, endArg string, now time.Time, loc *time.Location) (model.Window, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if startArg != "" {
		t, err := parseBound(startArg, loc)
		if err != nil {
			return model.Window{}, fmt.Errorf("start: %w", err)
		}
		start = t
	}
	end := start.AddDate(0, 0, 7)
	if endArg != "" {
		t, err := parseBound(endArg, loc)
		if err != nil {
			return model.Window{}, fmt.Errorf("end: %w", err)
		}
		end = t
	}
	return model.NewWindow(start, end)
}

func parseBound(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, loc)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
