// Package wlrrandr reads the display outputs reported by wlr-randr, which is
// how setup confirms a screen is attached before the frame first starts.
package wlrrandr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aouyang1/pimmich/shell"
)

// DefaultOutput is the HDMI connector closest to the power jack on a Pi 4/5.
const DefaultOutput = "HDMI-A-1"

type Output struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Make        string `json:"make"`
	Model       string `json:"model"`
	Enabled     bool   `json:"enabled"`
	Modes       []Mode `json:"modes"`
}

type Mode struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Refresh   float64 `json:"refresh"`
	Preferred bool    `json:"preferred"`
	Current   bool    `json:"current"`
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.2fHz", m.Width, m.Height, m.Refresh)
}

// CurrentMode returns the active mode, if any.
func (o Output) CurrentMode() (Mode, bool) {
	for _, m := range o.Modes {
		if m.Current {
			return m, true
		}
	}
	return Mode{}, false
}

func ParseOutputs(data []byte) ([]Output, error) {
	var outputs []Output
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wlr-randr output: %w", err)
	}
	return outputs, nil
}

// Outputs lists every output known to the compositor.
func Outputs(ctx context.Context, cmd shell.Commander) ([]Output, error) {
	out, err := cmd.Output(ctx, shell.Cmd{Name: "wlr-randr", Args: []string{"--json"}})
	if err != nil {
		return nil, fmt.Errorf("failed to run wlr-randr: %w", err)
	}
	return ParseOutputs(out)
}

func FindOutput(outputs []Output, name string) (Output, error) {
	for _, o := range outputs {
		if o.Name == name {
			return o, nil
		}
	}
	return Output{}, fmt.Errorf("output %s not found", name)
}
