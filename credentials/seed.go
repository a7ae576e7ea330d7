package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aouyang1/pimmich/util"
)

const fileMode = 0o644

// TemplateSource supplies the document to seed instead of Default.
type TemplateSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Seeder writes the credentials file once and never touches an existing one.
type Seeder struct {
	Path     string
	Writer   util.Writer
	Template TemplateSource
}

// Seed writes the default (or template) document when Path is absent and
// reports whether it did.
func (s *Seeder) Seed(ctx context.Context) (bool, error) {
	exists, err := util.Exists(s.Path)
	if err != nil {
		return false, fmt.Errorf("failed to check credentials file: %w", err)
	}
	if exists {
		slog.Info("credentials file already present, unchanged", "path", s.Path)
		return false, nil
	}

	data, err := s.document(ctx)
	if err != nil {
		return false, err
	}

	if err := s.Writer.WriteFile(ctx, s.Path, data, fileMode); err != nil {
		return false, fmt.Errorf("failed to write credentials file: %w", err)
	}
	slog.Info("credentials file created", "path", s.Path)
	return true, nil
}

func (s *Seeder) document(ctx context.Context) ([]byte, error) {
	if s.Template == nil {
		return Default().Marshal()
	}

	raw, err := s.Template.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credentials template: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("credentials template: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("credentials template is invalid: %w", err)
	}
	return c.Marshal()
}

// Patch is a partial update. Nil fields are left as they are, and so is a
// token equal to the masked form the web UI hands out.
type Patch struct {
	ImmichURL   *string   `json:"immich_url"`
	ImmichToken *string   `json:"immich_token"`
	AlbumIDs    *[]string `json:"album_ids"`
	StartHour   *int      `json:"start_hour"`
	EndHour     *int      `json:"end_hour"`
	PanZoom     *bool     `json:"pan_zoom"`
}

func (p Patch) apply(c *Config) {
	if p.ImmichURL != nil {
		c.ImmichURL = *p.ImmichURL
	}
	if p.ImmichToken != nil && *p.ImmichToken != c.MaskedToken() {
		c.ImmichToken = *p.ImmichToken
	}
	if p.AlbumIDs != nil {
		c.AlbumIDs = *p.AlbumIDs
	}
	if p.StartHour != nil {
		c.StartHour = *p.StartHour
	}
	if p.EndHour != nil {
		c.EndHour = *p.EndHour
	}
	if p.PanZoom != nil {
		c.PanZoom = *p.PanZoom
	}
}

// Update applies p to the file at path. Keys the application added to the
// file are kept as they are.
func Update(ctx context.Context, w util.Writer, path string, p Patch) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, err
	}

	p.apply(&c)
	if c.AlbumIDs == nil {
		c.AlbumIDs = []string{}
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	known, err := json.Marshal(c)
	if err != nil {
		return Config{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return Config{}, err
	}
	for k, v := range fields {
		doc[k] = v
	}

	out, err := marshalIndent(doc)
	if err != nil {
		return Config{}, err
	}
	if err := w.WriteFile(ctx, path, out, fileMode); err != nil {
		return Config{}, fmt.Errorf("failed to write credentials file: %w", err)
	}
	return c, nil
}
