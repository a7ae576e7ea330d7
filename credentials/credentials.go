// Package credentials reads, validates, and seeds the photo-frame credentials
// file that tells the application where its Immich server is and when to
// display photos.
package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

const (
	SourceImmich     = "immich"
	DefaultImmichURL = "http://adresse-immich:2283"
	PlaceholderToken = "votre_token"
)

// ErrInvalid wraps validation failures of an update.
var ErrInvalid = errors.New("invalid credentials")

type Config struct {
	Source      string   `json:"source"`
	ImmichURL   string   `json:"immich_url"`
	ImmichToken string   `json:"immich_token"`
	AlbumIDs    []string `json:"album_ids"`
	StartHour   int      `json:"start_hour"`
	EndHour     int      `json:"end_hour"`
	PanZoom     bool     `json:"pan_zoom"`
}

// Default is the document written on first install.
func Default() Config {
	return Config{
		Source:      SourceImmich,
		ImmichURL:   DefaultImmichURL,
		ImmichToken: PlaceholderToken,
		AlbumIDs:    []string{},
		StartHour:   8,
		EndHour:     22,
		PanZoom:     true,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Source != SourceImmich {
		errs = append(errs, fmt.Errorf("unsupported source %q, only %q is supported", c.Source, SourceImmich))
	}

	u, err := url.Parse(c.ImmichURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("invalid immich_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("immich_url must be http or https, got %q", c.ImmichURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("immich_url has no host: %q", c.ImmichURL))
	}

	if c.StartHour < 0 || c.StartHour > 23 {
		errs = append(errs, fmt.Errorf("start_hour must be within 0-23, got %d", c.StartHour))
	}
	if c.EndHour < 0 || c.EndHour > 23 {
		errs = append(errs, fmt.Errorf("end_hour must be within 0-23, got %d", c.EndHour))
	}
	for _, id := range c.AlbumIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, errors.New("album_ids must not contain empty ids"))
			break
		}
	}
	return errors.Join(errs...)
}

// HasPlaceholderToken reports whether the token was never replaced by the operator.
func (c Config) HasPlaceholderToken() bool {
	return c.ImmichToken == "" || c.ImmichToken == PlaceholderToken
}

// Marshal renders c as an indented document. A nil album list is written as [].
func (c Config) Marshal() ([]byte, error) {
	if c.AlbumIDs == nil {
		c.AlbumIDs = []string{}
	}
	return marshalIndent(c)
}

func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func Parse(data []byte) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if c.AlbumIDs == nil {
		c.AlbumIDs = []string{}
	}
	return c, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// MaskedToken hides all but the last four characters of the token.
func (c Config) MaskedToken() string {
	t := c.ImmichToken
	if len(t) <= 4 {
		return strings.Repeat("*", len(t))
	}
	return strings.Repeat("*", len(t)-4) + t[len(t)-4:]
}
