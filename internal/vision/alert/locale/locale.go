// Package locale renders spoken alert messages in the configured language.
// Message catalogs are embedded so the binary needs no external files.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

//go:embed *.json
var catalogFS embed.FS

// Direction is the horizontal position bucket of an entity relative to the
// camera frame, as spoken to the user.
type Direction string

const (
	Left       Direction = "left"
	Right      Direction = "right"
	Front      Direction = "front"
	FrontLeft  Direction = "front_left"
	FrontRight Direction = "front_right"
)

// Messages renders localized alert text for one language.
type Messages struct {
	localizer *i18n.Localizer
}

// NewMessages returns a renderer for the given BCP 47 language tag.
// Unknown languages fall back to English message by message.
func NewMessages(lang string) (*Messages, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := catalogFS.ReadDir(".")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded catalogs")
	}
	for _, entry := range entries {
		if _, err := bundle.LoadMessageFileFS(catalogFS, entry.Name()); err != nil {
			return nil, errors.Wrapf(err, "load catalog %s", entry.Name())
		}
	}

	return &Messages{
		localizer: i18n.NewLocalizer(bundle, lang),
	}, nil
}

// MustNewMessages is NewMessages panicking on error. The catalogs are
// embedded, so failure indicates a build problem, not a runtime condition.
func MustNewMessages(lang string) *Messages {
	m, err := NewMessages(lang)
	if err != nil {
		panic(fmt.Sprintf("locale: %v", err))
	}
	return m
}

// CriticalAlert renders the spoken warning for a dangerous entity.
func (m *Messages) CriticalAlert(label string, dir Direction) string {
	direction := m.localizer.MustLocalize(&i18n.LocalizeConfig{
		MessageID: "direction." + string(dir),
	})
	return m.localizer.MustLocalize(&i18n.LocalizeConfig{
		MessageID: "alert.critical",
		TemplateData: map[string]interface{}{
			"Label":     label,
			"Direction": direction,
		},
	})
}
