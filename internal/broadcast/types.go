package broadcast

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/crystaldolphin/whatscast/internal/bus"
	"github.com/crystaldolphin/whatscast/internal/session"
)

// Filters narrow the recipient set. A nil field means "no restriction".
type Filters struct {
	CountryID *int64 `json:"filter_country_id,omitempty" yaml:"countryId,omitempty"`
	EventID   *int64 `json:"filter_event_id,omitempty" yaml:"eventId,omitempty"`
}

// MediaPayload is the wire form of an attachment. At most one of Buffer, URL
// and Path is used, in that order of precedence.
type MediaPayload struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Buffer   string `json:"buffer,omitempty" yaml:"buffer,omitempty"` // base64 or data URL
	Mimetype string `json:"mimetype,omitempty" yaml:"mimetype,omitempty"`
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
}

// Media converts the payload into a session attachment. Malformed base64 is
// passed through as raw bytes.
func (p *MediaPayload) Media() session.Media {
	if p == nil {
		return nil
	}
	switch {
	case p.Buffer != "":
		raw := p.Buffer
		if strings.HasPrefix(raw, "data:") {
			if i := strings.IndexByte(raw, ','); i >= 0 {
				raw = raw[i+1:]
			}
		}
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			data = []byte(p.Buffer)
		}
		return session.MediaInline{Data: data, Mime: p.Mimetype, Filename: p.Filename}
	case p.URL != "":
		return session.MediaURL{URL: p.URL}
	case p.Path != "":
		return session.MediaPath{Path: p.Path}
	}
	return nil
}

// Campaign is one broadcast request.
type Campaign struct {
	Message string        `json:"message" yaml:"message"`
	Media   *MediaPayload `json:"media,omitempty" yaml:"media,omitempty"`
	Filters `yaml:",inline"`
}

// Recipient is a phone-addressable client.
type Recipient struct {
	ID    int64
	Name  string
	Phone string
}

// Summary is the persisted audit record of one campaign run.
type Summary struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
	Filters
	TotalRecipients int       `json:"total_recipients"`
	Sent            int       `json:"sent"`
	Failed          int       `json:"failed"`
	Cancelled       bool      `json:"cancelled"`
	InitiatorID     *int64    `json:"sent_by_user_id,omitempty"`
	SentAt          time.Time `json:"sent_at"`

	// Set when read back from the store and the filter target still exists.
	Country *FilterRef `json:"filter_country,omitempty"`
	Event   *FilterRef `json:"filter_event,omitempty"`
}

// FilterRef names the country or event a campaign was filtered by.
type FilterRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// RecipientResolver returns the recipients matching filters.
type RecipientResolver interface {
	Resolve(ctx context.Context, f Filters) ([]Recipient, error)
}

// SummaryStore persists campaign summaries. SaveSummary returns the stored
// record with its generated id.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s Summary) (Summary, error)
}

// Sender is the session surface the dispatcher sends through.
type Sender interface {
	SendMessage(ctx context.Context, phone, text string, media session.Media) (session.Receipt, error)
	State() session.State
	WaitReady(ctx context.Context) error
}

// Publisher receives progress events.
type Publisher interface {
	Publish(t bus.Topic, e bus.Event)
}
