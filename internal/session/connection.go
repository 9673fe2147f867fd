package session

import (
	"context"
	"time"
)

// Connection is the backend handle owned by the Manager. Implementations
// report handshake progress through the Handlers given to the Connector.
type Connection interface {
	// Initialize starts the handshake. It returns once the backend accepted
	// the request; progress arrives later through Handlers.
	Initialize(ctx context.Context) error
	Send(ctx context.Context, to, text string, media Media) (Receipt, error)
	Info(ctx context.Context) (Info, error)
	Close() error
}

// Handlers are the callbacks a Connection invokes during its lifetime.
type Handlers struct {
	OnQR            func(code string)
	OnAuthenticated func()
	OnReady         func()
	OnAuthFailure   func(reason string)
	OnDisconnected  func(reason string)
}

// ConnectOptions identify the persistent local credentials.
type ConnectOptions struct {
	ClientID string
	DataPath string
}

// Connector builds a Connection. The Manager calls it once per handshake.
type Connector func(ctx context.Context, opts ConnectOptions, h Handlers) (Connection, error)

// Receipt acknowledges an accepted outbound message.
type Receipt struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Info describes the logged-in account.
type Info struct {
	WID      string `json:"wid"`
	PushName string `json:"pushname"`
	Platform string `json:"platform"`
}

// Media is an optional attachment. A nil Media sends text only.
type Media interface {
	media()
}

// MediaURL is fetched by the backend from a remote location.
type MediaURL struct {
	URL string
}

// MediaPath is read by the backend from its local filesystem.
type MediaPath struct {
	Path string
}

// MediaInline carries the attachment bytes.
type MediaInline struct {
	Data     []byte
	Mime     string
	Filename string
}

func (MediaURL) media()    {}
func (MediaPath) media()   {}
func (MediaInline) media() {}
