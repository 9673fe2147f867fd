package session

// Events published on the session topic. Field names match the JSON the
// HTTP stream emits: {"type":"qr","data":"data:image/png;base64,..."}.

// QREvent carries a new pairing challenge.
type QREvent struct {
	Data string `json:"data"` // PNG data URL
	Code string `json:"code"` // raw challenge, for terminal rendering
}

func (QREvent) Kind() string { return "qr" }

type AuthenticatedEvent struct{}

func (AuthenticatedEvent) Kind() string { return "authenticated" }

type ReadyEvent struct{}

func (ReadyEvent) Kind() string { return "ready" }

type AuthFailureEvent struct {
	Data string `json:"data"`
}

func (AuthFailureEvent) Kind() string { return "auth_failure" }

type DisconnectedEvent struct {
	Data string `json:"data"`
}

func (DisconnectedEvent) Kind() string { return "disconnected" }
