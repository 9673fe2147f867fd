package channel

import "time"

// WhatsAppConfig configures the bridge connection that carries the session.
type WhatsAppConfig struct {
	BridgeURL         string `json:"bridgeUrl" env:"BRIDGE_URL"`
	BridgeToken       string `json:"bridgeToken" env:"BRIDGE_TOKEN"`
	ClientID          string `json:"clientId" env:"CLIENT_ID"`
	DataPath          string `json:"dataPath" env:"DATA_PATH"`
	AutoInit          bool   `json:"autoInit" env:"AUTO_INIT"`
	RequestTimeoutSec int    `json:"requestTimeoutSec" env:"REQUEST_TIMEOUT_SEC"`
	ReconnectDelaySec int    `json:"reconnectDelaySec" env:"RECONNECT_DELAY_SEC"`
	// StaleAfterSec reminds operators once the session has been failed or
	// disconnected this long; 0 disables.
	StaleAfterSec int `json:"staleAfterSec" env:"STALE_AFTER_SEC"`
}

func DefaultWhatsAppConfig() WhatsAppConfig {
	return WhatsAppConfig{
		BridgeURL:         "ws://localhost:3002",
		ClientID:          "whatscast",
		DataPath:          "~/.whatscast/session",
		RequestTimeoutSec: 30,
		ReconnectDelaySec: 5,
		StaleAfterSec:     600,
	}
}

func (c WhatsAppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c WhatsAppConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSec) * time.Second
}

func (c WhatsAppConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySec) * time.Second
}
