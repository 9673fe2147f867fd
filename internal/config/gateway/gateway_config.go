package gateway

import "time"

// GatewayConfig holds HTTP server settings.
type GatewayConfig struct {
	Addr               string `json:"addr" env:"ADDR"`
	FrontendURL        string `json:"frontendUrl" env:"FRONTEND_URL"`
	JWTSecret          string `json:"jwtSecret" env:"JWT_SECRET"`
	KeepaliveSec       int    `json:"keepaliveSec" env:"KEEPALIVE_SEC"`
	ShutdownTimeoutSec int    `json:"shutdownTimeoutSec" env:"SHUTDOWN_TIMEOUT_SEC"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Addr:               ":3001",
		FrontendURL:        "http://localhost:3000",
		KeepaliveSec:       15,
		ShutdownTimeoutSec: 10,
	}
}

func (c GatewayConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveSec) * time.Second
}

func (c GatewayConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}
