package channel

// TelegramConfig configures operator notices sent by a Telegram bot.
type TelegramConfig struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Token   string `json:"token" env:"TOKEN"`
	ChatID  int64  `json:"chatId" env:"CHAT_ID"`
}

func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{}
}
