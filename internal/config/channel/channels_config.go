package channel

// ChannelsConfig groups the messaging backend and the operator notice channels.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp" envPrefix:"WHATSAPP_"`
	Telegram TelegramConfig `json:"telegram" envPrefix:"TELEGRAM_"`
	Slack    SlackConfig    `json:"slack" envPrefix:"SLACK_"`
}

func DefaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		WhatsApp: DefaultWhatsAppConfig(),
		Telegram: DefaultTelegramConfig(),
		Slack:    DefaultSlackConfig(),
	}
}
