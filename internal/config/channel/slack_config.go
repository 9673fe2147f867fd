package channel

// SlackConfig configures operator notices posted to a Slack channel.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" env:"ENABLED"`
	BotToken string `json:"botToken" env:"BOT_TOKEN"`
	Channel  string `json:"channel" env:"CHANNEL"`
}

func DefaultSlackConfig() SlackConfig {
	return SlackConfig{Channel: "#broadcasts"}
}
