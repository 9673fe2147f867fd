// Package notify forwards session and broadcast milestones to operators on
// Telegram and Slack.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	slackgo "github.com/slack-go/slack"
)

// Notice is one operator message. Image, when set, is a PNG.
type Notice struct {
	Text  string
	Image []byte
}

// Notifier delivers notices to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notice) error
}

// ─── Telegram ─────────────────────────────────────────────────────────────

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notices to a single chat through a bot.
type Telegram struct {
	bot    telegramAPI
	chatID int64
}

// NewTelegram authenticates the bot token and returns a notifier for chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram: token and chatId are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends images as a captioned photo and everything else as text.
// The bot API has no context support; ctx is only checked up front.
func (t *Telegram) Notify(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg tgbotapi.Chattable
	if len(n.Image) > 0 {
		p := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "qr.png", Bytes: n.Image})
		p.Caption = n.Text
		msg = p
	} else {
		msg = tgbotapi.NewMessage(t.chatID, n.Text)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// ─── Slack ────────────────────────────────────────────────────────────────

type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackgo.MsgOption) (string, string, error)
}

// Slack posts text notices to a channel. Images are not uploaded.
type Slack struct {
	client  slackAPI
	channel string
}

// NewSlack returns a notifier posting to channel with a bot token.
func NewSlack(botToken, channel string) (*Slack, error) {
	if botToken == "" || channel == "" {
		return nil, fmt.Errorf("slack: botToken and channel are required")
	}
	return &Slack{client: slackgo.New(botToken), channel: channel}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, n Notice) error {
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slackgo.MsgOptionText(n.Text, false)); err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	return nil
}
