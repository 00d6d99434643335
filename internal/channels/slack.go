package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/config"
)

// SlackChannel connects over Socket Mode so no public endpoint is needed.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    *slack.Client
	socket *socketmode.Client
	botID  string
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if strings.TrimSpace(c.config.BotToken) == "" || strings.TrimSpace(c.config.AppToken) == "" {
		return fmt.Errorf("slack channel enabled without bot and app tokens")
	}

	c.api = slack.New(c.config.BotToken, slack.OptionAppLevelToken(c.config.AppToken))
	if auth, err := c.api.AuthTestContext(ctx); err == nil {
		c.botID = auth.UserID
	} else {
		slog.Warn("Slack auth test failed", "error", err)
	}

	c.socket = socketmode.New(c.api)
	go c.runSocketMode()
	go func() {
		if err := c.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()

	c.Bus.Subscribe(c.Name(), func(msg *bus.Outbound) {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Send(sendCtx, msg); err != nil {
			slog.Error("Slack send failed", "chat", msg.ChatID, "error", err)
		}
	})
	return nil
}

func (c *SlackChannel) runSocketMode() {
	for evt := range c.socket.Events {
		switch evt.Type {
		case socketmode.EventTypeEventsAPI:
			if evt.Request != nil {
				c.socket.Ack(*evt.Request)
			}
			ev, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || ev.Type != slackevents.CallbackEvent {
				continue
			}
			switch in := ev.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				if in == nil || in.BotID != "" || in.User == c.botID {
					continue
				}
				c.publishInbound(in.User, in.Channel, in.TimeStamp, in.Text)
			case *slackevents.AppMentionEvent:
				if in == nil || in.User == c.botID {
					continue
				}
				c.publishInbound(in.User, in.Channel, in.TimeStamp, stripMention(in.Text, c.botID))
			}
		case socketmode.EventTypeConnectionError:
			slog.Warn("Slack connection error", "data", fmt.Sprintf("%v", evt.Data))
		}
	}
}

func (c *SlackChannel) publishInbound(user, channelID, ts, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !c.isAllowed(user) {
		slog.Warn("Unauthorized Slack sender", "sender", user)
		return
	}
	c.Bus.PublishInbound(&bus.Turn{
		Channel:   c.Name(),
		SenderID:  user,
		ChatID:    channelID,
		Handle:    "slack:" + channelID + ":" + ts,
		Content:   text,
		ArrivedAt: time.Now(),
	})
}

func (c *SlackChannel) Stop() error { return nil }

func (c *SlackChannel) Send(ctx context.Context, msg *bus.Outbound) error {
	if c.api == nil {
		return fmt.Errorf("client not initialized")
	}
	if msg.FilePath != "" {
		return c.sendFile(ctx, msg)
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChatID,
		slack.MsgOptionText(msg.Content, false))
	return err
}

func (c *SlackChannel) sendFile(ctx context.Context, msg *bus.Outbound) error {
	info, err := os.Stat(msg.FilePath)
	if err != nil {
		return fmt.Errorf("stat attachment: %w", err)
	}
	_, err = c.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:        msg.ChatID,
		File:           msg.FilePath,
		FileSize:       int(info.Size()),
		Filename:       filepath.Base(msg.FilePath),
		InitialComment: msg.Caption,
	})
	return err
}

func (c *SlackChannel) isAllowed(user string) bool {
	if len(c.config.AllowFrom) == 0 {
		return false
	}
	for _, allowed := range c.config.AllowFrom {
		if allowed == user {
			return true
		}
	}
	return false
}

func stripMention(text, botID string) string {
	if botID == "" {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botID+">", ""))
}
