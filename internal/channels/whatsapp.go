package channels

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/RelayClaw/RelayClaw/internal/bus"
	"github.com/RelayClaw/RelayClaw/internal/config"
)

// WhatsAppChannel is a native WhatsApp client backed by whatsmeow.
type WhatsAppChannel struct {
	BaseChannel
	config    config.WhatsAppConfig
	client    *whatsmeow.Client
	container *sqlstore.Container
}

func NewWhatsAppChannel(cfg config.WhatsAppConfig, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "INFO", true)

	stateDir, err := config.StateDir()
	if err != nil {
		return fmt.Errorf("resolving state dir: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	dbPath := filepath.Join(stateDir, "whatsapp.db")

	container, err := sqlstore.New(ctx, "sqlite",
		"file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("init whatsapp db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		qrChan, _ := c.client.GetQRChannel(context.Background())
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go c.handlePairing(stateDir, qrChan)
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		slog.Info("WhatsApp connected")
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.Outbound) {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Send(sendCtx, msg); err != nil {
			slog.Error("WhatsApp send failed", "chat", msg.ChatID, "error", err)
		}
	})
	return nil
}

// handlePairing renders login QR codes to a PNG the operator can scan.
func (c *WhatsAppChannel) handlePairing(stateDir string, qrChan <-chan whatsmeow.QRChannelItem) {
	qrPath := filepath.Join(stateDir, "whatsapp-qr.png")
	for evt := range qrChan {
		if evt.Event == "code" {
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err != nil {
				slog.Error("Writing login QR failed", "error", err)
				continue
			}
			fmt.Printf("WhatsApp login QR saved to %s, scan it with your phone.\n", qrPath)
		} else {
			slog.Info("WhatsApp login event", "event", evt.Event)
		}
	}
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	return nil
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.Outbound) error {
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}
	jid, err := types.ParseJID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}

	if msg.FilePath != "" {
		return c.sendDocument(ctx, jid, msg.FilePath, msg.Caption)
	}

	waMsg := &waE2E.Message{
		Conversation: proto.String(msg.Content),
	}
	_, err = c.client.SendMessage(ctx, jid, waMsg)
	return err
}

func (c *WhatsAppChannel) sendDocument(ctx context.Context, jid types.JID, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}
	uploaded, err := c.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return fmt.Errorf("uploading attachment: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := filepath.Base(path)

	waMsg := &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(name),
			FileName:      proto.String(name),
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		},
	}
	_, err = c.client.SendMessage(ctx, jid, waMsg)
	return err
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		content := extractText(v.Message)
		if content == "" {
			return
		}

		sender := v.Info.Sender.User
		if !c.isAllowed(sender) {
			slog.Warn("Unauthorized WhatsApp sender", "sender", sender)
			if c.config.DropUnauthorized {
				return
			}
		}

		c.Bus.PublishInbound(&bus.Turn{
			Channel:   c.Name(),
			SenderID:  sender,
			ChatID:    v.Info.Chat.String(),
			Handle:    "wa:" + v.Info.ID,
			Content:   content,
			ArrivedAt: v.Info.Timestamp,
		})
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if t := msg.GetExtendedTextMessage().GetText(); t != "" {
		return t
	}
	return ""
}

func (c *WhatsAppChannel) isAllowed(sender string) bool {
	if len(c.config.AllowFrom) == 0 {
		return false
	}
	for _, allowed := range c.config.AllowFrom {
		if allowed == sender {
			return true
		}
	}
	return false
}
