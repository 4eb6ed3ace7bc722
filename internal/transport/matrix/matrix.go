// ABOUTME: Matrix transport: rooms act as contacts addressed as "matrix:<room id>"
// ABOUTME: Sends markdown-rendered replies and turns synced room messages into inbound messages

// Package matrix connects the gateway to a Matrix homeserver through mautrix.
package matrix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
)

// AddressPrefix marks contact addresses that belong to Matrix rooms.
const AddressPrefix = "matrix:"

// typingTimeout is how long the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds Matrix API calls made outside a request context.
const networkTimeout = 10 * time.Second

// Handler receives normalized room messages.
type Handler func(ctx context.Context, msg transport.InboundMessage) error

// Transport sends to and listens on Matrix rooms.
type Transport struct {
	client       *mautrix.Client
	userID       id.UserID
	allowedRooms map[string]bool
	typing       bool
	md           goldmark.Markdown
	logger       *slog.Logger
}

// New creates a Transport from configuration.
func New(cfg config.MatrixConfig, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	t := &Transport{
		client:       client,
		userID:       id.UserID(cfg.UserID),
		allowedRooms: make(map[string]bool, len(cfg.AllowedRooms)),
		typing:       cfg.TypingIndicator,
		md:           goldmark.New(),
		logger:       logger.With("component", "matrix"),
	}
	for _, room := range cfg.AllowedRooms {
		t.allowedRooms[room] = true
	}
	return t, nil
}

// Address returns the contact address of a room.
func Address(roomID id.RoomID) string {
	return AddressPrefix + roomID.String()
}

// RoomID extracts the room from a contact address.
func RoomID(address string) (id.RoomID, error) {
	room, ok := strings.CutPrefix(address, AddressPrefix)
	if !ok || room == "" {
		return "", fmt.Errorf("not a matrix address: %q", address)
	}
	return id.RoomID(room), nil
}

// SendText implements transport.Sender.
func (t *Transport) SendText(ctx context.Context, address, text string) error {
	roomID, err := RoomID(address)
	if err != nil {
		return err
	}
	if _, err := t.client.SendMessageEvent(ctx, roomID, event.EventMessage, t.render(text)); err != nil {
		return fmt.Errorf("sending to room %s: %w", roomID, err)
	}
	return nil
}

// render builds message content with an HTML body. WhatsApp-style *bold*
// markers are widened so they render as bold rather than italics.
func (t *Transport) render(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}

	var buf bytes.Buffer
	if err := t.md.Convert([]byte(whatsappToMarkdown(text)), &buf); err != nil {
		t.logger.Debug("markdown render failed, sending plain text", "error", err)
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = strings.TrimSpace(buf.String())
	return content
}

func whatsappToMarkdown(text string) string {
	var b strings.Builder
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			// Hard line breaks keep menu options on their own lines.
			b.WriteString("  \n")
		}
		b.WriteString(strings.ReplaceAll(line, "*", "**"))
	}
	return b.String()
}

// Run syncs until ctx is cancelled, handing each accepted room message to h.
func (t *Transport) Run(ctx context.Context, h Handler) error {
	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	// Skip the backlog delivered by the first sync.
	syncer.OnSync(t.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := t.inbound(evt)
		if !ok {
			return
		}
		if t.typing {
			t.setTyping(evt.RoomID, true)
			defer t.setTyping(evt.RoomID, false)
		}
		if err := h(ctx, msg); err != nil {
			t.logger.Error("handling room message", "room", evt.RoomID.String(), "error", err)
		}
	})

	t.logger.Info("matrix sync starting", "user_id", t.userID.String())

	syncCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- t.client.SyncWithContext(syncCtx)
	}()

	select {
	case <-ctx.Done():
		cancel()
		<-syncErr
		t.logger.Info("matrix sync stopped")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// inbound filters and normalizes a room event.
func (t *Transport) inbound(evt *event.Event) (transport.InboundMessage, bool) {
	if evt.Sender == t.userID {
		return transport.InboundMessage{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return transport.InboundMessage{}, false
	}
	if !t.roomAllowed(evt.RoomID) {
		t.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return transport.InboundMessage{}, false
	}

	name, _, err := evt.Sender.Parse()
	if err != nil {
		name = evt.Sender.String()
	}
	return transport.InboundMessage{
		ContactAddress: Address(evt.RoomID),
		ClientName:     name,
		Body:           content.Body,
		Type:           store.TypeText,
		MessageID:      evt.ID.String(),
		Raw:            evt.Content.VeryRaw,
	}, true
}

func (t *Transport) roomAllowed(roomID id.RoomID) bool {
	if len(t.allowedRooms) == 0 {
		return true
	}
	return t.allowedRooms[roomID.String()]
}

func (t *Transport) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := t.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		t.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}
