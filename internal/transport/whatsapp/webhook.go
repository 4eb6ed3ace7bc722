// ABOUTME: Normalizes Evolution API webhook payloads into transport.InboundMessage
// ABOUTME: Only messages.upsert events from contacts are accepted; everything else is ignored

package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
)

// EventMessagesUpsert is the only event the gateway processes.
const EventMessagesUpsert = "messages.upsert"

// ErrIgnored marks payloads that are valid but carry nothing to triage.
var ErrIgnored = errors.New("webhook event ignored")

type webhookPayload struct {
	Event    string       `json:"event"`
	Instance string       `json:"instance"`
	Data     *messageData `json:"data"`
}

type messageData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName    string          `json:"pushName"`
	MessageType string          `json:"messageType"`
	Message     *messageContent `json:"message"`
}

type messageContent struct {
	Conversation        *string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *mediaMessage `json:"imageMessage"`
	VideoMessage    *mediaMessage `json:"videoMessage"`
	AudioMessage    *mediaMessage `json:"audioMessage"`
	DocumentMessage *mediaMessage `json:"documentMessage"`
}

type mediaMessage struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

// ParseWebhook decodes an Evolution webhook body. It returns ErrIgnored for
// other events, messages sent by the instance itself, and payloads without a
// chat id.
func ParseWebhook(body []byte) (*transport.InboundMessage, string, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", fmt.Errorf("decoding webhook: %w", err)
	}
	if p.Event != EventMessagesUpsert {
		return nil, p.Event, ErrIgnored
	}
	if p.Data == nil || p.Data.Key.RemoteJID == "" {
		return nil, p.Event, ErrIgnored
	}
	if p.Data.Key.FromMe {
		return nil, p.Event, ErrIgnored
	}

	d := p.Data
	msg := &transport.InboundMessage{
		ContactAddress: strings.TrimSuffix(d.Key.RemoteJID, userSuffix),
		ClientName:     d.PushName,
		Type:           messageType(d),
		MessageID:      d.Key.ID,
		Raw:            body,
	}
	if m := d.Message; m != nil {
		msg.Body = messageBody(m)
		msg.MediaURL = mediaURL(m)
	}
	return msg, p.Event, nil
}

func messageBody(m *messageContent) string {
	switch {
	case m.Conversation != nil:
		return *m.Conversation
	case m.ExtendedTextMessage != nil:
		return m.ExtendedTextMessage.Text
	case m.ImageMessage != nil && m.ImageMessage.Caption != "":
		return m.ImageMessage.Caption
	case m.VideoMessage != nil:
		return m.VideoMessage.Caption
	}
	return ""
}

func mediaURL(m *messageContent) string {
	for _, media := range []*mediaMessage{m.ImageMessage, m.VideoMessage, m.AudioMessage, m.DocumentMessage} {
		if media != nil && media.URL != "" {
			return media.URL
		}
	}
	return ""
}

func messageType(d *messageData) store.MessageType {
	if d.MessageType != "" {
		switch d.MessageType {
		case "conversation", "extendedTextMessage":
			return store.TypeText
		case "imageMessage":
			return store.TypeImage
		case "videoMessage":
			return store.TypeVideo
		case "audioMessage":
			return store.TypeAudio
		case "documentMessage":
			return store.TypeDocument
		default:
			return store.TypeOther
		}
	}

	if m := d.Message; m != nil {
		switch {
		case m.ImageMessage != nil:
			return store.TypeImage
		case m.VideoMessage != nil:
			return store.TypeVideo
		case m.AudioMessage != nil:
			return store.TypeAudio
		case m.DocumentMessage != nil:
			return store.TypeDocument
		}
	}
	return store.TypeText
}
