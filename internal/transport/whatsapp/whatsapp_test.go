// ABOUTME: Tests for the Evolution API client and webhook normalization
// ABOUTME: Uses httptest for the outbound API

package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5511999990000", "5511999990000"},
		{"5511999990000@s.whatsapp.net", "5511999990000"},
		{"(11) 99999-0000", "5511999990000"},
		{"011999990000", "5511999990000"},
		{"120363025@g.us", "120363025@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.in, "55"))
		})
	}
}

func TestClient_SendText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody sendTextRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key":{"id":"OUT1"}}`))
	}))
	defer srv.Close()

	c := NewClient(config.WhatsAppConfig{
		BaseURL:     srv.URL + "/",
		Token:       "evo-token",
		Instance:    "prefeitura",
		CountryCode: "55",
		Timeout:     time.Second,
	}, nil)

	require.NoError(t, c.SendText(context.Background(), "11999990000", "Olá!"))
	assert.Equal(t, "/message/sendText/prefeitura", gotPath)
	assert.Equal(t, "evo-token", gotKey)
	assert.Equal(t, sendTextRequest{Number: "5511999990000", Text: "Olá!"}, gotBody)
}

func TestClient_SendTextAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"instance not connected"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(config.WhatsAppConfig{BaseURL: srv.URL, Token: "t", Instance: "i"}, nil)
	err := c.SendText(context.Background(), "5511", "oi")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "instance not connected")
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *transport.InboundMessage
	}{
		{
			name: "plain text",
			body: `{"event":"messages.upsert","instance":"prefeitura","data":{
				"key":{"remoteJid":"5511999990000@s.whatsapp.net","fromMe":false,"id":"ABC"},
				"pushName":"Ana","messageType":"conversation",
				"message":{"conversation":"preciso de boleto"}}}`,
			want: &transport.InboundMessage{
				ContactAddress: "5511999990000",
				ClientName:     "Ana",
				Body:           "preciso de boleto",
				Type:           store.TypeText,
				MessageID:      "ABC",
			},
		},
		{
			name: "extended text",
			body: `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"X"},
				"messageType":"extendedTextMessage","message":{"extendedTextMessage":{"text":"oi"}}}}`,
			want: &transport.InboundMessage{ContactAddress: "5511", Body: "oi", Type: store.TypeText, MessageID: "X"},
		},
		{
			name: "image with caption",
			body: `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"IMG"},
				"messageType":"imageMessage","message":{"imageMessage":{"url":"https://mmg.example/a.enc","caption":"meu iptu"}}}}`,
			want: &transport.InboundMessage{
				ContactAddress: "5511",
				Body:           "meu iptu",
				Type:           store.TypeImage,
				MediaURL:       "https://mmg.example/a.enc",
				MessageID:      "IMG",
			},
		},
		{
			name: "audio without messageType",
			body: `{"event":"messages.upsert","data":{"key":{"remoteJid":"5511@s.whatsapp.net","id":"AUD"},
				"message":{"audioMessage":{"url":"https://mmg.example/b.enc"}}}}`,
			want: &transport.InboundMessage{
				ContactAddress: "5511",
				Type:           store.TypeAudio,
				MediaURL:       "https://mmg.example/b.enc",
				MessageID:      "AUD",
			},
		},
		{
			name: "group keeps jid",
			body: `{"event":"messages.upsert","data":{"key":{"remoteJid":"1203@g.us","id":"G"},
				"messageType":"stickerMessage","message":{}}}`,
			want: &transport.InboundMessage{ContactAddress: "1203@g.us", Type: store.TypeOther, MessageID: "G"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, event, err := ParseWebhook([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, EventMessagesUpsert, event)
			assert.NotEmpty(t, got.Raw)
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(transport.InboundMessage{}, "Raw")); diff != "" {
				t.Errorf("ParseWebhook() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseWebhook_Ignored(t *testing.T) {
	ignored := []string{
		`{"event":"chats.update","data":{}}`,
		`{"event":"messages.upsert","data":{"key":{"remoteJid":"5511@s.whatsapp.net","fromMe":true,"id":"ME"}}}`,
		`{"event":"messages.upsert","data":{"key":{}}}`,
		`{"event":"messages.upsert"}`,
	}
	for _, body := range ignored {
		_, _, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, ErrIgnored, body)
	}

	_, _, err := ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrIgnored)
}
