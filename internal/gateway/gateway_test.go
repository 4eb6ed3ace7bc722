// ABOUTME: Tests for the gateway HTTP surface: health checks and the WhatsApp webhook pipeline
// ABOUTME: Uses a real SQLite store, httptest and a recording outbound sender

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/sectors"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
	"github.com/2389/triage-gateway/internal/triage"
)

type sentText struct {
	Address string
	Text    string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentText
}

func (r *recordingSender) SendText(_ context.Context, address, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentText{Address: address, Text: text})
	return nil
}

func (r *recordingSender) Sent() []sentText {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentText(nil), r.sent...)
}

type testGateway struct {
	gw     *Gateway
	store  *store.SQLiteStore
	sender *recordingSender
	server *httptest.Server
}

func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *testGateway {
	t.Helper()

	cfg := config.Default()
	cfg.Sectors = []config.SectorSeed{
		{Name: "Financeiro", Slug: "financeiro", MenuCode: "1"},
		{Name: "Tributos", Slug: "tributos", MenuCode: "2"},
	}
	for _, m := range mutate {
		m(cfg)
	}

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	_, err = sectors.New(cfg.Bot.ReceptionSector, logger).Seed(context.Background(), s, cfg.Sectors)
	require.NoError(t, err)

	sender := &recordingSender{}
	gw := assemble(cfg, s, sender, nil, logger)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Close()
	})

	return &testGateway{gw: gw, store: s, sender: sender, server: srv}
}

func (tg *testGateway) do(t *testing.T, method, path string, body any, header ...string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, tg.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func upsert(id, jid, text string) string {
	return fmt.Sprintf(`{"event":"messages.upsert","instance":"prefeitura","data":{
		"key":{"remoteJid":%q,"fromMe":false,"id":%q},
		"pushName":"Ana","messageType":"conversation",
		"message":{"conversation":%q}}}`, jid, id, text)
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	resp, _ := tg.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhook_MenuThenChoice(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	resp, body := tg.do(t, http.MethodPost, "/webhook/whatsapp", upsert("M1", "5511999990000@s.whatsapp.net", "oi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 1, body["replies"])
	convID, _ := body["conversation_id"].(string)
	require.NotEmpty(t, convID)

	sent := tg.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "5511999990000", sent[0].Address)
	assert.Contains(t, sent[0].Text, "Financeiro")

	resp, body = tg.do(t, http.MethodPost, "/webhook/whatsapp", upsert("M2", "5511999990000@s.whatsapp.net", "1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, convID, body["conversation_id"])

	conv, err := tg.store.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusQueued, conv.Status)
	assert.Equal(t, store.BotHandoff, conv.BotState)

	msgs, err := tg.store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "M1", msgs[0].ProviderMessageID)
	assert.NotEmpty(t, msgs[0].RawPayload)
	assert.Equal(t, triage.KindMenuChoice, msgs[3].Kind)
}

func TestWebhook_DuplicateDeliveryIsDropped(t *testing.T) {
	tg := newTestGateway(t)
	payload := upsert("DUP", "5511888880000@s.whatsapp.net", "oi")

	_, first := tg.do(t, http.MethodPost, "/webhook/whatsapp", payload)
	require.Equal(t, "success", first["status"])

	resp, second := tg.do(t, http.MethodPost, "/webhook/whatsapp", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", second["status"])

	msgs, err := tg.store.ListMessages(context.Background(), first["conversation_id"].(string))
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "inbound plus menu, recorded once")
	assert.Len(t, tg.sender.Sent(), 1)
}

func TestWebhook_IgnoredAndMalformed(t *testing.T) {
	tg := newTestGateway(t)

	resp, body := tg.do(t, http.MethodPost, "/webhook/whatsapp", `{"event":"chats.update","data":{}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "chats.update", body["event"])

	resp, body = tg.do(t, http.MethodPost, "/webhook/whatsapp",
		`{"event":"messages.upsert","data":{"key":{"remoteJid":"5511@s.whatsapp.net","fromMe":true,"id":"X"}}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])

	resp, body = tg.do(t, http.MethodPost, "/webhook/whatsapp", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])

	convs, err := tg.store.ListConversations(context.Background(), store.ConversationFilter{})
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestWebhook_EventPathSuffix(t *testing.T) {
	tg := newTestGateway(t)
	resp, body := tg.do(t, http.MethodPost, "/webhook/whatsapp/messages-upsert", upsert("S1", "5511777770000@s.whatsapp.net", "oi"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
}

func TestWebhook_Secret(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) { c.WhatsApp.WebhookSecret = "s3cret" })
	payload := upsert("SEC1", "5511666660000@s.whatsapp.net", "oi")

	resp, _ := tg.do(t, http.MethodPost, "/webhook/whatsapp", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodPost, "/webhook/whatsapp", payload, webhookSecretHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = tg.do(t, http.MethodPost, "/webhook/whatsapp", payload, webhookSecretHeader, "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := tg.do(t, http.MethodPost, "/webhook/whatsapp?secret=s3cret", upsert("SEC2", "5511666660000@s.whatsapp.net", "1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
}

func TestWebhook_FailureForgetsMessageID(t *testing.T) {
	tg := newTestGateway(t)
	require.NoError(t, tg.store.Close())

	resp, body := tg.do(t, http.MethodPost, "/webhook/whatsapp", upsert("FAIL", "5511555550000@s.whatsapp.net", "oi"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Zero(t, tg.gw.dedupe.Len(), "a retry must be processed")

	resp, _ = tg.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleMatrixMessage(t *testing.T) {
	tg := newTestGateway(t)
	msg := transport.InboundMessage{
		ContactAddress: "matrix:!room:example.org",
		ClientName:     "ana",
		Body:           "oi",
		Type:           store.TypeText,
		MessageID:      "$evt",
	}

	require.NoError(t, tg.gw.handleMatrixMessage(context.Background(), msg))
	require.NoError(t, tg.gw.handleMatrixMessage(context.Background(), msg), "replay is not an error")

	sent := tg.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "matrix:!room:example.org", sent[0].Address)
}
