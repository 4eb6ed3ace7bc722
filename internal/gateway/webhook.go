// ABOUTME: Inbound pipeline: WhatsApp webhook and Matrix sync messages into the triage engine
// ABOUTME: Provider message ids pass through the dedupe cache before anything is persisted

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/2389/triage-gateway/internal/dedupe"
	"github.com/2389/triage-gateway/internal/transport"
	"github.com/2389/triage-gateway/internal/transport/whatsapp"
	"github.com/2389/triage-gateway/internal/triage"
)

// Dedupe namespaces per provider.
const (
	providerWhatsApp = "whatsapp"
	providerMatrix   = "matrix"
)

// webhookSecretHeader carries the shared secret configured on the Evolution instance.
const webhookSecretHeader = "X-Webhook-Secret"

// errDuplicate reports a provider message id that was already handled.
var errDuplicate = errors.New("duplicate message")

// dispatch hands msg to the engine unless its provider id was seen recently.
// A failed attempt is forgotten so the provider's retry is processed.
func (g *Gateway) dispatch(ctx context.Context, provider string, msg transport.InboundMessage) (*triage.Result, error) {
	key := ""
	if msg.MessageID != "" {
		key = dedupe.Key(provider, msg.MessageID)
		if g.dedupe.Seen(key) {
			return nil, errDuplicate
		}
	}

	res, err := g.engine.HandleInbound(ctx, msg)
	if err != nil {
		if key != "" {
			g.dedupe.Forget(key)
		}
		return nil, err
	}
	g.publishMessage(ctx, res.Conversation, res.Inbound)
	return res, nil
}

// handleWhatsAppWebhook handles POST /webhook/whatsapp.
func (g *Gateway) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	if !g.webhookAuthorized(r) {
		g.logger.Warn("rejected webhook with bad secret", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "reading body failed"})
		return
	}

	msg, event, err := whatsapp.ParseWebhook(body)
	switch {
	case errors.Is(err, whatsapp.ErrIgnored):
		g.logger.Debug("webhook ignored", "event", event)
		resp := map[string]string{"status": "ignored"}
		if event != "" {
			resp["event"] = event
		}
		writeJSON(w, http.StatusOK, resp)
		return
	case err != nil:
		g.logger.Warn("malformed webhook", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "malformed payload"})
		return
	}

	g.logger.Info("whatsapp message received",
		"contact", msg.ContactAddress,
		"type", msg.Type,
		"message_id", msg.MessageID,
	)

	res, err := g.dispatch(r.Context(), providerWhatsApp, *msg)
	switch {
	case errors.Is(err, errDuplicate):
		g.logger.Debug("duplicate webhook delivery", "message_id", msg.MessageID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	case err != nil:
		g.logger.Error("processing webhook", "contact", msg.ContactAddress, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"conversation_id": res.Conversation.ID,
		"replies":         len(res.Replies),
	})
}

// webhookAuthorized checks the shared secret from the header or the
// ?secret= query parameter. No secret configured accepts everything.
func (g *Gateway) webhookAuthorized(r *http.Request) bool {
	secret := g.config.WhatsApp.WebhookSecret
	if secret == "" {
		return true
	}
	got := r.Header.Get(webhookSecretHeader)
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// handleMatrixMessage feeds a synced room message into the engine.
func (g *Gateway) handleMatrixMessage(ctx context.Context, msg transport.InboundMessage) error {
	_, err := g.dispatch(ctx, providerMatrix, msg)
	if errors.Is(err, errDuplicate) {
		return nil
	}
	return err
}
