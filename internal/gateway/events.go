// ABOUTME: Queue event publishing and the server-sent events feed for staff dashboards
// ABOUTME: Events are published after commit; the feed can follow one sector or all of them

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/triage-gateway/internal/events"
	"github.com/2389/triage-gateway/internal/store"
)

// sseKeepAlive is how often an idle feed writes a comment line so proxies
// keep the connection open.
const sseKeepAlive = 25 * time.Second

// publish announces a conversation change.
func (g *Gateway) publish(t events.Type, conv *store.Conversation) {
	if conv == nil {
		return
	}
	g.events.Publish(events.ForConversation(t, conv, time.Now()))
}

// publishMessage announces a stored message. conv may be nil, in which case
// it is loaded to find the sector.
func (g *Gateway) publishMessage(ctx context.Context, conv *store.Conversation, msg *store.Message) {
	if msg == nil {
		return
	}
	if conv == nil {
		var err error
		conv, err = g.store.GetConversation(ctx, msg.ConversationID)
		if err != nil {
			g.logger.Warn("skipping message event", "error", err, "conversation_id", msg.ConversationID)
			return
		}
	}
	ev := events.ForConversation(events.MessageCreated, conv, msg.SentAt)
	ev.MessageID = msg.ID
	g.events.Publish(ev)
}

// handleEvents handles GET /api/events. ?sector_id= narrows the feed.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sectorID := r.URL.Query().Get("sector_id")
	if sectorID != "" {
		if _, err := g.store.GetSector(r.Context(), sectorID); err != nil {
			g.writeDomainError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, _ := g.events.Subscribe(r.Context(), sectorID)
	g.writeSSEEvent(w, "ready", map[string]string{"sector_id": sectorID})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one server-sent event with a JSON payload.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
