// ABOUTME: Second phase of classifier routing, applied after the triage transaction commits
// ABOUTME: The decision is dropped when the conversation changed while the classifier ran

package triage

import (
	"context"
	"errors"

	"github.com/2389/triage-gateway/internal/airouter"
	"github.com/2389/triage-gateway/internal/store"
)

// applyClassification asks the classifier about text and applies its decision
// in a new transaction under the contact lock. It returns the updated
// conversation and the delivered replies, or nil when nothing was applied.
func (e *Engine) applyClassification(ctx context.Context, contact, conversationID, text string, active []airouter.SectorInfo) (*store.Conversation, []*store.Message) {
	decision := e.ai.Decide(ctx, text, active)
	if decision.Empty() {
		return nil, nil
	}

	conv, replies, err := e.commitClassification(ctx, contact, conversationID, decision)
	if err != nil {
		e.logger.Error("failed to apply classification", "error", err, "conversation_id", conversationID)
		return nil, nil
	}
	if conv == nil {
		return nil, nil
	}

	e.deliver(ctx, conv, replies)
	return conv, replies
}

// commitClassification re-reads the conversation and applies decision when it
// is still unrouted.
func (e *Engine) commitClassification(ctx context.Context, contact, conversationID string, decision airouter.Decision) (*store.Conversation, []*store.Message, error) {
	unlock := e.lifecycle.Locks().Lock(contact)
	defer unlock()

	var (
		conv    *store.Conversation
		replies []*store.Message
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !c.Status.IsOpen() || c.HasAgent() || c.HasSector() || c.BotState == store.BotAwaitingClarification {
			e.logger.Info("conversation changed during classification, dropping decision",
				"conversation_id", c.ID,
				"sector_slug", decision.SectorSlug,
			)
			return nil
		}

		t := &turn{tx: tx, conv: c, now: e.lifecycle.Now()}
		routed := false
		if decision.SectorSlug != "" {
			sector, err := e.sectors.BySlug(ctx, tx, decision.SectorSlug)
			switch {
			case err == nil:
				if err := e.route(ctx, t, sector, KindAIMatch, map[string]any{"confidence": decision.Confidence}); err != nil {
					return err
				}
				routed = true
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}
		if !routed && decision.Question != "" {
			c.BotLastPromptAt = &t.now
			if err := e.emit(ctx, t, KindAIClarify, decision.Question, nil); err != nil {
				return err
			}
		}
		if len(t.outbox) == 0 {
			return nil
		}

		c.UpdatedAt = t.now
		if err := tx.UpdateConversation(ctx, c); err != nil {
			return err
		}
		conv = c
		replies = t.outbox
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conv, replies, nil
}
