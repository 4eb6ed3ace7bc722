// ABOUTME: Triage engine: the per-message state machine that routes a client to a sector
// ABOUTME: Persists state and bot replies in one transaction, then delivers replies

// Package triage decides, for each inbound client message, whether to send the
// menu, route by menu code, keyword or clarification, consult the classifier,
// hand off to a human, or stay silent.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/triage-gateway/internal/airouter"
	"github.com/2389/triage-gateway/internal/clarify"
	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/keyword"
	"github.com/2389/triage-gateway/internal/lifecycle"
	"github.com/2389/triage-gateway/internal/sectors"
	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/textnorm"
	"github.com/2389/triage-gateway/internal/transport"
)

// maxMenuDigits bounds what counts as a menu code reply.
const maxMenuDigits = 3

// ErrNoContact is returned for an inbound message without a contact address.
var ErrNoContact = errors.New("inbound message has no contact address")

// Engine runs the triage state machine. It keeps no per-conversation state;
// everything lives on the conversation row.
type Engine struct {
	store     store.Store
	lifecycle *lifecycle.Manager
	sectors   *sectors.Directory
	keywords  *keyword.Router
	flows     *clarify.Engine
	ai        *airouter.Fallback
	sender    transport.Sender
	norm      *textnorm.Normalizer

	menuCommands    map[string]bool
	handoffCommands map[string]bool
	cooldown        time.Duration

	logger *slog.Logger
}

// New builds an Engine from the bot configuration. ai may be nil to disable
// classifier routing.
func New(cfg config.BotConfig, s store.Store, lc *lifecycle.Manager, sender transport.Sender, ai *airouter.Fallback, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	norm := textnorm.Default()
	e := &Engine{
		store:           s,
		lifecycle:       lc,
		sectors:         sectors.New(cfg.ReceptionSector, logger),
		keywords:        keyword.New(cfg.KeywordRoutes, norm),
		flows:           clarify.New(cfg.ClarificationFlows, norm),
		ai:              ai,
		sender:          sender,
		norm:            norm,
		menuCommands:    foldSet(norm, cfg.MenuCommands),
		handoffCommands: foldSet(norm, cfg.HumanHandoffCommands),
		cooldown:        cfg.MenuCooldown(),
		logger:          logger.With("component", "triage"),
	}
	return e
}

// Sectors returns the directory the engine routes with.
func (e *Engine) Sectors() *sectors.Directory {
	return e.sectors
}

func foldSet(norm *textnorm.Normalizer, cmds []string) map[string]bool {
	set := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		if f := norm.Fold(c); f != "" {
			set[f] = true
		}
	}
	return set
}

// Result describes what one inbound message produced.
type Result struct {
	Conversation *store.Conversation
	Inbound      *store.Message
	Replies      []*store.Message
}

// turn is the working state of one transaction.
type turn struct {
	tx     store.Tx
	conv   *store.Conversation
	now    time.Time
	outbox []*store.Message

	// classify is set when the classifier should be consulted after commit.
	classify []airouter.SectorInfo
}

// HandleInbound records a client message and runs the state machine for it.
// The contact lock covers each transaction only; delivery and the classifier
// run without it. Only persistence failures are returned; transport and
// classifier failures are logged.
func (e *Engine) HandleInbound(ctx context.Context, in transport.InboundMessage) (*Result, error) {
	if in.ContactAddress == "" {
		return nil, ErrNoContact
	}

	text := e.norm.Normalize(in.Body)
	res, classify, err := e.record(ctx, in, text)
	if err != nil {
		return nil, fmt.Errorf("handling inbound message: %w", err)
	}

	e.deliver(ctx, res.Conversation, res.Replies)

	if classify != nil {
		conv, replies := e.applyClassification(ctx, in.ContactAddress, res.Conversation.ID, text, classify)
		if conv != nil {
			res.Conversation = conv
			res.Replies = append(res.Replies, replies...)
		}
	}

	return res, nil
}

// record stores the inbound message and applies the rules in one transaction
// under the contact lock.
func (e *Engine) record(ctx context.Context, in transport.InboundMessage, text string) (*Result, []airouter.SectorInfo, error) {
	unlock := e.lifecycle.Locks().Lock(in.ContactAddress)
	defer unlock()

	res := &Result{}
	var classify []airouter.SectorInfo

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := e.lifecycle.FindOrCreateTx(ctx, tx, in.ContactAddress, in.ClientName)
		if err != nil {
			return err
		}

		now := e.lifecycle.Now()
		msgType := in.Type
		if msgType == "" {
			msgType = store.TypeText
		}
		inbound := &store.Message{
			ID:                uuid.NewString(),
			ConversationID:    conv.ID,
			Direction:         store.DirectionClient,
			Type:              msgType,
			Body:              in.Body,
			MediaURL:          in.MediaURL,
			ProviderMessageID: in.MessageID,
			RawPayload:        in.Raw,
			SentAt:            now,
		}
		if err := tx.CreateMessage(ctx, inbound); err != nil {
			return err
		}
		conv.LastMessageAt = &now

		t := &turn{tx: tx, conv: conv, now: now}
		if err := e.decide(ctx, t, text); err != nil {
			return err
		}

		conv.UpdatedAt = now
		if err := tx.UpdateConversation(ctx, conv); err != nil {
			return err
		}

		res.Conversation = conv
		res.Inbound = inbound
		res.Replies = t.outbox
		classify = t.classify
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, classify, nil
}

// decide runs the ordered rules against one message.
func (e *Engine) decide(ctx context.Context, t *turn, text string) error {
	conv := t.conv

	if conv.HasAgent() {
		e.logger.Debug("conversation owned by agent, skipping triage", "conversation_id", conv.ID)
		return nil
	}

	folded := e.norm.Fold(text)
	if e.menuCommands[folded] {
		e.reset(conv)
		return e.sendMenu(ctx, t)
	}

	if e.handoffCommands[folded] {
		return e.handoff(ctx, t)
	}

	if conv.BotState == store.BotAwaitingClarification {
		return e.answerClarification(ctx, t, text)
	}

	if conv.HasSector() {
		return nil
	}

	return e.triage(ctx, t, text)
}

// reset puts the conversation back under bot control with nothing chosen.
func (e *Engine) reset(conv *store.Conversation) {
	conv.CurrentSectorID = nil
	conv.CurrentAgentID = nil
	conv.Status = store.StatusNew
	conv.ClearClarification(store.BotIdle)
	conv.BotMenuSentAt = nil
	conv.BotLastPromptAt = nil
}

func (e *Engine) sendMenu(ctx context.Context, t *turn) error {
	active, err := e.sectors.Active(ctx, t.tx)
	if err != nil {
		return fmt.Errorf("listing sectors: %w", err)
	}
	if err := e.emit(ctx, t, KindMenu, menuText(active), nil); err != nil {
		return err
	}
	t.conv.BotState = store.BotMenuSent
	t.conv.BotMenuSentAt = &t.now
	t.conv.BotLastPromptAt = &t.now
	return nil
}

func (e *Engine) handoff(ctx context.Context, t *turn) error {
	reception, err := e.sectors.Reception(ctx, t.tx)
	if err != nil {
		return err
	}
	lifecycle.ApplySector(t.conv, reception)
	t.conv.ClearClarification(store.BotHandoff)
	return e.emit(ctx, t, KindHandoff, textHandoff, map[string]any{"sector_id": reception.ID})
}

func (e *Engine) answerClarification(ctx context.Context, t *turn, text string) error {
	conv := t.conv
	pending := conv.Clarification

	if opt, ok := clarify.Interpret(pending, text); ok {
		sector, err := e.sectors.BySlug(ctx, t.tx, opt.SectorSlug)
		switch {
		case err == nil:
			lifecycle.ApplySector(conv, sector)
			conv.ClearClarification(store.BotHandoff)
			return e.emit(ctx, t, KindClarifyChoice, routedText(sector), map[string]any{
				"sector_id":    sector.ID,
				"question_key": pending.QuestionKey,
			})
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("resolving option %q: %w", opt.SectorSlug, err)
		}
	}

	conv.BotLastPromptAt = &t.now
	return e.emit(ctx, t, KindClarifyInvalid, invalidPrefix+clarify.Render(pending), map[string]any{
		"question_key": pending.QuestionKey,
	})
}

// triage handles a sectorless conversation with nothing pending.
func (e *Engine) triage(ctx context.Context, t *turn, text string) error {
	conv := t.conv

	if conv.Status == store.StatusNew && conv.BotMenuSentAt == nil && conv.BotState != store.BotMenuSent {
		if err := e.sendMenu(ctx, t); err != nil {
			return err
		}
	}

	if textnorm.IsMenuCode(text, maxMenuDigits) {
		return e.selectMenuCode(ctx, t, text)
	}

	handled, err := e.startFlow(ctx, t, text)
	if err != nil || handled {
		return err
	}

	matched, err := e.keywords.Match(ctx, t.tx, text)
	if err != nil {
		return err
	}
	switch len(matched) {
	case 0:
	case 1:
		return e.route(ctx, t, matched[0], KindKeywordMatch, nil)
	default:
		return e.askClarification(ctx, t, clarify.FromSectors(matched))
	}

	if e.ai != nil && text != "" && !e.throttled(conv, t.now) {
		active, err := e.sectors.Active(ctx, t.tx)
		if err != nil {
			return fmt.Errorf("listing sectors: %w", err)
		}
		if len(active) > 0 {
			// Stamped before the call so failures still count against the cooldown.
			conv.BotLastPromptAt = &t.now
			t.classify = sectorInfos(active)
			return nil
		}
	}

	if e.cooldown > 0 && !e.throttled(conv, t.now) {
		conv.BotLastPromptAt = &t.now
		return e.emit(ctx, t, KindTriageNudge, textNudge, nil)
	}
	return nil
}

func (e *Engine) selectMenuCode(ctx context.Context, t *turn, code string) error {
	sector, err := e.sectors.ByMenuCode(ctx, t.tx, code)
	if errors.Is(err, store.ErrNotFound) {
		active, err := e.sectors.Active(ctx, t.tx)
		if err != nil {
			return fmt.Errorf("listing sectors: %w", err)
		}
		return e.emit(ctx, t, KindInvalidMenu, invalidMenuText(active), nil)
	}
	if err != nil {
		return err
	}

	lifecycle.ApplySector(t.conv, sector)
	t.conv.BotState = store.BotHandoff
	return e.emit(ctx, t, KindMenuChoice, menuChoiceText(sector), map[string]any{"sector_id": sector.ID})
}

// startFlow opens the first matching clarification flow that still has a usable
// option. A flow with a single usable option routes directly.
func (e *Engine) startFlow(ctx context.Context, t *turn, text string) (bool, error) {
	for _, flow := range e.flows.Matches(text) {
		cc, options, err := flow.Resolve(ctx, t.tx)
		if err != nil {
			return false, err
		}
		if cc == nil {
			e.logger.Warn("clarification flow has no active options", "trigger", flow.Trigger)
			continue
		}
		if len(options) == 1 {
			return true, e.route(ctx, t, options[0], KindKeywordMatch, map[string]any{"question_key": cc.QuestionKey})
		}
		return true, e.askClarification(ctx, t, cc)
	}
	return false, nil
}

func (e *Engine) askClarification(ctx context.Context, t *turn, cc *store.ClarificationContext) error {
	t.conv.AwaitClarification(cc)
	t.conv.BotLastPromptAt = &t.now
	return e.emit(ctx, t, KindClarifySector, clarify.Render(cc), map[string]any{"question_key": cc.QuestionKey})
}

// route assigns sector and hands the conversation to the sector queue.
func (e *Engine) route(ctx context.Context, t *turn, sector *store.Sector, kind string, meta map[string]any) error {
	lifecycle.ApplySector(t.conv, sector)
	t.conv.BotState = store.BotHandoff
	if meta == nil {
		meta = map[string]any{}
	}
	meta["sector_id"] = sector.ID
	return e.emit(ctx, t, kind, routedText(sector), meta)
}

// throttled reports whether the last automated prompt is inside the cooldown.
func (e *Engine) throttled(conv *store.Conversation, now time.Time) bool {
	if e.cooldown <= 0 || conv.BotLastPromptAt == nil {
		return false
	}
	return now.Sub(*conv.BotLastPromptAt) < e.cooldown
}

// emit persists a bot message; it is delivered after commit.
func (e *Engine) emit(ctx context.Context, t *turn, kind, body string, meta map[string]any) error {
	payload := map[string]any{"bot": true, "kind": kind}
	for k, v := range meta {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message metadata: %w", err)
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: t.conv.ID,
		Direction:      store.DirectionBot,
		Type:           store.TypeText,
		Body:           body,
		Kind:           kind,
		RawPayload:     raw,
		SentAt:         t.now,
	}
	if err := t.tx.CreateMessage(ctx, msg); err != nil {
		return err
	}
	t.conv.LastMessageAt = &t.now
	t.outbox = append(t.outbox, msg)
	return nil
}

// deliver sends committed replies in order. Failures are logged and never undo state.
func (e *Engine) deliver(ctx context.Context, conv *store.Conversation, msgs []*store.Message) {
	if e.sender == nil {
		return
	}
	for _, msg := range msgs {
		if err := e.sender.SendText(ctx, conv.ContactAddress, msg.Body); err != nil {
			e.logger.Error("failed to deliver bot message",
				"error", err,
				"conversation_id", conv.ID,
				"message_id", msg.ID,
				"kind", msg.Kind,
			)
		}
	}
}

func sectorInfos(active []*store.Sector) []airouter.SectorInfo {
	infos := make([]airouter.SectorInfo, 0, len(active))
	for _, s := range active {
		infos = append(infos, airouter.SectorInfo{Slug: s.Slug, Name: s.Name, MenuCode: s.MenuCode})
	}
	return infos
}
