// ABOUTME: Inactivity auto-closer: closes open conversations with no recent messages
// ABOUTME: Works in batches, one transaction per conversation, with an optional closing message

// Package autoclose periodically closes conversations that went quiet.
package autoclose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/triage-gateway/internal/store"
	"github.com/2389/triage-gateway/internal/transport"
)

// KindAutoClose tags the system message written when a conversation is closed.
const KindAutoClose = "auto_close"

const (
	closingText      = "Atendimento encerrado por inatividade. Se precisar, envie uma nova mensagem para reabrir."
	defaultBatchSize = 200
	defaultInterval  = time.Minute
)

// Config controls the sweep.
type Config struct {
	After       time.Duration // inactivity threshold; zero disables the sweep
	BatchSize   int
	Interval    time.Duration
	SendMessage bool

	// OnClosed, if set, is called after each conversation the sweep closes.
	OnClosed func(conv *store.Conversation)
}

// Result summarizes one sweep.
type Result struct {
	DryRun     bool
	Candidates int // dry run only
	Closed     int
	Skipped    int // touched after the candidate query
	Failed     int
}

// Sweeper closes inactive conversations.
type Sweeper struct {
	store  store.Store
	sender transport.Sender
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Sweeper. sender may be nil when no closing message is delivered.
func New(s store.Store, sender transport.Sender, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  s,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "autoclose"),
	}
}

// Enabled reports whether a threshold is configured.
func (s *Sweeper) Enabled() bool {
	return s.cfg.After > 0
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("auto-close disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("auto-close running", "after", s.cfg.After, "interval", s.cfg.Interval)
	for {
		if _, err := s.RunOnce(ctx, false); err != nil && ctx.Err() == nil {
			s.logger.Error("auto-close sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one sweep. With dryRun it only counts the conversations
// that would be closed.
func (s *Sweeper) RunOnce(ctx context.Context, dryRun bool) (Result, error) {
	res := Result{DryRun: dryRun}
	if !s.Enabled() {
		return res, nil
	}

	now := s.now().UTC()
	cutoff := now.Add(-s.cfg.After)

	if dryRun {
		n, err := s.store.CountAutoCloseCandidates(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("counting candidates: %w", err)
		}
		res.Candidates = n
		return res, nil
	}

	for {
		batch, err := s.store.ListAutoCloseCandidates(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("listing candidates: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		closedInBatch := 0
		for _, conv := range batch {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			closed, err := s.closeOne(ctx, conv, cutoff, now)
			switch {
			case err != nil:
				res.Failed++
				s.logger.Error("failed to close conversation", "error", err, "conversation_id", conv.ID)
			case closed:
				res.Closed++
				closedInBatch++
			default:
				res.Skipped++
			}
		}

		// Failed rows stay candidates; stop rather than retry them forever.
		if closedInBatch == 0 || len(batch) < s.cfg.BatchSize {
			break
		}
	}

	if res.Closed > 0 || res.Failed > 0 {
		s.logger.Info("auto-close sweep finished",
			"closed", res.Closed,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, nil
}

// closeOne closes a single conversation if it is still inactive.
func (s *Sweeper) closeOne(ctx context.Context, conv *store.Conversation, cutoff, now time.Time) (bool, error) {
	var msg *store.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		closed, err := tx.CloseInactiveConversation(ctx, conv.ID, cutoff, now)
		if err != nil || !closed {
			return err
		}

		raw, err := json.Marshal(map[string]any{"system": true, "kind": KindAutoClose})
		if err != nil {
			return err
		}
		msg = &store.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Direction:      store.DirectionSystem,
			Type:           store.TypeText,
			Body:           closingText,
			Kind:           KindAutoClose,
			RawPayload:     raw,
			SentAt:         now,
		}
		return tx.CreateMessage(ctx, msg)
	})
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}

	if s.cfg.OnClosed != nil {
		closed := *conv
		closed.Status = store.StatusClosed
		closed.CurrentAgentID = nil
		closed.ClearClarification(store.BotIdle)
		closed.LastMessageAt = &now
		closed.UpdatedAt = now
		s.cfg.OnClosed(&closed)
	}

	if s.cfg.SendMessage && s.sender != nil {
		if err := s.sender.SendText(ctx, conv.ContactAddress, closingText); err != nil {
			s.logger.Error("failed to deliver closing message",
				"error", err,
				"conversation_id", conv.ID,
				"message_id", msg.ID,
			)
		}
	}
	return true, nil
}
