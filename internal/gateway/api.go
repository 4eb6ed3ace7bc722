// ABOUTME: JSON admin API for staff: conversation queue, ownership, transfers, replies, sectors and users
// ABOUTME: Domain errors map onto HTTP status codes in writeDomainError

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/triage-gateway/internal/events"
	"github.com/2389/triage-gateway/internal/lifecycle"
	"github.com/2389/triage-gateway/internal/sectors"
	"github.com/2389/triage-gateway/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ConversationResponse is the JSON view of a conversation.
type ConversationResponse struct {
	ID              string                      `json:"id"`
	ContactAddress  string                      `json:"contact_address"`
	ClientName      string                      `json:"client_name,omitempty"`
	Status          store.ConversationStatus    `json:"status"`
	CurrentSectorID *string                     `json:"current_sector_id"`
	CurrentAgentID  *string                     `json:"current_agent_id"`
	BotState        store.BotState              `json:"bot_state"`
	Clarification   *store.ClarificationContext `json:"clarification,omitempty"`
	LastMessageAt   *string                     `json:"last_message_at"`
	CreatedAt       string                      `json:"created_at"`
	UpdatedAt       string                      `json:"updated_at"`
}

// MessageResponse is the JSON view of a message.
type MessageResponse struct {
	ID        string                 `json:"id"`
	Direction store.MessageDirection `json:"direction"`
	Type      store.MessageType      `json:"type"`
	Body      string                 `json:"body,omitempty"`
	MediaURL  string                 `json:"media_url,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	SenderID  string                 `json:"sender_id,omitempty"`
	SentAt    string                 `json:"sent_at"`
}

// TransferResponse is the JSON view of a transfer log.
type TransferResponse struct {
	ID           string  `json:"id"`
	FromSectorID *string `json:"from_sector_id"`
	ToSectorID   *string `json:"to_sector_id"`
	FromAgentID  *string `json:"from_agent_id"`
	ToAgentID    *string `json:"to_agent_id"`
	Note         string  `json:"note,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// ConversationDetailResponse is returned by GET /api/conversations/{id}.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
	Transfers    []TransferResponse   `json:"transfers"`
}

// SectorResponse is the JSON view of a sector.
type SectorResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	MenuCode string `json:"menu_code"`
	Active   bool   `json:"active"`
}

// UserResponse is the JSON view of a staff user.
type UserResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Role     store.UserRole `json:"role"`
	SectorID *string        `json:"sector_id"`
	Active   bool           `json:"active"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:              c.ID,
		ContactAddress:  c.ContactAddress,
		ClientName:      c.ClientName,
		Status:          c.Status,
		CurrentSectorID: c.CurrentSectorID,
		CurrentAgentID:  c.CurrentAgentID,
		BotState:        c.BotState,
		Clarification:   c.Clarification,
		CreatedAt:       formatTimestamp(c.CreatedAt),
		UpdatedAt:       formatTimestamp(c.UpdatedAt),
	}
	if c.LastMessageAt != nil {
		ts := formatTimestamp(*c.LastMessageAt)
		resp.LastMessageAt = &ts
	}
	return resp
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Direction: m.Direction,
		Type:      m.Type,
		Body:      m.Body,
		MediaURL:  m.MediaURL,
		Kind:      m.Kind,
		SenderID:  m.SenderID,
		SentAt:    formatTimestamp(m.SentAt),
	}
}

func transferResponse(l *store.TransferLog) TransferResponse {
	return TransferResponse{
		ID:           l.ID,
		FromSectorID: l.FromSectorID,
		ToSectorID:   l.ToSectorID,
		FromAgentID:  l.FromAgentID,
		ToAgentID:    l.ToAgentID,
		Note:         l.Note,
		CreatedAt:    formatTimestamp(l.CreatedAt),
	}
}

func sectorResponse(s *store.Sector) SectorResponse {
	return SectorResponse{ID: s.ID, Name: s.Name, Slug: s.Slug, MenuCode: s.MenuCode, Active: s.Active}
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, SectorID: u.SectorID, Active: u.Active}
}

// writeDomainError maps lifecycle and store errors onto status codes.
func (g *Gateway) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrClosed):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidAssignment),
		errors.Is(err, lifecycle.ErrUnknownSector),
		errors.Is(err, lifecycle.ErrInvalidNote),
		errors.Is(err, lifecycle.ErrEmptyMessage),
		errors.Is(err, lifecycle.ErrInvalidUser),
		errors.Is(err, sectors.ErrInvalidSector):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("admin api request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseConversationFilter reads ?status=a,b&sector_id=&agent_id=&limit=.
func parseConversationFilter(r *http.Request) (store.ConversationFilter, error) {
	q := r.URL.Query()
	filter := store.ConversationFilter{
		SectorID: q.Get("sector_id"),
		AgentID:  q.Get("agent_id"),
		Limit:    defaultListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "open" {
				filter.Statuses = append(filter.Statuses, store.OpenStatuses...)
				continue
			}
			status := store.ConversationStatus(part)
			if !status.Valid() {
				return filter, fmt.Errorf("unknown status %q", part)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = min(n, maxListLimit)
	}
	return filter, nil
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseConversationFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := g.store.ListConversations(r.Context(), filter)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	conv, err := g.store.GetConversation(ctx, id)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	msgs, err := g.store.ListMessages(ctx, id)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	logs, err := g.store.ListTransferLogs(ctx, id)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}

	resp := ConversationDetailResponse{
		Conversation: conversationResponse(conv),
		Messages:     make([]MessageResponse, 0, len(msgs)),
		Transfers:    make([]TransferResponse, 0, len(logs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageResponse(m))
	}
	for _, l := range logs {
		resp.Transfers = append(resp.Transfers, transferResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

type assumeRequest struct {
	UserID string `json:"user_id"`
}

// handleAssume handles POST /api/conversations/{id}/assume.
func (g *Gateway) handleAssume(w http.ResponseWriter, r *http.Request) {
	var req assumeRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conv, err := g.lifecycle.Assume(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.publish(events.ConversationUpdated, conv)
	writeJSON(w, http.StatusOK, conversationResponse(conv))
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

// handleAssign handles POST /api/conversations/{id}/assign.
func (g *Gateway) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	conv, err := g.lifecycle.AssignAgent(r.Context(), chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.publish(events.ConversationUpdated, conv)
	writeJSON(w, http.StatusOK, conversationResponse(conv))
}

type transferRequest struct {
	SectorID string `json:"sector_id"`
	AgentID  string `json:"agent_id,omitempty"`
	Note     string `json:"note,omitempty"`
}

// handleTransfer handles POST /api/conversations/{id}/transfer.
func (g *Gateway) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SectorID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sector_id is required")
		return
	}

	conv, log, err := g.lifecycle.Transfer(r.Context(), chi.URLParam(r, "id"), lifecycle.TransferRequest{
		ToSectorID: req.SectorID,
		ToAgentID:  req.AgentID,
		Note:       req.Note,
	})
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.publish(events.ConversationUpdated, conv)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conversationResponse(conv),
		"transfer":     transferResponse(log),
	})
}

// handleClose handles POST /api/conversations/{id}/close.
func (g *Gateway) handleClose(w http.ResponseWriter, r *http.Request) {
	conv, err := g.lifecycle.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.publish(events.ConversationUpdated, conv)
	writeJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleArchive handles POST /api/conversations/{id}/archive.
func (g *Gateway) handleArchive(w http.ResponseWriter, r *http.Request) {
	conv, err := g.lifecycle.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.publish(events.ConversationUpdated, conv)
	writeJSON(w, http.StatusOK, conversationResponse(conv))
}

type sendMessageRequest struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
}

// handleSendMessage handles POST /api/conversations/{id}/messages: an agent
// reply recorded on the conversation and delivered to the contact.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	msg, err := g.lifecycle.RecordAgentMessage(r.Context(), chi.URLParam(r, "id"), req.AgentID, req.Text)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.publishMessage(r.Context(), nil, msg)
	writeJSON(w, http.StatusCreated, messageResponse(msg))
}

// handleListSectors handles GET /api/sectors.
func (g *Gateway) handleListSectors(w http.ResponseWriter, r *http.Request) {
	list, err := g.store.ListSectors(r.Context())
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	out := make([]SectorResponse, 0, len(list))
	for _, s := range list {
		out = append(out, sectorResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sectors": out})
}

type createSectorRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	MenuCode string `json:"menu_code"`
	Active   *bool  `json:"active,omitempty"`
}

// handleCreateSector handles POST /api/sectors.
func (g *Gateway) handleCreateSector(w http.ResponseWriter, r *http.Request) {
	var req createSectorRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	active := req.Active == nil || *req.Active

	sector, err := g.engine.Sectors().Create(r.Context(), g.store, strings.TrimSpace(req.Name), strings.TrimSpace(req.Slug), strings.TrimSpace(req.MenuCode), active)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sectorResponse(sector))
}

type updateSectorRequest struct {
	Active *bool `json:"active"`
}

// handleUpdateSector handles PATCH /api/sectors/{id}. Only the active flag is mutable.
func (g *Gateway) handleUpdateSector(w http.ResponseWriter, r *http.Request) {
	var req updateSectorRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Active == nil {
		g.sendJSONError(w, http.StatusBadRequest, "active is required")
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := g.store.SetSectorActive(ctx, id, *req.Active); err != nil {
		g.writeDomainError(w, err)
		return
	}
	sector, err := g.store.GetSector(ctx, id)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sectorResponse(sector))
}

// handleListUsers handles GET /api/users.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	SectorID string `json:"sector_id,omitempty"`
}

// handleCreateUser handles POST /api/users.
func (g *Gateway) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(r, w, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := g.lifecycle.CreateUser(r.Context(), lifecycle.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Role:     store.UserRole(req.Role),
		SectorID: req.SectorID,
	})
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse(user))
}

// handleAutoClose handles POST /api/autoclose?dry_run=true, running one sweep now.
func (g *Gateway) handleAutoClose(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	if !g.sweeper.Enabled() {
		g.sendJSONError(w, http.StatusConflict, "auto-close is disabled")
		return
	}

	res, err := g.sweeper.RunOnce(r.Context(), dryRun)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dry_run":    res.DryRun,
		"candidates": res.Candidates,
		"closed":     res.Closed,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
	})
}
