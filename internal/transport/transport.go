// ABOUTME: Transport contracts shared by the triage engine and the provider adapters
// ABOUTME: Defines the canonical InboundMessage and the outbound Sender plus a prefix router

// Package transport defines how messages enter and leave the gateway.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/triage-gateway/internal/store"
)

// ErrNoRoute is returned by Mux when no sender handles an address.
var ErrNoRoute = errors.New("no transport for address")

// InboundMessage is a provider message after normalization. The triage engine
// never sees provider envelopes.
type InboundMessage struct {
	ContactAddress string
	ClientName     string
	Body           string
	Type           store.MessageType
	MediaURL       string
	MessageID      string // provider message id, used for dedupe
	Raw            []byte // original payload, kept for provenance
}

// Sender delivers plain text to a contact address.
type Sender interface {
	SendText(ctx context.Context, address, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, address, text string) error

// SendText implements Sender.
func (f SenderFunc) SendText(ctx context.Context, address, text string) error {
	return f(ctx, address, text)
}

type route struct {
	prefix string
	sender Sender
}

// Mux picks a Sender by address prefix, e.g. "matrix:" for Matrix rooms.
// Addresses matching no prefix go to the fallback.
type Mux struct {
	routes   []route
	fallback Sender
}

// NewMux creates a Mux with the given fallback sender, which may be nil.
func NewMux(fallback Sender) *Mux {
	return &Mux{fallback: fallback}
}

// Handle registers sender for addresses starting with prefix.
func (m *Mux) Handle(prefix string, sender Sender) {
	m.routes = append(m.routes, route{prefix: prefix, sender: sender})
}

// SendText implements Sender.
func (m *Mux) SendText(ctx context.Context, address, text string) error {
	for _, r := range m.routes {
		if strings.HasPrefix(address, r.prefix) {
			return r.sender.SendText(ctx, address, text)
		}
	}
	if m.fallback == nil {
		return fmt.Errorf("%w: %q", ErrNoRoute, address)
	}
	return m.fallback.SendText(ctx, address, text)
}
