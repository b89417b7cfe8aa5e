// Package events dispatches native events to worklet handlers.
package events

import (
	"slices"

	"github.com/cryguy/worklet/internal/shareable"
)

// Handler is a worklet registered for one or more event names. It is
// immutable once constructed.
type Handler struct {
	id      uint64
	names   []string
	worklet *shareable.Shareable
}

// NewHandler returns a handler listening for names, in the given order.
func NewHandler(id uint64, worklet *shareable.Shareable, names ...string) *Handler {
	return &Handler{id: id, names: slices.Clone(names), worklet: worklet}
}

func (h *Handler) ID() uint64 { return h.id }

// Names returns a copy of the event names.
func (h *Handler) Names() []string { return slices.Clone(h.names) }

func (h *Handler) Worklet() *shareable.Shareable { return h.worklet }

func (h *Handler) workletName() string {
	if w := h.worklet.Worklet(); w != nil && w.Name != "" {
		return w.Name
	}
	return "anonymous"
}
