// Package inventory owns the authoritative record of sellable items and the
// lifecycle state machine that mediates every state change.
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of an inventory item
type State string

const (
	StateDraft    State = "draft"
	StateActive   State = "active"
	StateSold     State = "sold"
	StateShipped  State = "shipped"
	StateArchived State = "archived"
)

// IsValidState returns true if the string is a defined State
func IsValidState(s string) bool {
	switch State(s) {
	case StateDraft, StateActive, StateSold, StateShipped, StateArchived:
		return true
	default:
		return false
	}
}

// legalEdges holds the permitted forward transitions. Anything not listed
// here is rejected; in particular sold never reverts.
var legalEdges = map[State][]State{
	StateDraft:   {StateActive, StateArchived},
	StateActive:  {StateSold, StateArchived},
	StateSold:    {StateShipped},
	StateShipped: {StateArchived},
}

// CanTransition reports whether from -> to is a legal lifecycle edge
func CanTransition(from, to State) bool {
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Listable reports whether an item in this state may be published to
// marketplaces. Only draft and active items can be listed.
func (s State) Listable() bool {
	return s == StateDraft || s == StateActive
}

// Item represents one physical sellable unit
type Item struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	State       State     `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TransitionRecord is one immutable entry in the state history ledger
type TransitionRecord struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	FromState State     `json:"from_state"`
	ToState   State     `json:"to_state"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewItem creates a draft item owned by userID
func NewItem(userID, title string, priceCents int64) *Item {
	now := time.Now()
	return &Item{
		ID:         newItemID(),
		UserID:     userID,
		Title:      title,
		PriceCents: priceCents,
		State:      StateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newItemID() string {
	return "itm_" + uuid.NewString()
}

func newTransitionID() string {
	return "str_" + uuid.NewString()
}
