package domain

import (
	"time"

	"github.com/nutritheory/merchant-bot/internal/cart"
	orderdomain "github.com/nutritheory/merchant-bot/internal/order/domain"
)

// State enumerates the conversation machine. PlanSelection is the entry
// state of every fresh session.
type State int

const (
	StatePlanSelection State = iota
	StateMemberLoginID
	StateMemberLoginPIN
	StateMemberShopping
	StateNonMemberShopping
	StateMemberDeliveryChoice
	StateMemberPreorderDate
	StateTakeawaySelection
)

func (s State) String() string {
	switch s {
	case StatePlanSelection:
		return "plan_selection"
	case StateMemberLoginID:
		return "member_login_id"
	case StateMemberLoginPIN:
		return "member_login_pin"
	case StateMemberShopping:
		return "member_shopping"
	case StateNonMemberShopping:
		return "non_member_shopping"
	case StateMemberDeliveryChoice:
		return "member_delivery_choice"
	case StateMemberPreorderDate:
		return "member_preorder_date"
	case StateTakeawaySelection:
		return "takeaway_selection"
	}
	return "unknown"
}

// Session is the per-identity conversation record. It owns its cart for
// the duration of the dialogue; once an order commits, the cart snapshot
// lives on the order and the session is reset.
type Session struct {
	Identity string
	State    State
	IsMember bool
	Cart     cart.Cart

	// Member is a login-time snapshot kept for display. The authoritative
	// balance is always re-read before any debit or credit.
	Member *orderdomain.Member

	PendingLoginID string

	// CommittedTotal is set once the funds pre-check passes; it is the
	// amount the commit step uses.
	CommittedTotal int64

	PreorderDate *time.Time
}

// Reset returns the session to its initial state, dropping cart, login
// progress and member snapshot.
func (s *Session) Reset() {
	s.State = StatePlanSelection
	s.IsMember = false
	s.Cart = cart.New()
	s.Member = nil
	s.PendingLoginID = ""
	s.CommittedTotal = 0
	s.PreorderDate = nil
}

// Inbound is one text event from the transport. Per-identity ordering is
// the transport's responsibility.
type Inbound struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

// Reply is the engine's answer to one inbound event. Options are
// quick-reply labels the transport may render as buttons.
type Reply struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}
