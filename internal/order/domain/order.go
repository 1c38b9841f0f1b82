package domain

import (
	"strconv"
	"strings"
	"time"
)

type OrderStatus string

const (
	StatusActive    OrderStatus = "Active"
	StatusCompleted OrderStatus = "Completed"
	StatusCancelled OrderStatus = "Cancelled"
)

type OrderType string

const (
	TypeImmediate OrderType = "Immediate"
	TypePreorder  OrderType = "Pre-order"
	TypeTakeaway  OrderType = "Takeaway"
)

// Order is a committed purchase. Amount and Items are snapshots taken at
// commit time and never change afterwards; Status is the only mutable
// field and moves Active -> Completed or Active -> Cancelled, nothing else.
type Order struct {
	ID           int64       `json:"id"`
	OwnerID      string      `json:"owner_id"`
	Amount       int64       `json:"amount"`
	Items        string      `json:"items"`
	Type         OrderType   `json:"type"`
	CreatedAt    time.Time   `json:"created_at"`
	DeliveryDate *time.Time  `json:"delivery_date,omitempty"`
	Status       OrderStatus `json:"status"`
}

// Member is a pre-registered identity with a funded balance. Coins share
// the same unit as order amounts.
type Member struct {
	ID    string `json:"member_id"`
	PIN   string `json:"-"`
	Name  string `json:"name"`
	Coins int64  `json:"coins"`
}

const guestPrefix = "Guest-"

// GuestID reports whether an owner id was synthesized for a cash-paying
// guest rather than assigned to a member.
func GuestID(ownerID string) bool {
	return strings.HasPrefix(ownerID, guestPrefix)
}

// NewGuestID builds a guest owner id from a short numeric reference.
// Collisions are not checked: guest orders are cash-settled and the id is
// advisory.
func NewGuestID(ref int) string {
	return guestPrefix + strconv.Itoa(ref)
}
