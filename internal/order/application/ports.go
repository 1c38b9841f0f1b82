package application

import (
	"context"
	"time"

	"github.com/nutritheory/merchant-bot/internal/order/domain"
)

// Repository is the persistence contract the ordering core depends on.
// Implementations must serialize every balance read-modify-write and every
// order status transition per affected entity; the two composite
// operations exist so that requirement is expressible as a single
// all-or-nothing call.
type Repository interface {
	VerifyMember(ctx context.Context, id, pin string) (domain.Member, error)
	GetBalance(ctx context.Context, memberID string) (int64, error)
	SetBalance(ctx context.Context, memberID string, balance int64) error

	// InsertOrder assigns the id and creation time and stores the order
	// with status Active. Used directly only for guest orders, which carry
	// no balance mutation.
	InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error)

	FindOrderByID(ctx context.Context, id int64) (domain.Order, error)
	FindLastActiveOrder(ctx context.Context, ownerID string) (domain.Order, error)

	// SetOrderStatus transitions an order out of Active. It fails with
	// ErrAlreadyFinalized if the order is in a terminal state and
	// ErrNotFound if it does not exist.
	SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error

	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListMembers(ctx context.Context) ([]domain.Member, error)

	// DebitAndInsertOrder re-reads the member's balance under a row lock,
	// fails with ErrInsufficientFunds if the order amount exceeds it, and
	// otherwise debits the balance and inserts the order in one
	// transaction. Returns the stored order and the new balance.
	DebitAndInsertOrder(ctx context.Context, o domain.Order) (domain.Order, int64, error)

	// CancelWithRefund flips an Active order to Cancelled and credits the
	// refund onto the member's balance in one transaction. Fails with
	// ErrAlreadyFinalized if the order is no longer Active. Returns the
	// new balance.
	CancelWithRefund(ctx context.Context, orderID int64, memberID string, refund int64) (int64, error)
}

// Clock lets the hour-gated rules run against an injected time source in
// tests.
type Clock func() time.Time
