package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nutritheory/merchant-bot/internal/order/domain"
)

// cancelWindow is how long after creation an Immediate or Takeaway order
// stays cancellable.
const cancelWindow = 15 * time.Minute

// preorderCutoffHour: a pre-order can still be cancelled on its delivery
// day, but only before this local hour.
const preorderCutoffHour = 6

// CancelEngine decides cancel eligibility and performs the atomic refund.
// It runs out-of-band: no conversation session is required, only an order
// id or an owner identity.
type CancelEngine struct {
	log  *slog.Logger
	repo Repository
	now  Clock
}

func NewCancelEngine(log *slog.Logger, repo Repository) *CancelEngine {
	return &CancelEngine{log: log, repo: repo, now: time.Now}
}

type CancelRequest struct {
	// OrderID targets an explicit order. Zero means "the owner's most
	// recent Active order".
	OrderID int64
	OwnerID string
}

type CancelResult struct {
	Order      domain.Order
	Refunded   int64
	NewBalance int64
	IsMember   bool
}

func (e *CancelEngine) CancelOrder(ctx context.Context, req CancelRequest) (CancelResult, error) {
	o, err := e.locate(ctx, req)
	if err != nil {
		return CancelResult{}, err
	}
	if o.Status != domain.StatusActive {
		return CancelResult{}, ErrAlreadyFinalized
	}
	if err := eligible(o, e.now()); err != nil {
		return CancelResult{}, err
	}

	if domain.GuestID(o.OwnerID) {
		if err := e.repo.SetOrderStatus(ctx, o.ID, domain.StatusCancelled); err != nil {
			return CancelResult{}, fmt.Errorf("cancel guest order %d: %w", o.ID, err)
		}
		o.Status = domain.StatusCancelled
		e.log.Info("guest order cancelled", "order_id", o.ID, "owner_id", o.OwnerID)
		return CancelResult{Order: o}, nil
	}

	balance, err := e.repo.CancelWithRefund(ctx, o.ID, o.OwnerID, o.Amount)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel order %d: %w", o.ID, err)
	}
	o.Status = domain.StatusCancelled
	e.log.Info("order cancelled",
		"order_id", o.ID, "owner_id", o.OwnerID, "refund", o.Amount, "balance", balance)
	return CancelResult{Order: o, Refunded: o.Amount, NewBalance: balance, IsMember: true}, nil
}

func (e *CancelEngine) locate(ctx context.Context, req CancelRequest) (domain.Order, error) {
	if req.OrderID > 0 {
		return e.repo.FindOrderByID(ctx, req.OrderID)
	}
	if req.OwnerID == "" {
		return domain.Order{}, ErrNotFound
	}
	return e.repo.FindLastActiveOrder(ctx, req.OwnerID)
}

// windowError carries the specific user-visible reason while still
// matching ErrWindowExpired under errors.Is.
type windowError struct{ reason string }

func (e windowError) Error() string        { return e.reason }
func (e windowError) Is(target error) bool { return target == ErrWindowExpired }

func eligible(o domain.Order, now time.Time) error {
	switch o.Type {
	case domain.TypeImmediate, domain.TypeTakeaway:
		if now.Sub(o.CreatedAt) < cancelWindow {
			return nil
		}
		return windowError{"Cancellation time (15 mins) exceeded."}
	case domain.TypePreorder:
		if o.DeliveryDate == nil {
			return windowError{"Delivery date missing."}
		}
		today := dateOf(now)
		delivery := dateOf(*o.DeliveryDate)
		switch {
		case today.Before(delivery):
			return nil
		case today.Equal(delivery):
			if now.Hour() < preorderCutoffHour {
				return nil
			}
			return windowError{"Cannot cancel on delivery day after 6 AM."}
		default:
			return windowError{"Order date passed."}
		}
	}
	return windowError{"Unknown order type."}
}

// dateOf normalizes to the calendar date in the time's own location, so a
// local "today" compares correctly against a UTC-midnight delivery date.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UserFacingReason maps a cancellation error to the message shown to the
// customer.
func UserFacingReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "No active order found to cancel."
	case errors.Is(err, ErrAlreadyFinalized):
		return "Order is already processed or cancelled."
	case errors.Is(err, ErrWindowExpired):
		var we windowError
		if errors.As(err, &we) {
			return we.reason
		}
		return "Cancellation window expired."
	default:
		return "Something went wrong while cancelling. Please try again."
	}
}
