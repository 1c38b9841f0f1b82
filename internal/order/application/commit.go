package application

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nutritheory/merchant-bot/internal/cart"
	"github.com/nutritheory/merchant-bot/internal/catalog"
	"github.com/nutritheory/merchant-bot/internal/order/domain"
)

// Coordinator turns a cart into a persisted order. Member orders debit the
// balance atomically with the insert; guest orders are cash-settled and
// only record the order.
type Coordinator struct {
	log        *slog.Logger
	repo       Repository
	memberMenu *catalog.Catalog
	guestMenu  *catalog.Catalog
}

func NewCoordinator(log *slog.Logger, repo Repository, memberMenu, guestMenu *catalog.Catalog) *Coordinator {
	return &Coordinator{log: log, repo: repo, memberMenu: memberMenu, guestMenu: guestMenu}
}

// CommitRequest carries one finalized cart into the commit step.
type CommitRequest struct {
	OwnerID      string
	Cart         cart.Cart
	Type         domain.OrderType
	DeliveryDate *time.Time
	IsMember     bool

	// Total is the amount pre-checked against the balance during the
	// dialogue. Zero means "price the cart now", which is what the staff
	// surface does.
	Total int64
}

// CommitResult is the created order plus the balance it left behind.
// NewBalance is meaningful only for member orders.
type CommitResult struct {
	Order      domain.Order
	NewBalance int64
}

func (c *Coordinator) CommitOrder(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.IsMember {
		return c.commitMember(ctx, req)
	}
	return c.commitGuest(ctx, req)
}

func (c *Coordinator) commitMember(ctx context.Context, req CommitRequest) (CommitResult, error) {
	total := req.Total
	if total == 0 {
		total = req.Cart.Total(c.memberMenu)
	}
	o := domain.Order{
		OwnerID:      req.OwnerID,
		Amount:       total,
		Items:        req.Cart.Summary(c.memberMenu),
		Type:         req.Type,
		DeliveryDate: req.DeliveryDate,
	}
	stored, balance, err := c.repo.DebitAndInsertOrder(ctx, o)
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit member order: %w", err)
	}
	c.log.Info("order committed",
		"order_id", stored.ID, "owner_id", stored.OwnerID,
		"amount", stored.Amount, "type", stored.Type, "balance", balance)
	return CommitResult{Order: stored, NewBalance: balance}, nil
}

func (c *Coordinator) commitGuest(ctx context.Context, req CommitRequest) (CommitResult, error) {
	o := domain.Order{
		OwnerID: domain.NewGuestID(rand.IntN(9000) + 1000),
		Amount:  req.Cart.Total(c.guestMenu),
		Items:   req.Cart.Summary(c.guestMenu),
		Type:    domain.TypeTakeaway,
	}
	stored, err := c.repo.InsertOrder(ctx, o)
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit guest order: %w", err)
	}
	c.log.Info("guest order committed",
		"order_id", stored.ID, "owner_id", stored.OwnerID, "amount", stored.Amount)
	return CommitResult{Order: stored}, nil
}
