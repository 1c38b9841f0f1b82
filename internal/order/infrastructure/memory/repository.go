// Package memory is the embedded repository: dev mode and tests run
// against it. All operations take the store lock, which trivially gives
// the per-entity serialization the contract demands.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nutritheory/merchant-bot/internal/order/application"
	"github.com/nutritheory/merchant-bot/internal/order/domain"
)

type Repository struct {
	mu      sync.Mutex
	members map[string]*domain.Member
	orders  map[int64]*domain.Order
	nextID  int64
	now     application.Clock
}

func NewRepository() *Repository {
	return &Repository{
		members: make(map[string]*domain.Member),
		orders:  make(map[int64]*domain.Order),
		nextID:  1,
		now:     time.Now,
	}
}

// SetClock overrides the creation-timestamp source. Test hook.
func (r *Repository) SetClock(c application.Clock) { r.now = c }

// Seed registers members, replacing any existing entry with the same id.
func (r *Repository) Seed(members ...domain.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range members {
		cp := m
		r.members[m.ID] = &cp
	}
}

// DemoMembers are the stock dev-mode accounts.
func DemoMembers() []domain.Member {
	return []domain.Member{
		{ID: "97011", PIN: "1234", Name: "Member 1", Coins: 1500},
		{ID: "77452", PIN: "1234", Name: "Member 2", Coins: 50},
	}
}

func (r *Repository) VerifyMember(_ context.Context, id, pin string) (domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || m.PIN != pin {
		return domain.Member{}, application.ErrAuth
	}
	return *m, nil
}

func (r *Repository) GetBalance(_ context.Context, memberID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return 0, application.ErrMemberNotFound
	}
	return m.Coins, nil
}

func (r *Repository) SetBalance(_ context.Context, memberID string, balance int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return application.ErrMemberNotFound
	}
	m.Coins = balance
	return nil
}

func (r *Repository) InsertOrder(_ context.Context, o domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(o), nil
}

func (r *Repository) insertLocked(o domain.Order) domain.Order {
	o.ID = r.nextID
	r.nextID++
	o.CreatedAt = r.now().UTC()
	o.Status = domain.StatusActive
	cp := o
	r.orders[o.ID] = &cp
	return o
}

func (r *Repository) FindOrderByID(_ context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, application.ErrNotFound
	}
	return *o, nil
}

func (r *Repository) FindLastActiveOrder(_ context.Context, ownerID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Order
	for _, o := range r.orders {
		if o.OwnerID != ownerID || o.Status != domain.StatusActive {
			continue
		}
		if best == nil || o.ID > best.ID {
			best = o
		}
	}
	if best == nil {
		return domain.Order{}, application.ErrNotFound
	}
	return *best, nil
}

func (r *Repository) SetOrderStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return application.ErrNotFound
	}
	if o.Status != domain.StatusActive {
		return application.ErrAlreadyFinalized
	}
	o.Status = status
	return nil
}

func (r *Repository) ListOrders(_ context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Repository) ListMembers(_ context.Context) ([]domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) DebitAndInsertOrder(_ context.Context, o domain.Order) (domain.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[o.OwnerID]
	if !ok {
		return domain.Order{}, 0, application.ErrMemberNotFound
	}
	if o.Amount > m.Coins {
		return domain.Order{}, 0, application.ErrInsufficientFunds
	}
	m.Coins -= o.Amount
	stored := r.insertLocked(o)
	return stored, m.Coins, nil
}

func (r *Repository) CancelWithRefund(_ context.Context, orderID int64, memberID string, refund int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return 0, application.ErrNotFound
	}
	if o.Status != domain.StatusActive {
		return 0, application.ErrAlreadyFinalized
	}
	m, ok := r.members[memberID]
	if !ok {
		return 0, application.ErrMemberNotFound
	}
	o.Status = domain.StatusCancelled
	m.Coins += refund
	return m.Coins, nil
}
