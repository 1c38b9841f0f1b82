package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutritheory/merchant-bot/internal/order/application"
	"github.com/nutritheory/merchant-bot/internal/order/domain"
)

// Repository is the server-database implementation of the persistence
// contract. Balance read-modify-writes lock the member row (FOR UPDATE)
// and status transitions are conditional on the row still being Active, so
// racing commits and cancellations serialize per entity.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// EnsureSchema creates the tables if they do not exist and seeds the demo
// members when the member table is empty.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS members (
			member_id TEXT PRIMARY KEY,
			pin       TEXT NOT NULL,
			name      TEXT NOT NULL DEFAULT '',
			coins     BIGINT NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id            BIGSERIAL PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			amount        BIGINT NOT NULL,
			items         TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			delivery_date DATE,
			status        TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM members`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO members (member_id, pin, name, coins) VALUES
			('97011', '1234', 'Member 1', 1500),
			('77452', '1234', 'Member 2', 50)`)
	}
	return err
}

func (r *Repository) VerifyMember(ctx context.Context, id, pin string) (domain.Member, error) {
	var m domain.Member
	err := r.pool.QueryRow(ctx,
		`SELECT member_id, pin, name, coins FROM members WHERE member_id=$1 AND pin=$2`,
		id, pin).Scan(&m.ID, &m.PIN, &m.Name, &m.Coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, application.ErrAuth
	}
	if err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

func (r *Repository) GetBalance(ctx context.Context, memberID string) (int64, error) {
	var coins int64
	err := r.pool.QueryRow(ctx, `SELECT coins FROM members WHERE member_id=$1`, memberID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, application.ErrMemberNotFound
	}
	return coins, err
}

func (r *Repository) SetBalance(ctx context.Context, memberID string, balance int64) error {
	ct, err := r.pool.Exec(ctx, `UPDATE members SET coins=$2 WHERE member_id=$1`, memberID, balance)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrMemberNotFound
	}
	return nil
}

func (r *Repository) InsertOrder(ctx context.Context, o domain.Order) (domain.Order, error) {
	o.CreatedAt = time.Now().UTC()
	o.Status = domain.StatusActive
	err := r.pool.QueryRow(ctx, `
		INSERT INTO orders (owner_id, amount, items, type, created_at, delivery_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		o.OwnerID, o.Amount, o.Items, o.Type, o.CreatedAt, o.DeliveryDate, o.Status).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

const orderColumns = `id, owner_id, amount, items, type, created_at, delivery_date, status`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OwnerID, &o.Amount, &o.Items, &o.Type, &o.CreatedAt, &o.DeliveryDate, &o.Status)
	return o, err
}

func (r *Repository) FindOrderByID(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, application.ErrNotFound
	}
	return o, err
}

func (r *Repository) FindLastActiveOrder(ctx context.Context, ownerID string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE owner_id=$1 AND status=$2 ORDER BY id DESC LIMIT 1`,
		ownerID, domain.StatusActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, application.ErrNotFound
	}
	return o, err
}

func (r *Repository) SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET status=$2 WHERE id=$1 AND status=$3`,
		id, status, domain.StatusActive)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	// Distinguish a missing order from one already out of Active.
	var current domain.OrderStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.ErrNotFound
	}
	if err != nil {
		return err
	}
	return application.ErrAlreadyFinalized
}

func (r *Repository) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT member_id, name, coins FROM members ORDER BY member_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Coins); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) DebitAndInsertOrder(ctx context.Context, o domain.Order) (domain.Order, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var coins int64
	err = tx.QueryRow(ctx,
		`SELECT coins FROM members WHERE member_id=$1 FOR UPDATE`, o.OwnerID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, 0, application.ErrMemberNotFound
	}
	if err != nil {
		return domain.Order{}, 0, err
	}
	if o.Amount > coins {
		return domain.Order{}, 0, application.ErrInsufficientFunds
	}

	newBalance := coins - o.Amount
	if _, err := tx.Exec(ctx,
		`UPDATE members SET coins=$2 WHERE member_id=$1`, o.OwnerID, newBalance); err != nil {
		return domain.Order{}, 0, err
	}

	o.CreatedAt = time.Now().UTC()
	o.Status = domain.StatusActive
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (owner_id, amount, items, type, created_at, delivery_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		o.OwnerID, o.Amount, o.Items, o.Type, o.CreatedAt, o.DeliveryDate, o.Status).Scan(&o.ID)
	if err != nil {
		return domain.Order{}, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, 0, err
	}
	return o, newBalance, nil
}

func (r *Repository) CancelWithRefund(ctx context.Context, orderID int64, memberID string, refund int64) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx,
		`UPDATE orders SET status=$2 WHERE id=$1 AND status=$3`,
		orderID, domain.StatusCancelled, domain.StatusActive)
	if err != nil {
		return 0, err
	}
	if ct.RowsAffected() == 0 {
		return 0, application.ErrAlreadyFinalized
	}

	var coins int64
	err = tx.QueryRow(ctx,
		`UPDATE members SET coins = coins + $2 WHERE member_id=$1 RETURNING coins`,
		memberID, refund).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, application.ErrMemberNotFound
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return coins, nil
}
