package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/printshopapp/printshop/internal/models"
)

// Pool is the subset of *pgxpool.Pool the ledger uses.
type Pool interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is the transactional store for orders, line items, payments,
// fulfillment records and the product flags they touch.
type Ledger struct {
	pool Pool
}

func NewLedger(pool Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InTx runs fn inside a read-committed transaction. Order rows read through
// LedgerTx.LockOrder stay locked until fn returns. The transaction commits
// when fn returns nil and rolls back otherwise.
func (l *Ledger) InTx(ctx context.Context, fn func(LedgerTx) error) (err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.pool.Ping(ctx)
}

// GetOrder loads an order with its line items, payments and fulfillment record.
func (l *Ledger) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := scanOrder(l.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := loadLineItems(gctx, l.pool, []uuid.UUID{id})
		if err != nil {
			return err
		}
		order.Items = items[id]
		return nil
	})
	g.Go(func() error {
		payments, err := loadPayments(gctx, l.pool, id)
		if err != nil {
			return err
		}
		order.Payments = payments
		return nil
	})
	g.Go(func() error {
		fulfillments, err := loadFulfillments(gctx, l.pool, []uuid.UUID{id})
		if err != nil {
			return err
		}
		order.Fulfillment = fulfillments[id]
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns orders newest first with items and fulfillment attached.
// Payments are only loaded by GetOrder.
func (l *Ledger) ListOrders(ctx context.Context, filter models.OrderFilter) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ($1::bigint = 0 OR owner_id = $1) AND (cardinality($2::text[]) = 0 OR status = ANY($2)) ORDER BY created_at DESC LIMIT $3`
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	statuses := models.StringStatuses(filter.Statuses)
	if statuses == nil {
		statuses = []string{}
	}

	rows, err := l.pool.Query(ctx, query, filter.OwnerID, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if err := l.attachDetails(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// SubmissionClaim selects flagged orders for a retry pass.
type SubmissionClaim struct {
	MaxAttempts int
	Limit       int
	// CreatedBefore skips orders still inside their first submission.
	CreatedBefore time.Time
	// Lease is how long the claimed orders stay invisible to other passes.
	Lease time.Duration
}

// ClaimPendingSubmissions leases open orders still waiting for a successful
// provider submission, oldest first. Rows locked or leased by another
// instance are skipped, so concurrent passes never share an order. Recording
// the outcome of a submission releases the lease.
func (l *Ledger) ClaimPendingSubmissions(ctx context.Context, claim SubmissionClaim) ([]*models.Order, error) {
	query := `UPDATE orders SET fulfillment_submission_claimed_until = NOW() + $5::float8 * INTERVAL '1 second'
WHERE id IN (
	SELECT id FROM orders
	WHERE needs_fulfillment_submission AND status = ANY($1) AND fulfillment_submission_attempts < $2 AND created_at < $4
		AND (fulfillment_submission_claimed_until IS NULL OR fulfillment_submission_claimed_until < NOW())
	ORDER BY updated_at LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + orderColumns
	statuses := models.StringStatuses([]models.OrderStatus{models.StatusPendingPayment, models.StatusProcessing})

	rows, err := l.pool.Query(ctx, query, statuses, claim.MaxAttempts, claim.Limit, claim.CreatedBefore, claim.Lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim pending submissions: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("claim pending submissions: %w", err)
	}
	if err := l.attachDetails(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (l *Ledger) attachDetails(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
	}

	var (
		items        map[uuid.UUID][]models.LineItem
		fulfillments map[uuid.UUID]*models.Fulfillment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = loadLineItems(gctx, l.pool, ids)
		return err
	})
	g.Go(func() error {
		var err error
		fulfillments, err = loadFulfillments(gctx, l.pool, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, order := range orders {
		order.Items = items[order.ID]
		order.Fulfillment = fulfillments[order.ID]
	}
	return nil
}

// GetProducts returns the requested products keyed by id. Unknown ids are
// simply absent from the result.
func (l *Ledger) GetProducts(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, name, price, provider_fulfilled, COALESCE(provider_variant_id, 0), historic FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]models.Product, len(ids))
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.ProviderFulfilled, &p.ProviderVariantID, &p.Historic); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return products, nil
}

// FindOrderIDByTrackingNumber resolves a carrier tracking number to its order.
func (l *Ledger) FindOrderIDByTrackingNumber(ctx context.Context, trackingNumber string) (uuid.UUID, error) {
	var id uuid.UUID
	err := l.pool.QueryRow(ctx, `SELECT order_id FROM fulfillment_records WHERE tracking_number = $1 ORDER BY updated_at DESC LIMIT 1`, trackingNumber).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find order by tracking number: %w", mapError(err))
	}
	return id, nil
}

// FindOrderIDByExternalReference resolves a fulfillment provider order id.
func (l *Ledger) FindOrderIDByExternalReference(ctx context.Context, reference string) (uuid.UUID, error) {
	var id uuid.UUID
	err := l.pool.QueryRow(ctx, `SELECT id FROM orders WHERE external_fulfillment_reference = $1`, reference).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find order by external reference: %w", mapError(err))
	}
	return id, nil
}
