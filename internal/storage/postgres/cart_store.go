package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cartStore struct {
	db *sql.DB
}

// NewCartStore создаёт PostgreSQL-реализацию CartStore.
func NewCartStore(store *Store) domain.CartStore {
	return &cartStore{db: store.DB()}
}

// AcquireExclusive открывает транзакцию и берёт строчную блокировку корзины
// через SELECT ... FOR UPDATE. Конкурирующий захват той же корзины ждёт на
// уровне БД до Release; несвязанные корзины не пересекаются.
func (s *cartStore) AcquireExclusive(ctx context.Context, cartID string) (domain.CartScope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cart tx: %w", err)
	}

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("lock cart row: %w", err)
	}

	return &cartScope{tx: tx, cartID: cartID}, nil
}

type cartScope struct {
	tx     *sql.Tx
	cartID string

	mu   sync.Mutex
	done bool
}

func (sc *cartScope) Lines(ctx context.Context) ([]domain.CartLine, error) {
	rows, err := sc.tx.QueryContext(ctx, `
		SELECT product_id, qty, price_minor, added_at
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY added_at, product_id
	`, sc.cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Qty, &line.PriceMinor, &line.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}

	return lines, nil
}

// ReplaceLines записывает новый состав корзины и фиксирует транзакцию.
// После успешного вызова scope считается освобождённым.
func (sc *cartScope) ReplaceLines(ctx context.Context, lines []domain.CartLine) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.done {
		return fmt.Errorf("cart scope already released")
	}

	if _, err := sc.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, sc.cartID); err != nil {
		return fmt.Errorf("clear cart lines: %w", err)
	}

	var total int64
	for _, line := range lines {
		if _, err := sc.tx.ExecContext(ctx, `
			INSERT INTO cart_lines (cart_id, product_id, qty, price_minor, added_at)
			VALUES ($1,$2,$3,$4,$5)
		`, sc.cartID, line.ProductID, line.Qty, line.PriceMinor, line.AddedAt); err != nil {
			return fmt.Errorf("insert cart line: %w", err)
		}
		total += line.SubtotalMinor()
	}

	if _, err := sc.tx.ExecContext(ctx, `
		UPDATE carts
		SET total_minor = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, sc.cartID, total); err != nil {
		return fmt.Errorf("update cart total: %w", err)
	}

	if err := sc.tx.Commit(); err != nil {
		return fmt.Errorf("commit cart scope: %w", err)
	}
	sc.done = true

	return nil
}

func (sc *cartScope) Release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.done {
		return
	}
	sc.done = true
	_ = sc.tx.Rollback()
}

func (s *cartStore) GetOrCreate(ctx context.Context, ownerID string) (domain.Cart, error) {
	if ownerID == "" {
		return domain.Cart{}, domain.ErrOwnerRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (id, owner_id, status, total_minor, created_at, updated_at)
		VALUES ($1,$2,$3,0,$4,$4)
		ON CONFLICT (owner_id) DO NOTHING
	`, uuid.NewString(), ownerID, string(domain.CartStatusActive), now); err != nil {
		return domain.Cart{}, fmt.Errorf("ensure cart: %w", err)
	}

	var cartID string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM carts WHERE owner_id = $1`, ownerID).Scan(&cartID); err != nil {
		return domain.Cart{}, fmt.Errorf("select cart by owner: %w", err)
	}

	return s.load(ctx, cartID)
}

func (s *cartStore) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.load(ctx, cartID)
}

func (s *cartStore) AddLine(ctx context.Context, cartID string, line domain.CartLine) (domain.Cart, error) {
	if line.Qty <= 0 {
		return domain.Cart{}, domain.ErrLineQtyInvalid
	}
	// Нулевая цена допустима (бесплатные позиции), отрицательная — нет.
	if line.PriceMinor < 0 {
		return domain.Cart{}, domain.ErrLinePriceInvalid
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = time.Now().UTC()
	}

	return s.mutate(ctx, cartID, func(tx *sql.Tx) error {
		// Повторное добавление того же товара наращивает количество позиции;
		// цена остаётся той, что зафиксирована при первом добавлении.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_lines (cart_id, product_id, qty, price_minor, added_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (cart_id, product_id) DO UPDATE
			SET qty = cart_lines.qty + EXCLUDED.qty
		`, cartID, line.ProductID, line.Qty, line.PriceMinor, line.AddedAt)
		if err != nil {
			return fmt.Errorf("upsert cart line: %w", err)
		}
		return nil
	})
}

func (s *cartStore) UpdateLineQty(ctx context.Context, cartID, productID string, qty int32) (domain.Cart, error) {
	if qty <= 0 {
		return domain.Cart{}, domain.ErrLineQtyInvalid
	}

	return s.mutate(ctx, cartID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cart_lines
			SET qty = $3
			WHERE cart_id = $1 AND product_id = $2
		`, cartID, productID, qty)
		if err != nil {
			return fmt.Errorf("update cart line qty: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrProductNotFound
		}
		return nil
	})
}

func (s *cartStore) RemoveLine(ctx context.Context, cartID, productID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cart_lines
			WHERE cart_id = $1 AND product_id = $2
		`, cartID, productID)
		if err != nil {
			return fmt.Errorf("delete cart line: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return domain.ErrProductNotFound
		}
		return nil
	})
}

func (s *cartStore) Clear(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart lines: %w", err)
		}
		return nil
	})
}

// mutate выполняет правку корзины под строчной блокировкой и пересчитывает
// итог в той же транзакции.
func (s *cartStore) mutate(ctx context.Context, cartID string, fn func(tx *sql.Tx) error) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("begin cart tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrCartNotFound
		} else {
			err = fmt.Errorf("lock cart row: %w", err)
		}
		return domain.Cart{}, err
	}

	if err = fn(tx); err != nil {
		return domain.Cart{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE carts
		SET total_minor = COALESCE((
		        SELECT SUM(qty::BIGINT * price_minor)
		        FROM cart_lines
		        WHERE cart_id = $1
		    ), 0),
		    updated_at = NOW()
		WHERE id = $1
	`, cartID); err != nil {
		err = fmt.Errorf("recompute cart total: %w", err)
		return domain.Cart{}, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit cart mutation: %w", err)
		return domain.Cart{}, err
	}

	return s.load(ctx, cartID)
}

func (s *cartStore) load(ctx context.Context, cartID string) (domain.Cart, error) {
	var (
		cart   domain.Cart
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, status, total_minor, created_at, updated_at
		FROM carts
		WHERE id = $1
	`, cartID).Scan(
		&cart.ID, &cart.OwnerID, &status, &cart.TotalMinor, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}
	cart.Status = domain.CartStatus(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty, price_minor, added_at
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY added_at, product_id
	`, cartID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	cart.Lines = make([]domain.CartLine, 0)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Qty, &line.PriceMinor, &line.AddedAt); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart lines: %w", err)
	}

	return cart, nil
}

var _ domain.CartStore = (*cartStore)(nil)
var _ domain.CartScope = (*cartScope)(nil)
