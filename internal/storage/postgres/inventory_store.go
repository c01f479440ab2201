package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type inventoryStore struct {
	db *sql.DB
}

// NewInventoryStore создаёт PostgreSQL-реализацию InventoryStore.
func NewInventoryStore(store *Store) domain.InventoryStore {
	return &inventoryStore{db: store.DB()}
}

// TryReserve выполняет проверку и списание одним условным UPDATE: строка
// декрементируется только если остатка хватает, гонка двух покупателей
// разрешается на уровне строки БД.
func (s *inventoryStore) TryReserve(ctx context.Context, productID string, qty int32) (domain.ProductSnapshot, error) {
	if qty <= 0 {
		return domain.ProductSnapshot{}, domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var snap domain.ProductSnapshot
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock >= $2
		RETURNING id, code, title, price_minor, stock
	`, productID, qty).Scan(&snap.ProductID, &snap.Code, &snap.Title, &snap.PriceMinor, &snap.StockAfter)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.ProductSnapshot{}, fmt.Errorf("reserve stock: %w", err)
	}

	// UPDATE не тронул строку: различаем "нет товара" и "не хватает остатка".
	var stock int32
	err = s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProductSnapshot{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("check product stock: %w", err)
	}
	return domain.ProductSnapshot{}, domain.ErrInsufficientStock
}

func (s *inventoryStore) Return(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("return stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (s *inventoryStore) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.Code = domain.NormalizeCode(product.Code)
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, code, title, price_minor, stock, owner_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		product.ID, product.Code, product.Title, product.PriceMinor,
		product.Stock, product.OwnerID, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrProductCodeTaken
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}

	return product, nil
}

func (s *inventoryStore) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.queryOne(ctx, `
		SELECT id, code, title, price_minor, stock, owner_id, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id)
}

func (s *inventoryStore) GetByCode(ctx context.Context, code string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.queryOne(ctx, `
		SELECT id, code, title, price_minor, stock, owner_id, created_at, updated_at
		FROM products
		WHERE code = $1
	`, domain.NormalizeCode(code))
}

func (s *inventoryStore) List(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, title, price_minor, stock, owner_id, created_at, updated_at
		FROM products
		ORDER BY code
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.Code, &p.Title, &p.PriceMinor,
			&p.Stock, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

func (s *inventoryStore) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.Code = domain.NormalizeCode(product.Code)
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET code = $2,
		    title = $3,
		    price_minor = $4,
		    stock = $5,
		    owner_id = $6,
		    updated_at = $7
		WHERE id = $1
	`,
		product.ID, product.Code, product.Title, product.PriceMinor,
		product.Stock, product.OwnerID, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrProductCodeTaken
		}
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Product{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}

	return product, nil
}

func (s *inventoryStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (s *inventoryStore) queryOne(ctx context.Context, query string, arg any) (domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.Code, &p.Title, &p.PriceMinor,
		&p.Stock, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.InventoryStore = (*inventoryStore)(nil)
