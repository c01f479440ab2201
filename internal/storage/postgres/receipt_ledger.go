package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type receiptLedger struct {
	db *sql.DB
}

// NewReceiptLedger создаёт PostgreSQL-реализацию ReceiptLedger.
func NewReceiptLedger(store *Store) domain.ReceiptLedger {
	return &receiptLedger{db: store.DB()}
}

func (r *receiptLedger) Issue(ctx context.Context, purchaser string, lines []domain.ReceiptLine) (domain.Receipt, error) {
	receipt := domain.Receipt{
		ID:          uuid.NewString(),
		Code:        uuid.NewString(),
		Purchaser:   purchaser,
		AmountMinor: domain.AmountOf(lines),
		Lines:       lines,
		IssuedAt:    time.Now().UTC(),
	}
	if errs := receipt.ValidateInvariants(); len(errs) > 0 {
		return domain.Receipt{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (id, code, purchaser, amount_minor, issued_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		receipt.ID, receipt.Code, receipt.Purchaser, receipt.AmountMinor, receipt.IssuedAt,
	)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}

	for i, line := range receipt.Lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO receipt_lines (receipt_id, position, product_id, title, qty, price_minor)
			VALUES ($1,$2,$3,$4,$5,$6)
		`,
			receipt.ID, i, line.ProductID, line.Title, line.Qty, line.PriceMinor,
		); err != nil {
			return domain.Receipt{}, fmt.Errorf("insert receipt line: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Receipt{}, fmt.Errorf("commit issue receipt: %w", err)
	}

	return receipt, nil
}

func (r *receiptLedger) Get(ctx context.Context, id string) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.queryOne(ctx, `
		SELECT id, code, purchaser, amount_minor, issued_at
		FROM receipts
		WHERE id = $1
	`, id)
}

func (r *receiptLedger) GetByCode(ctx context.Context, code string) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.queryOne(ctx, `
		SELECT id, code, purchaser, amount_minor, issued_at
		FROM receipts
		WHERE code = $1
	`, code)
}

func (r *receiptLedger) ListByPurchaser(ctx context.Context, purchaser string, limit int) ([]domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, code, purchaser, amount_minor, issued_at
		FROM receipts
		WHERE purchaser = $1
		ORDER BY issued_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", purchaser, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, purchaser)
	}
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0)
	for rows.Next() {
		var receipt domain.Receipt
		if err := rows.Scan(
			&receipt.ID, &receipt.Code, &receipt.Purchaser,
			&receipt.AmountMinor, &receipt.IssuedAt,
		); err != nil {
			return nil, fmt.Errorf("scan receipt row: %w", err)
		}

		lines, err := r.loadLines(ctx, receipt.ID)
		if err != nil {
			return nil, err
		}
		receipt.Lines = lines
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipt rows: %w", err)
	}

	return receipts, nil
}

func (r *receiptLedger) queryOne(ctx context.Context, query string, arg any) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&receipt.ID, &receipt.Code, &receipt.Purchaser,
		&receipt.AmountMinor, &receipt.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Receipt{}, domain.ErrReceiptNotFound
		}
		return domain.Receipt{}, fmt.Errorf("select receipt: %w", err)
	}

	lines, err := r.loadLines(ctx, receipt.ID)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt.Lines = lines

	return receipt, nil
}

func (r *receiptLedger) loadLines(ctx context.Context, receiptID string) ([]domain.ReceiptLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, title, qty, price_minor
		FROM receipt_lines
		WHERE receipt_id = $1
		ORDER BY position
	`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("load receipt lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.ReceiptLine, 0)
	for rows.Next() {
		var line domain.ReceiptLine
		if err := rows.Scan(&line.ProductID, &line.Title, &line.Qty, &line.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan receipt line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipt lines: %w", err)
	}

	return lines, nil
}

var _ domain.ReceiptLedger = (*receiptLedger)(nil)
