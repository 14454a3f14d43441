package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/elmedianur/deutsche/internal/models"
)

// GormMirror is the durable account store. The idempotency key carries a
// unique index, so a transaction mirrored twice is written once.
type GormMirror struct {
	db *gorm.DB
}

func NewGormMirror(db *gorm.DB) *GormMirror {
	return &GormMirror{db: db}
}

func (m *GormMirror) SaveTransaction(ctx context.Context, tx Transaction) error {
	rec := models.LedgerTransaction{
		ID:             tx.ID,
		AccountID:      tx.Account,
		Delta:          tx.Delta,
		Reason:         string(tx.Reason),
		IdempotencyKey: tx.IdempotencyKey,
		ValidUntil:     tx.ValidUntil,
		Memo:           tx.Memo,
		CreatedAt:      tx.CreatedAt,
	}
	err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

// LoadTransactions returns every persisted transaction, oldest first.
func (m *GormMirror) LoadTransactions(ctx context.Context) ([]Transaction, error) {
	var recs []models.LedgerTransaction
	if err := m.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	out := make([]Transaction, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out, nil
}

func (m *GormMirror) AccountTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	var recs []models.LedgerTransaction
	q := m.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("account transactions: %w", err)
	}
	out := make([]Transaction, len(recs))
	for i, r := range recs {
		out[i] = fromRecord(r)
	}
	return out, nil
}

func fromRecord(r models.LedgerTransaction) Transaction {
	return Transaction{
		ID:             r.ID,
		Account:        r.AccountID,
		Delta:          r.Delta,
		Reason:         Reason(r.Reason),
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
		ValidUntil:     r.ValidUntil,
		Memo:           r.Memo,
	}
}
