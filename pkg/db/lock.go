package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// LockCustomer takes the customer's row lock, serializing every mutation of
// that customer's subscriptions, invoices and ledger for the life of the
// transaction. SQLite serializes writers at the database level, so the
// explicit lock is skipped there.
func LockCustomer(ctx context.Context, tx *gorm.DB, customerID any) error {
	if tx.Dialector.Name() == "sqlite" {
		return nil
	}
	var id int64
	err := tx.WithContext(ctx).
		Raw(`SELECT id FROM customers WHERE id = ? FOR UPDATE`, customerID).
		Scan(&id).Error
	if err != nil {
		return fmt.Errorf("lock customer %v: %w", customerID, err)
	}
	return nil
}
