package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FieldValueRepository looks up dynamic field values on tickets; the boss
// reference assignment strategy reads a user id out of one of these.
type FieldValueRepository struct {
	pool *pgxpool.Pool
}

// NewFieldValueRepository instantiates repository.
func NewFieldValueRepository(pool *pgxpool.Pool) *FieldValueRepository {
	return &FieldValueRepository{pool: pool}
}

// Value returns the field's value on the ticket, or "" when unset.
func (r *FieldValueRepository) Value(ctx context.Context, ticketID, fieldID string) (string, error) {
	const query = `
        SELECT value FROM ticket_field_values WHERE ticket_id=$1 AND field_id=$2`
	var value string
	err := r.pool.QueryRow(ctx, query, ticketID, fieldID).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
