package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-service/internal/domain"
)

// HolidayRepository loads the configured non-business dates. Callers rebuild
// the calendar when the set changes; the calendar itself never hardcodes
// years.
type HolidayRepository interface {
	ListAll(ctx context.Context) ([]domain.Holiday, error)
	ListByYear(ctx context.Context, year int) ([]domain.Holiday, error)
}

type holidayRepository struct {
	pool *pgxpool.Pool
}

// NewHolidayRepository instantiates repository.
func NewHolidayRepository(pool *pgxpool.Pool) HolidayRepository {
	return &holidayRepository{pool: pool}
}

func (r *holidayRepository) ListAll(ctx context.Context) ([]domain.Holiday, error) {
	const query = `SELECT id, holiday_date, name FROM holidays ORDER BY holiday_date`
	return r.list(ctx, query)
}

func (r *holidayRepository) ListByYear(ctx context.Context, year int) ([]domain.Holiday, error) {
	const query = `
        SELECT id, holiday_date, name FROM holidays
        WHERE EXTRACT(YEAR FROM holiday_date)=$1
        ORDER BY holiday_date`
	return r.list(ctx, query, year)
}

func (r *holidayRepository) list(ctx context.Context, query string, args ...any) ([]domain.Holiday, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []domain.Holiday
	for rows.Next() {
		var holiday domain.Holiday
		if err := rows.Scan(&holiday.ID, &holiday.Date, &holiday.Name); err != nil {
			return nil, err
		}
		holidays = append(holidays, holiday)
	}
	return holidays, rows.Err()
}
