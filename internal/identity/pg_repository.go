package identity

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is satisfied by pgxpool.Pool and pgxmock.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgSequenceRepository struct {
	db RowQuerier
}

func NewPgSequenceRepository(db RowQuerier) *PgSequenceRepository {
	return &PgSequenceRepository{db: db}
}

// NextSequence upserts the year row and increments it in a single
// statement, so the read and the write share one atomicity boundary.
func (r *PgSequenceRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO year_sequences (year, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET last_seq = year_sequences.last_seq + 1
		RETURNING last_seq
	`, year).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
