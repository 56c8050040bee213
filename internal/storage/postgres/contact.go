package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-catalog/internal/domain/contact"
)

var _ contact.Repository = (*ContactRepository)(nil)

// ContactRepository implements contact.Repository backed by PostgreSQL.
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository returns a ContactRepository that uses the given pool.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// Save inserts m.
func (r *ContactRepository) Save(ctx context.Context, m *contact.Message) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO contact_messages (id, name, email, phone, subject, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Name, m.Email, m.Phone, m.Subject, m.Message, m.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert contact message %s", m.ID)
	}
	return nil
}

// Count returns the number of stored messages.
func (r *ContactRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM contact_messages").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count contact messages")
	}
	return n, nil
}
