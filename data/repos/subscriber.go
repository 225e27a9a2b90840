package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kova98/changealert.api/data"
)

type SubscriberRepo struct {
	db *sqlx.DB
}

func NewSubscriberRepo(db *sqlx.DB) *SubscriberRepo {
	return &SubscriberRepo{db}
}

func (r *SubscriberRepo) GetSubscribers(ctx context.Context) ([]data.Subscriber, error) {
	subscribers := make([]data.Subscriber, 0)
	query := `
		SELECT id, email_address, unsubscribe_token, created_at
		FROM email
		ORDER BY id`

	err := r.db.SelectContext(ctx, &subscribers, query)
	if err != nil {
		return nil, fmt.Errorf("get subscribers: %w", err)
	}

	return subscribers, nil
}

// CreateSubscriber inserts the address or returns the id of the existing row.
func (r *SubscriberRepo) CreateSubscriber(ctx context.Context, address string) (int, error) {
	query := `
		INSERT INTO email (email_address, unsubscribe_token)
		VALUES ($1, $2)
		ON CONFLICT (LOWER(email_address)) DO NOTHING
		RETURNING id`

	var id int
	rows, err := r.db.QueryxContext(ctx, query, address, uuid.New())
	if err != nil {
		return 0, fmt.Errorf("create subscriber: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err = rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan returned id: %w", err)
		}
		return id, nil
	}

	query = "SELECT id FROM email WHERE LOWER(email_address) = LOWER($1)"
	if err = r.db.GetContext(ctx, &id, query, address); err != nil {
		return 0, fmt.Errorf("get existing subscriber id: %w", err)
	}

	return id, nil
}

func (r *SubscriberRepo) DeleteSubscriber(ctx context.Context, id int) error {
	query := "DELETE FROM email WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}

	return nil
}

// Unsubscribe removes the subscriber owning token and reports whether one existed.
func (r *SubscriberRepo) Unsubscribe(ctx context.Context, token uuid.UUID) (bool, error) {
	query := "DELETE FROM email WHERE unsubscribe_token = $1"
	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unsubscribe rows affected: %w", err)
	}

	return n > 0, nil
}
