package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/kova98/changealert.api/data"
)

type KeywordRepo struct {
	db *sqlx.DB
}

func NewKeywordRepo(db *sqlx.DB) *KeywordRepo {
	return &KeywordRepo{db}
}

// GetKeywords returns every configured keyword ordered alphabetically.
func (r *KeywordRepo) GetKeywords(ctx context.Context) ([]data.Keyword, error) {
	keywords := make([]data.Keyword, 0)
	query := "SELECT id, keyword, category FROM keyword ORDER BY keyword"

	err := r.db.SelectContext(ctx, &keywords, query)
	if err != nil {
		return nil, fmt.Errorf("get keywords: %w", err)
	}

	return keywords, nil
}

func (r *KeywordRepo) GetKeywordByID(ctx context.Context, id int) (*data.Keyword, error) {
	var keyword data.Keyword
	query := "SELECT id, keyword, category, created_at FROM keyword WHERE id = $1"

	err := r.db.GetContext(ctx, &keyword, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get keyword by id: %w", err)
	}

	return &keyword, nil
}

func (r *KeywordRepo) CreateKeyword(ctx context.Context, keyword data.Keyword) (int, error) {
	query := `
		INSERT INTO keyword (keyword, category)
		VALUES (:keyword, :category)
		ON CONFLICT (LOWER(keyword)) DO NOTHING
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, keyword)
	if err != nil {
		return 0, fmt.Errorf("create keyword: %w", err)
	}
	defer rows.Close()

	var id int
	if rows.Next() {
		if err = rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan returned id: %w", err)
		}
		return id, nil
	}

	query = "SELECT id FROM keyword WHERE LOWER(keyword) = LOWER($1)"
	if err = r.db.GetContext(ctx, &id, query, keyword.Keyword); err != nil {
		return 0, fmt.Errorf("get existing keyword id: %w", err)
	}

	return id, nil
}

// UpdateKeyword reports false when no keyword with the given id exists.
func (r *KeywordRepo) UpdateKeyword(ctx context.Context, keyword data.Keyword) (bool, error) {
	query := `
		UPDATE keyword
		SET keyword = :keyword, category = :category
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, keyword)
	if err != nil {
		return false, fmt.Errorf("update keyword: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update keyword rows affected: %w", err)
	}

	return n > 0, nil
}

func (r *KeywordRepo) DeleteKeyword(ctx context.Context, id int) error {
	query := "DELETE FROM keyword WHERE id = $1"
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}

	return nil
}
