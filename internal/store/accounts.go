package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutAccount persists a linked account, replacing any existing row with the
// same id (re-linking an account refreshes its stored credentials).
func (s *SQLiteStore) PutAccount(ctx context.Context, a *LinkedAccount) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.LinkedAt.IsZero() {
		a.LinkedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO accounts (id, email, display_name, access_token, refresh_token, linked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.DisplayName, a.AccessToken, a.RefreshToken, a.LinkedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("putting account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by id. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*LinkedAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, access_token, refresh_token, linked_at
		 FROM accounts WHERE id = ?`, id)

	a := &LinkedAccount{}
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.AccessToken, &a.RefreshToken, &a.LinkedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns every linked account, oldest link first. The
// reconciler fans out over this full set.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*LinkedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name, access_token, refresh_token, linked_at
		 FROM accounts ORDER BY linked_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*LinkedAccount
	for rows.Next() {
		a := &LinkedAccount{}
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &a.AccessToken, &a.RefreshToken, &a.LinkedAt); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount unlinks an account. Deleting an absent id is a no-op.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	return nil
}

// UpdateAccessToken mutates the stored access credential in place after a
// successful refresh.
func (s *SQLiteStore) UpdateAccessToken(ctx context.Context, id, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET access_token = ? WHERE id = ?`, token, id); err != nil {
		return fmt.Errorf("updating access token for %s: %w", id, err)
	}
	return nil
}
