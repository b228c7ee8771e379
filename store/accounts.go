package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, api_token, google_credentials, google_channel, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.APIToken, &a.GoogleCredentials, &a.GoogleChannel, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount provisions a tutor account with a fresh API token.
func (q *queries) CreateAccount(ctx context.Context, email string) (*Account, error) {
	token, err := newAPIToken()
	if err != nil {
		return nil, err
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO accounts (email, api_token)
		VALUES ($1, $2)
		RETURNING `+accountColumns,
		email, token)

	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

func (q *queries) AccountByID(ctx context.Context, id int64) (*Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get account by id: %w", err)
	}
	return account, nil
}

func (q *queries) AccountByToken(ctx context.Context, token string) (*Account, error) {
	row := q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE api_token = $1`, token)
	account, err := scanAccount(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get account by token: %w", err)
	}
	return account, nil
}

// AccountsWithChannel returns every account holding a channel descriptor.
// Used by the renewal scan and by webhook channel-id routing.
func (q *queries) AccountsWithChannel(ctx context.Context) ([]*Account, error) {
	rows, err := q.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE google_channel IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list accounts with channel: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (q *queries) SaveGoogleCredentials(ctx context.Context, id int64, blob string) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET google_credentials = $1 WHERE id = $2`, blob, id)
	if err != nil {
		return fmt.Errorf("save google credentials: %w", err)
	}
	return nil
}

// SaveGoogleChannel replaces the channel descriptor in a single update, so
// renewal never leaves a half-written descriptor behind.
func (q *queries) SaveGoogleChannel(ctx context.Context, id int64, descriptor *string) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET google_channel = $1 WHERE id = $2`, descriptor, id)
	if err != nil {
		return fmt.Errorf("save google channel: %w", err)
	}
	return nil
}

// ClearGoogleIntegration drops both the credential blob and the channel
// descriptor. Called on disconnect regardless of remote stop outcome.
func (q *queries) ClearGoogleIntegration(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET google_credentials = NULL, google_channel = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear google integration: %w", err)
	}
	return nil
}

func newAPIToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
