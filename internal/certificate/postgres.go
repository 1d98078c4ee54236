package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Db on PostgreSQL for hosted deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.Init(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return store, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS certificates (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		theme TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		issued_at TIMESTAMPTZ NOT NULL,
		image TEXT NOT NULL DEFAULT '',
		token_id BIGINT,
		transaction_hash TEXT,
		credential JSONB,
		recipient_address TEXT NOT NULL DEFAULT '',
		mint_status TEXT NOT NULL DEFAULT 'none',
		CONSTRAINT certificates_user_session_key UNIQUE (user_id, session_id)
	)`,
	`DROP INDEX IF EXISTS certificates_token_id`,
	`CREATE UNIQUE INDEX IF NOT EXISTS certificates_token_id_key ON certificates (token_id)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id TEXT PRIMARY KEY,
		encrypted_key TEXT NOT NULL,
		owner_address TEXT NOT NULL,
		account_address TEXT NOT NULL,
		deploy_tx_hash TEXT,
		deployed_address TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS configuration (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS credentials (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS scheduler_status (
		id INTEGER PRIMARY KEY,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_updated TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kill_switch_attempts (
		id BIGSERIAL PRIMARY KEY,
		attempt_type TEXT NOT NULL,
		attempted_at TIMESTAMPTZ NOT NULL
	)`,
	`INSERT INTO scheduler_status (id, is_active, last_updated) VALUES (1, TRUE, now()) ON CONFLICT (id) DO NOTHING`,
	`INSERT INTO configuration (key, value) VALUES ('pass_mark', '70') ON CONFLICT (key) DO NOTHING`,
}

func (s *PostgresStore) Init() error {
	ctx := context.Background()
	for _, ddl := range postgresSchema {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *PostgresStore) ReserveCertificate(ctx context.Context, c *Certificate) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO certificates (user_id, session_id, theme, student_name, email, score, issued_at, recipient_address, mint_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		c.UserID, c.SessionID, c.Theme, c.StudentName, c.Email, c.Score, c.IssuedAt.UTC(), c.RecipientAddress, string(c.MintStatus),
	).Scan(&c.ID)
	if err != nil {
		if isPgUnique(err) {
			return ErrDuplicateCertificate
		}
		return fmt.Errorf("failed to reserve certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseCertificate(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM certificates WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to release certificate %d: %w", id, err)
	}
	return nil
}

func pgExpectOneRow(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateCertificate(ctx context.Context, c Certificate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE certificates SET image = $1, token_id = $2, transaction_hash = $3, credential = $4, recipient_address = $5, mint_status = $6
		 WHERE id = $7`,
		c.Image, c.TokenID, c.TransactionHash, c.Credential, c.RecipientAddress, string(c.MintStatus), c.ID,
	)
	if err != nil {
		if isPgUnique(err) {
			return fmt.Errorf("%w: token %d", ErrTokenTaken, c.TokenID.Int64)
		}
		return fmt.Errorf("failed to update certificate %d: %w", c.ID, err)
	}
	return pgExpectOneRow(tag)
}

func (s *PostgresStore) BackfillCertificate(ctx context.Context, id int64, b Backfill) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE certificates SET
			image = COALESCE($1, image),
			transaction_hash = COALESCE($2, transaction_hash)
		 WHERE id = $3`,
		b.Image, b.TransactionHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to backfill certificate %d: %w", id, err)
	}
	return pgExpectOneRow(tag)
}

const pgCertificateColumns = `id, user_id, session_id, theme, student_name, email, score, issued_at, image,
	token_id, transaction_hash, credential::text, recipient_address, mint_status`

func (s *PostgresStore) queryCertificate(ctx context.Context, query string, args ...any) (Certificate, error) {
	c, err := scanCertificate(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Certificate{}, ErrNotFound
	}
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to get certificate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) queryCertificates(ctx context.Context, query string, args ...any) ([]Certificate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query for certificates: %w", err)
	}
	defer rows.Close()

	var certs []Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate row: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func (s *PostgresStore) GetCertificate(ctx context.Context, id int64) (Certificate, error) {
	return s.queryCertificate(ctx, "SELECT "+pgCertificateColumns+" FROM certificates WHERE id = $1", id)
}

func (s *PostgresStore) GetCertificateByToken(ctx context.Context, tokenID int64) (Certificate, error) {
	return s.queryCertificate(ctx, "SELECT "+pgCertificateColumns+" FROM certificates WHERE token_id = $1", tokenID)
}

func (s *PostgresStore) GetSessionCertificate(ctx context.Context, userID, sessionID string) (Certificate, error) {
	return s.queryCertificate(ctx,
		"SELECT "+pgCertificateColumns+" FROM certificates WHERE user_id = $1 AND session_id = $2 ORDER BY issued_at DESC, id DESC LIMIT 1",
		userID, sessionID)
}

func (s *PostgresStore) GetUserCertificates(ctx context.Context, userID string) ([]Certificate, error) {
	return s.queryCertificates(ctx,
		"SELECT "+pgCertificateColumns+" FROM certificates WHERE user_id = $1 ORDER BY issued_at DESC, id DESC", userID)
}

func (s *PostgresStore) GetCertificates(ctx context.Context) ([]Certificate, error) {
	return s.queryCertificates(ctx, "SELECT "+pgCertificateColumns+" FROM certificates ORDER BY issued_at DESC, id DESC")
}

func (s *PostgresStore) GetPendingMints(ctx context.Context, limit int) ([]Certificate, error) {
	return s.queryCertificates(ctx,
		"SELECT "+pgCertificateColumns+" FROM certificates WHERE mint_status = $1 ORDER BY id LIMIT $2",
		string(MintPending), limit)
}

func (s *PostgresStore) CountPendingMints(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM certificates WHERE mint_status = $1", string(MintPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mints: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, encrypted_key, owner_address, account_address, created_at) VALUES ($1, $2, $3, $4, $5)`,
		w.UserID, w.EncryptedKey, w.OwnerAddress, w.AccountAddress, w.CreatedAt.UTC(),
	)
	if err != nil {
		if isPgUnique(err) {
			return ErrWalletExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, encrypted_key, owner_address, account_address, deploy_tx_hash, deployed_address, created_at
		 FROM wallets WHERE user_id = $1`, userID,
	).Scan(&w.UserID, &w.EncryptedKey, &w.OwnerAddress, &w.AccountAddress, &w.DeployTxHash, &w.DeployedAddress, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) MarkWalletDeployed(ctx context.Context, userID, txHash, address string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE wallets SET deploy_tx_hash = $1, deployed_address = $2 WHERE user_id = $3", txHash, address, userID)
	if err != nil {
		return fmt.Errorf("failed to mark wallet deployed: %w", err)
	}
	return pgExpectOneRow(tag)
}

func (s *PostgresStore) GetConfigValue(key string) (string, error) {
	var value string
	err := s.pool.QueryRow(context.Background(), "SELECT value FROM configuration WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get config value for key %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetConfigValue(key, value string) error {
	_, err := s.pool.Exec(context.Background(),
		"INSERT INTO configuration (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value", key, value)
	if err != nil {
		return fmt.Errorf("failed to set config value for key %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetConfig() (map[string]string, error) {
	rows, err := s.pool.Query(context.Background(), "SELECT key, value FROM configuration ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query configuration: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan configuration row: %w", err)
		}
		config[k] = v
	}
	return config, rows.Err()
}

func (s *PostgresStore) GetCredential(key string) (string, error) {
	var value string
	err := s.pool.QueryRow(context.Background(), "SELECT value FROM credentials WHERE key = $1", key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get credential for key %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) SetCredential(key, value string) error {
	_, err := s.pool.Exec(context.Background(),
		"INSERT INTO credentials (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value", key, value)
	if err != nil {
		return fmt.Errorf("failed to set credential for key %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetSchedulerStatus() (bool, error) {
	var isActive bool
	err := s.pool.QueryRow(context.Background(), "SELECT is_active FROM scheduler_status WHERE id = 1").Scan(&isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("failed to get scheduler status: %w", err)
	}
	return isActive, nil
}

func (s *PostgresStore) SetSchedulerStatus(isActive bool) error {
	_, err := s.pool.Exec(context.Background(),
		"UPDATE scheduler_status SET is_active = $1, last_updated = $2 WHERE id = 1", isActive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set scheduler status: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordKillSwitchAttempt(attemptType string) error {
	_, err := s.pool.Exec(context.Background(),
		"INSERT INTO kill_switch_attempts (attempt_type, attempted_at) VALUES ($1, $2)", attemptType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record kill switch attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecentKillSwitchAttempts(attemptType string, duration time.Duration) (int, error) {
	var count int
	err := s.pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM kill_switch_attempts WHERE attempt_type = $1 AND attempted_at >= $2",
		attemptType, time.Now().Add(-duration).UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get recent kill switch attempts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CleanupOldKillSwitchAttempts(olderThan time.Duration) error {
	_, err := s.pool.Exec(context.Background(),
		"DELETE FROM kill_switch_attempts WHERE attempted_at < $1", time.Now().Add(-olderThan).UTC())
	if err != nil {
		return fmt.Errorf("failed to cleanup old kill switch attempts: %w", err)
	}
	return nil
}
