package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between pipeline and scheduler
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return store, nil
}

var sqliteSchema = []struct {
	name string
	ddl  string
}{
	{"certificates", `
		CREATE TABLE IF NOT EXISTS certificates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			theme TEXT NOT NULL,
			student_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL,
			issued_at DATETIME NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			token_id INTEGER,
			transaction_hash TEXT,
			credential TEXT,
			recipient_address TEXT NOT NULL DEFAULT '',
			mint_status TEXT NOT NULL DEFAULT 'none',
			UNIQUE (user_id, session_id)
		);`},
	{"old certificates token index", `DROP INDEX IF EXISTS certificates_token_id;`},
	{"certificates token index", `CREATE UNIQUE INDEX IF NOT EXISTS certificates_token_id_key ON certificates (token_id);`},
	{"wallets", `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			encrypted_key TEXT NOT NULL,
			owner_address TEXT NOT NULL,
			account_address TEXT NOT NULL,
			deploy_tx_hash TEXT,
			deployed_address TEXT,
			created_at DATETIME NOT NULL
		);`},
	{"configuration", `
		CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`},
	{"credentials", `
		CREATE TABLE IF NOT EXISTS credentials (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`},
	{"scheduler_status", `
		CREATE TABLE IF NOT EXISTS scheduler_status (
			id INTEGER PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			last_updated DATETIME NOT NULL
		);`},
	{"kill_switch_attempts", `
		CREATE TABLE IF NOT EXISTS kill_switch_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_type TEXT NOT NULL,
			attempted_at INTEGER NOT NULL
		);`},
}

func (s *SqliteStore) Init() error {
	for _, table := range sqliteSchema {
		if _, err := s.db.Exec(table.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", table.name, err)
		}
	}

	// Initialize scheduler status if not exists
	_, err := s.db.Exec("INSERT OR IGNORE INTO scheduler_status (id, is_active, last_updated) VALUES (1, 1, ?)", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler status: %w", err)
	}

	_, err = s.db.Exec("INSERT OR IGNORE INTO configuration (key, value) VALUES ('pass_mark', '70')")
	if err != nil {
		return fmt.Errorf("failed to insert default pass mark: %w", err)
	}

	return nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func isSqliteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) &&
		(se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

const certificateColumns = `id, user_id, session_id, theme, student_name, email, score, issued_at, image,
	token_id, transaction_hash, credential, recipient_address, mint_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (Certificate, error) {
	var c Certificate
	var status string
	err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Theme, &c.StudentName, &c.Email, &c.Score, &c.IssuedAt,
		&c.Image, &c.TokenID, &c.TransactionHash, &c.Credential, &c.RecipientAddress, &status)
	c.MintStatus = MintStatus(status)
	return c, err
}

// ReserveCertificate inserts the row for (user, session) and sets c.ID. A
// second reservation for the same pair fails with ErrDuplicateCertificate.
func (s *SqliteStore) ReserveCertificate(ctx context.Context, c *Certificate) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO certificates (user_id, session_id, theme, student_name, email, score, issued_at, recipient_address, mint_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.SessionID, c.Theme, c.StudentName, c.Email, c.Score, c.IssuedAt.UTC(), c.RecipientAddress, string(c.MintStatus),
	)
	if err != nil {
		if isSqliteUnique(err) {
			return ErrDuplicateCertificate
		}
		return fmt.Errorf("failed to reserve certificate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read certificate id: %w", err)
	}
	c.ID = id
	return nil
}

// ReleaseCertificate removes a reservation whose issuance failed.
func (s *SqliteStore) ReleaseCertificate(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM certificates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to release certificate %d: %w", id, err)
	}
	return nil
}

// UpdateCertificate writes the issuance outputs of c.
func (s *SqliteStore) UpdateCertificate(ctx context.Context, c Certificate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE certificates SET image = ?, token_id = ?, transaction_hash = ?, credential = ?, recipient_address = ?, mint_status = ?
		 WHERE id = ?`,
		c.Image, c.TokenID, c.TransactionHash, c.Credential, c.RecipientAddress, string(c.MintStatus), c.ID,
	)
	if err != nil {
		if isSqliteUnique(err) {
			return fmt.Errorf("%w: token %d", ErrTokenTaken, c.TokenID.Int64)
		}
		return fmt.Errorf("failed to update certificate %d: %w", c.ID, err)
	}
	return expectOneRow(res)
}

// BackfillCertificate sets whichever fields of b are present.
func (s *SqliteStore) BackfillCertificate(ctx context.Context, id int64, b Backfill) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE certificates SET
			image = COALESCE(?, image),
			transaction_hash = COALESCE(?, transaction_hash)
		 WHERE id = ?`,
		b.Image, b.TransactionHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to backfill certificate %d: %w", id, err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteStore) queryCertificates(ctx context.Context, query string, args ...any) ([]Certificate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query for certificates: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close certificates query", "err", closeErr)
		}
	}()

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

func (s *SqliteStore) queryCertificate(ctx context.Context, query string, args ...any) (Certificate, error) {
	c, err := scanCertificate(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Certificate{}, ErrNotFound
	}
	if err != nil {
		return Certificate{}, fmt.Errorf("failed to get certificate: %w", err)
	}
	return c, nil
}

func (s *SqliteStore) GetCertificate(ctx context.Context, id int64) (Certificate, error) {
	return s.queryCertificate(ctx, "SELECT "+certificateColumns+" FROM certificates WHERE id = ?", id)
}

func (s *SqliteStore) GetCertificateByToken(ctx context.Context, tokenID int64) (Certificate, error) {
	return s.queryCertificate(ctx, "SELECT "+certificateColumns+" FROM certificates WHERE token_id = ?", tokenID)
}

// GetSessionCertificate returns the newest certificate of user for session.
func (s *SqliteStore) GetSessionCertificate(ctx context.Context, userID, sessionID string) (Certificate, error) {
	return s.queryCertificate(ctx,
		"SELECT "+certificateColumns+" FROM certificates WHERE user_id = ? AND session_id = ? ORDER BY issued_at DESC, id DESC LIMIT 1",
		userID, sessionID)
}

func (s *SqliteStore) GetUserCertificates(ctx context.Context, userID string) ([]Certificate, error) {
	return s.queryCertificates(ctx,
		"SELECT "+certificateColumns+" FROM certificates WHERE user_id = ? ORDER BY issued_at DESC, id DESC", userID)
}

// GetCertificates retrieves all certificates.
func (s *SqliteStore) GetCertificates(ctx context.Context) ([]Certificate, error) {
	return s.queryCertificates(ctx, "SELECT "+certificateColumns+" FROM certificates ORDER BY issued_at DESC, id DESC")
}

// GetPendingMints returns up to limit certificates waiting to be minted,
// oldest first.
func (s *SqliteStore) GetPendingMints(ctx context.Context, limit int) ([]Certificate, error) {
	return s.queryCertificates(ctx,
		"SELECT "+certificateColumns+" FROM certificates WHERE mint_status = ? ORDER BY id LIMIT ?",
		string(MintPending), limit)
}

func (s *SqliteStore) CountPendingMints(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM certificates WHERE mint_status = ?", string(MintPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mints: %w", err)
	}
	return count, nil
}

// CreateWallet stores a new wallet. A user has at most one.
func (s *SqliteStore) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, encrypted_key, owner_address, account_address, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.UserID, w.EncryptedKey, w.OwnerAddress, w.AccountAddress, w.CreatedAt.UTC(),
	)
	if err != nil {
		if isSqliteUnique(err) {
			return ErrWalletExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *SqliteStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	var w Wallet
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, encrypted_key, owner_address, account_address, deploy_tx_hash, deployed_address, created_at
		 FROM wallets WHERE user_id = ?`, userID,
	).Scan(&w.UserID, &w.EncryptedKey, &w.OwnerAddress, &w.AccountAddress, &w.DeployTxHash, &w.DeployedAddress, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, ErrNotFound
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func (s *SqliteStore) MarkWalletDeployed(ctx context.Context, userID, txHash, address string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE wallets SET deploy_tx_hash = ?, deployed_address = ? WHERE user_id = ?", txHash, address, userID)
	if err != nil {
		return fmt.Errorf("failed to mark wallet deployed: %w", err)
	}
	return expectOneRow(res)
}

// GetConfigValue retrieves a configuration value.
func (s *SqliteStore) GetConfigValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM configuration WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get config value for key %s: %w", key, err)
	}
	return value, nil
}

// SetConfigValue sets a configuration value.
func (s *SqliteStore) SetConfigValue(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO configuration (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set config value for key %s: %w", key, err)
	}
	return nil
}

// GetConfig returns every configuration value.
func (s *SqliteStore) GetConfig() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM configuration ORDER BY key")
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

// GetCredential retrieves a credential value.
func (s *SqliteStore) GetCredential(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM credentials WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get credential for key %s: %w", key, err)
	}
	return value, nil
}

// SetCredential sets a credential value.
func (s *SqliteStore) SetCredential(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO credentials (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set credential for key %s: %w", key, err)
	}
	return nil
}

// GetSchedulerStatus retrieves the scheduler status.
func (s *SqliteStore) GetSchedulerStatus() (bool, error) {
	var isActive bool
	err := s.db.QueryRow("SELECT is_active FROM scheduler_status WHERE id = 1").Scan(&isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("failed to get scheduler status: %w", err)
	}
	return isActive, nil
}

// SetSchedulerStatus sets the scheduler status.
func (s *SqliteStore) SetSchedulerStatus(isActive bool) error {
	_, err := s.db.Exec("UPDATE scheduler_status SET is_active = ?, last_updated = ? WHERE id = 1", isActive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set scheduler status: %w", err)
	}
	return nil
}

// RecordKillSwitchAttempt records a kill switch attempt.
func (s *SqliteStore) RecordKillSwitchAttempt(attemptType string) error {
	_, err := s.db.Exec("INSERT INTO kill_switch_attempts (attempt_type, attempted_at) VALUES (?, ?)", attemptType, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record kill switch attempt: %w", err)
	}
	return nil
}

// GetRecentKillSwitchAttempts counts attempts of attemptType within duration.
func (s *SqliteStore) GetRecentKillSwitchAttempts(attemptType string, duration time.Duration) (int, error) {
	cutoff := time.Now().Add(-duration).UnixNano()
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM kill_switch_attempts WHERE attempt_type = ? AND attempted_at >= ?",
		attemptType, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get recent kill switch attempts: %w", err)
	}
	return count, nil
}

// CleanupOldKillSwitchAttempts removes old kill switch attempts.
func (s *SqliteStore) CleanupOldKillSwitchAttempts(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	_, err := s.db.Exec("DELETE FROM kill_switch_attempts WHERE attempted_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old kill switch attempts: %w", err)
	}
	return nil
}
