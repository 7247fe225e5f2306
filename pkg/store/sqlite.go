package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kadaliao/claude-relay-service/pkg/account"
)

// Config contains configuration for the SQLite account store.
type Config struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:         "data/accounts.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// Store is the durable source of truth for accounts.
//
// Credentials cross its boundary encrypted: writes seal through the
// cipher, and reads return metadata only — credential material is
// decrypted on demand via GetCredential so cleartext exists only
// transiently in memory.
type Store struct {
	db     *sql.DB
	cipher *Cipher
	config *Config
	logger *slog.Logger
}

// Open opens (or creates) the account database and initializes the schema.
func Open(config *Config, cipher *Cipher) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, &StorageError{Op: "open", Cause: err}
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &Store{
		db:     db,
		cipher: cipher,
		config: config,
		logger: slog.Default().With("component", "store"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("account store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *Store) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return &StorageError{Op: "enable_wal", Cause: err}
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return &StorageError{Op: "set_busy_timeout", Cause: err}
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return &StorageError{Op: "create_schema", Cause: err}
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return &StorageError{Op: "insert_schema_version", Cause: err}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutAccount inserts or replaces an account record, sealing its credential.
// The write path exists for the external admin/OAuth-setup flow and tests;
// the relay core itself only reads and updates existing accounts.
func (s *Store) PutAccount(ctx context.Context, acc account.Account) error {
	enc, err := s.cipher.Encrypt(acc.Credential)
	if err != nil {
		return err
	}

	proxyJSON, err := json.Marshal(acc.Proxy)
	if err != nil {
		return &StorageError{Op: "put_account", Cause: err}
	}

	now := time.Now().UTC()
	status := acc.Status
	if status == "" {
		status = account.StatusNormal
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, platform, name,
			encrypted_credential, credential_nonce, credential_version,
			proxy_config, status, cooldown_until, priority, max_concurrency,
			last_refresh_at, last_used_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform = excluded.platform,
			name = excluded.name,
			encrypted_credential = excluded.encrypted_credential,
			credential_nonce = excluded.credential_nonce,
			credential_version = excluded.credential_version,
			proxy_config = excluded.proxy_config,
			status = excluded.status,
			cooldown_until = excluded.cooldown_until,
			priority = excluded.priority,
			max_concurrency = excluded.max_concurrency,
			updated_at = excluded.updated_at
	`,
		acc.ID, string(acc.Platform), acc.Name,
		enc.Ciphertext, enc.Nonce, enc.KeyVersion,
		string(proxyJSON), string(status), nullTime(acc.CooldownUntil),
		acc.Priority, acc.MaxConcurrency,
		nullTime(acc.LastRefreshAt), nullTime(acc.LastUsedAt), now, now,
	)
	if err != nil {
		return &StorageError{Op: "put_account", Cause: err}
	}

	return nil
}

// GetAccount returns one account's metadata. The credential is not
// decrypted; use GetCredential for that.
func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, selectAccounts+` WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return account.Account{}, &NotFoundError{AccountID: id}
	}
	if err != nil {
		return account.Account{}, &StorageError{Op: "get_account", Cause: err}
	}
	return acc, nil
}

// ListAccounts returns metadata for all accounts, optionally filtered by
// platform. Credentials are not decrypted.
func (s *Store) ListAccounts(ctx context.Context, platform account.Platform) ([]account.Account, error) {
	query := selectAccounts
	args := []any{}
	if platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, string(platform))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "list_accounts", Cause: err}
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, &StorageError{Op: "list_accounts", Cause: err}
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list_accounts", Cause: err}
	}
	return accounts, nil
}

// GetCredential decrypts and returns one account's credential.
// An undecryptable blob returns an *EncryptionError carrying the account id.
func (s *Store) GetCredential(ctx context.Context, id string) (account.Credential, error) {
	var enc EncryptedCredential
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_credential, credential_nonce, credential_version
		FROM accounts WHERE id = ?
	`, id).Scan(&enc.Ciphertext, &enc.Nonce, &enc.KeyVersion)
	if err == sql.ErrNoRows {
		return account.Credential{}, &NotFoundError{AccountID: id}
	}
	if err != nil {
		return account.Credential{}, &StorageError{Op: "get_credential", Cause: err}
	}

	cred, err := s.cipher.Decrypt(enc)
	if err != nil {
		if encErr, ok := err.(*EncryptionError); ok {
			encErr.AccountID = id
		}
		return account.Credential{}, err
	}
	return cred, nil
}

// UpdateCredential seals and persists a refreshed credential atomically
// with the refresh timestamp.
func (s *Store) UpdateCredential(ctx context.Context, id string, cred account.Credential, refreshedAt time.Time) error {
	enc, err := s.cipher.Encrypt(cred)
	if err != nil {
		if encErr, ok := err.(*EncryptionError); ok {
			encErr.AccountID = id
		}
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			encrypted_credential = ?,
			credential_nonce = ?,
			credential_version = ?,
			last_refresh_at = ?,
			updated_at = ?
		WHERE id = ?
	`, enc.Ciphertext, enc.Nonce, enc.KeyVersion, refreshedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return &StorageError{Op: "update_credential", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{AccountID: id}
	}
	return nil
}

// UpdateStatus persists a status transition together with its cooldown.
func (s *Store) UpdateStatus(ctx context.Context, id string, status account.Status, cooldownUntil time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, cooldown_until = ?, updated_at = ? WHERE id = ?
	`, string(status), nullTime(cooldownUntil), time.Now().UTC(), id)
	if err != nil {
		return &StorageError{Op: "update_status", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{AccountID: id}
	}
	return nil
}

// DeleteAccount removes an account permanently.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return &StorageError{Op: "delete_account", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{AccountID: id}
	}
	return nil
}

// TouchLastUsed records that the account served a relay.
func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET last_used_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return &StorageError{Op: "touch_last_used", Cause: err}
	}
	return nil
}

// selectAccounts is the shared column list for account metadata scans.
const selectAccounts = `
	SELECT id, platform, name, proxy_config, status, cooldown_until,
	       priority, max_concurrency, last_refresh_at, last_used_at
	FROM accounts`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount scans one metadata row into an Account.
func scanAccount(row rowScanner) (account.Account, error) {
	var (
		acc           account.Account
		platform      string
		status        string
		proxyJSON     string
		cooldownUntil sql.NullTime
		lastRefreshAt sql.NullTime
		lastUsedAt    sql.NullTime
	)

	err := row.Scan(&acc.ID, &platform, &acc.Name, &proxyJSON, &status,
		&cooldownUntil, &acc.Priority, &acc.MaxConcurrency, &lastRefreshAt, &lastUsedAt)
	if err != nil {
		return account.Account{}, err
	}

	acc.Platform = account.Platform(platform)
	acc.Status = account.Status(status)
	if cooldownUntil.Valid {
		acc.CooldownUntil = cooldownUntil.Time
	}
	if lastRefreshAt.Valid {
		acc.LastRefreshAt = lastRefreshAt.Time
	}
	if lastUsedAt.Valid {
		acc.LastUsedAt = lastUsedAt.Time
	}

	if proxyJSON != "" {
		if err := json.Unmarshal([]byte(proxyJSON), &acc.Proxy); err != nil {
			return account.Account{}, fmt.Errorf("malformed proxy config for account %q: %w", acc.ID, err)
		}
	}

	return acc, nil
}

// nullTime converts a zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
