package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/sanitize"
	_ "modernc.org/sqlite"
)

var ErrInvalidAddress = errors.New("invalid wallet address")

// Connection is a user's connected wallet.
type Connection struct {
	UserID      string    `json:"user_id"`
	Address     string    `json:"address"`
	Network     string    `json:"network"`
	ConnectedAt time.Time `json:"connected_at"`
	Data        []byte    `json:"-"`
}

// Store persists wallet connections.
type Store interface {
	Save(ctx context.Context, c Connection) error
	Get(ctx context.Context, userID string) (*Connection, error)
	Delete(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite. Wallet data is encrypted before
// it is written.
type SQLiteStore struct {
	db     *sql.DB
	cipher *Cipher
}

func NewSQLiteStore(dbPath string, cipher *Cipher) (*SQLiteStore, error) {
	if cipher == nil {
		return nil, errors.New("wallet store requires a cipher")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, cipher: cipher}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS wallet_connections (
		user_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		network TEXT NOT NULL,
		wallet_data TEXT NOT NULL,
		connected_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallet_address ON wallet_connections(address);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save upserts the connection for c.UserID.
func (s *SQLiteStore) Save(ctx context.Context, c Connection) error {
	if !sanitize.Address(c.Address) {
		return ErrInvalidAddress
	}
	if c.Network == "" {
		c.Network = "base-sepolia"
	}
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now().UTC()
	}

	sealed, err := s.cipher.Encrypt(c.Data)
	if err != nil {
		return fmt.Errorf("encrypt wallet data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO wallet_connections (user_id, address, network, wallet_data, connected_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		address = excluded.address,
		network = excluded.network,
		wallet_data = excluded.wallet_data,
		updated_at = excluded.updated_at`,
		c.UserID, c.Address, c.Network, sealed, c.ConnectedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert wallet connection: %w", err)
	}
	return nil
}

// Get returns nil, nil when the user has no connected wallet.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, address, network, wallet_data, connected_at
		FROM wallet_connections WHERE user_id = ?`, userID)

	var c Connection
	var sealed string
	var connectedAt int64
	err := row.Scan(&c.UserID, &c.Address, &c.Network, &sealed, &connectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet row: %w", err)
	}

	c.Data, err = s.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet data: %w", err)
	}
	c.ConnectedAt = time.Unix(connectedAt, 0).UTC()
	return &c, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wallet_connections WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete wallet connection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
