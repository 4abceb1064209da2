package repository

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/gamevault/gamevault/database"
)

// APIKey is a long-lived access key for scripts and integrations. Only the
// SHA-256 of the key is stored; the plaintext is shown once at creation.
type APIKey struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	IsActive  bool    `json:"is_active"`
	LastUsed  *string `json:"last_used"`
	CreatedAt string  `json:"created_at"`
}

// APIKeyRepository handles API key database operations
type APIKeyRepository struct{}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository() *APIKeyRepository {
	return &APIKeyRepository{}
}

// HashKey returns the stored form of a plaintext key
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create stores a new active key hash and returns the record
func (r *APIKeyRepository) Create(name, plaintextKey string) (*APIKey, error) {
	var id int64
	err := database.WithRetry(func() error {
		res, err := database.DB.Exec(
			`INSERT INTO api_keys (name, key_hash) VALUES (?, ?)`,
			name, HashKey(plaintextKey))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}
	return r.getByID(id)
}

func (r *APIKeyRepository) getByID(id int64) (*APIKey, error) {
	k := &APIKey{}
	err := database.DB.QueryRow(
		`SELECT id, name, is_active, last_used, created_at FROM api_keys WHERE id = ?`, id).
		Scan(&k.ID, &k.Name, &k.IsActive, &k.LastUsed, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

// GetAll returns all keys, newest first
func (r *APIKeyRepository) GetAll() ([]APIKey, error) {
	rows, err := database.DB.Query(
		`SELECT id, name, is_active, last_used, created_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.IsActive, &k.LastUsed, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ValidateKey checks a plaintext key against active stored hashes and stamps
// last_used on a hit
func (r *APIKeyRepository) ValidateKey(plaintextKey string) (bool, error) {
	var id int64
	err := database.DB.QueryRow(
		`SELECT id FROM api_keys WHERE key_hash = ? AND is_active = 1`,
		HashKey(plaintextKey)).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to validate api key: %w", err)
	}
	_, _ = database.DB.Exec(`UPDATE api_keys SET last_used = datetime('now') WHERE id = ?`, id)
	return true, nil
}

// Revoke deactivates a key without deleting its audit trail
func (r *APIKeyRepository) Revoke(id int64) (bool, error) {
	res, err := database.DB.Exec(`UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
