package data

import (
	"database/sql"
	"dbviewer/internal/core"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionRepo stores each client session's connection config, encrypted as a
// whole so the password never reaches disk in clear.
type SessionRepo struct {
	db     *sql.DB
	cipher core.Cipher
}

func NewSessionRepo(db *sql.DB, cipher core.Cipher) *SessionRepo {
	return &SessionRepo{db: db, cipher: cipher}
}

func (r *SessionRepo) Save(sessionID string, cfg core.ConnectionConfig) error {
	plain, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	enc, err := r.cipher.Encrypt(string(plain))
	if err != nil {
		return fmt.Errorf("failed to encrypt config: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = r.db.Exec(`INSERT INTO client_sessions (id, kind, config_enc, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, config_enc=excluded.config_enc, updated_at=excluded.updated_at`,
		sessionID, string(cfg.Kind), enc, now, now)
	return err
}

func (r *SessionRepo) Load(sessionID string) (*core.ConnectionConfig, error) {
	var enc string
	err := r.db.QueryRow(`SELECT config_enc FROM client_sessions WHERE id = ?`, sessionID).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	plain, err := r.cipher.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt config: %w", err)
	}
	var cfg core.ConnectionConfig
	if err := json.Unmarshal([]byte(plain), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *SessionRepo) Delete(sessionID string) error {
	_, err := r.db.Exec(`DELETE FROM client_sessions WHERE id = ?`, sessionID)
	return err
}

// PurgeOlderThan drops sessions not refreshed since cutoff, returning how many went.
func (r *SessionRepo) PurgeOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM client_sessions WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
