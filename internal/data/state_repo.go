package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// StateRepo is a JSON key/value store, the client's equivalent of browser
// local storage.
type StateRepo struct {
	db *sql.DB
}

func NewStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

func (r *StateRepo) Get(key string, v any) (bool, error) {
	var raw string
	err := r.db.QueryRow(`SELECT value FROM kv_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, err
	}
	return true, nil
}

func (r *StateRepo) Put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(b), time.Now().UnixMilli())
	return err
}

func (r *StateRepo) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM kv_state WHERE key = ?`, key)
	return err
}
