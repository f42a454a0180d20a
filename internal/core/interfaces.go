package core

// SessionStore persists the connection config behind each client session so a
// restarted server can revalidate it.
type SessionStore interface {
	Save(sessionID string, cfg ConnectionConfig) error
	// Load returns nil, nil when nothing is stored for sessionID.
	Load(sessionID string) (*ConnectionConfig, error)
	Delete(sessionID string) error
}

// AuditRepository defines storage operations for audit logs
type AuditRepository interface {
	Create(entry *AuditEntry) error
	GetRecent(sessionID string, limit int) ([]AuditEntry, error)
}

// StateStore is a JSON key/value store for client-side state.
type StateStore interface {
	// Get decodes the value stored under key into v and reports whether it existed.
	Get(key string, v any) (bool, error)
	Put(key string, v any) error
	Delete(key string) error
}

// Cipher encrypts secrets at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
