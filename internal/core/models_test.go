package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ConnectionConfig
		fields []string
	}{
		{"host-based ok", ConnectionConfig{Kind: ConnHostBased, URL: "db.local:5433", Username: "u", Password: "p", Database: "app"}, nil},
		{"tunnel url ok", ConnectionConfig{Kind: ConnHostBased, URL: "tcp://0.tcp.ngrok.io:12345", Username: "u", Password: "p", Database: "app"}, nil},
		{"host-based missing fields", ConnectionConfig{Kind: ConnHostBased, URL: "db.local"}, []string{"username", "password", "database"}},
		{"host-based bad host", ConnectionConfig{Kind: ConnHostBased, URL: "db local/x", Username: "u", Password: "p", Database: "app"}, []string{"url"}},
		{"direct ok", ConnectionConfig{Kind: ConnDirectURL, URL: "postgresql://u:p@db.local/app?sslmode=require"}, nil},
		{"direct wrong scheme", ConnectionConfig{Kind: ConnDirectURL, URL: "mysql://u:p@db.local/app"}, []string{"url"}},
		{"direct no host", ConnectionConfig{Kind: ConnDirectURL, URL: "postgres:///app"}, []string{"url"}},
		{"missing url", ConnectionConfig{Kind: ConnDirectURL}, []string{"url"}},
		{"bad kind", ConnectionConfig{Kind: "ngrok", URL: "x"}, []string{"kind"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			fields := AsError(err).Fields
			for _, f := range tt.fields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestConnectionConfigJSONRoundTrip(t *testing.T) {
	cfg := ConnectionConfig{Kind: ConnHostBased, URL: "db:5432", Username: "u", Password: "p", Database: "app"}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)

	var back ConnectionConfig
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, cfg, back)
}

func TestHeaderName(t *testing.T) {
	assert.Equal(t, "Created At", HeaderName("created_at"))
	assert.Equal(t, "User Id", HeaderName("user_id"))
	assert.Equal(t, "Total", HeaderName("total"))
}

func TestRowIdentity(t *testing.T) {
	t.Run("primary key", func(t *testing.T) {
		s := &TableSchema{Columns: []Column{{Name: "id"}, {Name: "code"}}, PrimaryKey: []string{"code"}}
		cols, surrogate := s.IdentityColumns()
		assert.Equal(t, []string{"code"}, cols)
		assert.False(t, surrogate)
		assert.Equal(t, "A1", s.RowID(Row{"id": int64(1), "code": "A1"}))
	})

	t.Run("id column fallback", func(t *testing.T) {
		s := &TableSchema{Columns: []Column{{Name: "id"}, {Name: "name"}}}
		cols, surrogate := s.IdentityColumns()
		assert.Equal(t, []string{"id"}, cols)
		assert.False(t, surrogate)
		assert.Equal(t, "7", s.RowID(Row{"id": int64(7)}))
	})

	t.Run("surrogate", func(t *testing.T) {
		s := &TableSchema{Columns: []Column{{Name: "name"}}}
		_, surrogate := s.IdentityColumns()
		assert.True(t, surrogate)
	})

	t.Run("composite key round trip", func(t *testing.T) {
		s := &TableSchema{Columns: []Column{{Name: "a"}, {Name: "b"}}, PrimaryKey: []string{"a", "b"}}
		id := s.RowID(Row{"a": "x,y", "b": int64(2)})
		assert.Equal(t, "x%2Cy,2", id)

		parts, err := SplitRowID(id, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"x,y", "2"}, parts)

		_, err = SplitRowID("only-one", 2)
		assert.ErrorIs(t, err, ErrValidation)
	})
}
