package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseViewPreferencesLegacy(t *testing.T) {
	raw := []byte(`{
		"columnVisibility": {"email": false},
		"columnWidths": {"email": 180.6},
		"columnTextWrapping": {"email": "wrap", "name": "sideways"},
		"pageSize": 30
	}`)

	p, err := ParseViewPreferences(raw)
	require.NoError(t, err)
	assert.Equal(t, PreferencesVersion, p.Version)
	assert.Equal(t, map[string]bool{"email": false}, p.ColumnVisibility)
	assert.Equal(t, 181, p.ColumnWidths["email"])
	assert.Equal(t, map[string]TextWrapping{"email": WrapWrap}, p.ColumnTextWrapping)
	assert.Equal(t, 25, p.PageSize)
}

func TestParseViewPreferencesCurrentRoundTrip(t *testing.T) {
	want := DefaultViewPreferences()
	want.ColumnWidths["name"] = 120
	want.ColumnTextWrapping["bio"] = WrapTruncate
	want.PageSize = 50
	want.SelectedTable = "users"

	b, err := json.Marshal(want)
	require.NoError(t, err)

	got, err := ParseViewPreferences(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseViewPreferencesUnknownVersion(t *testing.T) {
	p, err := ParseViewPreferences([]byte(`{"version": 9}`))
	assert.Error(t, err)
	assert.Equal(t, DefaultViewPreferences(), p)
}

func TestClampPageSize(t *testing.T) {
	tests := map[int]int{-1: 25, 0: 25, 1: 10, 10: 10, 20: 25, 40: 50, 76: 100, 1000: 100}
	for in, want := range tests {
		assert.Equal(t, want, ClampPageSize(in), "input %d", in)
	}
}
