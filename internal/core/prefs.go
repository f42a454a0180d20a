package core

import (
	"encoding/json"
	"fmt"
)

const PreferencesVersion = 1

// PageSizes are the page sizes a table view offers.
var PageSizes = []int{10, 25, 50, 100}

const DefaultPageSize = 25

type TextWrapping string

const (
	WrapWrap     TextWrapping = "wrap"
	WrapTruncate TextWrapping = "truncate"
	WrapNormal   TextWrapping = "normal"
)

// ViewPreferences is the per-table display state a client keeps between runs.
type ViewPreferences struct {
	Version            int                     `json:"version"`
	ColumnVisibility   map[string]bool         `json:"columnVisibility"`
	ColumnWidths       map[string]int          `json:"columnWidths"`
	ColumnTextWrapping map[string]TextWrapping `json:"columnTextWrapping"`
	PageSize           int                     `json:"pageSize"`
	SelectedTable      string                  `json:"selectedTable,omitempty"`
}

func DefaultViewPreferences() ViewPreferences {
	return ViewPreferences{
		Version:            PreferencesVersion,
		ColumnVisibility:   map[string]bool{},
		ColumnWidths:       map[string]int{},
		ColumnTextWrapping: map[string]TextWrapping{},
		PageSize:           DefaultPageSize,
	}
}

// legacyPreferences is the unversioned shape: widths could be fractional and
// wrapping was a free-form string.
type legacyPreferences struct {
	ColumnVisibility   map[string]bool    `json:"columnVisibility"`
	ColumnWidths       map[string]float64 `json:"columnWidths"`
	ColumnTextWrapping map[string]string  `json:"columnTextWrapping"`
	PageSize           any                `json:"pageSize"`
	SelectedTable      string             `json:"selectedTable"`
}

// ParseViewPreferences decodes stored preferences of any known version and
// migrates them to the current one.
func ParseViewPreferences(raw []byte) (ViewPreferences, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return DefaultViewPreferences(), fmt.Errorf("failed to parse preferences: %w", err)
	}
	version := 0
	if probe.Version != nil {
		version = *probe.Version
	}
	switch version {
	case 0:
		var legacy legacyPreferences
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return DefaultViewPreferences(), fmt.Errorf("failed to parse legacy preferences: %w", err)
		}
		return migrateLegacy(legacy), nil
	case PreferencesVersion:
		var p ViewPreferences
		if err := json.Unmarshal(raw, &p); err != nil {
			return DefaultViewPreferences(), fmt.Errorf("failed to parse preferences: %w", err)
		}
		return p.Normalize(), nil
	}
	return DefaultViewPreferences(), fmt.Errorf("unsupported preferences version %d", version)
}

func migrateLegacy(l legacyPreferences) ViewPreferences {
	p := DefaultViewPreferences()
	for k, v := range l.ColumnVisibility {
		p.ColumnVisibility[k] = v
	}
	for k, v := range l.ColumnWidths {
		p.ColumnWidths[k] = int(v + 0.5)
	}
	for k, v := range l.ColumnTextWrapping {
		p.ColumnTextWrapping[k] = TextWrapping(v)
	}
	switch ps := l.PageSize.(type) {
	case float64:
		p.PageSize = int(ps)
	case string:
		fmt.Sscanf(ps, "%d", &p.PageSize)
	}
	p.SelectedTable = l.SelectedTable
	return p.Normalize()
}

// Normalize fills missing maps, drops unknown wrapping modes and snaps the
// page size to the nearest offered size.
func (p ViewPreferences) Normalize() ViewPreferences {
	p.Version = PreferencesVersion
	if p.ColumnVisibility == nil {
		p.ColumnVisibility = map[string]bool{}
	}
	if p.ColumnWidths == nil {
		p.ColumnWidths = map[string]int{}
	}
	if p.ColumnTextWrapping == nil {
		p.ColumnTextWrapping = map[string]TextWrapping{}
	}
	for k, v := range p.ColumnTextWrapping {
		switch v {
		case WrapWrap, WrapTruncate, WrapNormal:
		default:
			delete(p.ColumnTextWrapping, k)
		}
	}
	for k, v := range p.ColumnWidths {
		if v <= 0 {
			delete(p.ColumnWidths, k)
		}
	}
	p.PageSize = ClampPageSize(p.PageSize)
	return p
}

// ClampPageSize snaps n to the closest entry of PageSizes; non-positive
// values give DefaultPageSize.
func ClampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	best := PageSizes[0]
	for _, s := range PageSizes {
		if abs(n-s) < abs(n-best) {
			best = s
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
