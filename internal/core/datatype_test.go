package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
	}{
		{"integer", TypeInteger},
		{"int4", TypeInteger},
		{"bigint", TypeBigint},
		{"int8", TypeBigint},
		{"smallint", TypeSmallint},
		{"numeric", TypeNumeric},
		{"double precision", TypeNumeric},
		{"real", TypeNumeric},
		{"boolean", TypeBoolean},
		{"timestamp with time zone", TypeTimestamp},
		{"timestamp without time zone", TypeTimestamp},
		{"date", TypeDate},
		{"character varying", TypeText},
		{"text", TypeText},
		{"uuid", TypeUUID},
		{"jsonb", TypeOther},
		{"tsvector", TypeOther},
		{"  Integer ", TypeInteger},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDataType(tt.in))
		})
	}
}

func TestWireTypes(t *testing.T) {
	assert.Equal(t, WireNumber, TypeInteger.Wire())
	assert.Equal(t, WireNumber, TypeNumeric.Wire())
	assert.Equal(t, WireBoolean, TypeBoolean.Wire())
	assert.Equal(t, WireDateTime, TypeTimestamp.Wire())
	assert.Equal(t, WireString, TypeOther.Wire())
	assert.Equal(t, WireString, DataType("bogus").Wire())
}

func TestDefaultValue(t *testing.T) {
	assert.Equal(t, int64(0), TypeInteger.DefaultValue())
	assert.Equal(t, float64(0), TypeNumeric.DefaultValue())
	assert.Equal(t, false, TypeBoolean.DefaultValue())
	assert.Equal(t, "", TypeText.DefaultValue())

	_, err := time.Parse(time.RFC3339, TypeTimestamp.DefaultValue().(string))
	assert.NoError(t, err)
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		col     Column
		in      any
		want    any
		wantErr bool
	}{
		{"int from json number", Column{Name: "n", DataType: TypeInteger}, json.Number("42"), int64(42), false},
		{"int from numeric string", Column{Name: "n", DataType: TypeInteger}, " 7 ", int64(7), false},
		{"int from whole float", Column{Name: "n", DataType: TypeInteger}, float64(3), int64(3), false},
		{"int rejects fraction", Column{Name: "n", DataType: TypeInteger}, json.Number("1.5"), nil, true},
		{"int rejects text", Column{Name: "n", DataType: TypeInteger}, "abc", nil, true},
		{"int rejects bool", Column{Name: "n", DataType: TypeInteger}, true, nil, true},
		{"int range", Column{Name: "n", DataType: TypeInteger}, json.Number("2147483648"), nil, true},
		{"smallint range", Column{Name: "n", DataType: TypeSmallint}, json.Number("40000"), nil, true},
		{"bigint max", Column{Name: "n", DataType: TypeBigint}, json.Number("9223372036854775807"), int64(9223372036854775807), false},
		{"bigint min", Column{Name: "n", DataType: TypeBigint}, json.Number("-9223372036854775808"), int64(-9223372036854775808), false},
		{"bigint overflow number", Column{Name: "n", DataType: TypeBigint}, json.Number("9223372036854775808"), nil, true},
		{"bigint overflow string", Column{Name: "n", DataType: TypeBigint}, "9223372036854775808", nil, true},
		{"bigint overflow float", Column{Name: "n", DataType: TypeBigint}, float64(1 << 63), nil, true},
		{"bigint overflow exponent", Column{Name: "n", DataType: TypeBigint}, json.Number("9.3e18"), nil, true},
		{"bigint underflow", Column{Name: "n", DataType: TypeBigint}, json.Number("-9223372036854775809"), nil, true},
		{"numeric keeps text", Column{Name: "total", DataType: TypeNumeric}, json.Number("9.99"), "9.99", false},
		{"numeric from string", Column{Name: "total", DataType: TypeNumeric}, "12.50", "12.50", false},
		{"numeric rejects text", Column{Name: "total", DataType: TypeNumeric}, "twelve", nil, true},
		{"bool literal", Column{Name: "active", DataType: TypeBoolean}, true, true, false},
		{"bool from string", Column{Name: "active", DataType: TypeBoolean}, "false", false, false},
		{"bool from t", Column{Name: "active", DataType: TypeBoolean}, "t", true, false},
		{"bool from 1", Column{Name: "active", DataType: TypeBoolean}, json.Number("1"), true, false},
		{"bool rejects junk", Column{Name: "active", DataType: TypeBoolean}, "maybe", nil, true},
		{"timestamp zoned", Column{Name: "at", DataType: TypeTimestamp}, "2024-03-01T12:30:00+02:00", ts, false},
		{"timestamp zoneless is utc", Column{Name: "at", DataType: TypeTimestamp}, "2024-03-01T10:30", ts, false},
		{"timestamp rejects junk", Column{Name: "at", DataType: TypeTimestamp}, "yesterday", nil, true},
		{"date", Column{Name: "d", DataType: TypeDate}, "2024-03-01", "2024-03-01", false},
		{"date from timestamp", Column{Name: "d", DataType: TypeDate}, "2024-03-01T23:00:00Z", "2024-03-01", false},
		{"uuid", Column{Name: "u", DataType: TypeUUID}, "6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff", false},
		{"uuid rejects junk", Column{Name: "u", DataType: TypeUUID}, "not-a-uuid", nil, true},
		{"text from number", Column{Name: "s", DataType: TypeText}, json.Number("10"), "10", false},
		{"other from object", Column{Name: "j", DataType: TypeOther}, map[string]any{"a": true}, `{"a":true}`, false},
		{"null allowed", Column{Name: "s", DataType: TypeText, IsNullable: true}, nil, nil, false},
		{"null rejected", Column{Name: "s", DataType: TypeText}, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.col, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				assert.Contains(t, AsError(err).Fields, tt.col.Name)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCell(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	tests := []struct {
		name string
		dt   DataType
		src  any
		want any
	}{
		{"nil", TypeText, nil, nil},
		{"int", TypeInteger, int64(5), int64(5)},
		{"numeric bytes", TypeNumeric, []byte("9.99"), 9.99},
		{"bool", TypeBoolean, true, true},
		{"timestamp to utc", TypeTimestamp, at, "2024-03-01T11:00:00Z"},
		{"date keeps day", TypeDate, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{"uuid bytes", TypeUUID, []byte("6f9619ff-8b86-d011-b42d-00c04fc964ff"), "6f9619ff-8b86-d011-b42d-00c04fc964ff"},
		{"other bytes", TypeOther, []byte(`{"a":1}`), `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCell(tt.dt, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceThenDecodeTimestampIsUTC(t *testing.T) {
	in, err := Coerce(Column{Name: "at", DataType: TypeTimestamp}, "2024-06-30T23:15:00-05:00")
	require.NoError(t, err)

	out, err := DecodeCell(TypeTimestamp, in)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01T04:15:00Z", out)
}
