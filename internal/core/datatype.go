package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataType is the closed set of column types the protocol understands.
type DataType string

const (
	TypeInteger   DataType = "integer"
	TypeBigint    DataType = "bigint"
	TypeSmallint  DataType = "smallint"
	TypeNumeric   DataType = "numeric"
	TypeBoolean   DataType = "boolean"
	TypeTimestamp DataType = "timestamp"
	TypeDate      DataType = "date"
	TypeText      DataType = "text"
	TypeUUID      DataType = "uuid"
	TypeOther     DataType = "other"
)

// WireType is how a cell travels in JSON.
type WireType string

const (
	WireNumber   WireType = "number"
	WireBoolean  WireType = "boolean"
	WireDateTime WireType = "dateTime"
	WireString   WireType = "string"
)

const dateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	dateLayout,
}

type typeRule struct {
	wire     WireType
	coerce   func(v any) (any, error)
	decode   func(src any) (any, error)
	zeroCell func() any
}

var typeRules = map[DataType]typeRule{
	TypeInteger:   {WireNumber, intCoercer(32), decodeInt, func() any { return int64(0) }},
	TypeBigint:    {WireNumber, intCoercer(64), decodeInt, func() any { return int64(0) }},
	TypeSmallint:  {WireNumber, intCoercer(16), decodeInt, func() any { return int64(0) }},
	TypeNumeric:   {WireNumber, coerceNumeric, decodeNumeric, func() any { return float64(0) }},
	TypeBoolean:   {WireBoolean, coerceBool, decodeBool, func() any { return false }},
	TypeTimestamp: {WireDateTime, coerceTimestamp, decodeTimestamp, func() any { return time.Now().UTC().Format(time.RFC3339) }},
	TypeDate:      {WireDateTime, coerceDate, decodeDate, func() any { return time.Now().UTC().Format(dateLayout) }},
	TypeText:      {WireString, coerceText, decodeText, func() any { return "" }},
	TypeUUID:      {WireString, coerceUUID, decodeText, func() any { return "" }},
	TypeOther:     {WireString, coerceText, decodeText, func() any { return "" }},
}

var typeAliases = map[string]DataType{
	"integer":                     TypeInteger,
	"int":                         TypeInteger,
	"int4":                        TypeInteger,
	"serial":                      TypeInteger,
	"serial4":                     TypeInteger,
	"bigint":                      TypeBigint,
	"int8":                        TypeBigint,
	"bigserial":                   TypeBigint,
	"serial8":                     TypeBigint,
	"smallint":                    TypeSmallint,
	"int2":                        TypeSmallint,
	"smallserial":                 TypeSmallint,
	"numeric":                     TypeNumeric,
	"decimal":                     TypeNumeric,
	"real":                        TypeNumeric,
	"float4":                      TypeNumeric,
	"double precision":            TypeNumeric,
	"float8":                      TypeNumeric,
	"boolean":                     TypeBoolean,
	"bool":                        TypeBoolean,
	"timestamp":                   TypeTimestamp,
	"timestamp without time zone": TypeTimestamp,
	"timestamp with time zone":    TypeTimestamp,
	"timestamptz":                 TypeTimestamp,
	"date":                        TypeDate,
	"text":                        TypeText,
	"character varying":           TypeText,
	"varchar":                     TypeText,
	"character":                   TypeText,
	"char":                        TypeText,
	"bpchar":                      TypeText,
	"name":                        TypeText,
	"citext":                      TypeText,
	"uuid":                        TypeUUID,
}

// NormalizeDataType maps a PostgreSQL type name (information_schema data_type or
// udt_name) onto the closed DataType set. Anything unrecognised is TypeOther.
func NormalizeDataType(pgType string) DataType {
	if dt, ok := typeAliases[strings.ToLower(strings.TrimSpace(pgType))]; ok {
		return dt
	}
	return TypeOther
}

func (d DataType) rule() typeRule {
	if r, ok := typeRules[d]; ok {
		return r
	}
	return typeRules[TypeOther]
}

func (d DataType) Wire() WireType { return d.rule().wire }

// DefaultValue is the value a new-row form starts from.
func (d DataType) DefaultValue() any { return d.rule().zeroCell() }

// Coerce converts an input value (as decoded from JSON with UseNumber) into a
// driver argument for col. Failures are ValidationErrors keyed by column.
func Coerce(col Column, v any) (any, error) {
	if v == nil {
		if !col.IsNullable {
			return nil, fieldError(col.Name, "must not be null")
		}
		return nil, nil
	}
	out, err := col.DataType.rule().coerce(v)
	if err != nil {
		return nil, fieldError(col.Name, err.Error())
	}
	return out, nil
}

// DecodeCell turns a scanned driver value into its wire form for dt.
func DecodeCell(dt DataType, src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return dt.rule().decode(src)
}

func fieldError(column, msg string) *Error {
	return ValidationError("invalid value for column "+column, map[string]string{column: msg})
}

func intCoercer(bits int) func(any) (any, error) {
	return func(v any) (any, error) {
		var n int64
		switch x := v.(type) {
		case json.Number:
			i, err := parseIntegral(x.String())
			if err != nil {
				return nil, err
			}
			n = i
		case string:
			i, err := parseIntegral(strings.TrimSpace(x))
			if err != nil {
				return nil, err
			}
			n = i
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
				return nil, fmt.Errorf("expected a whole number")
			}
			if !fitsInt64(x) {
				return nil, fmt.Errorf("out of range")
			}
			n = int64(x)
		case int:
			n = int64(x)
		case int32:
			n = int64(x)
		case int64:
			n = x
		default:
			return nil, fmt.Errorf("expected a number")
		}
		lim := int64(1)<<(bits-1) - 1
		if bits == 64 {
			lim = math.MaxInt64
		}
		if n > lim || n < -lim-1 {
			return nil, fmt.Errorf("out of range")
		}
		return n, nil
	}
}

func parseIntegral(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("expected a number")
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i, nil
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("out of range")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("expected a number")
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected a whole number")
	}
	if !fitsInt64(f) {
		return 0, fmt.Errorf("out of range")
	}
	return int64(f), nil
}

// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func fitsInt64(f float64) bool {
	return f < 1<<63 && f >= -1<<63
}

// Numerics are passed as their decimal text so Postgres keeps full precision.
func coerceNumeric(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if _, err := strconv.ParseFloat(x.String(), 64); err != nil {
			return nil, fmt.Errorf("expected a number")
		}
		return x.String(), nil
	case string:
		s := strings.TrimSpace(x)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, fmt.Errorf("expected a number")
		}
		return s, nil
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, fmt.Errorf("expected a finite number")
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	return nil, fmt.Errorf("expected a number")
}

func coerceBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "t", "1", "yes", "y", "on":
			return true, nil
		case "false", "f", "0", "no", "n", "off":
			return false, nil
		}
	case json.Number:
		switch x.String() {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
	case float64:
		switch x {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return nil, fmt.Errorf("expected true or false")
}

// ParseTimestamp accepts ISO-8601 forms with or without a zone; zoneless
// values are taken as UTC. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expected an ISO-8601 timestamp")
}

func coerceTimestamp(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		return ParseTimestamp(x)
	}
	return nil, fmt.Errorf("expected an ISO-8601 timestamp")
}

func coerceDate(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(dateLayout), nil
	case string:
		t, err := ParseTimestamp(x)
		if err != nil {
			return nil, fmt.Errorf("expected an ISO-8601 date")
		}
		return t.Format(dateLayout), nil
	}
	return nil, fmt.Errorf("expected an ISO-8601 date")
}

func coerceUUID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a uuid string")
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("expected a uuid")
	}
	return id.String(), nil
}

func coerceText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value")
	}
	return string(b), nil
}

func decodeInt(src any) (any, error) {
	switch x := src.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return nil, fmt.Errorf("unexpected %T for integer column", src)
}

func decodeNumeric(src any) (any, error) {
	switch x := src.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return nil, fmt.Errorf("unexpected %T for numeric column", src)
}

func decodeBool(src any) (any, error) {
	switch x := src.(type) {
	case bool:
		return x, nil
	case []byte:
		return coerceBool(string(x))
	case string:
		return coerceBool(x)
	case int64:
		return x != 0, nil
	}
	return nil, fmt.Errorf("unexpected %T for boolean column", src)
}

func decodeTimestamp(src any) (any, error) {
	switch x := src.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		return decodeTimestamp(string(x))
	case string:
		t, err := ParseTimestamp(x)
		if err != nil {
			return x, nil
		}
		return t.Format(time.RFC3339Nano), nil
	}
	return nil, fmt.Errorf("unexpected %T for timestamp column", src)
}

// Dates come back from the driver as midnight in an arbitrary zone; the
// calendar day is what matters, so no UTC conversion here.
func decodeDate(src any) (any, error) {
	switch x := src.(type) {
	case time.Time:
		return x.Format(dateLayout), nil
	case []byte:
		return decodeDate(string(x))
	case string:
		if len(x) >= len(dateLayout) {
			return x[:len(dateLayout)], nil
		}
		return x, nil
	}
	return nil, fmt.Errorf("unexpected %T for date column", src)
}

func decodeText(src any) (any, error) {
	switch x := src.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case int64, float64, bool:
		return fmt.Sprint(x), nil
	}
	return fmt.Sprint(src), nil
}
