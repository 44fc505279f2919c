package hydrate

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/sqltype"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	ts := time.Date(2016, 1, 20, 9, 21, 23, 0, time.UTC)
	tests := []struct {
		name string
		edm  sqltype.EdmType
		in   interface{}
		want interface{}
	}{
		{name: "nil", edm: sqltype.EdmInt64, in: nil, want: nil},
		{name: "bytes to string", edm: sqltype.EdmString, in: []byte("abc"), want: "abc"},
		{name: "int to string", edm: sqltype.EdmString, in: int64(42), want: "42"},
		{name: "bytes to int64", edm: sqltype.EdmInt64, in: []byte("7"), want: int64(7)},
		{name: "int32 range", edm: sqltype.EdmInt32, in: int64(70000), want: int64(70000)},
		{name: "double", edm: sqltype.EdmDouble, in: []byte("2.5"), want: 2.5},
		{name: "decimal keeps text", edm: sqltype.EdmDecimal, in: []byte("10.50"), want: json.Number("10.50")},
		{name: "boolean from tinyint", edm: sqltype.EdmBoolean, in: int64(1), want: true},
		{name: "boolean from text", edm: sqltype.EdmBoolean, in: []byte("0"), want: false},
		{name: "date from time", edm: sqltype.EdmDate, in: ts, want: "2016-01-20"},
		{name: "datetime from text", edm: sqltype.EdmDateTimeOffset, in: []byte("2016-01-20 09:21:23"), want: ts},
		{name: "time of day", edm: sqltype.EdmTimeOfDay, in: []byte("09:21:23"), want: "09:21:23"},
		{
			name: "guid from binary",
			edm:  sqltype.EdmGuid,
			in:   []byte{0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00},
			want: "123e4567-e89b-12d3-a456-426614174000",
		},
		{name: "guid from text", edm: sqltype.EdmGuid, in: "123E4567-E89B-12D3-A456-426614174000", want: "123e4567-e89b-12d3-a456-426614174000"},
		{name: "binary copy", edm: sqltype.EdmBinary, in: []byte{1, 2}, want: []byte{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce("Alias", tt.edm, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceMismatch(t *testing.T) {
	tests := []struct {
		name string
		edm  sqltype.EdmType
		in   interface{}
	}{
		{name: "text as int", edm: sqltype.EdmInt64, in: "abc"},
		{name: "int32 overflow", edm: sqltype.EdmInt32, in: int64(1) << 40},
		{name: "fractional int", edm: sqltype.EdmInt64, in: 1.5},
		{name: "float above int64", edm: sqltype.EdmInt64, in: float64(1e19)},
		{name: "float below int64", edm: sqltype.EdmInt64, in: float64(-1e19)},
		{name: "infinite int", edm: sqltype.EdmInt64, in: math.Inf(1)},
		{name: "NaN int", edm: sqltype.EdmInt64, in: math.NaN()},
		{name: "float above int32", edm: sqltype.EdmInt32, in: float64(1e12)},
		{name: "bool as string", edm: sqltype.EdmString, in: true},
		{name: "bad date", edm: sqltype.EdmDateTimeOffset, in: "yesterday"},
		{name: "bad guid", edm: sqltype.EdmGuid, in: "not-a-guid"},
		{name: "number as binary", edm: sqltype.EdmBinary, in: int64(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce("Alias", tt.edm, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, queryerr.ErrHydrationTypeMismatch)
			assert.Contains(t, err.Error(), tt.edm.String())
		})
	}
}

func TestETag(t *testing.T) {
	assert.Equal(t, `W/"1"`, ETag(int64(1)))
	assert.Equal(t, `W/"abc"`, ETag([]byte("abc")))
	assert.Equal(t, "", ETag(nil))
}
