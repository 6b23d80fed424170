package adapter

import (
	"bytes"
	sqldriver "database/sql/driver"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SQLType is the declared type of a callable statement output parameter.
type SQLType int

const (
	TypeOther SQLType = iota
	TypeVarchar
	TypeChar
	TypeClob
	TypeBigInt
	TypeInteger
	TypeSmallInt
	TypeTinyInt
	TypeDouble
	TypeReal
	TypeFloat
	TypeNumeric
	TypeDecimal
	TypeBoolean
	TypeBit
	TypeBinary
	TypeVarBinary
	TypeBlob
	TypeDate
	TypeTime
	TypeTimestamp
	TypeArray
)

var sqlTypeNames = map[SQLType]string{
	TypeOther:     "OTHER",
	TypeVarchar:   "VARCHAR",
	TypeChar:      "CHAR",
	TypeClob:      "CLOB",
	TypeBigInt:    "BIGINT",
	TypeInteger:   "INTEGER",
	TypeSmallInt:  "SMALLINT",
	TypeTinyInt:   "TINYINT",
	TypeDouble:    "DOUBLE",
	TypeReal:      "REAL",
	TypeFloat:     "FLOAT",
	TypeNumeric:   "NUMERIC",
	TypeDecimal:   "DECIMAL",
	TypeBoolean:   "BOOLEAN",
	TypeBit:       "BIT",
	TypeBinary:    "BINARY",
	TypeVarBinary: "VARBINARY",
	TypeBlob:      "BLOB",
	TypeDate:      "DATE",
	TypeTime:      "TIME",
	TypeTimestamp: "TIMESTAMP",
	TypeArray:     "ARRAY",
}

func (t SQLType) String() string {
	if name, ok := sqlTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SQLType(%d)", int(t))
}

// Array is a SQL array value stored as a MessagePack encoded blob.
type Array []any

var _ sqldriver.Valuer = Array(nil)

// Value encodes the array. A nil Array is SQL NULL.
func (a Array) Value() (sqldriver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := msgpack.Marshal([]any(a))
	if err != nil {
		return nil, fmt.Errorf("encode array: %w", err)
	}
	return b, nil
}

// Scan decodes an array written by Value. Integers decode as int64 and
// floats as float64.
func (a *Array) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Array", src)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var out []any
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("decode array: %w", err)
	}
	*a = out
	return nil
}
