package adapter

import (
	"bytes"
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/CaliLuke/go-sqlwrap/driver"
	"github.com/CaliLuke/go-sqlwrap/escape"
	"github.com/CaliLuke/go-sqlwrap/sqlerr"
	"github.com/CaliLuke/go-sqlwrap/trace"
)

// CallableStmt calls a stored procedure or function written in {call}
// escape syntax.
//
// Parameters are addressed by the 1-based position of their ? marker in the
// escape text; in "{? = call f(?)}" the return value is parameter 1. Output
// parameters are declared with RegisterOut before Execute and read with the
// typed getters afterwards. A registered output parameter that was also given
// a value with SetObject is an INOUT parameter.
//
// The vendor statement is prepared outside the statement cache and closed
// with the CallableStmt.
type CallableStmt struct {
	conn *Conn
	phys *driver.Conn
	sql  string
	call *ref[*escape.Call]

	mu       sync.Mutex
	params   map[int]any
	outs     map[int]outParam
	values   map[int]any
	executed bool
	wasNull  bool
	stmt     sqldriver.Stmt
	stmtSQL  string
}

type outParam struct {
	typ   SQLType
	scale int
}

func newCallable(c *Conn, phys *driver.Conn, call *escape.Call, sql string) *CallableStmt {
	return &CallableStmt{
		conn:   c,
		phys:   phys,
		sql:    sql,
		call:   newRef(call),
		params: make(map[int]any),
		outs:   make(map[int]outParam),
	}
}

// Tracer returns the trace component callable statement diagnostics are written to.
func (cs *CallableStmt) Tracer() *trace.Component { return resCall.tc }

// NumParams returns the number of ? markers, the return value included, or
// -1 after Close.
func (cs *CallableStmt) NumParams() int {
	call, ok := cs.call.get()
	if !ok {
		return -1
	}
	return call.NumParams()
}

func (cs *CallableStmt) delegate(op string) (*escape.Call, error) {
	call, ok := cs.call.get()
	if !ok {
		return nil, sqlerr.Closed(resCall.name, op)
	}
	return call, nil
}

func checkIndex(call *escape.Call, op string, index int) error {
	if index < 1 || index > call.NumParams() {
		return sqlerr.Usage(resCall.name, op, sqlerr.StateInvalidDescriptorIndex,
			fmt.Sprintf("parameter index %d out of range 1..%d", index, call.NumParams()))
	}
	return nil
}

// SetObject sets the input value of parameter index. Any value accepted by
// database/sql's default conversion is allowed, including driver.Valuer
// implementations such as Array.
func (cs *CallableStmt) SetObject(index int, v any) error {
	call, err := cs.delegate("setObject")
	if err != nil {
		return err
	}
	if err := checkIndex(call, "setObject", index); err != nil {
		return err
	}
	if call.Return && index == 1 {
		return sqlerr.Usage(resCall.name, "setObject", sqlerr.StateInvalidDescriptorIndex,
			"parameter 1 is the return value")
	}
	cs.mu.Lock()
	cs.params[index] = v
	cs.mu.Unlock()
	return nil
}

// SetNull sets parameter index to SQL NULL.
func (cs *CallableStmt) SetNull(index int) error {
	return cs.SetObject(index, nil)
}

// SetObjectByName is not supported: parameters are positional.
func (cs *CallableStmt) SetObjectByName(name string, v any) error {
	if _, err := cs.delegate("setObject"); err != nil {
		return err
	}
	return sqlerr.Unsupported(resCall.name, "setObject", "named parameters")
}

// ClearParameters forgets every input value.
func (cs *CallableStmt) ClearParameters() error {
	if _, err := cs.delegate("clearParameters"); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.params = make(map[int]any)
	cs.mu.Unlock()
	return nil
}

// RegisterOut declares parameter index as an output parameter of type typ.
// Only the return value and markers that form a whole argument can be
// output parameters.
func (cs *CallableStmt) RegisterOut(index int, typ SQLType) error {
	return cs.RegisterOutScale(index, typ, 0)
}

// RegisterOutScale is RegisterOut for NUMERIC and DECIMAL parameters read
// with GetObject, which rounds them to scale digits.
func (cs *CallableStmt) RegisterOutScale(index int, typ SQLType, scale int) error {
	call, err := cs.delegate("registerOutParameter")
	if err != nil {
		return err
	}
	if err := checkIndex(call, "registerOutParameter", index); err != nil {
		return err
	}
	if !call.Plain(index) {
		return sqlerr.Usage(resCall.name, "registerOutParameter", sqlerr.StateInvalidDescriptorIndex,
			fmt.Sprintf("parameter %d is part of an expression and cannot be an output parameter", index))
	}
	if scale < 0 {
		return sqlerr.Usage(resCall.name, "registerOutParameter", sqlerr.StateInvalidDescriptorIndex,
			fmt.Sprintf("negative scale %d", scale))
	}
	cs.mu.Lock()
	cs.outs[index] = outParam{typ: typ, scale: scale}
	cs.mu.Unlock()
	return nil
}

// RegisterOutByName is not supported: parameters are positional.
func (cs *CallableStmt) RegisterOutByName(name string, typ SQLType) error {
	if _, err := cs.delegate("registerOutParameter"); err != nil {
		return err
	}
	return sqlerr.Unsupported(resCall.name, "registerOutParameter", "named parameters")
}

// Execute runs the call. args, when given, fill in order the input
// parameters that have no value yet, skipping the return value and
// parameters registered as output. They apply to this execution only;
// values set with SetObject are kept. Output values are read from the first
// row the vendor returns: output parameters in ascending index order map to
// its columns. After a failed Execute the getters report that the statement
// has not been executed.
func (cs *CallableStmt) Execute(ctx context.Context, args ...any) error {
	call, err := cs.delegate("execute")
	if err != nil {
		return err
	}
	resCall.tc.Entry("execute", zap.String("sql", cs.sql))
	defer resCall.tc.Exit("execute")

	raw, err := cs.phys.Raw()
	if err != nil {
		return sqlerr.Closed(resCall.name, "execute")
	}

	cs.mu.Lock()
	cs.values, cs.executed, cs.wasNull = nil, false, false
	params, err := cs.bindArgs(call, args)
	if err != nil {
		cs.mu.Unlock()
		return err
	}
	native, named, err := cs.render(call, params)
	if err != nil {
		cs.mu.Unlock()
		return err
	}
	outs := make([]int, 0, len(cs.outs))
	for index := range cs.outs {
		outs = append(outs, index)
	}
	si := cs.stmt
	if cs.stmtSQL != native.SQL {
		si = nil
	}
	cs.mu.Unlock()
	sort.Ints(outs)

	if resCall.tc.IsDebugEnabled() {
		resCall.tc.Debug("execute", "native call",
			zap.String("conn_id", cs.conn.id),
			zap.String("sql", native.SQL),
			zap.Ints("inputs", native.Inputs),
			zap.Ints("outputs", outs))
	}

	ctx, o := cs.conn.env.start(ctx, resCall, "execute")
	if si == nil {
		if si, err = driver.PrepareContext(ctx, raw, native.SQL); err != nil {
			return o.end(cs.conn.mapErr(resCall, "execute", err))
		}
		cs.keep(si, native.SQL)
	}
	vrows, err := driver.StmtQueryContext(ctx, si, named)
	if err != nil {
		return o.end(cs.conn.mapErr(resCall, "execute", err))
	}
	values, err := cs.collect(vrows, outs)
	if err != nil {
		return o.end(err)
	}
	o.end(nil)

	cs.mu.Lock()
	cs.values, cs.executed, cs.wasNull = values, true, false
	cs.mu.Unlock()
	return nil
}

// bindArgs returns the parameter values for one execution: the values set
// with SetObject plus args in the unset input positions.
func (cs *CallableStmt) bindArgs(call *escape.Call, args []any) (map[int]any, error) {
	if len(args) == 0 {
		return cs.params, nil
	}
	params := make(map[int]any, len(cs.params)+len(args))
	for index, v := range cs.params {
		params[index] = v
	}
	next := 0
	for index := 1; index <= call.NumParams() && next < len(args); index++ {
		if call.Return && index == 1 {
			continue
		}
		if _, out := cs.outs[index]; out {
			continue
		}
		if _, set := params[index]; set {
			continue
		}
		params[index] = args[next]
		next++
	}
	if next < len(args) {
		return nil, sqlerr.Usage(resCall.name, "execute", sqlerr.StateWrongParameterCount,
			fmt.Sprintf("%d arguments given, statement has %d unset input parameters", len(args), next))
	}
	return params, nil
}

// render builds the vendor call and its arguments. Output parameters without
// an input value are left out of the call.
func (cs *CallableStmt) render(call *escape.Call, params map[int]any) (escape.Native, []sqldriver.NamedValue, error) {
	outOnly := make(map[int]bool)
	if call.Return {
		outOnly[1] = true
	}
	for index := range cs.outs {
		if _, set := params[index]; !set {
			outOnly[index] = true
		}
	}

	native, err := call.Render(cs.conn.env.vendor.Dialect, outOnly)
	if err != nil {
		return escape.Native{}, nil, escapeErr(resCall, "execute", err)
	}

	named := make([]sqldriver.NamedValue, len(native.Inputs))
	for i, index := range native.Inputs {
		v, set := params[index]
		if !set {
			return escape.Native{}, nil, sqlerr.Usage(resCall.name, "execute", sqlerr.StateWrongParameterCount,
				fmt.Sprintf("no value specified for parameter %d", index))
		}
		dv, err := sqldriver.DefaultParameterConverter.ConvertValue(v)
		if err != nil {
			return escape.Native{}, nil, sqlerr.Conversion(resCall.name, "execute", sqlerr.StateInvalidCharacterValue,
				fmt.Errorf("parameter %d: %w", index, err))
		}
		named[i] = sqldriver.NamedValue{Ordinal: i + 1, Value: dv}
	}
	return native, named, nil
}

// keep stores the prepared vendor statement for the next Execute, closing
// the one it replaces. A statement prepared while Close ran is closed.
func (cs *CallableStmt) keep(si sqldriver.Stmt, query string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, open := cs.call.get(); !open {
		si.Close()
		return
	}
	if cs.stmt != nil && cs.stmt != si {
		cs.stmt.Close()
	}
	cs.stmt, cs.stmtSQL = si, query
}

func (cs *CallableStmt) collect(vrows sqldriver.Rows, outs []int) (map[int]any, error) {
	defer vrows.Close()

	values := make(map[int]any, len(outs))
	if len(outs) == 0 {
		return values, nil
	}
	cols := vrows.Columns()
	if len(cols) < len(outs) {
		return nil, sqlerr.Usage(resCall.name, "execute", sqlerr.StateInvalidDescriptorIndex,
			fmt.Sprintf("call returned %d columns for %d output parameters", len(cols), len(outs)))
	}
	dest := make([]sqldriver.Value, len(cols))
	if err := vrows.Next(dest); err != nil {
		if err == io.EOF {
			return nil, sqlerr.Usage(resCall.name, "execute", sqlerr.StateInvalidCursorState,
				"call returned no row for its output parameters")
		}
		return nil, cs.conn.mapErr(resCall, "execute", err)
	}
	for i, index := range outs {
		v := dest[i]
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		values[index] = v
	}
	return values, nil
}

// value returns the output value of parameter index and records whether it
// was SQL NULL.
func (cs *CallableStmt) value(op string, index int) (any, error) {
	if _, err := cs.delegate(op); err != nil {
		return nil, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.executed {
		return nil, sqlerr.Usage(resCall.name, op, sqlerr.StateFunctionSequence, "statement has not been executed")
	}
	v, ok := cs.values[index]
	if !ok {
		return nil, sqlerr.Usage(resCall.name, op, sqlerr.StateInvalidDescriptorIndex,
			fmt.Sprintf("parameter %d was not registered as an output parameter", index))
	}
	cs.wasNull = v == nil
	return v, nil
}

func text(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func conversion(op, state string, err error) error {
	return sqlerr.Conversion(resCall.name, op, state, err)
}

// GetString returns parameter index as a string; "" for NULL.
func (cs *CallableStmt) GetString(index int) (string, error) {
	v, err := cs.value("getString", index)
	if err != nil || v == nil {
		return "", err
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", conversion("getString", sqlerr.StateInvalidCharacterValue, err)
	}
	return s, nil
}

func (cs *CallableStmt) integer(op string, index int, lo, hi int64) (int64, error) {
	v, err := cs.value(op, index)
	if err != nil || v == nil {
		return 0, err
	}
	if f, ok := v.(float64); ok && (f < float64(lo) || f > float64(hi) || math.IsNaN(f)) {
		return 0, conversion(op, sqlerr.StateNumericOutOfRange, fmt.Errorf("value %v out of range", f))
	}
	var n int64
	switch x := text(v).(type) {
	case string:
		if n, err = parseInteger(x); err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return 0, conversion(op, sqlerr.StateNumericOutOfRange, err)
			}
			return 0, conversion(op, sqlerr.StateInvalidCharacterValue, err)
		}
	default:
		if n, err = cast.ToInt64E(x); err != nil {
			return 0, conversion(op, sqlerr.StateInvalidCharacterValue, err)
		}
	}
	if n < lo || n > hi {
		return 0, conversion(op, sqlerr.StateNumericOutOfRange, fmt.Errorf("value %d out of range [%d, %d]", n, lo, hi))
	}
	return n, nil
}

// parseInteger reads decimal text. Leading zeros do not select another base,
// so "010" is 10 and "0x1f" is rejected. Integral values written with a
// fraction or exponent ("12.0", "1e3") are accepted.
func parseInteger(s string) (int64, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil || errors.Is(err, strconv.ErrRange) {
		return n, err
	}
	if strings.ContainsRune(s, '_') {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("integer %q: %w", s, strconv.ErrRange)
	}
	return int64(f), nil
}

// GetInt64 returns parameter index as an int64; 0 for NULL.
func (cs *CallableStmt) GetInt64(index int) (int64, error) {
	return cs.integer("getInt64", index, math.MinInt64, math.MaxInt64)
}

// GetInt32 returns parameter index as an int32; 0 for NULL.
func (cs *CallableStmt) GetInt32(index int) (int32, error) {
	n, err := cs.integer("getInt32", index, math.MinInt32, math.MaxInt32)
	return int32(n), err
}

// GetInt16 returns parameter index as an int16; 0 for NULL.
func (cs *CallableStmt) GetInt16(index int) (int16, error) {
	n, err := cs.integer("getInt16", index, math.MinInt16, math.MaxInt16)
	return int16(n), err
}

// GetByte returns parameter index as a byte; 0 for NULL.
func (cs *CallableStmt) GetByte(index int) (byte, error) {
	n, err := cs.integer("getByte", index, 0, math.MaxUint8)
	return byte(n), err
}

// GetFloat64 returns parameter index as a float64; 0 for NULL.
func (cs *CallableStmt) GetFloat64(index int) (float64, error) {
	v, err := cs.value("getFloat64", index)
	if err != nil || v == nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(text(v))
	if err != nil {
		return 0, conversion("getFloat64", sqlerr.StateInvalidCharacterValue, err)
	}
	return f, nil
}

// GetFloat32 returns parameter index as a float32; 0 for NULL.
func (cs *CallableStmt) GetFloat32(index int) (float32, error) {
	v, err := cs.value("getFloat32", index)
	if err != nil || v == nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(text(v))
	if err != nil {
		return 0, conversion("getFloat32", sqlerr.StateInvalidCharacterValue, err)
	}
	if !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
		return 0, conversion("getFloat32", sqlerr.StateNumericOutOfRange, fmt.Errorf("value %v out of range", f))
	}
	return float32(f), nil
}

// GetBool returns parameter index as a bool; false for NULL. Numbers are
// true when non-zero.
func (cs *CallableStmt) GetBool(index int) (bool, error) {
	v, err := cs.value("getBool", index)
	if err != nil || v == nil {
		return false, err
	}
	b, err := cast.ToBoolE(text(v))
	if err != nil {
		return false, conversion("getBool", sqlerr.StateInvalidCharacterValue, err)
	}
	return b, nil
}

// GetBytes returns parameter index as bytes; nil for NULL.
func (cs *CallableStmt) GetBytes(index int) ([]byte, error) {
	v, err := cs.value("getBytes", index)
	if err != nil || v == nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return bytes.Clone(b), nil
	case string:
		return []byte(b), nil
	}
	return nil, conversion("getBytes", sqlerr.StateInvalidCharacterValue, fmt.Errorf("cannot convert %T to []byte", v))
}

// GetTime returns parameter index as a time; the zero time for NULL.
func (cs *CallableStmt) GetTime(index int) (time.Time, error) {
	v, err := cs.value("getTime", index)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	t, err := cast.ToTimeE(text(v))
	if err != nil {
		return time.Time{}, conversion("getTime", sqlerr.StateInvalidDatetimeFormat, err)
	}
	return t, nil
}

// GetDecimal returns parameter index as an exact decimal; nil for NULL.
// Floating point values convert through their shortest decimal form.
func (cs *CallableStmt) GetDecimal(index int) (*big.Rat, error) {
	v, err := cs.value("getDecimal", index)
	if err != nil || v == nil {
		return nil, err
	}
	r, err := toRat(v)
	if err != nil {
		return nil, conversion("getDecimal", sqlerr.StateInvalidCharacterValue, err)
	}
	return r, nil
}

// GetDecimalScale returns parameter index rounded to scale fractional
// digits, halves away from zero.
//
// Deprecated: Use GetDecimal and round the result.
func (cs *CallableStmt) GetDecimalScale(index, scale int) (*big.Rat, error) {
	r, err := cs.GetDecimal(index)
	if err != nil || r == nil {
		return nil, err
	}
	if scale < 0 {
		return nil, sqlerr.Usage(resCall.name, "getDecimal", sqlerr.StateInvalidDescriptorIndex,
			fmt.Sprintf("negative scale %d", scale))
	}
	return round(r, scale), nil
}

func round(r *big.Rat, scale int) *big.Rat {
	out, _ := new(big.Rat).SetString(r.FloatString(scale))
	return out
}

func toRat(v any) (*big.Rat, error) {
	switch x := v.(type) {
	case int64:
		return new(big.Rat).SetInt64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("value %v is not a decimal", x)
		}
		return parseRat(strconv.FormatFloat(x, 'g', -1, 64))
	case bool:
		if x {
			return big.NewRat(1, 1), nil
		}
		return new(big.Rat), nil
	case []byte:
		return parseRat(string(x))
	case string:
		return parseRat(x)
	}
	return nil, fmt.Errorf("cannot convert %T to a decimal", v)
}

func parseRat(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return r, nil
}

// GetArray returns parameter index decoded as an Array; nil for NULL.
func (cs *CallableStmt) GetArray(index int) (Array, error) {
	v, err := cs.value("getArray", index)
	if err != nil || v == nil {
		return nil, err
	}
	var a Array
	if err := a.Scan(v); err != nil {
		return nil, conversion("getArray", sqlerr.StateInvalidCharacterValue, err)
	}
	return a, nil
}

// GetObject returns parameter index converted according to the SQLType it
// was registered with; nil for NULL.
func (cs *CallableStmt) GetObject(index int) (any, error) {
	v, err := cs.value("getObject", index)
	if err != nil || v == nil {
		return nil, err
	}
	cs.mu.Lock()
	out := cs.outs[index]
	cs.mu.Unlock()

	switch out.typ {
	case TypeVarchar, TypeChar, TypeClob:
		return cs.GetString(index)
	case TypeBigInt, TypeInteger, TypeSmallInt, TypeTinyInt:
		return cs.GetInt64(index)
	case TypeDouble, TypeReal, TypeFloat:
		return cs.GetFloat64(index)
	case TypeNumeric, TypeDecimal:
		r, err := cs.GetDecimal(index)
		if err != nil || out.scale == 0 {
			return r, err
		}
		return round(r, out.scale), nil
	case TypeBoolean, TypeBit:
		return cs.GetBool(index)
	case TypeBinary, TypeVarBinary, TypeBlob:
		return cs.GetBytes(index)
	case TypeDate, TypeTime, TypeTimestamp:
		return cs.GetTime(index)
	case TypeArray:
		return cs.GetArray(index)
	}
	if b, ok := v.([]byte); ok {
		return bytes.Clone(b), nil
	}
	return v, nil
}

// GetObjectByName is not supported: parameters are positional.
func (cs *CallableStmt) GetObjectByName(name string) (any, error) {
	if _, err := cs.delegate("getObject"); err != nil {
		return nil, err
	}
	return nil, sqlerr.Unsupported(resCall.name, "getObject", "named parameters")
}

// WasNull reports whether the last getter read SQL NULL.
func (cs *CallableStmt) WasNull() (bool, error) {
	if _, err := cs.delegate("wasNull"); err != nil {
		return false, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.wasNull, nil
}

// Close closes the vendor statement. Only the first call has an effect.
func (cs *CallableStmt) Close() error {
	if _, ok := cs.call.take(); !ok {
		return nil
	}
	cs.conn.children.remove(cs)

	cs.mu.Lock()
	si := cs.stmt
	cs.stmt, cs.stmtSQL = nil, ""
	cs.mu.Unlock()

	if si == nil {
		return nil
	}
	return cs.conn.mapErr(resCall, "close", si.Close())
}

func (cs *CallableStmt) closeChild() error { return cs.Close() }
