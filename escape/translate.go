package escape

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// Error is a malformed escape or statement. It carries the SQLSTATE the
// failure maps to so the wrapper layer can translate it like a vendor error.
type Error struct {
	Pos   lexer.Position
	State string
	Msg   string
}

func (e *Error) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
	}
	return e.Msg
}

// SQLState reports the SQLSTATE of the failure.
func (e *Error) SQLState() string { return e.State }

func syntaxError(err error) error {
	var pe participle.Error
	if errors.As(err, &pe) {
		return &Error{Pos: pe.Position(), State: sqlerr.StateSyntaxError, Msg: pe.Message()}
	}
	return &Error{State: sqlerr.StateSyntaxError, Msg: err.Error()}
}

// Parse parses sql into its escape structure.
func Parse(sql string) (*Statement, error) {
	stmt, err := parser.ParseString("", sql)
	if err != nil {
		return nil, syntaxError(err)
	}
	return stmt, nil
}

// Translate rewrites the escapes and parameter markers in sql into the
// native syntax of d. Statements without escapes are returned unchanged when
// the dialect also uses ? placeholders.
func Translate(sql string, d *Dialect) (string, error) {
	if d == nil {
		d = SQLite
	}
	if !strings.Contains(sql, "{") && (!d.Numbered || !strings.Contains(sql, "?")) {
		return sql, nil
	}
	stmt, err := Parse(sql)
	if err != nil {
		return "", err
	}
	r := &renderer{src: sql, d: d}
	if err := r.top(stmt.Parts); err != nil {
		return "", err
	}
	return r.b.String(), nil
}

// renderer writes native SQL. Untouched source between nodes, comments and
// whitespace included, is copied verbatim.
type renderer struct {
	src string
	d   *Dialect
	b   strings.Builder

	// params counts ? markers seen, emitted or not.
	params int
	// inputs lists the marker index of each emitted placeholder.
	inputs []int
	// skip holds marker indexes that must not be emitted.
	skip map[int]bool
}

func (r *renderer) copy(from, to int) {
	if from < to {
		r.b.WriteString(r.src[from:to])
	}
}

func (r *renderer) param() {
	r.params++
	if r.skip[r.params] {
		return
	}
	r.inputs = append(r.inputs, r.params)
	r.b.WriteString(r.d.placeholder(len(r.inputs)))
}

func (r *renderer) top(parts []*Part) error {
	at := 0
	for _, p := range parts {
		r.copy(at, p.Pos.Offset)
		switch {
		case p.Escape != nil:
			if err := r.escape(p.Escape); err != nil {
				return err
			}
		case p.Param:
			r.param()
		default:
			r.copy(p.Pos.Offset, p.EndPos.Offset)
		}
		at = p.EndPos.Offset
	}
	r.copy(at, len(r.src))
	return nil
}

func (r *renderer) inner(parts []*Inner) error {
	if len(parts) == 0 {
		return nil
	}
	at := parts[0].Pos.Offset
	for _, p := range parts {
		r.copy(at, p.Pos.Offset)
		switch {
		case p.Escape != nil:
			if err := r.escape(p.Escape); err != nil {
				return err
			}
		case p.Param:
			r.param()
		case p.Group != nil:
			if err := r.group(p.Group); err != nil {
				return err
			}
		default:
			r.copy(p.Pos.Offset, p.EndPos.Offset)
		}
		at = p.EndPos.Offset
	}
	return nil
}

func (r *renderer) group(g *Group) error {
	r.b.WriteByte('(')
	if len(g.Parts) > 0 {
		// Keep the spacing after the opening parenthesis.
		r.copy(g.Pos.Offset+1, g.Parts[0].Pos.Offset)
	}
	if err := r.inner(g.Parts); err != nil {
		return err
	}
	if n := len(g.Parts); n > 0 {
		r.copy(g.Parts[n-1].EndPos.Offset, g.EndPos.Offset-1)
	}
	r.b.WriteByte(')')
	return nil
}

func (r *renderer) arg(a *Arg) error {
	at := a.Pos.Offset
	for _, p := range a.Parts {
		r.copy(at, p.Pos.Offset)
		switch {
		case p.Escape != nil:
			if err := r.escape(p.Escape); err != nil {
				return err
			}
		case p.Param:
			r.param()
		case p.Group != nil:
			if err := r.group(p.Group); err != nil {
				return err
			}
		default:
			r.copy(p.Pos.Offset, p.EndPos.Offset)
		}
		at = p.EndPos.Offset
	}
	return nil
}

// args renders an argument list. Arguments that are a single skipped marker
// are dropped together with their separator.
func (r *renderer) args(args []*Arg) error {
	first := true
	for _, a := range args {
		if a.marker() && r.skip[r.params+1] {
			r.params++
			continue
		}
		if !first {
			r.b.WriteString(", ")
		}
		first = false
		if err := r.arg(a); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) escape(e *Escape) error {
	switch {
	case e.Call != nil:
		return r.call(e.Call)
	case e.Fn != nil:
		return r.fn(e.Fn)
	case e.Date != "":
		return r.literal(e, "DATE", e.Date, "2006-01-02")
	case e.Time != "":
		return r.literal(e, "TIME", e.Time, "15:04:05")
	case e.Timestamp != "":
		return r.literal(e, "TIMESTAMP", e.Timestamp, "2006-01-02 15:04:05")
	case e.OuterJoin != nil:
		return r.inner(e.OuterJoin)
	case e.Like != "":
		r.b.WriteString("ESCAPE ")
		r.b.WriteString(e.Like)
		return nil
	case e.Limit != nil:
		r.b.WriteString("LIMIT ")
		return r.inner(e.Limit)
	}
	return &Error{Pos: e.Pos, State: sqlerr.StateSyntaxError, Msg: "empty escape"}
}

func (r *renderer) call(c *Call) error {
	if c.Return {
		// The return value is read from the result row, never bound.
		r.params++
	}
	r.b.WriteString(r.d.CallPrefix)
	r.b.WriteString(c.Name)
	r.b.WriteByte('(')
	if err := r.args(c.Args); err != nil {
		return err
	}
	r.b.WriteByte(')')
	return nil
}

func (r *renderer) fn(f *Fn) error {
	name := strings.ToLower(f.Name)
	if len(f.Args) == 0 {
		if native, ok := r.d.Niladic[name]; ok {
			r.b.WriteString(native)
			return nil
		}
	}
	if name == "concat" && len(f.Args) > 0 {
		r.b.WriteByte('(')
		for i, a := range f.Args {
			if i > 0 {
				r.b.WriteString(" || ")
			}
			if err := r.arg(a); err != nil {
				return err
			}
		}
		r.b.WriteByte(')')
		return nil
	}
	r.b.WriteString(r.d.function(f.Name))
	r.b.WriteByte('(')
	for i, a := range f.Args {
		if i > 0 {
			r.b.WriteString(", ")
		}
		if err := r.arg(a); err != nil {
			return err
		}
	}
	r.b.WriteByte(')')
	return nil
}

func (r *renderer) literal(e *Escape, typ, quoted, layout string) error {
	value := strings.ReplaceAll(strings.Trim(quoted, "'"), "''", "'")
	if _, err := time.Parse(layout, value); err != nil {
		return &Error{
			Pos:   e.Pos,
			State: sqlerr.StateInvalidDatetimeFormat,
			Msg:   fmt.Sprintf("invalid %s literal %s", strings.ToLower(typ), quoted),
		}
	}
	if r.d.TypedLiterals {
		r.b.WriteString(typ)
		r.b.WriteByte(' ')
	}
	r.b.WriteString(quoted)
	return nil
}

// marker reports whether the argument is exactly one ? marker.
func (a *Arg) marker() bool {
	return len(a.Parts) == 1 && a.Parts[0].Param
}
