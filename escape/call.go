package escape

import (
	"fmt"

	"github.com/CaliLuke/go-sqlwrap/sqlerr"
)

// Native is a rendered statement together with its parameter binding order.
type Native struct {
	SQL string
	// Inputs holds, for each native placeholder in order, the 1-based index
	// of the ? marker it binds in the escape text.
	Inputs []int
}

// ParseCall parses a stored procedure call written as a {call} escape,
// optionally surrounded by whitespace and comments.
func ParseCall(sql string) (*Call, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if len(stmt.Parts) != 1 || stmt.Parts[0].Escape == nil || stmt.Parts[0].Escape.Call == nil {
		return nil, &Error{
			State: sqlerr.StateSyntaxError,
			Msg:   "callable statement must be a single {call ...} escape",
		}
	}
	c := stmt.Parts[0].Escape.Call
	c.src = sql
	return c, nil
}

// NumParams returns the number of ? markers in the call, the return value
// marker included.
func (c *Call) NumParams() int {
	n := 0
	if c.Return {
		n++
	}
	for _, a := range c.Args {
		n += a.countParams()
	}
	return n
}

// Plain reports whether marker index is bound directly to the return value
// or to a whole argument, which is required for output parameters.
func (c *Call) Plain(index int) bool {
	at := 0
	if c.Return {
		at++
		if index == at {
			return true
		}
	}
	for _, a := range c.Args {
		if a.marker() {
			at++
			if index == at {
				return true
			}
			continue
		}
		at += a.countParams()
		if index <= at {
			return false
		}
	}
	return false
}

// Render writes the call in the native syntax of d. Markers listed in outOnly
// are output-only and are left out of the argument list.
func (c *Call) Render(d *Dialect, outOnly map[int]bool) (Native, error) {
	if d == nil {
		d = SQLite
	}
	for index := range outOnly {
		if !c.Plain(index) {
			return Native{}, &Error{
				State: sqlerr.StateInvalidDescriptorIndex,
				Msg:   fmt.Sprintf("parameter %d is not a call argument", index),
			}
		}
	}
	r := &renderer{src: c.src, d: d, skip: outOnly}
	if err := r.call(c); err != nil {
		return Native{}, err
	}
	return Native{SQL: r.b.String(), Inputs: r.inputs}, nil
}

func (a *Arg) countParams() int {
	n := 0
	for _, p := range a.Parts {
		switch {
		case p.Param:
			n++
		case p.Group != nil:
			n += countInner(p.Group.Parts)
		case p.Escape != nil:
			n += p.Escape.countParams()
		}
	}
	return n
}

func countInner(parts []*Inner) int {
	n := 0
	for _, p := range parts {
		switch {
		case p.Param:
			n++
		case p.Group != nil:
			n += countInner(p.Group.Parts)
		case p.Escape != nil:
			n += p.Escape.countParams()
		}
	}
	return n
}

func (e *Escape) countParams() int {
	switch {
	case e.Call != nil:
		return e.Call.NumParams()
	case e.Fn != nil:
		n := 0
		for _, a := range e.Fn.Args {
			n += a.countParams()
		}
		return n
	case e.OuterJoin != nil:
		return countInner(e.OuterJoin)
	case e.Limit != nil:
		return countInner(e.Limit)
	}
	return 0
}
