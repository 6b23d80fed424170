package escape

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// --- Participle grammar structs ---
// Whitespace and comments are elided. Every node records its source span so
// rendering can copy untouched SQL verbatim, including the elided text.

// Statement is a whole SQL string: plain text interleaved with escapes and
// parameter markers.
type Statement struct {
	Parts []*Part `parser:"@@*"`
}

// Part is one top-level element of a statement.
type Part struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Escape *Escape `parser:"  @@"`
	Param  bool    `parser:"| @Param"`
	Text   string  `parser:"| @(Ident | Number | String | QuotedIdent | Punct | LParen | RParen | Comma | Close)"`
}

// Escape parses: { call ... } | { fn ... } | { d|t|ts '...' } | { oj ... } | { escape '...' } | { limit ... }
type Escape struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Call      *Call    `parser:"Open ( @@"`
	Fn        *Fn      `parser:"      | 'fn' @@"`
	Date      string   `parser:"      | 'd' @String"`
	Time      string   `parser:"      | 't' @String"`
	Timestamp string   `parser:"      | 'ts' @String"`
	OuterJoin []*Inner `parser:"      | 'oj' @@+"`
	Like      string   `parser:"      | 'escape' @String"`
	Limit     []*Inner `parser:"      | 'limit' @@+ ) Close"`
}

// Call parses: [? =] call name [( arg [, arg]* )]
type Call struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Return bool   `parser:"( @Param '=' )?"`
	Name   string `parser:"'call' @Ident"`
	Parens bool   `parser:"( @LParen"`
	Args   []*Arg `parser:"  ( @@ ( Comma @@ )* )? RParen )?"`

	src string
}

// Fn parses: name [( arg [, arg]* )]
type Fn struct {
	Name   string `parser:"@Ident"`
	Parens bool   `parser:"( @LParen"`
	Args   []*Arg `parser:"  ( @@ ( Comma @@ )* )? RParen )?"`
}

// Arg is one comma-separated argument of a call or function escape.
type Arg struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Parts []*ArgPart `parser:"@@+"`
}

// ArgPart is one element of an argument. Commas only appear inside groups.
type ArgPart struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Escape *Escape `parser:"  @@"`
	Param  bool    `parser:"| @Param"`
	Group  *Group  `parser:"| @@"`
	Text   string  `parser:"| @(Ident | Number | String | QuotedIdent | Punct)"`
}

// Group parses a parenthesised run of tokens, commas included.
type Group struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Parts []*Inner `parser:"LParen @@* RParen"`
}

// Inner is one element inside a group or an escape body.
type Inner struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Escape *Escape `parser:"  @@"`
	Param  bool    `parser:"| @Param"`
	Group  *Group  `parser:"| @@"`
	Text   string  `parser:"| @(Ident | Number | String | QuotedIdent | Punct | Comma)"`
}

var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*(?s:.*?)\*/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "QuotedIdent", Pattern: `"(?:[^"]|"")*"`},
	{Name: "Number", Pattern: `[0-9]+(?:\.[0-9]*)?(?:[eE][+-]?[0-9]+)?|\.[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_$]*(?:\.[a-zA-Z_][a-zA-Z0-9_$]*)*`},
	{Name: "Open", Pattern: `\{`},
	{Name: "Close", Pattern: `\}`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Param", Pattern: `\?`},
	{Name: "Punct", Pattern: `[^\s{}(),?'"a-zA-Z0-9_]`},
})

var parser = participle.MustBuild[Statement](
	participle.Lexer(sqlLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(4),
)
