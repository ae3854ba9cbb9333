package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// PDSLexer tokenizes the line-oriented .pds model format:
//
//	model calls
//	states p q
//	labels a b
//	rule p a -> q push b
//	rule q * -> q pop
//	query fwd forward p [a] -> q [b a] expect reachable witness
var PDSLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(#|//)[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s\t\n\r]+`},

	{Name: "KwModel", Pattern: `\bmodel\b`},
	{Name: "KwStates", Pattern: `\bstates\b`},
	{Name: "KwLabels", Pattern: `\blabels\b`},
	{Name: "KwRule", Pattern: `\brule\b`},
	{Name: "KwQuery", Pattern: `\bquery\b`},
	{Name: "KwExpect", Pattern: `\bexpect\b`},
	{Name: "KwWitness", Pattern: `\bwitness\b`},

	{Name: "KwPop", Pattern: `\bpop\b`},
	{Name: "KwSwap", Pattern: `\bswap\b`},
	{Name: "KwPush", Pattern: `\bpush\b`},

	{Name: "KwDirection", Pattern: `\b(forward|backward)\b`},
	{Name: "KwVerdict", Pattern: `\b(reachable|unreachable)\b`},

	{Name: "Arrow", Pattern: `->`},
	{Name: "LBracket", Pattern: `\[`},
	{Name: "RBracket", Pattern: `\]`},
	{Name: "Comma", Pattern: `,`},

	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.']*`},
	{Name: "Asterisk", Pattern: `\*`},
})

// PDSFile is a parsed .pds document.
type PDSFile struct {
	Pos   lexer.Position
	Decls []*PDSDecl `@@*`
}

// PDSDecl is one top-level line.
type PDSDecl struct {
	Pos    lexer.Position
	Model  *string   `  KwModel @Ident`
	States []string  `| KwStates @Ident+`
	Labels []string  `| KwLabels @Ident+`
	Rule   *PDSRule  `| KwRule @@`
	Query  *PDSQuery `| KwQuery @@`
}

// PDSRule is "rule <from> <label|*> -> <to> <op> [<label>]".
type PDSRule struct {
	Pos     lexer.Position
	From    string `@Ident`
	Label   string `@( Ident | Asterisk )`
	To      string `Arrow @Ident`
	Op      string `@( KwPop | KwSwap | KwPush )`
	OpLabel string `@Ident?`
}

// PDSQuery is "query <name> <direction> <state> [stack] -> <state> [stack]
// [expect <verdict>] [witness]".
type PDSQuery struct {
	Pos       lexer.Position
	Name      string   `@Ident`
	Direction string   `@KwDirection`
	From      string   `@Ident`
	FromStack []string `LBracket ( @Ident Comma? )* RBracket`
	To        string   `Arrow @Ident`
	ToStack   []string `LBracket ( @Ident Comma? )* RBracket`
	Expect    string   `( KwExpect @KwVerdict )?`
	Witness   bool     `@KwWitness?`
}

// PDSParser parses .pds documents into model specs.
type PDSParser struct {
	parser *participle.Parser[PDSFile]
}

// NewPDSParser creates a .pds parser.
func NewPDSParser() (*PDSParser, error) {
	parser, err := participle.Build[PDSFile](
		participle.Lexer(PDSLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &PDSParser{parser: parser}, nil
}

// ParseString parses src. filename is used for positions and for the model
// name when the document has no model line.
func (p *PDSParser) ParseString(filename, src string) (*ModelSpec, error) {
	file, err := p.parser.ParseString(filename, src)
	if err != nil {
		var perr participle.Error
		if errors.As(err, &perr) {
			pos := perr.Position()
			return nil, ValidationErrors{{
				File:     filename,
				Line:     pos.Line,
				Column:   pos.Column,
				Message:  perr.Message(),
				Severity: "error",
			}}
		}
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return file.ToModelSpec(modelNameFromPath(filename)), nil
}

// ToModelSpec converts the parsed document. States and labels may be
// declared over several lines; order is preserved.
func (f *PDSFile) ToModelSpec(defaultName string) *ModelSpec {
	spec := &ModelSpec{Name: defaultName}
	for _, d := range f.Decls {
		switch {
		case d.Model != nil:
			spec.Name = *d.Model
		case len(d.States) > 0:
			spec.States = append(spec.States, d.States...)
		case len(d.Labels) > 0:
			spec.Labels = append(spec.Labels, d.Labels...)
		case d.Rule != nil:
			spec.Rules = append(spec.Rules, RuleSpec{
				From:    d.Rule.From,
				Label:   d.Rule.Label,
				To:      d.Rule.To,
				Op:      d.Rule.Op,
				OpLabel: d.Rule.OpLabel,
			})
		case d.Query != nil:
			spec.Queries = append(spec.Queries, QuerySpec{
				Name:      d.Query.Name,
				Direction: d.Query.Direction,
				From:      d.Query.From,
				FromStack: d.Query.FromStack,
				To:        d.Query.To,
				ToStack:   d.Query.ToStack,
				Expect:    d.Query.Expect,
				Witness:   d.Query.Witness,
			})
		}
	}
	return spec
}

// MarshalPDS renders spec in the .pds format. Parsing the output yields an
// equivalent spec.
func MarshalPDS(spec *ModelSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "model %s\n", spec.Name)
	fmt.Fprintf(&sb, "states %s\n", strings.Join(spec.States, " "))
	fmt.Fprintf(&sb, "labels %s\n", strings.Join(spec.Labels, " "))
	for _, r := range spec.Rules {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}
	for _, q := range spec.Queries {
		dir := q.Direction
		switch dir {
		case "", "post", "post*":
			dir = "forward"
		case "pre", "pre*":
			dir = "backward"
		}
		fmt.Fprintf(&sb, "query %s %s %s [%s] -> %s [%s]", q.Name, dir,
			q.From, strings.Join(q.FromStack, " "), q.To, strings.Join(q.ToStack, " "))
		if q.Expect != "" {
			fmt.Fprintf(&sb, " expect %s", q.Expect)
		}
		if q.Witness {
			sb.WriteString(" witness")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func modelNameFromPath(path string) string {
	if path == "" {
		return "model"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
