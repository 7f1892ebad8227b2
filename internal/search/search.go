// Package search compiles filtered-deck search expressions into SQL
// predicates over the cards table (alias c) joined with notes (alias n).
//
// Terms are joined by whitespace (implicit AND) or the word "or"; a leading
// "-" negates a term and parentheses group. Supported terms:
//
//	deck:NAME      the deck and its children; * matches anything; deck:filtered
//	tag:NAME       * matches anything; tag:none matches untagged notes
//	is:STATE       new, learn, review, due, suspended, buried
//	flag:N         user flag 0-7
//	prop:FIELD OP N  FIELD in ivl, due, reps, lapses, ease
//	cid:1,2,3      card ids
//	WORD           substring of question, answer or context
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every compile error.
var ErrSyntax = errors.New("invalid search")

// Context supplies the clock values day-relative terms compare against.
type Context struct {
	Today int64
	Now   int64
}

// Compile turns expr into a SQL boolean expression and its bind arguments.
// An empty expression matches every card.
func Compile(expr string, ctx Context) (string, []any, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return "", nil, err
	}
	if len(toks) == 0 {
		return "1", nil, nil
	}
	p := &parser{toks: toks, ctx: ctx}
	sql, err := p.parseOr()
	if err != nil {
		return "", nil, err
	}
	if p.pos < len(p.toks) {
		return "", nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.toks[p.pos].text)
	}
	return sql, p.args, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokOpen
	tokClose
	tokNot
)

type token struct {
	kind   tokenKind
	text   string
	quoted bool
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokOpen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokClose, text: ")"})
			i++
		case c == '-' && i+1 < len(s) && s[i+1] != ' ':
			toks = append(toks, token{kind: tokNot, text: "-"})
			i++
		default:
			var b strings.Builder
			quoted := false
			for i < len(s) {
				c = s[i]
				if c == '"' {
					end := strings.IndexByte(s[i+1:], '"')
					if end < 0 {
						return nil, fmt.Errorf("%w: unterminated quote", ErrSyntax)
					}
					b.WriteString(s[i+1 : i+1+end])
					i += end + 2
					quoted = true
					continue
				}
				if c == ' ' || c == '\t' || c == '\n' || c == '(' || c == ')' {
					break
				}
				b.WriteByte(c)
				i++
			}
			toks = append(toks, token{kind: tokWord, text: b.String(), quoted: quoted})
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
	args []any
	ctx  Context
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func isKeyword(t token, kw string) bool {
	return t.kind == tokWord && !t.quoted && strings.EqualFold(t.text, kw)
}

func (p *parser) parseOr() (string, error) {
	left, err := p.parseAnd()
	if err != nil {
		return "", err
	}
	parts := []string{left}
	for {
		t, ok := p.peek()
		if !ok || !isKeyword(t, "or") {
			break
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return "", err
		}
		parts = append(parts, right)
	}
	if len(parts) == 1 {
		return left, nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (p *parser) parseAnd() (string, error) {
	var parts []string
	for {
		t, ok := p.peek()
		if !ok || t.kind == tokClose || isKeyword(t, "or") {
			break
		}
		if isKeyword(t, "and") {
			p.pos++
			continue
		}
		part, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty group", ErrSyntax)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (p *parser) parseUnary() (string, error) {
	t, _ := p.peek()
	switch t.kind {
	case tokNot:
		p.pos++
		if _, ok := p.peek(); !ok {
			return "", fmt.Errorf("%w: dangling negation", ErrSyntax)
		}
		inner, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil
	case tokOpen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return "", err
		}
		if t, ok := p.peek(); !ok || t.kind != tokClose {
			return "", fmt.Errorf("%w: missing closing parenthesis", ErrSyntax)
		}
		p.pos++
		return "(" + inner + ")", nil
	case tokClose:
		return "", fmt.Errorf("%w: unexpected )", ErrSyntax)
	}
	p.pos++
	return p.term(t)
}

func (p *parser) bind(v any) string {
	p.args = append(p.args, v)
	return "?"
}

func (p *parser) term(t token) (string, error) {
	key, val, found := strings.Cut(t.text, ":")
	if !found {
		return p.text(t.text), nil
	}
	switch strings.ToLower(key) {
	case "deck":
		return p.deck(val)
	case "tag":
		return p.tag(val), nil
	case "is":
		return p.is(val)
	case "flag":
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 || n > 7 {
			return "", fmt.Errorf("%w: invalid flag %q", ErrSyntax, val)
		}
		return "(c.flags & 7) = " + p.bind(n), nil
	case "prop":
		return p.prop(val)
	case "cid":
		return p.cid(val)
	}
	return p.text(t.text), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern escapes LIKE metacharacters and turns * into %.
func likePattern(s string) string {
	return strings.ReplaceAll(likeEscaper.Replace(s), "*", "%")
}

func (p *parser) text(word string) string {
	pat := "%" + likePattern(word) + "%"
	return fmt.Sprintf(`(n.question LIKE %s ESCAPE '\' OR n.answer LIKE %s ESCAPE '\' OR n.context LIKE %s ESCAPE '\')`,
		p.bind(pat), p.bind(pat), p.bind(pat))
}

func (p *parser) deck(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty deck name", ErrSyntax)
	}
	if strings.EqualFold(name, "filtered") {
		return "c.odid != 0", nil
	}
	if name == "*" {
		return "1", nil
	}
	pat := likePattern(name)
	sub := func() string {
		return fmt.Sprintf(`(SELECT id FROM decks WHERE name LIKE %s ESCAPE '\' OR name LIKE %s ESCAPE '\')`,
			p.bind(pat), p.bind(pat+"::%"))
	}
	home := sub()
	return fmt.Sprintf("(c.did IN %s OR c.odid IN %s)", home, sub()), nil
}

func (p *parser) tag(name string) string {
	if strings.EqualFold(name, "none") {
		return "trim(n.tags) = ''"
	}
	return `n.tags LIKE ` + p.bind("% "+likePattern(name)+" %") + ` ESCAPE '\'`
}

func (p *parser) is(state string) (string, error) {
	switch strings.ToLower(state) {
	case "new":
		return "c.type = 0", nil
	case "learn":
		return "c.queue IN (1, 3)", nil
	case "review":
		return "c.type IN (2, 3)", nil
	case "due":
		return fmt.Sprintf("((c.queue IN (2, 3) AND c.due <= %s) OR (c.queue = 1 AND c.due <= %s))",
			p.bind(p.ctx.Today), p.bind(p.ctx.Now)), nil
	case "suspended":
		return "c.queue = -1", nil
	case "buried":
		return "c.queue IN (-2, -3)", nil
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrSyntax, state)
}

var propOps = []string{"<=", ">=", "!=", "<", ">", "="}

func (p *parser) prop(expr string) (string, error) {
	var field, op, num string
	for _, candidate := range propOps {
		if i := strings.Index(expr, candidate); i > 0 {
			field, op, num = expr[:i], candidate, expr[i+len(candidate):]
			break
		}
	}
	if op == "" {
		return "", fmt.Errorf("%w: invalid property %q", ErrSyntax, expr)
	}
	switch field {
	case "ease":
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return "", fmt.Errorf("%w: invalid number %q", ErrSyntax, num)
		}
		return fmt.Sprintf("(c.factor / 1000.0) %s %s", op, p.bind(v)), nil
	case "ivl", "due", "reps", "lapses":
	default:
		return "", fmt.Errorf("%w: unknown property %q", ErrSyntax, field)
	}
	v, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid number %q", ErrSyntax, num)
	}
	if field == "due" {
		return fmt.Sprintf("(c.queue IN (2, 3) AND c.due %s %s)", op, p.bind(p.ctx.Today+v)), nil
	}
	return fmt.Sprintf("c.%s %s %s", field, op, p.bind(v)), nil
}

func (p *parser) cid(list string) (string, error) {
	var marks []string
	for _, part := range strings.Split(list, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: invalid card id %q", ErrSyntax, part)
		}
		marks = append(marks, p.bind(id))
	}
	return "c.id IN (" + strings.Join(marks, ", ") + ")", nil
}
