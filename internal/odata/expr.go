package odata

import (
	"strconv"
	"strings"
	"unicode"
)

// Expr is a $filter expression node.
type Expr interface {
	isExpr()
}

// BinaryExpr is a logical (and, or) or comparison (eq, ne, lt, le, gt, ge) node.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

// PathExpr references a property. Count marks a trailing /$count.
type PathExpr struct {
	Path  string
	Count bool
}

// Literal is a constant: nil, string, int64, float64 or bool.
type Literal struct {
	Value interface{}
}

// CallExpr is a canonical function call such as contains(Name1,'Org').
type CallExpr struct {
	Name string
	Args []Expr
}

// LambdaExpr is Nav/any(v: predicate) or Nav/all(v: predicate). Predicate is
// nil for the argument-less any().
type LambdaExpr struct {
	Path      string
	Op        string
	Var       string
	Predicate Expr
}

func (*BinaryExpr) isExpr() {}
func (*NotExpr) isExpr()    {}
func (*PathExpr) isExpr()   {}
func (*Literal) isExpr()    {}
func (*CallExpr) isExpr()   {}
func (*LambdaExpr) isExpr() {}

var comparisonOps = map[string]bool{
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true,
}

// Functions lists the supported canonical functions and their arity.
var Functions = map[string]int{
	"contains":   2,
	"startswith": 2,
	"endswith":   2,
	"tolower":    1,
	"toupper":    1,
	"length":     1,
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokSlash
	tokColon
	tokEquals
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	option string
	input  string
	pos    int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && l.input[l.pos] == ' ' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.input[l.pos]
	switch c {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '/':
		l.pos++
		return token{kind: tokSlash, text: "/", pos: start}, nil
	case ':':
		l.pos++
		return token{kind: tokColon, text: ":", pos: start}, nil
	case '=':
		l.pos++
		return token{kind: tokEquals, text: "=", pos: start}, nil
	case '\'':
		return l.lexString()
	}
	if c == '-' || (c >= '0' && c <= '9') {
		return l.lexNumber()
	}
	if c == '$' || c == '_' || unicode.IsLetter(rune(c)) {
		for l.pos < len(l.input) {
			r := rune(l.input[l.pos])
			if r != '_' && r != '$' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			l.pos++
		}
		return token{kind: tokIdent, text: l.input[start:l.pos], pos: start}, nil
	}
	return token{}, syntaxErrorf(l.option, start, "unexpected character %q", c)
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, syntaxErrorf(l.option, start, "unterminated string literal")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	digits := 0
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' {
			l.pos++
			digits++
			continue
		}
		break
	}
	if digits == 0 {
		return token{}, syntaxErrorf(l.option, start, "expected a number")
	}
	return token{kind: tokNumber, text: l.input[start:l.pos], pos: start}, nil
}

type exprParser struct {
	lex *lexer
	tok token
}

func newExprParser(option, input string) (*exprParser, error) {
	p := &exprParser{lex: &lexer{option: option, input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *exprParser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *exprParser) errorf(format string, args ...interface{}) error {
	return syntaxErrorf(p.lex.option, p.tok.pos, format, args...)
}

func (p *exprParser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		return p.errorf("expected %s", what)
	}
	return p.advance()
}

func (p *exprParser) isKeyword(word string) bool {
	return p.tok.kind == tokIdent && p.tok.text == word
}

// ParseFilter parses a $filter expression.
func ParseFilter(input string) (Expr, error) {
	return parseExpression("$filter", input)
}

func parseExpression(option, input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, syntaxErrorf(option, 0, "expression is empty")
	}
	p, err := newExprParser(option, input)
	if err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
	return expr, nil
}

func (p *exprParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.isKeyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokIdent && comparisonOps[p.tok.text] {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parsePrimary() (Expr, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokString:
		lit := &Literal{Value: p.tok.text}
		return lit, p.advance()
	case tokNumber:
		value, err := parseNumber(p.tok.text)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		return &Literal{Value: value}, p.advance()
	case tokIdent:
		switch p.tok.text {
		case "null":
			return &Literal{Value: nil}, p.advance()
		case "true":
			return &Literal{Value: true}, p.advance()
		case "false":
			return &Literal{Value: false}, p.advance()
		}
		if _, ok := Functions[p.tok.text]; ok {
			return p.parseCall()
		}
		return p.parsePath()
	case tokEOF:
		return nil, p.errorf("unexpected end of expression")
	default:
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
}

func (p *exprParser) parseCall() (Expr, error) {
	name := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(tokLParen, "'(' after "+name); err != nil {
		return nil, err
	}
	var args []Expr
	for p.tok.kind != tokRParen {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ',' or ')'")
		}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if want := Functions[name]; len(args) != want {
		return nil, p.errorf("%s expects %d arguments, got %d", name, want, len(args))
	}
	return &CallExpr{Name: name, Args: args}, nil
}

func (p *exprParser) parsePath() (Expr, error) {
	segments := []string{p.tok.text}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.kind == tokSlash {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokIdent {
			return nil, p.errorf("expected a path segment")
		}
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if (name == "any" || name == "all") && p.tok.kind == tokLParen {
			return p.parseLambda(strings.Join(segments, "/"), name)
		}
		if name == "$count" {
			return &PathExpr{Path: strings.Join(segments, "/"), Count: true}, nil
		}
		segments = append(segments, name)
	}
	return &PathExpr{Path: strings.Join(segments, "/")}, nil
}

func (p *exprParser) parseLambda(path, op string) (Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokRParen {
		if op == "all" {
			return nil, p.errorf("all requires a lambda predicate")
		}
		return &LambdaExpr{Path: path, Op: op}, p.advance()
	}
	if p.tok.kind != tokIdent {
		return nil, p.errorf("expected a lambda variable")
	}
	variable := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(tokColon, "':' after lambda variable"); err != nil {
		return nil, err
	}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokRParen, "')' closing lambda"); err != nil {
		return nil, err
	}
	return &LambdaExpr{Path: path, Op: op, Var: variable, Predicate: pred}, nil
}

func parseNumber(text string) (interface{}, error) {
	if !strings.ContainsAny(text, ".eE") {
		return strconv.ParseInt(text, 10, 64)
	}
	return strconv.ParseFloat(text, 64)
}

// parseLiteral parses a single key predicate literal.
func parseLiteral(option, input string) (interface{}, error) {
	p, err := newExprParser(option, input)
	if err != nil {
		return nil, err
	}
	var value interface{}
	switch p.tok.kind {
	case tokString:
		value = p.tok.text
	case tokNumber:
		value, err = parseNumber(p.tok.text)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
	case tokIdent:
		switch p.tok.text {
		case "true":
			value = true
		case "false":
			value = false
		default:
			return nil, p.errorf("expected a literal, got %q", p.tok.text)
		}
	default:
		return nil, p.errorf("expected a literal")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q after literal", p.tok.text)
	}
	return value, nil
}
