package expr

import "fmt"

type node interface{}

type numberNode float64

type stringNode string

type identNode string

type callNode struct {
	name string
	args []node
}

type binaryNode struct {
	op    string
	left  node
	right node
}

type negateNode struct {
	child node
}

// statement is either an assignment to a variable or a bare expression.
type statement struct {
	assign string
	expr   node
}

type parser struct {
	tokens []token
	pos    int
}

func parseStatement(input string) (statement, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return statement{}, err
	}
	p := &parser{tokens: tokens}

	var stmt statement
	if p.peek().kind == tokIdent && p.peekAt(1).kind == tokOp && p.peekAt(1).text == "=" {
		stmt.assign = p.next().text
		p.next()
	}
	expr, err := p.parseExpr()
	if err != nil {
		return statement{}, err
	}
	if p.peek().kind != tokEOF {
		return statement{}, fmt.Errorf("unexpected trailing input %q", p.peek().text)
	}
	stmt.expr = expr
	return stmt, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.tokens) {
		return token{kind: tokEOF}
	}
	return p.tokens[p.pos+n]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokOp && p.peek().text == "-" {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negateNode{child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return numberNode(t.num), nil
	case tokString:
		p.next()
		return stringNode(t.text), nil
	case tokIdent:
		p.next()
		if p.peek().kind == tokOp && p.peek().text == "(" {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return callNode{name: t.text, args: args}, nil
		}
		return identNode(t.text), nil
	case tokOp:
		if t.text == "(" {
			p.next()
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if p.peek().text != ")" {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			p.next()
			return inner, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

func (p *parser) parseArgs() ([]node, error) {
	args := make([]node, 0, 4)
	if p.peek().kind == tokOp && p.peek().text == ")" {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		t := p.peek()
		if t.kind == tokOp && t.text == "," {
			p.next()
			continue
		}
		if t.kind == tokOp && t.text == ")" {
			p.next()
			return args, nil
		}
		return nil, fmt.Errorf("expected ',' or ')' in argument list, got %q", t.text)
	}
}
