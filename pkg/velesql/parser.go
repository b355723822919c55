package velesql

import (
	"fmt"
	"strconv"
)

// Parser consumes a token stream from a Lexer and builds a Select AST
// via recursive descent. One Parser is used for exactly one query.
type Parser struct {
	lex  *Lexer
	cur  Token
	peek Token
}

// NewParser tokenizes src eagerly enough to prime one token of
// lookahead, then returns a ready-to-use parser.
func NewParser(src string) (*Parser, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = t
	return nil
}

func (p *Parser) atKeyword(kw string) bool {
	return p.cur.Kind == TokenKeyword && upper(p.cur.Text) == kw
}

func (p *Parser) atPunct(s string) bool {
	return p.cur.Kind == TokenPunct && p.cur.Text == s
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return fmt.Errorf("velesql: expected %s at position %d, got %q", kw, p.cur.Pos, p.cur.Text)
	}
	return p.advance()
}

func (p *Parser) expectPunct(s string) error {
	if !p.atPunct(s) {
		return fmt.Errorf("velesql: expected %q at position %d, got %q", s, p.cur.Pos, p.cur.Text)
	}
	return p.advance()
}

// ParseSelect parses one (possibly set-combined) SELECT statement to
// EOF.
func (p *Parser) ParseSelect() (*Select, error) {
	sel, err := p.parseSelectCore()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != TokenEOF {
		return nil, fmt.Errorf("velesql: unexpected trailing input %q at %d", p.cur.Text, p.cur.Pos)
	}
	return sel, nil
}

func (p *Parser) parseSelectCore() (*Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &Select{}

	items, err := p.parseSelectItems()
	if err != nil {
		return nil, err
	}
	sel.Columns = items

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	sel.From = from

	for p.atKeyword("JOIN") || p.atKeyword("INNER") || p.atKeyword("LEFT") ||
		p.atKeyword("RIGHT") || p.atKeyword("FULL") {
		j, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, j)
	}

	if p.atKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = expr
	}

	if p.atKeyword("GROUP") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		cols, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		sel.GroupBy = cols
		if p.atKeyword("HAVING") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			sel.Having = expr
		}
	}

	if p.atKeyword("ORDER") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderItems()
		if err != nil {
			return nil, err
		}
		sel.OrderBy = items
	}

	if p.atKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.parseIntLiteral()
		if err != nil {
			return nil, err
		}
		sel.Limit = &n
		if p.atKeyword("OFFSET") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			m, err := p.parseIntLiteral()
			if err != nil {
				return nil, err
			}
			sel.Offset = &m
		}
	}

	if p.atKeyword("WITH") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		opts, err := p.parseWithOptions()
		if err != nil {
			return nil, err
		}
		sel.With = opts
	}

	if p.atKeyword("UNION") || p.atKeyword("INTERSECT") || p.atKeyword("EXCEPT") {
		switch upper(p.cur.Text) {
		case "UNION":
			sel.SetOp = SetOpUnion
		case "INTERSECT":
			sel.SetOp = SetOpIntersect
		case "EXCEPT":
			sel.SetOp = SetOpExcept
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.atKeyword("ALL") {
			sel.SetOpAll = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		rhs, err := p.parseSelectCore()
		if err != nil {
			return nil, err
		}
		sel.Combined = rhs
	}

	return sel, nil
}

func (p *Parser) parseSelectItems() ([]SelectItem, error) {
	var items []SelectItem
	for {
		if p.atPunct("*") {
			items = append(items, SelectItem{Star: true})
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := SelectItem{Expr: expr}
			if p.atKeyword("AS") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if p.cur.Kind != TokenIdent {
					return nil, fmt.Errorf("velesql: expected alias at %d", p.cur.Pos)
				}
				item.Alias = p.cur.Text
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			items = append(items, item)
		}
		if p.atPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseTableRef() (TableRef, error) {
	if p.cur.Kind != TokenIdent {
		return TableRef{}, fmt.Errorf("velesql: expected table name at %d", p.cur.Pos)
	}
	ref := TableRef{Name: p.cur.Text}
	if err := p.advance(); err != nil {
		return TableRef{}, err
	}
	if p.atKeyword("AS") {
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
		if p.cur.Kind != TokenIdent {
			return TableRef{}, fmt.Errorf("velesql: expected alias at %d", p.cur.Pos)
		}
		ref.Alias = p.cur.Text
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
	} else if p.cur.Kind == TokenIdent {
		ref.Alias = p.cur.Text
		if err := p.advance(); err != nil {
			return TableRef{}, err
		}
	}
	return ref, nil
}

func (p *Parser) parseJoin() (Join, error) {
	kind := InnerJoin
	switch {
	case p.atKeyword("INNER"):
		if err := p.advance(); err != nil {
			return Join{}, err
		}
	case p.atKeyword("LEFT"):
		kind = LeftJoin
		if err := p.advance(); err != nil {
			return Join{}, err
		}
	case p.atKeyword("RIGHT"):
		kind = RightJoin
		if err := p.advance(); err != nil {
			return Join{}, err
		}
	case p.atKeyword("FULL"):
		kind = FullJoin
		if err := p.advance(); err != nil {
			return Join{}, err
		}
	}
	if p.atKeyword("OUTER") {
		if err := p.advance(); err != nil {
			return Join{}, err
		}
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return Join{}, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return Join{}, err
	}
	j := Join{Kind: kind, Table: table}

	if p.atKeyword("ON") {
		if err := p.advance(); err != nil {
			return Join{}, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return Join{}, err
		}
		j.On = expr
	} else if p.atKeyword("USING") {
		if err := p.advance(); err != nil {
			return Join{}, err
		}
		if err := p.expectPunct("("); err != nil {
			return Join{}, err
		}
		for {
			if p.cur.Kind != TokenIdent {
				return Join{}, fmt.Errorf("velesql: expected column name at %d", p.cur.Pos)
			}
			j.Using = append(j.Using, p.cur.Text)
			if err := p.advance(); err != nil {
				return Join{}, err
			}
			if p.atPunct(",") {
				if err := p.advance(); err != nil {
					return Join{}, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return Join{}, err
		}
	}
	return j, nil
}

func (p *Parser) parseExprList() ([]Expr, error) {
	var exprs []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.atPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return exprs, nil
}

func (p *Parser) parseOrderItems() ([]OrderItem, error) {
	var items []OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: e}
		if p.atKeyword("DESC") {
			item.Desc = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.atKeyword("ASC") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
		if p.atPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseIntLiteral() (int, error) {
	if p.cur.Kind != TokenNumber {
		return 0, fmt.Errorf("velesql: expected integer at %d", p.cur.Pos)
	}
	n, err := strconv.Atoi(p.cur.Text)
	if err != nil {
		return 0, fmt.Errorf("velesql: invalid integer %q at %d", p.cur.Text, p.cur.Pos)
	}
	return n, p.advance()
}

func (p *Parser) parseWithOptions() (map[string]any, error) {
	opts := make(map[string]any)
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		if p.cur.Kind != TokenIdent && p.cur.Kind != TokenKeyword {
			return nil, fmt.Errorf("velesql: expected option name at %d", p.cur.Pos)
		}
		key := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		switch p.cur.Kind {
		case TokenNumber:
			if n, err := strconv.Atoi(p.cur.Text); err == nil {
				opts[key] = n
			} else {
				f, ferr := strconv.ParseFloat(p.cur.Text, 64)
				if ferr != nil {
					return nil, fmt.Errorf("velesql: invalid number %q at %d", p.cur.Text, p.cur.Pos)
				}
				opts[key] = f
			}
		case TokenString:
			opts[key] = p.cur.Text
		case TokenIdent, TokenKeyword:
			opts[key] = p.cur.Text
		default:
			return nil, fmt.Errorf("velesql: invalid option value at %d", p.cur.Pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.atPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return opts, p.expectPunct(")")
}
