package sqlexpr

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/geomancer/pkg/dialect"
)

const indentSize = 2

// Render renders a statement for a dialect and returns the SQL text and its
// bind parameters in placeholder order.
func Render(stmt Statement, d *dialect.Dialect) (string, []any, error) {
	if d == nil {
		return "", nil, dialect.ErrDialectRequired
	}
	sel, ok := stmt.(*SelectStmt)
	if !ok {
		return "", nil, fmt.Errorf("unsupported statement %T", stmt)
	}

	ctes, err := collectCTEs(sel)
	if err != nil {
		return "", nil, err
	}

	p := newPrinter(d)
	if len(ctes) > 0 {
		p.keyword("WITH ")
		for i, cte := range ctes {
			if i > 0 {
				p.write(",")
				p.writeln()
			}
			p.write(d.QuoteIdentifier(cte.Name))
			p.write(" AS (")
			p.writeln()
			p.indent()
			p.formatSelect(cte.Select)
			p.dedent()
			p.writeln()
			p.write(")")
		}
		p.writeln()
	}
	p.formatSelect(sel)
	if p.err != nil {
		return "", nil, p.err
	}
	return p.String(), p.params, nil
}

// collectCTEs walks the statement and returns every referenced CTE with its
// dependencies first. Distinct CTEs sharing a name are rejected.
func collectCTEs(root *SelectStmt) ([]*CTE, error) {
	var (
		ordered []*CTE
		seen    = make(map[string]*CTE)
		visit   func(s *SelectStmt) error
	)
	visit = func(s *SelectStmt) error {
		for _, rel := range s.From {
			switch r := rel.(type) {
			case *CTE:
				if prev, ok := seen[r.Name]; ok {
					if prev != r {
						return fmt.Errorf("duplicate CTE name %q", r.Name)
					}
					continue
				}
				if err := visit(r.Select); err != nil {
					return err
				}
				seen[r.Name] = r
				ordered = append(ordered, r)
			case *Subquery:
				if err := visit(r.Select); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return ordered, nil
}

// printer handles SQL output with indentation and parameter collection.
type printer struct {
	dialect     *dialect.Dialect
	output      *bytes.Buffer
	params      []any
	depth       int
	atLineStart bool
	err         error
}

func newPrinter(d *dialect.Dialect) *printer {
	return &printer{
		dialect:     d,
		output:      &bytes.Buffer{},
		atLineStart: true,
	}
}

// String returns the rendered output.
func (p *printer) String() string {
	return strings.TrimRight(p.output.String(), "\n")
}

func (p *printer) write(s string) {
	if p.atLineStart && len(s) > 0 && s[0] != '\n' {
		p.writeIndent()
	}
	p.output.WriteString(s)
	p.atLineStart = false
}

func (p *printer) writeln() {
	p.output.WriteByte('\n')
	p.atLineStart = true
}

func (p *printer) writeIndent() {
	for i := 0; i < p.depth*indentSize; i++ {
		p.output.WriteByte(' ')
	}
	p.atLineStart = false
}

func (p *printer) keyword(s string) {
	p.write(strings.ToUpper(s))
}

func (p *printer) indent() {
	p.depth++
}

func (p *printer) dedent() {
	if p.depth > 0 {
		p.depth--
	}
}

func (p *printer) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

// formatList prints count items separated by sep.
func (p *printer) formatList(count int, format func(i int), sep string) {
	for i := 0; i < count; i++ {
		if i > 0 {
			p.write(sep)
		}
		format(i)
	}
}

func (p *printer) formatSelect(s *SelectStmt) {
	if len(s.Items) == 0 {
		p.fail("select has no columns")
		return
	}

	p.keyword("SELECT ")
	p.formatList(len(s.Items), func(i int) { p.formatSelectItem(s.Items[i]) }, ", ")

	if len(s.From) > 0 {
		p.writeln()
		p.keyword("FROM ")
		p.formatList(len(s.From), func(i int) { p.formatRelation(s.From[i]) }, ", ")
	}

	if s.Where != nil {
		p.writeln()
		p.keyword("WHERE ")
		p.formatExpr(s.Where)
	}

	if len(s.GroupBy) > 0 {
		p.writeln()
		p.keyword("GROUP BY ")
		p.formatList(len(s.GroupBy), func(i int) { p.formatExpr(s.GroupBy[i]) }, ", ")
	}

	if len(s.OrderBy) > 0 {
		p.writeln()
		p.keyword("ORDER BY ")
		p.formatOrderBy(s.OrderBy)
	}
}

func (p *printer) formatSelectItem(item Selectable) {
	switch it := item.(type) {
	case *Labeled:
		p.formatExpr(it.Expr)
		p.keyword(" AS ")
		p.write(p.dialect.QuoteIdentifier(it.Name))
	default:
		p.formatExpr(it)
	}
}

func (p *printer) formatRelation(rel Relation) {
	switch r := rel.(type) {
	case *Table:
		p.write(p.dialect.QuotePath(r.Path))
		p.keyword(" AS ")
		p.write(p.dialect.QuoteIdentifier(r.RefName()))
	case *CTE:
		p.write(p.dialect.QuoteIdentifier(r.Name))
	case *Subquery:
		p.write("(")
		p.writeln()
		p.indent()
		p.formatSelect(r.Select)
		p.dedent()
		p.writeln()
		p.write(")")
		p.keyword(" AS ")
		p.write(p.dialect.QuoteIdentifier(r.Alias))
	default:
		p.fail("unsupported relation %T", rel)
	}
}

func (p *printer) formatExpr(e Expr) {
	switch expr := e.(type) {
	case *ColumnRef:
		if expr.Rel != "" {
			p.write(p.dialect.QuoteIdentifier(expr.Rel))
			p.write(".")
		}
		p.write(p.dialect.QuoteIdentifier(expr.Name))
	case *Literal:
		p.formatLiteral(expr)
	case *BinaryExpr:
		p.formatOperand(expr.Left)
		p.write(" ")
		p.keyword(expr.Op)
		p.write(" ")
		p.formatOperand(expr.Right)
	case *FuncCall:
		p.formatFuncCall(expr)
	case *Labeled:
		// A label outside a select list is just its expression.
		p.formatExpr(expr.Expr)
	case nil:
		p.fail("nil expression")
	default:
		p.fail("unsupported expression %T", e)
	}
}

// formatOperand parenthesizes nested binary expressions so the rendered
// text never depends on operator precedence.
func (p *printer) formatOperand(e Expr) {
	if _, ok := e.(*BinaryExpr); ok {
		p.write("(")
		p.formatExpr(e)
		p.write(")")
		return
	}
	p.formatExpr(e)
}

func (p *printer) formatLiteral(lit *Literal) {
	switch v := lit.Value.(type) {
	case nil:
		p.keyword("NULL")
	case bool:
		if v {
			p.keyword("TRUE")
		} else {
			p.keyword("FALSE")
		}
	case int:
		p.write(strconv.Itoa(v))
	case int32:
		p.write(strconv.FormatInt(int64(v), 10))
	case int64:
		p.write(strconv.FormatInt(v, 10))
	case float32:
		p.write(strconv.FormatFloat(float64(v), 'f', -1, 32))
	case float64:
		p.write(strconv.FormatFloat(v, 'f', -1, 64))
	case string, time.Time, []byte:
		p.params = append(p.params, v)
		p.write(p.dialect.FormatPlaceholder(len(p.params)))
	default:
		p.fail("unsupported literal %T", lit.Value)
	}
}

func (p *printer) formatFuncCall(f *FuncCall) {
	p.write(f.Name)
	p.write("(")
	if f.Distinct {
		p.keyword("DISTINCT ")
	}
	if f.Star {
		p.write("*")
	} else {
		p.formatList(len(f.Args), func(i int) { p.formatExpr(f.Args[i]) }, ", ")
	}
	p.write(")")

	if f.Window != nil {
		p.keyword(" OVER (")
		needSpace := false
		if len(f.Window.PartitionBy) > 0 {
			p.keyword("PARTITION BY ")
			p.formatList(len(f.Window.PartitionBy), func(i int) { p.formatExpr(f.Window.PartitionBy[i]) }, ", ")
			needSpace = true
		}
		if len(f.Window.OrderBy) > 0 {
			if needSpace {
				p.write(" ")
			}
			p.keyword("ORDER BY ")
			p.formatOrderBy(f.Window.OrderBy)
		}
		p.write(")")
	}
}

func (p *printer) formatOrderBy(items []OrderByItem) {
	p.formatList(len(items), func(i int) {
		p.formatExpr(items[i].Expr)
		if items[i].Desc {
			p.keyword(" DESC")
		} else {
			p.keyword(" ASC")
		}
	}, ", ")
}
