// Package sqlexpr is a small, backend-agnostic SQL expression builder.
//
// Queries are assembled as a tree of relations (tables, CTEs, derived
// tables) and expressions, then rendered for a specific dialect. CTEs
// referenced anywhere in a statement are hoisted into one WITH clause at
// the top, in dependency order, so builders can compose CTEs freely.
package sqlexpr

import (
	"fmt"
	"slices"
)

// Expr is a scalar SQL expression.
type Expr interface {
	exprNode() // Marker method to distinguish expressions
}

// Selectable is an expression with an output column name.
type Selectable interface {
	Expr
	OutputName() string
}

// Relation is anything that can appear in a FROM clause.
type Relation interface {
	relationNode()

	// RefName is the name columns of this relation are qualified with.
	RefName() string

	// ColumnNames returns the relation's columns in order.
	ColumnNames() []string
}

// ---------- Relations ----------

// Table is a reflected database relation.
type Table struct {
	Path    string // Relation path as the backend addresses it
	Alias   string
	Columns []string
}

func (*Table) relationNode() {}

// NewTable creates a table handle with known columns.
func NewTable(path string, columns ...string) *Table {
	return &Table{Path: path, Columns: slices.Clone(columns)}
}

// RefName implements Relation. Unaliased tables are referenced by the last
// segment of their path.
func (t *Table) RefName() string {
	if t.Alias != "" {
		return t.Alias
	}
	for i := len(t.Path) - 1; i >= 0; i-- {
		if t.Path[i] == '.' {
			return t.Path[i+1:]
		}
	}
	return t.Path
}

// ColumnNames implements Relation.
func (t *Table) ColumnNames() []string { return t.Columns }

// As returns a copy of the table with an alias.
func (t *Table) As(alias string) *Table {
	return &Table{Path: t.Path, Alias: alias, Columns: t.Columns}
}

// C returns a reference to a column of the table.
func (t *Table) C(name string) *ColumnRef { return &ColumnRef{Rel: t.RefName(), Name: name} }

// CTE is a named common table expression.
type CTE struct {
	Name   string
	Select *SelectStmt
}

func (*CTE) relationNode() {}

// RefName implements Relation.
func (c *CTE) RefName() string { return c.Name }

// ColumnNames implements Relation.
func (c *CTE) ColumnNames() []string { return c.Select.ColumnNames() }

// C returns a reference to a column of the CTE.
func (c *CTE) C(name string) *ColumnRef { return &ColumnRef{Rel: c.Name, Name: name} }

// Subquery is a derived table in a FROM clause.
type Subquery struct {
	Alias  string
	Select *SelectStmt
}

func (*Subquery) relationNode() {}

// RefName implements Relation.
func (s *Subquery) RefName() string { return s.Alias }

// ColumnNames implements Relation.
func (s *Subquery) ColumnNames() []string { return s.Select.ColumnNames() }

// C returns a reference to a column of the derived table.
func (s *Subquery) C(name string) *ColumnRef { return &ColumnRef{Rel: s.Alias, Name: name} }

// ---------- Expressions ----------

// ColumnRef represents a column reference, qualified by relation.
type ColumnRef struct {
	Rel  string
	Name string
}

func (*ColumnRef) exprNode() {}

// OutputName implements Selectable.
func (c *ColumnRef) OutputName() string { return c.Name }

// As labels the column.
func (c *ColumnRef) As(name string) *Labeled { return &Labeled{Expr: c, Name: name} }

// Literal is a constant. Numbers and booleans are rendered inline, strings
// are bound as parameters.
type Literal struct {
	Value any
}

func (*Literal) exprNode() {}

// Lit wraps a Go value as a literal.
func Lit(v any) *Literal { return &Literal{Value: v} }

// BinaryExpr represents a binary operation.
type BinaryExpr struct {
	Left  Expr
	Op    string
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// Binary operators.
const (
	OpEq  = "="
	OpNe  = "<>"
	OpLt  = "<"
	OpLte = "<="
	OpGt  = ">"
	OpGte = ">="
	OpAnd = "AND"
	OpOr  = "OR"
)

// Eq builds left = right.
func Eq(left, right Expr) *BinaryExpr { return &BinaryExpr{Left: left, Op: OpEq, Right: right} }

// Lt builds left < right.
func Lt(left, right Expr) *BinaryExpr { return &BinaryExpr{Left: left, Op: OpLt, Right: right} }

// Lte builds left <= right.
func Lte(left, right Expr) *BinaryExpr { return &BinaryExpr{Left: left, Op: OpLte, Right: right} }

// And joins conditions with AND. Nil conditions are skipped.
func And(conds ...Expr) Expr {
	var out Expr
	for _, c := range conds {
		if c == nil {
			continue
		}
		if out == nil {
			out = c
			continue
		}
		out = &BinaryExpr{Left: out, Op: OpAnd, Right: c}
	}
	return out
}

// FuncCall represents a function call, optionally windowed.
type FuncCall struct {
	Name     string
	Distinct bool
	Args     []Expr
	Star     bool        // COUNT(*)
	Window   *WindowSpec // OVER clause
}

func (*FuncCall) exprNode() {}

// Func builds a function call.
func Func(name string, args ...Expr) *FuncCall {
	return &FuncCall{Name: name, Args: args}
}

// As labels the call.
func (f *FuncCall) As(name string) *Labeled { return &Labeled{Expr: f, Name: name} }

// Over attaches a window specification.
func (f *FuncCall) Over(w WindowSpec) *FuncCall {
	out := *f
	out.Window = &w
	return &out
}

// Count builds COUNT(expr).
func Count(e Expr) *FuncCall { return Func("COUNT", e) }

// CountDistinct builds COUNT(DISTINCT expr).
func CountDistinct(e Expr) *FuncCall {
	return &FuncCall{Name: "COUNT", Distinct: true, Args: []Expr{e}}
}

// Sum builds SUM(expr).
func Sum(e Expr) *FuncCall { return Func("SUM", e) }

// RowNumber builds ROW_NUMBER(); attach a window with Over.
func RowNumber() *FuncCall { return Func("ROW_NUMBER") }

// WindowSpec represents a window specification (OVER clause).
type WindowSpec struct {
	PartitionBy []Expr
	OrderBy     []OrderByItem
}

// OrderByItem represents an item in an ORDER BY list.
type OrderByItem struct {
	Expr Expr
	Desc bool
}

// Asc orders ascending.
func Asc(e Expr) OrderByItem { return OrderByItem{Expr: e} }

// Desc orders descending.
func Desc(e Expr) OrderByItem { return OrderByItem{Expr: e, Desc: true} }

// Labeled is an expression with an alias in a select list.
type Labeled struct {
	Expr Expr
	Name string
}

func (*Labeled) exprNode() {}

// OutputName implements Selectable.
func (l *Labeled) OutputName() string { return l.Name }

// As labels any expression for a select list.
func As(e Expr, name string) *Labeled { return &Labeled{Expr: e, Name: name} }

// ---------- Statements ----------

// Statement is anything a backend can execute.
type Statement interface {
	// ColumnNames returns the statement's output columns in order.
	ColumnNames() []string
}

// SelectStmt represents a SELECT statement.
type SelectStmt struct {
	Items   []Selectable
	From    []Relation
	Where   Expr
	GroupBy []Expr
	OrderBy []OrderByItem
}

// Select starts a SELECT with the given output items.
func Select(items ...Selectable) *SelectStmt {
	return &SelectStmt{Items: items}
}

// Columns expands every column of a relation into select items.
func Columns(rel Relation, exclude ...string) []Selectable {
	cols := rel.ColumnNames()
	out := make([]Selectable, 0, len(cols))
	for _, name := range cols {
		if slices.Contains(exclude, name) {
			continue
		}
		out = append(out, &ColumnRef{Rel: rel.RefName(), Name: name})
	}
	return out
}

// ColumnExprs is like Columns but returns plain expressions, for GROUP BY.
func ColumnExprs(rel Relation, exclude ...string) []Expr {
	items := Columns(rel, exclude...)
	out := make([]Expr, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

// SelectFrom sets the FROM relations. Several relations are cross joined;
// constrain them with Where.
func (s *SelectStmt) SelectFrom(rels ...Relation) *SelectStmt {
	s.From = append(s.From, rels...)
	return s
}

// Filter adds a condition, ANDed with any existing one.
func (s *SelectStmt) Filter(cond Expr) *SelectStmt {
	s.Where = And(s.Where, cond)
	return s
}

// Group sets GROUP BY expressions.
func (s *SelectStmt) Group(exprs ...Expr) *SelectStmt {
	s.GroupBy = append(s.GroupBy, exprs...)
	return s
}

// Order sets ORDER BY items.
func (s *SelectStmt) Order(items ...OrderByItem) *SelectStmt {
	s.OrderBy = append(s.OrderBy, items...)
	return s
}

// CTE wraps the statement as a named CTE.
func (s *SelectStmt) CTE(name string) *CTE { return &CTE{Name: name, Select: s} }

// Subquery wraps the statement as a derived table.
func (s *SelectStmt) Subquery(alias string) *Subquery { return &Subquery{Alias: alias, Select: s} }

// ColumnNames implements Statement.
func (s *SelectStmt) ColumnNames() []string {
	names := make([]string, len(s.Items))
	for i, it := range s.Items {
		names[i] = it.OutputName()
	}
	return names
}

// Require checks that a relation exposes every named column.
func Require(rel Relation, names ...string) error {
	cols := rel.ColumnNames()
	for _, name := range names {
		if !slices.Contains(cols, name) {
			return fmt.Errorf("relation %s has no column %q (columns: %v)", rel.RefName(), name, cols)
		}
	}
	return nil
}
