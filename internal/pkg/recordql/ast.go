package recordql

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
}

// BinaryExpr represents a binary logical expression (AND, OR).
type BinaryExpr struct {
	Op    string // "AND" or "OR"
	Left  Node
	Right Node
}

func (BinaryExpr) node() {}

// MatchExpr represents a key:value match expression. A key of "" means
// full-text search across all record fields; keys of the form "attr.x"
// look up x in the record's attribute map.
type MatchExpr struct {
	Key   string
	Value string
	Op    string // "=", "!=", or "CONTAINS"
}

func (MatchExpr) node() {}

// NotExpr negates its inner expression.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}
