package query

// Node is a parsed filter expression.
type Node interface {
	node()
}

// BinaryExpr joins two expressions with AND or OR.
type BinaryExpr struct {
	Op    string
	Left  Node
	Right Node
}

func (BinaryExpr) node() {}

// MatchExpr compares one record field against a value. An empty Key
// searches the name and args as text.
type MatchExpr struct {
	Key   string
	Value string
	Op    string // "=", "!=", ">", "<" or "CONTAINS"
}

func (MatchExpr) node() {}

// NotExpr negates Expr.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}
