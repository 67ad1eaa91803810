package recordql

import (
	"strings"
)

// Record is the view of a stored record that filter expressions match
// against. This decouples recordql from the model package.
type Record interface {
	GetKind() string
	GetService() string
	GetHost() string
	GetApp() string
	GetMessage() string
	GetSeverityLabel() string
	GetTraceID() string
	GetCorrelationID() string
	GetAttr(key string) string
}

// attrPrefix addresses arbitrary attribute-map keys: attr.http.method.
const attrPrefix = "attr."

// Match evaluates the AST node against a record. A nil node matches all.
func Match(node Node, rec Record) bool {
	if node == nil {
		return true
	}

	switch n := node.(type) {
	case BinaryExpr:
		return evalBinary(n, rec)
	case MatchExpr:
		return evalMatch(n, rec)
	case NotExpr:
		return !Match(n.Expr, rec)
	default:
		return false
	}
}

func evalBinary(expr BinaryExpr, rec Record) bool {
	switch expr.Op {
	case "AND":
		return Match(expr.Left, rec) && Match(expr.Right, rec)
	case "OR":
		return Match(expr.Left, rec) || Match(expr.Right, rec)
	}
	return false
}

func evalMatch(expr MatchExpr, rec Record) bool {
	if expr.Key == "" {
		return matchFullText(expr.Value, rec)
	}

	fieldValue := fieldOf(expr.Key, rec)
	switch expr.Op {
	case "=":
		return strings.EqualFold(fieldValue, expr.Value)
	case "!=":
		return !strings.EqualFold(fieldValue, expr.Value)
	case "CONTAINS":
		return containsIgnoreCase(fieldValue, expr.Value)
	}
	return strings.EqualFold(fieldValue, expr.Value)
}

// fieldOf resolves a filter key to a record field.
func fieldOf(key string, rec Record) string {
	if strings.HasPrefix(key, attrPrefix) {
		return rec.GetAttr(key[len(attrPrefix):])
	}
	switch strings.ToLower(key) {
	case "kind":
		return rec.GetKind()
	case "service", "svc":
		return rec.GetService()
	case "host", "ip", "hostname":
		return rec.GetHost()
	case "app", "tag":
		return rec.GetApp()
	case "message", "msg":
		return rec.GetMessage()
	case "severity", "level", "lvl":
		return rec.GetSeverityLabel()
	case "trace", "trace_id":
		return rec.GetTraceID()
	case "correlation", "correlation_id", "corr":
		return rec.GetCorrelationID()
	default:
		return rec.GetAttr(key)
	}
}

func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matchFullText searches across all named record fields.
func matchFullText(query string, rec Record) bool {
	q := strings.ToLower(query)
	fields := []string{
		rec.GetKind(),
		rec.GetService(),
		rec.GetHost(),
		rec.GetApp(),
		rec.GetMessage(),
		rec.GetSeverityLabel(),
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
