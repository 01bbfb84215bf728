package inquiry

import (
	"fmt"
	"time"

	"inventory-agent/internal/domain"
)

const (
	balanceSQL = `SELECT quantity FROM products WHERE name = ?;`

	historySQL = `SELECT m.change, m.date
FROM movements m
JOIN products p ON p.id = m.product_id
WHERE p.name = ? AND date(m.date) >= ?
ORDER BY m.date DESC, m.id DESC;`

	// LEFT JOIN keeps products without movements in range; their net is 0.
	projectionSQL = `SELECT p.quantity AS current_stock, COALESCE(SUM(m.change), 0) AS net_movement
FROM products p
LEFT JOIN movements m ON m.product_id = p.id AND date(m.date) >= ?
WHERE p.name = ?
GROUP BY p.id, p.quantity;`
)

// Builder turns a parsed request into a store query. Clock anchors the
// date cutoff so builds are reproducible.
type Builder struct {
	Clock func() time.Time
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder() Builder {
	return Builder{Clock: time.Now}
}

func (b Builder) now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock()
}

// Build returns the retrieval for kind over the last days days. Balance
// ignores days.
func (b Builder) Build(product string, kind domain.Kind, days int) (domain.RetrievalOp, error) {
	op := domain.RetrievalOp{Kind: kind, Product: product, Days: days}
	switch kind {
	case domain.KindBalance:
		op.SQL = balanceSQL
		op.Args = []any{product}
	case domain.KindHistory:
		op.SQL = historySQL
		op.Args = []any{product, Cutoff(b.now(), days)}
	case domain.KindProjection:
		op.SQL = projectionSQL
		op.Args = []any{Cutoff(b.now(), days), product}
	default:
		return domain.RetrievalOp{}, fmt.Errorf("inquiry: build: unsupported kind %d", kind)
	}
	return op, nil
}
