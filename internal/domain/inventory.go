package domain

import "time"

// Kind selects the retrieval shape and the reply template. A ParsedQuery's
// Kind, its RetrievalOp and the Result built from the store always agree.
type Kind int

const (
	KindBalance Kind = iota + 1
	KindHistory
	KindProjection
)

func (k Kind) String() string {
	switch k {
	case KindBalance:
		return "balance"
	case KindHistory:
		return "history"
	case KindProjection:
		return "projection"
	default:
		return "unknown"
	}
}

// ParsedQuery is the structured form of a request subject line.
type ParsedQuery struct {
	Product       string
	Kind          Kind
	RequestedDays int
}

// Availability describes how much movement history a product has.
// HasRecords is false when the product never had a movement.
type Availability struct {
	HasRecords bool
	AgeDays    int
}

// EffectiveRange is the requested range clamped to the available history.
type EffectiveRange struct {
	Days     int
	Advisory string
}

// RetrievalOp is a read query ready for the inventory store.
type RetrievalOp struct {
	Kind    Kind
	Product string
	Days    int
	SQL     string
	Args    []any
}

// BalanceRow is the single row returned for a balance query.
type BalanceRow struct {
	Quantity int
}

// MovementRow is one dated stock change.
type MovementRow struct {
	Change int
	Date   time.Time
}

// ProjectionRow combines current stock with the net movement over the range.
type ProjectionRow struct {
	CurrentStock int
	NetMovement  int
}

// Result carries rows returned by the store, tagged by the Kind that
// produced them. Only the field matching Kind is populated.
type Result struct {
	Kind       Kind
	Balance    *BalanceRow
	History    []MovementRow
	Projection *ProjectionRow
}

// Empty reports whether the store returned no rows.
func (r Result) Empty() bool {
	switch r.Kind {
	case KindBalance:
		return r.Balance == nil
	case KindHistory:
		return len(r.History) == 0
	case KindProjection:
		return r.Projection == nil
	default:
		return true
	}
}
