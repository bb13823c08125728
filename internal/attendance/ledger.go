package attendance

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result of a ledger write.
type Outcome int

const (
	// Inserted means this call created the day's record.
	Inserted Outcome = iota + 1
	// AlreadyMarked means a record for the identity and date already existed.
	AlreadyMarked
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyMarked:
		return "already_marked"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome for JSON payloads.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses the form written by MarshalText.
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "inserted":
		*o = Inserted
	case "already_marked":
		*o = AlreadyMarked
	default:
		return fmt.Errorf("unknown ledger outcome %q", text)
	}
	return nil
}

// DateLayout is the storage format of attendance dates.
const DateLayout = time.DateOnly

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// Record is one attendance row.
type Record struct {
	ID       int64     `json:"id"`
	Identity string    `json:"identity"`
	Date     string    `json:"date"`
	MarkedAt time.Time `json:"marked_at"`
	Status   Status    `json:"status"`
}

// Summary counts a day's records by status.
type Summary struct {
	Date    string `json:"date"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
	Total   int    `json:"total"`
}

// Ledger stores at most one record per identity and date. Record must be
// atomic at the storage layer: concurrent calls for the same identity and date
// yield exactly one Inserted. Implementations are safe for concurrent use.
type Ledger interface {
	Record(ctx context.Context, identity, date string, at time.Time, status Status) (Outcome, error)
	Summary(ctx context.Context, date string) (Summary, error)
	List(ctx context.Context, date string) ([]Record, error)
	Close() error
}
