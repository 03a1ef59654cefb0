package store

import "time"

// Transaction is one persisted financial transaction extracted from a
// conversation. MessageID is the representative message id of the source
// conversation and the unique key of the table.
type Transaction struct {
	MessageID   string
	ThreadID    string
	Sender      string
	Subject     string
	Date        time.Time // calendar date, time-of-day ignored
	Amount      float64
	Description string
	Category    string
	RawData     string // source conversation serialized verbatim, for audit
	CreatedAt   time.Time
}

// DateLayout is the on-disk format of Transaction.Date. ISO calendar dates
// sort lexicographically in chronological order, which MaxTransactionDate
// relies on.
const DateLayout = "2006-01-02"
