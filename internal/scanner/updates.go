package scanner

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Update is one of NewLog, PastBatchCompleted or NewBlock.
type Update interface {
	isUpdate()
}

// NewLog carries a factory log, delivered before the batch or block that
// contains it is reported as completed.
type NewLog struct {
	Log types.Log
}

// PastBatchCompleted reports that every log in [FromBlock, ToBlock] of the
// historical range has been delivered.
type PastBatchCompleted struct {
	FromBlock          uint64
	ToBlock            uint64
	ProgressPercentage float32
}

// NewBlock reports a new chain head once the historical range is exhausted.
type NewBlock struct {
	Number    uint64
	Timestamp time.Time
}

func (NewLog) isUpdate()             {}
func (PastBatchCompleted) isUpdate() {}
func (NewBlock) isUpdate()           {}

// Listener consumes updates one at a time, in delivery order.
type Listener interface {
	OnUpdate(ctx context.Context, update Update)
}
