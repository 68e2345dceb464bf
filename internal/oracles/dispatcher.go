package oracles

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/kpioracles/oracle-answerer/internal/metrics"
	"github.com/kpioracles/oracle-answerer/internal/scanner"
	"go.uber.org/zap"
)

type CheckpointStore interface {
	AdvanceCheckpoint(ctx context.Context, chainID, blockNumber uint64) error
}

// Dispatcher consumes the update stream of one chain. Updates are handled
// strictly in order; it must not be shared between chains.
type Dispatcher struct {
	chainID      uint64
	extractor    *Extractor
	acknowledger *Acknowledger
	sweeper      *Sweeper
	checkpoints  CheckpointStore
	log          *zap.SugaredLogger

	// scanningPast holds until the historical scan reports full progress.
	// While set, checkpoints only advance on completed batches.
	scanningPast bool
}

func NewDispatcher(
	chainID uint64,
	extractor *Extractor,
	acknowledger *Acknowledger,
	sweeper *Sweeper,
	checkpoints CheckpointStore,
	log *zap.SugaredLogger,
) *Dispatcher {
	return &Dispatcher{
		chainID:      chainID,
		extractor:    extractor,
		acknowledger: acknowledger,
		sweeper:      sweeper,
		checkpoints:  checkpoints,
		log:          log,
		scanningPast: true,
	}
}

func (d *Dispatcher) ScanningPast() bool {
	return d.scanningPast
}

func (d *Dispatcher) OnUpdate(ctx context.Context, update scanner.Update) {
	switch u := update.(type) {
	case scanner.NewLog:
		d.onLog(ctx, u.Log)
		metrics.UpdatesProcessed.WithLabelValues(d.label(), "log").Inc()
	case scanner.PastBatchCompleted:
		d.onPastBatch(ctx, u)
		metrics.UpdatesProcessed.WithLabelValues(d.label(), "past_batch").Inc()
	case scanner.NewBlock:
		d.onBlock(ctx, u)
		metrics.UpdatesProcessed.WithLabelValues(d.label(), "block").Inc()
	default:
		d.log.Warnf("ignoring unknown update %T", update)
	}
}

func (d *Dispatcher) onLog(ctx context.Context, log types.Log) {
	candidates, err := d.extractor.Extract(ctx, log)
	if err != nil {
		d.log.Errorf("skipping log %s/%d at block %d: %v", log.TxHash, log.Index, log.BlockNumber, err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	metrics.CandidatesExtracted.WithLabelValues(d.label()).Add(float64(len(candidates)))
	d.acknowledger.AcknowledgeAll(ctx, candidates)
}

func (d *Dispatcher) onPastBatch(ctx context.Context, batch scanner.PastBatchCompleted) {
	d.log.Infof("past blocks %d to %d scanned, %.2f%% done", batch.FromBlock, batch.ToBlock, batch.ProgressPercentage)
	metrics.ScanProgress.WithLabelValues(d.label()).Set(float64(batch.ProgressPercentage))

	if batch.ProgressPercentage >= 100 && d.scanningPast {
		d.scanningPast = false
		d.log.Info("historical scan completed, following new blocks")
	}

	d.advance(ctx, batch.ToBlock)
}

func (d *Dispatcher) onBlock(ctx context.Context, block scanner.NewBlock) {
	removed, err := d.sweeper.Sweep(ctx, block.Timestamp)
	if err != nil {
		d.log.Errorf("answering sweep at block %d failed: %v", block.Number, err)
	} else if removed > 0 {
		d.log.Infof("block %d: %d oracles answered", block.Number, removed)
	}

	if !d.scanningPast {
		d.advance(ctx, block.Number)
	}
}

func (d *Dispatcher) advance(ctx context.Context, blockNumber uint64) {
	if err := d.checkpoints.AdvanceCheckpoint(ctx, d.chainID, blockNumber); err != nil {
		d.log.Errorf("could not advance checkpoint to %d: %v", blockNumber, err)
		return
	}

	metrics.CheckpointBlock.WithLabelValues(d.label()).Set(float64(blockNumber))
}

func (d *Dispatcher) label() string {
	return strconv.FormatUint(d.chainID, 10)
}
