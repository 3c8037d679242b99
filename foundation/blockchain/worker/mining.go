package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
)

// miningRequest is a queued job along with the number of cancel signals
// sent before it was queued.
type miningRequest struct {
	job     state.MiningJob
	cancels uint64
}

// miningOperations handles mining.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case req := <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation(req)
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// runMiningOperation searches for a block for the job and reports the
// outcome to the state.
func (w *Worker) runMiningOperation(req miningRequest) {
	job := req.job

	w.evHandler("worker: runMiningOperation: MINING: started: job[%d]", job.ID)
	defer w.evHandler("worker: runMiningOperation: MINING: completed: job[%d]", job.ID)

	if w.cancelledSince(req) {
		w.evHandler("worker: runMiningOperation: MINING: CANCEL: job[%d] cancelled before it started", job.ID)
		w.state.MiningResult(state.MiningResult{JobID: job.ID, Err: context.Canceled})
		return
	}

	// Create a context so mining can be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Can't return from this function until these G's are complete.
	var wg sync.WaitGroup
	wg.Add(2)

	// This G exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-w.shut:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: shutdown")
		case <-ctx.Done():
		}
	}()

	// This G is performing the mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		t := time.Now()
		block, err := w.mine(ctx, job)
		duration := time.Since(t)

		w.evHandler("worker: runMiningOperation: MINING: mining duration[%v]", duration)

		if err != nil {
			switch {
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
				err = ctx.Err()
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
		}

		// WOW, we mined a block or we have a reason why not. The state
		// decides what happens next.
		w.state.MiningResult(state.MiningResult{
			JobID:    job.ID,
			Block:    block,
			Duration: duration,
			Err:      err,
		})
	}()

	// Wait for both G's to terminate.
	wg.Wait()
}

// cancelledSince drains the cancel channel and reports whether a cancel was
// signaled after the job was queued. A cancel signaled earlier was meant for
// the previous job.
func (w *Worker) cancelledSince(req miningRequest) bool {
	select {
	case <-w.cancelMining:
		w.evHandler("worker: runMiningOperation: MINING: drained cancel channel")
	default:
	}

	return w.cancels.Load() != req.cancels
}

// mine runs the nonce search. A panic inside the search is reported as a
// mining fault instead of taking the node down.
func (w *Worker) mine(ctx context.Context, job state.MiningJob) (block database.Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.evHandler("worker: mine: PANIC: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrMiningFault, r)
		}
	}()

	args := database.POWArgs{
		LastBlock: job.LastBlock,
		Data:      job.Data,
		MineRate:  job.MineRate,
		EvHandler: w.evHandler,
	}

	block, err = database.POW(ctx, args)
	if err != nil && ctx.Err() == nil {
		return database.Block{}, fmt.Errorf("%w: %w", ErrMiningFault, err)
	}

	return block, err
}
