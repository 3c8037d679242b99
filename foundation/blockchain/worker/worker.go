// Package worker implements mining, peer dialing, and address probing for
// the blockchain.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
)

// ErrMiningFault is reported when the nonce search fails internally.
var ErrMiningFault = errors.New("mining fault")

// Set of defaults for reconnecting to a peer.
const (
	defaultRetries  = 10
	defaultInterval = 5 * time.Second
)

// maxProbeRequests represents the max number of pending probe requests that
// can be outstanding before requests are dropped.
const maxProbeRequests = 100

// =============================================================================

// Option configures the worker.
type Option func(w *Worker)

// WithReconnect sets the retry budget and the fixed interval between
// attempts used when dialing a peer.
func WithReconnect(retries int, interval time.Duration) Option {
	return func(w *Worker) {
		w.retries = retries
		w.interval = interval
	}
}

// Worker manages the POW workflows for the blockchain.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	shut         chan struct{}
	startMining  chan miningRequest
	cancelMining chan bool
	cancels      atomic.Uint64
	probes       chan probeRequest
	evHandler    state.EventHandler
	retries      int
	interval     time.Duration
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, evHandler state.EventHandler, options ...Option) {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	w := Worker{
		state:        st,
		shut:         make(chan struct{}),
		startMining:  make(chan miningRequest, 1),
		cancelMining: make(chan bool, 1),
		probes:       make(chan probeRequest, maxProbeRequests),
		evHandler:    evHandler,
		retries:      defaultRetries,
		interval:     defaultInterval,
	}

	for _, option := range options {
		option(&w)
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.miningOperations,
		w.probeOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for range g {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: signal cancel mining")
	w.SignalCancelMining()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining queues a mining job. A job still waiting in the channel
// is replaced since it was built on an older view of the chain.
func (w *Worker) SignalStartMining(job state.MiningJob) {
	select {
	case <-w.startMining:
	default:
	}

	select {
	case w.startMining <- miningRequest{job: job, cancels: w.cancels.Load()}:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled: job[%d]", job.ID)
}

// SignalCancelMining signals the G executing the runMiningOperation function
// to stop immediately.
func (w *Worker) SignalCancelMining() {
	w.cancels.Add(1)

	select {
	case w.cancelMining <- true:
	default:
	}
	w.evHandler("worker: SignalCancelMining: MINING: CANCEL: signaled")
}

// SignalConnect dials the address on its own G with the retry budget. The
// context is cancelled when the network stops.
func (w *Worker) SignalConnect(ctx context.Context, address string, hello network.Handshake) {
	if w.isShutdown() {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runConnectOperation(ctx, address, hello)
	}()
}

// SignalProbe queues a reachability check of the address a peer advertised.
// If maxProbeRequests are pending the request is dropped and reported as
// failed.
func (w *Worker) SignalProbe(ctx context.Context, peerID string, address string) {
	select {
	case w.probes <- probeRequest{ctx: ctx, peerID: peerID, address: address}:
		w.evHandler("worker: SignalProbe: probe signaled: peer[%s]", peerID)
	default:
		w.evHandler("worker: SignalProbe: queue full, probe dropped: peer[%s]", peerID)
		go w.state.ProbeResult(peerID, address, "", errors.New("probe queue full"))
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
