package worker

import (
	"context"
	"errors"

	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/cenkalti/backoff/v4"
)

// probeRequest asks to confirm a peer can be reached at the address it
// advertised.
type probeRequest struct {
	ctx     context.Context
	peerID  string
	address string
}

// runConnectOperation dials the address until it connects, the retry budget
// is spent or the context is cancelled. Each call starts a fresh budget.
func (w *Worker) runConnectOperation(ctx context.Context, address string, hello network.Handshake) {
	w.evHandler("worker: runConnectOperation: %s: started", address)
	defer w.evHandler("worker: runConnectOperation: %s: completed", address)

	var attempt int
	operation := func() (*network.Conn, error) {
		attempt++
		w.evHandler("worker: runConnectOperation: %s: attempt[%d] retries[%d]", address, attempt, w.retries)

		conn, err := network.Dial(ctx, address, hello)
		if err != nil {
			if errors.Is(err, network.ErrProtocol) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		return conn, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(w.interval), uint64(max(w.retries, 0))), ctx)

	conn, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		w.evHandler("worker: runConnectOperation: %s: ERROR: %s", address, err)
		w.state.DialFailed(address, err)
		return
	}

	w.evHandler("worker: runConnectOperation: %s: connected: peer[%s]", address, conn.PeerID())

	// The state must see the connection before any of its messages.
	w.state.PeerConnected(conn)
	go conn.Run(w.state.PeerMessage, w.state.PeerClosed)
}

// probeOperations handles checking the addresses inbound peers advertise.
func (w *Worker) probeOperations() {
	w.evHandler("worker: probeOperations: G started")
	defer w.evHandler("worker: probeOperations: G completed")

	for {
		select {
		case req := <-w.probes:
			if !w.isShutdown() {
				w.runProbeOperation(req)
			}
		case <-w.shut:
			w.evHandler("worker: probeOperations: received shut signal")
			return
		}
	}
}

// runProbeOperation reports the node id found behind the address.
func (w *Worker) runProbeOperation(req probeRequest) {
	w.evHandler("worker: runProbeOperation: peer[%s] address[%s]: started", req.peerID, req.address)

	foundID, err := network.Probe(req.ctx, req.address)
	if err != nil {
		w.evHandler("worker: runProbeOperation: peer[%s]: ERROR: %s", req.peerID, err)
	}

	w.state.ProbeResult(req.peerID, req.address, foundID, err)
}
