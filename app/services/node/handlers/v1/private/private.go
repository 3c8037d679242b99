// Package private maintains the group of handlers that control the node.
package private

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ardanlabs/powchain/business/sys/validate"
	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/wallet"
	"github.com/ardanlabs/powchain/foundation/web"
	"go.uber.org/zap"
)

// replyTimeout bounds the wait for the core loop to answer a command.
const replyTimeout = 5 * time.Second

// Node is the behavior the handlers need from the node state.
type Node interface {
	Submit(ctx context.Context, cmd state.Command) error
}

// Handlers manages the set of node control endpoints.
type Handlers struct {
	Log  *zap.SugaredLogger
	Node Node
}

// StartNetwork starts the peer server and dials the given peers.
func (h Handlers) StartNetwork(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req startNetwork
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	cmd := state.StartNetwork{
		Host:          req.Host,
		Port:          req.Port,
		Peers:         req.Peers,
		TunnelAddress: req.TunnelAddress,
	}

	return h.submit(ctx, w, cmd, "network start requested")
}

// StopNetwork closes every peer connection and the peer server.
func (h Handlers) StopNetwork(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.submit(ctx, w, state.StopNetwork{}, "network stop requested")
}

// StartMining starts mining. The body is optional and can carry the
// transactions for the first block and a chain to adopt first.
func (h Handlers) StartMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req startMining
	if r.ContentLength != 0 {
		if err := web.Decode(r, &req); err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
	}

	cmd := state.StartMining{
		Transactions: req.Transactions,
		Chain:        req.Chain,
	}

	return h.submit(ctx, w, cmd, "mining start requested")
}

// StopMining cancels the running mining job.
func (h Handlers) StopMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.submit(ctx, w, state.StopMining{}, "mining stop requested")
}

// SendTransaction asks the node wallet to send funds and returns the pooled
// transaction.
func (h Handlers) SendTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req sendTx
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	h.Log.Infow("send tran", "traceid", web.GetTraceID(ctx), "to", req.Recipient, "amount", req.Amount, "fee", req.Fee)

	reply := make(chan wallet.Result, 1)
	cmd := state.CreateTransaction{
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Reply:     reply,
	}

	res, err := await(ctx, h.Node, cmd, reply)
	if err != nil {
		return err
	}

	if res.Transaction == nil {
		return errs.NewTrusted(errors.New(res.Msg), http.StatusBadRequest)
	}

	return web.Respond(ctx, w, res, http.StatusOK)
}

// AddTransaction adds a signed transaction to the pool.
func (h Handlers) AddTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var tx database.Tx
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := tx.Validate(); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return h.submit(ctx, w, state.NewTransaction{Tx: tx}, "transaction submitted")
}

// AddBlock appends a block mined elsewhere.
func (h Handlers) AddBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var block database.Block
	if err := web.Decode(r, &block); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return h.submit(ctx, w, state.NewBlock{Block: block}, "block submitted")
}

// Balance returns the node wallet balance.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	reply := make(chan state.Balance, 1)

	bal, err := await(ctx, h.Node, state.QueryBalance{Reply: reply}, reply)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, bal, http.StatusOK)
}

// =============================================================================

func (h Handlers) submit(ctx context.Context, w http.ResponseWriter, cmd state.Command, msg string) error {
	ctx2, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if err := h.Node.Submit(ctx2, cmd); err != nil {
		return submitError(err)
	}

	return web.Respond(ctx, w, status{Status: msg}, http.StatusAccepted)
}

// await submits the command and waits for its reply.
func await[T any](ctx context.Context, node Node, cmd state.Command, reply <-chan T) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if err := node.Submit(ctx, cmd); err != nil {
		return zero, submitError(err)
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, errs.NewTrusted(errors.New("node did not answer in time"), http.StatusServiceUnavailable)
	}
}

func submitError(err error) error {
	switch {
	case errors.Is(err, state.ErrShutdown):
		return errs.NewTrusted(err, http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return errs.NewTrusted(errors.New("node is busy"), http.StatusServiceUnavailable)
	}
	return err
}
