package state

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/ardanlabs/powchain/foundation/blockchain/wallet"
	"github.com/shopspring/decimal"
)

// Command is a request from the host process handled by the core loop.
type Command interface {
	command()
}

// StartNetwork starts the peer server on host:port and dials the peers. A
// tunnel address replaces the address advertised to other nodes.
type StartNetwork struct {
	Host          string
	Port          int
	Peers         []string
	TunnelAddress string
}

// StopNetwork closes every connection and the peer server.
type StopNetwork struct{}

// StartMining starts mining on top of the local tip. When Chain is set it is
// offered to the replacement policy first. When Transactions is set it is
// used for the first block instead of the pool selection.
type StartMining struct {
	Transactions []database.Tx
	Chain        []database.Block
}

// StopMining cancels the running mining job.
type StopMining struct{}

// NewTransaction adds a transaction to the pool and gossips it.
type NewTransaction struct {
	Tx database.Tx
}

// NewBlock appends a block mined elsewhere to the local chain.
type NewBlock struct {
	Block database.Block
}

// CreateTransaction asks the node wallet to send funds. Reply must be
// buffered since the core never blocks on it.
type CreateTransaction struct {
	Recipient string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Reply     chan<- wallet.Result
}

// QueryBalance asks for the node wallet balance. Reply must be buffered.
type QueryBalance struct {
	Reply chan<- Balance
}

// Balance represents the node wallet balance on chain and with the pending
// transactions applied.
type Balance struct {
	Address   string          `json:"address"`
	Confirmed decimal.Decimal `json:"confirmed"`
	Pending   decimal.Decimal `json:"pending"`
}

func (StartNetwork) command()      {}
func (StopNetwork) command()       {}
func (StartMining) command()       {}
func (StopMining) command()        {}
func (NewTransaction) command()    {}
func (NewBlock) command()          {}
func (CreateTransaction) command() {}
func (QueryBalance) command()      {}

// =============================================================================

func (s *State) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case StartNetwork:
		s.startNetwork(c)

	case StopNetwork:
		s.stopNetwork()

	case StartMining:
		s.startMining(c)

	case StopMining:
		s.stopMining()

	case NewTransaction:
		if _, err := s.addTransaction(c.Tx, ""); err != nil {
			s.alert(SeverityWarning, "Transaction %s was rejected: %s", c.Tx.ID, err)
		}

	case NewBlock:
		s.addBlock(c.Block)

	case CreateTransaction:
		s.createTransaction(c)

	case QueryBalance:
		confirmed := s.wallet.CalculateBalance(s.chain.Blocks())
		reply(c.Reply, Balance{
			Address:   s.wallet.Address(),
			Confirmed: confirmed,
			Pending:   s.wallet.BalanceWithPool(s.mempool.Copy(), confirmed),
		})

	default:
		s.evHandler("state: handleCommand: unknown command %T", cmd)
	}
}

// addTransaction upserts the transaction into the pool and relays it when
// the pool changed.
func (s *State) addTransaction(tx database.Tx, from string) (bool, error) {
	changed, err := s.mempool.Upsert(tx)
	if err != nil {
		s.evHandler("state: addTransaction: tx[%s]: rejected: %s", tx.ID, err)
		return false, err
	}

	if !changed {
		return false, nil
	}

	s.evHandler("state: addTransaction: tx[%s]: pool count[%d]", tx.ID, s.mempool.Count())
	s.poolChanged()
	s.broadcast(network.NewMessage(network.TypeTransaction, network.Transaction{Transaction: tx}), from)

	return true, nil
}

// addBlock appends a block mined outside this node.
func (s *State) addBlock(block database.Block) {
	if err := s.chain.Append(block); err != nil {
		s.alert(SeverityWarning, "Block %s was rejected: %s", block.Hash, err)
		return
	}

	s.cancelVote("tip extended")
	s.chainChanged()
	s.broadcast(network.NewMessage(network.TypeChain, network.Chain{Chain: s.chain.Blocks()}), "")
}

func (s *State) createTransaction(c CreateTransaction) {
	res := s.wallet.CreateTransaction(c.Recipient, c.Amount, c.Fee, s.chain.Blocks(), s.mempool)
	if res.Transaction != nil {
		s.evHandler("state: createTransaction: tx[%s]: created", res.Transaction.ID)
		s.poolChanged()
		s.broadcast(network.NewMessage(network.TypeTransaction, network.Transaction{Transaction: *res.Transaction}), "")
	}

	reply(c.Reply, res)
}

func reply[T any](ch chan<- T, v T) {
	if ch == nil {
		return
	}

	select {
	case ch <- v:
	default:
	}
}
