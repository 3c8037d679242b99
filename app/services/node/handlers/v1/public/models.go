package public

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/shopspring/decimal"
)

type node struct {
	ID      string            `json:"id"`
	Address string            `json:"address"`
	Server  state.ServerEvent `json:"server"`
	Height  int               `json:"height"`
	Genesis genesis.Genesis   `json:"genesis"`
}

type balance struct {
	Address   string          `json:"address"`
	Confirmed decimal.Decimal `json:"confirmed"`
	Pending   decimal.Decimal `json:"pending"`
}
