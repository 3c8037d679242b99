package private

import (
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

type startNetwork struct {
	Host          string   `json:"host"`
	Port          int      `json:"port" validate:"min=0,max=65535"`
	Peers         []string `json:"peers" validate:"dive,url"`
	TunnelAddress string   `json:"tunnelAddress" validate:"omitempty,url"`
}

type startMining struct {
	Transactions []database.Tx    `json:"transactions"`
	Chain        []database.Block `json:"chain"`
}

type sendTx struct {
	Recipient string          `json:"recipient" validate:"required,hexadecimal"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
}

type status struct {
	Status string `json:"status"`
}
