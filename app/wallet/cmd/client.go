package cmd

import (
	"fmt"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var client = resty.New().
	SetTimeout(10*time.Second).
	SetHeader("Accept", "application/json")

type balance struct {
	Address   string          `json:"address"`
	Confirmed decimal.Decimal `json:"confirmed"`
	Pending   decimal.Decimal `json:"pending"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func loadKeyPair() (signature.KeyPair, error) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return signature.KeyPair{}, fmt.Errorf("loading key: %w", err)
	}

	return signature.FromPrivateKey(privateKey), nil
}

func getJSON(url string, v any) error {
	req := client.R().ForceContentType("application/json").SetError(&errorResponse{})
	if v != nil {
		req.SetResult(v)
	}

	resp, err := req.Get(url)
	if err != nil {
		return err
	}

	return checkResponse(resp)
}

func postJSON(url string, body any, v any) error {
	req := client.R().
		ForceContentType("application/json").
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetError(&errorResponse{})
	if v != nil {
		req.SetResult(v)
	}

	resp, err := req.Post(url)
	if err != nil {
		return err
	}

	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}

	if er, ok := resp.Error().(*errorResponse); ok && er.Error != "" {
		return fmt.Errorf("node responded %s: %s", resp.Status(), er.Error)
	}

	return fmt.Errorf("node responded %s", resp.Status())
}
