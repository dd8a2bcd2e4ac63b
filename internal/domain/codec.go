package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// wireOrder is the canonical serialized form of an Order. Amounts travel as
// decimal strings so arbitrary-precision integers survive JSON round trips.
// Field order is fixed; encoding/json emits struct fields in declaration
// order, which keeps EncodeOrder deterministic for hashing.
type wireOrder struct {
	Salt        uint64 `json:"salt"`
	Maker       string `json:"maker"`
	Signer      string `json:"signer"`
	Taker       string `json:"taker"`
	Market      string `json:"market"`
	TokenID     uint8  `json:"tokenId"`
	MakerAmount string `json:"makerAmount"`
	TakerAmount string `json:"takerAmount"`
	Expiration  int64  `json:"expiration"`
	Nonce       uint64 `json:"nonce"`
	FeeRateBps  uint16 `json:"feeRateBps"`
	Side        uint8  `json:"side"`
}

// EncodeOrder serializes an order into its canonical byte form.
func EncodeOrder(o Order) ([]byte, error) {
	w := wireOrder{
		Salt:       o.Salt,
		Maker:      o.Maker,
		Signer:     o.Signer,
		Taker:      o.Taker,
		Market:     o.Market,
		TokenID:    uint8(o.TokenID),
		Expiration: o.Expiration,
		Nonce:      o.Nonce,
		FeeRateBps: o.FeeRateBps,
		Side:       uint8(o.Side),
	}
	if o.MakerAmount != nil {
		w.MakerAmount = o.MakerAmount.String()
	}
	if o.TakerAmount != nil {
		w.TakerAmount = o.TakerAmount.String()
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("domain: encode order: %w", err)
	}
	return data, nil
}

// DecodeOrder parses a stored payload into a fully populated Order. It is
// strict: unknown fields, missing identities, and unparseable amounts all
// fail with ErrDecode rather than yielding a partially populated order.
func DecodeOrder(data []byte) (Order, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireOrder
	if err := dec.Decode(&w); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if w.Maker == "" || w.Signer == "" || w.Market == "" {
		return Order{}, fmt.Errorf("%w: missing maker, signer, or market", ErrDecode)
	}

	makerAmount, ok := new(big.Int).SetString(w.MakerAmount, 10)
	if !ok {
		return Order{}, fmt.Errorf("%w: maker amount %q", ErrDecode, w.MakerAmount)
	}
	takerAmount, ok := new(big.Int).SetString(w.TakerAmount, 10)
	if !ok {
		return Order{}, fmt.Errorf("%w: taker amount %q", ErrDecode, w.TakerAmount)
	}

	return Order{
		Salt:        w.Salt,
		Maker:       w.Maker,
		Signer:      w.Signer,
		Taker:       w.Taker,
		Market:      w.Market,
		TokenID:     TokenID(w.TokenID),
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		Expiration:  w.Expiration,
		Nonce:       w.Nonce,
		FeeRateBps:  w.FeeRateBps,
		Side:        Side(w.Side),
	}, nil
}
