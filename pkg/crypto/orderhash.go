package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/haryshwaran/crossmatch/pkg/exchange"
)

// OrderHasher computes EIP-712 digests of exchange orders. The verifying
// contract of the domain is the order's own exchange address, so the same
// order bytes bound to two venues hash to two distinct digests and a
// signature cannot be replayed across venues.
//
// It implements exchange.Hasher.
type OrderHasher struct {
	name    string
	version string
	chainID *big.Int
}

var _ exchange.Hasher = (*OrderHasher)(nil)

func NewOrderHasher(chainID *big.Int) *OrderHasher {
	return &OrderHasher{
		name:    "CrossMatch",
		version: "1",
		chainID: chainID,
	}
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "makerAddress", Type: "address"},
		{Name: "takerAddress", Type: "address"},
		{Name: "senderAddress", Type: "address"},
		{Name: "feeRecipientAddress", Type: "address"},
		{Name: "makerAssetAmount", Type: "uint256"},
		{Name: "takerAssetAmount", Type: "uint256"},
		{Name: "makerFee", Type: "uint256"},
		{Name: "takerFee", Type: "uint256"},
		{Name: "expirationTimeSeconds", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
		{Name: "makerAssetData", Type: "bytes"},
		{Name: "takerAssetData", Type: "bytes"},
	},
}

// HashOrder returns keccak256("\x19\x01" || domainSeparator || structHash)
// over the order's fields.
func (h *OrderHasher) HashOrder(o *exchange.Order) (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              h.name,
			Version:           h.version,
			ChainId:           (*math.HexOrDecimal256)(h.chainID),
			VerifyingContract: o.ExchangeAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"makerAddress":          o.Maker.Hex(),
			"takerAddress":          o.Taker.Hex(),
			"senderAddress":         o.Sender.Hex(),
			"feeRecipientAddress":   o.FeeRecipient.Hex(),
			"makerAssetAmount":      o.MakerAssetAmount.String(),
			"takerAssetAmount":      o.TakerAssetAmount.String(),
			"makerFee":              o.MakerFee.String(),
			"takerFee":              o.TakerFee.String(),
			"expirationTimeSeconds": o.ExpirationTimeSeconds.String(),
			"salt":                  o.Salt.String(),
			"makerAssetData":        o.MakerAssetData.String(),
			"takerAssetData":        o.TakerAssetData.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash order struct: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256Hash(raw), nil
}
