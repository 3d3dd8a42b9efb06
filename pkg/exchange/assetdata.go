package exchange

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AssetData is an opaque byte string identifying an asset: a 4-byte asset
// proxy selector followed by the ABI-encoded asset details. Equality is
// byte-exact; the encoding is immutable once constructed.
type AssetData []byte

// erc20ProxyID is the selector of ERC20Token(address), the only asset
// family this exchange settles.
var erc20ProxyID = []byte{0xf4, 0x72, 0x61, 0xb0}

const erc20AssetDataLen = 4 + 32

// EncodeERC20AssetData encodes a token contract address as ERC20 asset
// data: selector || left-padded 32-byte address word.
func EncodeERC20AssetData(token common.Address) AssetData {
	data := make([]byte, erc20AssetDataLen)
	copy(data, erc20ProxyID)
	copy(data[4+12:], token.Bytes())
	return data
}

// DecodeERC20AssetData extracts the token address, rejecting data of the
// wrong length, an unknown proxy selector, or a dirty padding word.
func DecodeERC20AssetData(data AssetData) (common.Address, error) {
	if len(data) != erc20AssetDataLen {
		return common.Address{}, fmt.Errorf("asset data length %d, want %d", len(data), erc20AssetDataLen)
	}
	if !bytes.Equal(data[:4], erc20ProxyID) {
		return common.Address{}, fmt.Errorf("unknown asset proxy selector 0x%x", data[:4])
	}
	for _, b := range data[4 : 4+12] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("non-zero padding in asset data %s", data)
		}
	}
	return common.BytesToAddress(data[4+12:]), nil
}

// Equal reports byte-exact equality.
func (d AssetData) Equal(other AssetData) bool {
	return bytes.Equal(d, other)
}

func (d AssetData) String() string {
	return "0x" + hex.EncodeToString(d)
}

// MarshalJSON renders asset data as a 0x-prefixed hex string, the wire
// format used by the API and the pending-order store.
func (d AssetData) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *AssetData) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("asset data must be a hex string")
	}
	s := string(b[1 : len(b)-1])
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode asset data: %w", err)
	}
	*d = raw
	return nil
}
