package params

import (
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Token describes one entry of the asset address book.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Exchange identifies the settlement venue. Orders are domain-separated by
// this address: the same order bytes signed for a different venue produce a
// different digest.
type Exchange struct {
	Address common.Address
	ChainID *big.Int
	// FeeToken is the asset maker/taker fees are denominated in.
	FeeToken Token
}

type API struct {
	ListenAddr string
}

type Config struct {
	Exchange Exchange
	// Tokens is the address book keyed by symbol (e.g. "WETH", "ZRX").
	Tokens map[string]Token
	API    API
	// DataDir holds the pebble databases (ledger state, pending orders).
	DataDir string
	// OrderTTL is the default distance of a new order's expiration from now.
	OrderTTL time.Duration
}

func Default() Config {
	zrx := Token{
		Symbol:   "ZRX",
		Address:  common.HexToAddress("0x0077d78e52ba96a0ac48c6d918a68acfe78590af"),
		Decimals: 18,
	}
	weth := Token{
		Symbol:   "WETH",
		Address:  common.HexToAddress("0x5e800494b71b164ed7ea38c80e943792a1a2820d"),
		Decimals: 18,
	}
	return Config{
		Exchange: Exchange{
			Address:  common.HexToAddress("0x48bacb9266a570d521063ef5dd96e61686dbe788"),
			ChainID:  big.NewInt(50), // local devnet
			FeeToken: zrx,
		},
		Tokens: map[string]Token{
			zrx.Symbol:  zrx,
			weth.Symbol: weth,
		},
		API:      API{ListenAddr: ":8080"},
		DataDir:  "data",
		OrderTTL: 10 * time.Minute,
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("EXCHANGE_ADDRESS"); addr != "" {
		cfg.Exchange.Address = common.HexToAddress(addr)
	}
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Exchange.ChainID = big.NewInt(n)
		}
	}
	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if ttl := os.Getenv("ORDER_TTL_SECONDS"); ttl != "" {
		if secs, err := strconv.Atoi(ttl); err == nil {
			cfg.OrderTTL = time.Duration(secs) * time.Second
		}
	}

	return cfg
}
