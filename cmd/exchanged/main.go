package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/haryshwaran/crossmatch/params"
	"github.com/haryshwaran/crossmatch/pkg/api"
	"github.com/haryshwaran/crossmatch/pkg/crypto"
	"github.com/haryshwaran/crossmatch/pkg/exchange"
	"github.com/haryshwaran/crossmatch/pkg/ledger"
	"github.com/haryshwaran/crossmatch/pkg/util"
	"github.com/haryshwaran/crossmatch/pkg/watcher"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Reference ledger, restored from disk if the host ran before.
	ml := ledger.NewMemLedger()
	store, err := ledger.NewStore(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Fatal("open ledger store", zap.Error(err))
	}
	defer store.Close()
	if err := store.LoadInto(ml); err != nil {
		logger.Fatal("restore ledger", zap.Error(err))
	}

	hasher := crypto.NewOrderHasher(cfg.Exchange.ChainID)
	verifier := crypto.Verifier{}
	feeAsset := exchange.EncodeERC20AssetData(cfg.Exchange.FeeToken.Address)
	engine := exchange.NewSettlementEngine(ml, hasher, verifier, cfg.Exchange.Address, feeAsset)

	w, err := watcher.NewOrderWatcher(filepath.Join(cfg.DataDir, "orders"), hasher, verifier, logger)
	if err != nil {
		logger.Fatal("open order watcher", zap.Error(err))
	}
	defer w.Close()

	server := api.NewServer(cfg, engine, w, ml, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.API.ListenAddr) }()
	logger.Info("exchanged started",
		zap.String("venue", cfg.Exchange.Address.Hex()),
		zap.String("api", cfg.API.ListenAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("api server stopped", zap.Error(err))
	}

	if err := store.SaveAll(ml); err != nil {
		logger.Error("persist ledger", zap.Error(err))
	}
}
