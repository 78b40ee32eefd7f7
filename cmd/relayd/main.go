// Command relayd runs the LinkLockr relay daemon: the gas-profitability
// gate in front of the storefront contract, plus the catalog and metadata
// surfaces.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/cynamonster/linklockr/catalog"
	"github.com/cynamonster/linklockr/chain"
	"github.com/cynamonster/linklockr/config"
	"github.com/cynamonster/linklockr/oracle"
	"github.com/cynamonster/linklockr/relay"
	"github.com/cynamonster/linklockr/server"
	"github.com/cynamonster/linklockr/storage"
)

func main() {
	// Missing .env is fine in deployed environments.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := chain.NewSigner(ctx, chain.Config{
		RPCURL:          cfg.RPCURL,
		PrivateKeyHex:   cfg.RelayPrivateKey,
		ContractAddress: cfg.ContractAddress,
		TokenAddress:    cfg.TokenAddress,
	})
	if err != nil {
		log.Fatalf("chain: %v", err)
	}
	log.Printf("relay address %s on contract %s", signer.Address(), cfg.ContractAddress)

	oracleCfg := oracle.Config{URL: cfg.OracleURL}
	if cfg.OracleFallbackUsd != "" {
		fallback, err := decimal.NewFromString(cfg.OracleFallbackUsd)
		if err != nil {
			log.Fatalf("config: invalid ORACLE_FALLBACK_USD: %v", err)
		}
		oracleCfg.Fallback = fallback
	}
	rates := oracle.New(oracleCfg)

	var index *catalog.Client
	var links relay.Catalog
	var serverIndex server.LinkIndex
	if cfg.CatalogEnabled() {
		index = catalog.New(catalog.Config{
			URL:    cfg.SupabaseURL,
			APIKey: cfg.SupabaseAPIKey,
		})
		links = index
		serverIndex = index
	}

	var pins server.Pinner
	if cfg.PinningEnabled() {
		pins = storage.New(storage.Config{
			JWT:        cfg.PinataJWT,
			GatewayURL: cfg.PinataGateway,
		})
	}

	engine := relay.NewEngine(signer, rates, links, relay.Config{
		FeeRecipient: cfg.FeeRecipient,
		FeeBps:       cfg.FeeBps,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(engine, serverIndex, pins, signer).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
