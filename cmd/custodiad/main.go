package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodia/config"
	"custodia/core/events"
	"custodia/gateway"
	"custodia/native/escrow"
	"custodia/native/reputation"
	"custodia/native/timelock"
	"custodia/observability/logging"
	"custodia/rpc"
	"custodia/state"
	"custodia/storage"
)

const shutdownTimeout = 10 * time.Second

type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	l.log.Info("ledger event", "type", evt.EventType())
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	log := logging.Setup("custodiad", os.Getenv("CUSTODIA_ENV"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	var db storage.Database
	if cfg.InMemoryState {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Error("open state database", "error", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	manager := state.NewManager(db)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetCustodian(manager.Custodian(engine.Vault()))
	engine.SetOracle(cfg.OracleAddress())
	engine.SetArbiter(cfg.ArbiterAddress())
	engine.SetEmitter(logEmitter{log: log.With("component", "escrow")})
	if err := engine.SetFeePolicy(cfg.FeePolicy()); err != nil {
		log.Error("configure fee policy", "error", err)
		os.Exit(1)
	}
	if err := engine.SetParams(cfg.Escrow.EscrowParams()); err != nil {
		log.Error("configure escrow params", "error", err)
		os.Exit(1)
	}

	timelockEngine := timelock.NewEngine(cfg.TimelockDelaySeconds)
	timelockEngine.SetState(manager)
	timelockEngine.SetOwner(cfg.OwnerAddress())
	timelockEngine.SetEmitter(logEmitter{log: log.With("component", "timelock")})
	timelockEngine.RegisterHandler(timelock.KindOracleRotation, func(payload []byte) error {
		addr, err := decodeAddressPayload(payload)
		if err != nil {
			return err
		}
		engine.SetOracle(addr)
		log.Info("oracle rotated")
		return nil
	})
	timelockEngine.RegisterHandler(timelock.KindFeeRecipientRotation, func(payload []byte) error {
		addr, err := decodeAddressPayload(payload)
		if err != nil {
			return err
		}
		policy := engine.FeePolicy()
		policy.Recipient = addr
		if err := engine.SetFeePolicy(policy); err != nil {
			return err
		}
		log.Info("fee recipient rotated")
		return nil
	})

	rpcServer := rpc.NewServer(engine, manager, cfg.RPCAuthToken)
	rpcServer.SetTimelock(timelockEngine)
	rpcHTTP := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpcServer,
		ReadHeaderTimeout: 5 * time.Second,
	}

	servers := []*http.Server{rpcHTTP}
	go func() {
		log.Info("rpc listening", "address", cfg.RPCAddress)
		if err := rpcHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc server", "error", err)
		}
	}()

	if cfg.GatewayAddress != "" {
		svcCfg, err := gateway.LoadServiceConfigFromEnv()
		if err != nil {
			log.Error("load gateway config", "error", err)
			os.Exit(1)
		}
		var source gateway.TrustSource
		if svcCfg.SourceURL != "" {
			source = gateway.NewHTTPSource(svcCfg.SourceURL)
		} else {
			log.Warn("no trust source configured, gateway releases will fail")
			source = gateway.StaticSource{Err: fmt.Errorf("no trust source configured")}
		}
		bonuses := reputation.NewLedger(manager)
		gw := gateway.New(engine, source, bonuses, gateway.Config{
			Oracle:      cfg.OracleAddress(),
			MaxScoreAge: svcCfg.MaxScoreAge,
			BonusPoints: svcCfg.BonusPoints,
			BonusTTL:    svcCfg.BonusTTL,
		}, log.With("component", "gateway"))
		auth := gateway.NewAuthenticator(svcCfg.Auth, log)
		gwHTTP := &http.Server{
			Addr:              cfg.GatewayAddress,
			Handler:           gateway.NewServer(gw, auth, log.With("component", "gateway")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		servers = append(servers, gwHTTP)
		go func() {
			log.Info("gateway listening", "address", cfg.GatewayAddress)
			if err := gwHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("gateway server", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info("shutting down", "signal", received.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown", "error", err)
		}
	}
}

func decodeAddressPayload(payload []byte) ([20]byte, error) {
	var addr [20]byte
	if len(payload) != len(addr) {
		return addr, fmt.Errorf("payload must be %d bytes, got %d", len(addr), len(payload))
	}
	copy(addr[:], payload)
	return addr, nil
}
