package hera

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	gn "github.com/ethereum/go-ethereum/node"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/ethereum-optimism/optimism/op-node/chaincfg"
	"github.com/ethereum-optimism/optimism/op-node/rollup"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/client"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
	"github.com/ethereum-optimism/optimism/op-service/sources"

	"github.com/merklefruit/op-rs/hera/driver"
	"github.com/merklefruit/op-rs/hera/exex"
	"github.com/merklefruit/op-rs/hera/metrics"
	"github.com/merklefruit/op-rs/hera/validator"
)

var ErrAlreadyStopped = errors.New("already stopped")

// notificationBuffer bounds how many chain-commit notifications may be
// queued ahead of the pipeline before the host starts blocking.
const notificationBuffer = 64

// HeraService hosts the hera pipeline behind a cliapp.Lifecycle: it owns
// the notification channel the embedding node feeds, the pipeline driver,
// and the usual metrics, pprof and RPC side-servers.
type HeraService struct {
	Log     log.Logger
	Metrics metrics.Metricer

	Version string

	rollupCfg      *rollup.Config
	validationMode validator.Mode

	host   *exex.ChannelHost
	driver *driver.Driver

	cancelApp context.CancelCauseFunc

	driverCancel context.CancelFunc
	driverDone   chan struct{}

	pprofService *oppprof.Service
	metricsSrv   *httputil.HTTPServer
	rpcServer    *oprpc.Server

	stopped atomic.Bool
}

var _ cliapp.Lifecycle = (*HeraService)(nil)

func HeraServiceFromCLIConfig(ctx context.Context, version string, cfg *CLIConfig, log log.Logger) (*HeraService, error) {
	var hs HeraService
	if err := hs.initFromCLIConfig(ctx, version, cfg, log); err != nil {
		return nil, errors.Join(err, hs.Stop(ctx)) // try to clean up our failed initialization attempt
	}
	return &hs, nil
}

func (hs *HeraService) initFromCLIConfig(ctx context.Context, version string, cfg *CLIConfig, log log.Logger) error {
	hs.Version = version
	hs.Log = log
	hs.validationMode = cfg.ValidationMode
	hs.cancelApp = cfg.Cancel

	hs.initMetrics(cfg)

	rollupCfg, err := cfg.RollupConfig()
	if err != nil {
		return fmt.Errorf("failed to load rollup config: %w", err)
	}
	hs.rollupCfg = rollupCfg
	rollupCfg.LogDescription(log, chaincfg.L2ChainIDToNetworkDisplayName)

	val, err := hs.initValidator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up %s validator: %w", cfg.ValidationMode, err)
	}

	hs.host = exex.NewChannelHost(notificationBuffer)
	hs.driver = driver.NewDriver(log.New("component", "driver"), hs.Metrics,
		driver.Config{MaxValidationRetries: cfg.ValidationRetries},
		rollupCfg, hs.host, val, nil)

	if err := hs.initMetricsServer(cfg); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := hs.initPProf(cfg); err != nil {
		return fmt.Errorf("failed to init pprof server: %w", err)
	}
	if err := hs.initRPCServer(cfg); err != nil {
		return fmt.Errorf("failed to start rpc server: %w", err)
	}

	hs.Metrics.RecordInfo(hs.Version)
	hs.Metrics.RecordUp()
	return nil
}

func (hs *HeraService) initMetrics(cfg *CLIConfig) {
	if cfg.MetricsConfig.Enabled {
		hs.Metrics = metrics.NewMetrics("default")
	} else {
		hs.Metrics = metrics.NoopMetrics
	}
}

// initValidator dials the client the configured validation mode needs and
// wraps it. Trusted mode talks to a plain L2 RPC; engine-api mode talks to
// the execution client's authenticated engine endpoint.
func (hs *HeraService) initValidator(ctx context.Context, cfg *CLIConfig) (validator.Validator, error) {
	switch cfg.ValidationMode {
	case validator.Trusted:
		rpcClient, err := client.NewRPC(ctx, hs.Log, cfg.L2RpcURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial trusted L2 RPC at %s: %w", cfg.L2RpcURL, err)
		}
		l2Client, err := sources.NewL2Client(rpcClient, hs.Log, nil,
			sources.L2ClientDefaultConfig(hs.rollupCfg, true))
		if err != nil {
			return nil, fmt.Errorf("failed to create trusted L2 client: %w", err)
		}
		return validator.NewTrustedValidator(hs.Log.New("validator", "trusted"), l2Client), nil

	case validator.EngineAPI:
		secret, err := oprpc.ObtainJWTSecret(hs.Log, cfg.L2EngineJWTSecretPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine JWT secret: %w", err)
		}
		opts := client.WithGethRPCOptions(gethrpc.WithHTTPAuth(gn.NewJWTAuth(secret)))
		rpcClient, err := client.NewRPC(ctx, hs.Log, cfg.L2EngineAPIURL, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to dial engine API at %s: %w", cfg.L2EngineAPIURL, err)
		}
		engineClient, err := sources.NewEngineClient(rpcClient, hs.Log, nil,
			sources.EngineClientDefaultConfig(hs.rollupCfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create engine client: %w", err)
		}
		return validator.NewEngineValidator(hs.Log.New("validator", "engine-api"), engineClient), nil

	default:
		return nil, fmt.Errorf("unknown validation mode: %s", cfg.ValidationMode)
	}
}

func (hs *HeraService) initPProf(cfg *CLIConfig) error {
	hs.pprofService = oppprof.New(
		cfg.PprofConfig.ListenEnabled,
		cfg.PprofConfig.ListenAddr,
		cfg.PprofConfig.ListenPort,
		cfg.PprofConfig.ProfileType,
		cfg.PprofConfig.ProfileDir,
		cfg.PprofConfig.ProfileFilename,
	)
	if err := hs.pprofService.Start(); err != nil {
		return fmt.Errorf("failed to start pprof service: %w", err)
	}
	return nil
}

func (hs *HeraService) initMetricsServer(cfg *CLIConfig) error {
	if !cfg.MetricsConfig.Enabled {
		hs.Log.Info("metrics disabled")
		return nil
	}
	m, ok := hs.Metrics.(opmetrics.RegistryMetricer)
	if !ok {
		return fmt.Errorf("metrics were enabled, but metricer %T does not expose registry for metrics-server", hs.Metrics)
	}
	hs.Log.Debug("starting metrics server", "addr", cfg.MetricsConfig.ListenAddr, "port", cfg.MetricsConfig.ListenPort)
	metricsSrv, err := opmetrics.StartServer(m.Registry(), cfg.MetricsConfig.ListenAddr, cfg.MetricsConfig.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	hs.Log.Info("started metrics server", "addr", metricsSrv.Addr())
	hs.metricsSrv = metricsSrv
	return nil
}

func (hs *HeraService) initRPCServer(cfg *CLIConfig) error {
	server := oprpc.NewServer(
		cfg.RPC.ListenAddr,
		cfg.RPC.ListenPort,
		hs.Version,
		oprpc.WithLogger(hs.Log),
	)
	server.AddAPI(gethrpc.API{
		Namespace: "hera",
		Service:   &heraAPI{service: hs},
	})
	hs.Log.Info("starting json-rpc server")
	if err := server.Start(); err != nil {
		return fmt.Errorf("unable to start rpc server: %w", err)
	}
	hs.rpcServer = server
	return nil
}

// Start launches the pipeline driver. The driver runs until the host
// disconnects or a terminal validation failure occurs; a fatal exit
// requests an application shutdown through the configured cancel func.
func (hs *HeraService) Start(ctx context.Context) error {
	driverCtx, cancel := context.WithCancel(context.Background())
	hs.driverCancel = cancel
	hs.driverDone = make(chan struct{})
	go func() {
		defer close(hs.driverDone)
		if err := hs.driver.Run(driverCtx); err != nil && !errors.Is(err, context.Canceled) {
			hs.Log.Error("Pipeline exited", "err", err)
			if hs.cancelApp != nil {
				hs.cancelApp(err)
			}
		}
	}()
	hs.Log.Info("Hera started",
		"validation_mode", hs.validationMode,
		"l2_chain_id", hs.rollupCfg.L2ChainID,
		"genesis_l1", hs.rollupCfg.Genesis.L1)
	return nil
}

func (hs *HeraService) Stopped() bool {
	return hs.stopped.Load()
}

func (hs *HeraService) Kill() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return hs.Stop(ctx)
}

func (hs *HeraService) Stop(ctx context.Context) error {
	if hs.Stopped() {
		return ErrAlreadyStopped
	}
	var result error

	if hs.driverCancel != nil {
		hs.driverCancel()
		select {
		case <-hs.driverDone:
		case <-ctx.Done():
			result = errors.Join(result, fmt.Errorf("failed to stop pipeline: %w", ctx.Err()))
		}
	}
	// unblocks any host-side Notify callers still feeding the channel
	if hs.host != nil {
		hs.host.Close()
	}

	if hs.rpcServer != nil {
		if err := hs.rpcServer.Stop(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop rpc server: %w", err))
		}
	}
	if hs.pprofService != nil {
		if err := hs.pprofService.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop pprof server: %w", err))
		}
	}
	if hs.metricsSrv != nil {
		if err := hs.metricsSrv.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}

	if result == nil {
		hs.stopped.Store(true)
		hs.Log.Info("Hera stopped")
	}
	return result
}

// Host exposes the notification channel for the embedding node to feed.
func (hs *HeraService) Host() *exex.ChannelHost {
	return hs.host
}

// AttachDerivation connects an external derivation engine to the pipeline.
// Must be called before Start.
func (hs *HeraService) AttachDerivation(src driver.PayloadSource) {
	hs.driver.AttachPayloadSource(src)
}

// RollupConfig returns the rollup configuration the pipeline follows.
func (hs *HeraService) RollupConfig() *rollup.Config {
	return hs.rollupCfg
}
