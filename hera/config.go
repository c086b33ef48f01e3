package hera

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-node/rollup"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/merklefruit/op-rs/hera/flags"
	"github.com/merklefruit/op-rs/hera/validator"
)

// CLIConfig is the configuration of the hera service,
// as parsed from CLI flags and environment variables.
type CLIConfig struct {
	L2ChainID         uint64
	L2ConfigFile      string
	L2RpcURL          string
	L1BeaconClientURL string
	L1BlobArchiverURL string

	ValidationMode        validator.Mode
	L2EngineAPIURL        string
	L2EngineJWTSecretPath string
	ValidationRetries     int

	LogConfig     oplog.CLIConfig
	MetricsConfig opmetrics.CLIConfig
	PprofConfig   oppprof.CLIConfig
	RPC           oprpc.CLIConfig

	// Cancel, if set, is used by the service to request a shutdown
	// of the surrounding application when the pipeline exits fatally.
	Cancel context.CancelCauseFunc
}

// NewCLIConfig parses the CLIConfig from the provided flags or environment variables.
func NewCLIConfig(ctx *cli.Context) *CLIConfig {
	return &CLIConfig{
		L2ChainID:         ctx.Uint64(flags.L2ChainIDFlag.Name),
		L2ConfigFile:      ctx.Path(flags.L2ConfigFileFlag.Name),
		L2RpcURL:          ctx.String(flags.L2RpcURLFlag.Name),
		L1BeaconClientURL: ctx.String(flags.L1BeaconClientURLFlag.Name),
		L1BlobArchiverURL: ctx.String(flags.L1BlobArchiverURLFlag.Name),

		ValidationMode:        *ctx.Generic(flags.ValidationModeFlag.Name).(*validator.Mode),
		L2EngineAPIURL:        ctx.String(flags.L2EngineAPIURLFlag.Name),
		L2EngineJWTSecretPath: ctx.Path(flags.L2EngineJWTSecretFlag.Name),
		ValidationRetries:     ctx.Int(flags.ValidationRetriesFlag.Name),

		LogConfig:     oplog.ReadCLIConfig(ctx),
		MetricsConfig: opmetrics.ReadCLIConfig(ctx),
		PprofConfig:   oppprof.ReadCLIConfig(ctx),
		RPC:           oprpc.ReadCLIConfig(ctx),
	}
}

// Check verifies that the configuration is complete and coherent.
// Mode-specific requirements are enforced here so that misconfiguration
// is caught before any client connections are attempted.
func (c *CLIConfig) Check() error {
	if c.L2ChainID == 0 && c.L2ConfigFile == "" {
		return errors.New("an L2 chain ID or an L2 config file is required")
	}
	if c.ValidationRetries <= 0 {
		return fmt.Errorf("validation retries must be positive, got %d", c.ValidationRetries)
	}
	if err := checkURL(flags.L1BeaconClientURLFlag.Name, c.L1BeaconClientURL); err != nil {
		return err
	}
	if c.L1BlobArchiverURL != "" {
		if err := checkURL(flags.L1BlobArchiverURLFlag.Name, c.L1BlobArchiverURL); err != nil {
			return err
		}
	}
	switch c.ValidationMode {
	case validator.Trusted:
		if c.L2RpcURL == "" {
			return fmt.Errorf("trusted validation mode requires --%s", flags.L2RpcURLFlag.Name)
		}
		if err := checkURL(flags.L2RpcURLFlag.Name, c.L2RpcURL); err != nil {
			return err
		}
	case validator.EngineAPI:
		if c.L2EngineAPIURL == "" {
			return fmt.Errorf("engine-api validation mode requires --%s", flags.L2EngineAPIURLFlag.Name)
		}
		if err := checkURL(flags.L2EngineAPIURLFlag.Name, c.L2EngineAPIURL); err != nil {
			return err
		}
		if c.L2EngineJWTSecretPath == "" {
			return fmt.Errorf("engine-api validation mode requires --%s", flags.L2EngineJWTSecretFlag.Name)
		}
	default:
		return fmt.Errorf("unknown validation mode: %s", c.ValidationMode)
	}
	if err := c.MetricsConfig.Check(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := c.PprofConfig.Check(); err != nil {
		return fmt.Errorf("invalid pprof config: %w", err)
	}
	return nil
}

// RollupConfig resolves the rollup configuration of the L2 chain to follow.
// A custom config file takes precedence over the registry of known chains.
func (c *CLIConfig) RollupConfig() (*rollup.Config, error) {
	if c.L2ConfigFile != "" {
		f, err := os.Open(c.L2ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open rollup config file %q: %w", c.L2ConfigFile, err)
		}
		defer f.Close()
		var cfg rollup.Config
		if err := cfg.ParseRollupConfig(f); err != nil {
			return nil, fmt.Errorf("failed to parse rollup config file %q: %w", c.L2ConfigFile, err)
		}
		return &cfg, nil
	}
	cfg, err := rollup.LoadOPStackRollupConfig(c.L2ChainID)
	if err != nil {
		return nil, fmt.Errorf("no rollup config found for L2 chain ID %d: %w", c.L2ChainID, err)
	}
	return cfg, nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid --%s: %q is not an absolute URL", name, raw)
	}
	return nil
}
