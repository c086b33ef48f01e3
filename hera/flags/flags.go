package flags

import (
	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	openum "github.com/ethereum-optimism/optimism/op-service/enum"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum-optimism/optimism/op-service/oppprof"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/merklefruit/op-rs/hera/driver"
	"github.com/merklefruit/op-rs/hera/validator"
)

const EnvVarPrefix = "HERA"

const (
	// DefaultL2ChainID corresponds to OP Mainnet.
	DefaultL2ChainID = 10

	DefaultL2RpcURL          = "https://optimism.llamarpc.com/"
	DefaultL1BeaconClientURL = "http://localhost:5052/"
)

func prefixEnvVars(name string) []string {
	return opservice.PrefixEnvVar(EnvVarPrefix, name)
}

var (
	L2ChainIDFlag = &cli.Uint64Flag{
		Name:    "hera.l2-chain-id",
		Usage:   "Chain ID of the L2 network",
		Value:   DefaultL2ChainID,
		EnvVars: prefixEnvVars("L2_CHAIN_ID"),
	}
	L2ConfigFileFlag = &cli.PathFlag{
		Name: "hera.l2-config-file",
		Usage: "Path to a custom L2 rollup configuration file " +
			"(overrides the default rollup configuration from the registry)",
		TakesFile: true,
		EnvVars:   prefixEnvVars("L2_CONFIG_FILE"),
	}
	L2RpcURLFlag = &cli.StringFlag{
		Name:    "hera.l2-rpc-url",
		Usage:   "RPC URL of an L2 execution client, used as trusted peer in trusted validation mode",
		Value:   DefaultL2RpcURL,
		EnvVars: prefixEnvVars("L2_RPC_URL"),
	}
	L1BeaconClientURLFlag = &cli.StringFlag{
		Name:    "hera.l1-beacon-client-url",
		Usage:   "URL of an L1 beacon client to fetch blobs",
		Value:   DefaultL1BeaconClientURL,
		EnvVars: prefixEnvVars("L1_BEACON_CLIENT_URL"),
	}
	L1BlobArchiverURLFlag = &cli.StringFlag{
		Name: "hera.l1-blob-archiver-url",
		Usage: "URL of the blob archiver to fetch blobs that are expired on the beacon client " +
			"but still needed for processing. Blob archivers need to implement the blob_sidecars beacon API.",
		EnvVars: prefixEnvVars("L1_BLOB_ARCHIVER_URL"),
	}
	ValidationModeFlag = &cli.GenericFlag{
		Name: "hera.validation-mode",
		Usage: "The payload validation mode to use. Valid options: " +
			openum.EnumString(validator.ModeStrings),
		Value: func() *validator.Mode {
			out := validator.Trusted
			return &out
		}(),
		EnvVars: prefixEnvVars("VALIDATION_MODE"),
	}
	L2EngineAPIURLFlag = &cli.StringFlag{
		Name: "hera.l2-engine-api-url",
		Usage: "If the mode is engine-api, the URL of the engine API endpoint of " +
			"the execution client to validate payloads against",
		EnvVars: prefixEnvVars("L2_ENGINE_API_URL"),
	}
	L2EngineJWTSecretFlag = &cli.PathFlag{
		Name: "hera.l2-engine-jwt-secret",
		Usage: "If the mode is engine-api, the path to a file containing the hex-encoded " +
			"32-byte JWT secret for the auth-rpc",
		TakesFile: true,
		EnvVars:   prefixEnvVars("L2_ENGINE_JWT_SECRET"),
	}
	ValidationRetriesFlag = &cli.IntFlag{
		Name:    "hera.validation-retries",
		Usage:   "Maximum number of validation attempts per payload while outcomes are indeterminate",
		Value:   driver.DefaultMaxValidationRetries,
		EnvVars: prefixEnvVars("VALIDATION_RETRIES"),
	}
)

var heraFlags = []cli.Flag{
	L2ChainIDFlag,
	L2ConfigFileFlag,
	L2RpcURLFlag,
	L1BeaconClientURLFlag,
	L1BlobArchiverURLFlag,
	ValidationModeFlag,
	L2EngineAPIURLFlag,
	L2EngineJWTSecretFlag,
	ValidationRetriesFlag,
}

// Flags contains the list of configuration options available to the binary.
// Every flag has a usable default; mode-specific requirements (engine-api
// credentials) are validated in CLIConfig.Check.
var Flags []cli.Flag

func init() {
	Flags = append(Flags, heraFlags...)
	Flags = append(Flags, oprpc.CLIFlags(EnvVarPrefix)...)
	Flags = append(Flags, oplog.CLIFlags(EnvVarPrefix)...)
	Flags = append(Flags, opmetrics.CLIFlags(EnvVarPrefix)...)
	Flags = append(Flags, oppprof.CLIFlags(EnvVarPrefix)...)
}
