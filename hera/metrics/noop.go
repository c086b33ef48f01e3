package metrics

import (
	"github.com/ethereum-optimism/optimism/op-service/eth"
)

type noopMetrics struct{}

var NoopMetrics Metricer = new(noopMetrics)

func (*noopMetrics) RecordInfo(version string) {}
func (*noopMetrics) RecordUp()                 {}

func (*noopMetrics) RecordL1Ref(_ string, _ eth.L1BlockRef) {}
func (*noopMetrics) RecordGenesisReached()                  {}
func (*noopMetrics) RecordAcknowledgedHeight(_ uint64)      {}
func (*noopMetrics) RecordValidationOutcome(_ string)       {}
func (*noopMetrics) RecordLastValidatedHeight(_ uint64)     {}
