package validator

import (
	"fmt"
	"strings"
)

// Mode selects how derived payloads are checked for correctness.
type Mode int

const (
	// Trusted relies on a synced L2 execution client: the equivalent block is
	// fetched from it and compared field-by-field against the derived payload.
	Trusted Mode = iota
	// EngineAPI submits the derived payload to the engine API of an L2
	// execution client and expects a VALID status.
	EngineAPI
)

var Modes = []Mode{Trusted, EngineAPI}

var ModeStrings = []string{"trusted", "engine-api"}

func StringToMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "trusted":
		return Trusted, nil
	case "engine-api":
		return EngineAPI, nil
	default:
		return 0, fmt.Errorf("unknown validation mode: %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case Trusted:
		return "trusted"
	case EngineAPI:
		return "engine-api"
	default:
		return "unknown"
	}
}

// Set implements the flag.Value interface, so a Mode can be used
// as a cli.GenericFlag value.
func (m *Mode) Set(value string) error {
	v, err := StringToMode(value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m *Mode) Clone() any {
	cpy := *m
	return &cpy
}
