package ledger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Config selects and configures a backend.
type Config struct {
	Mode     string // auto, simulated or remote
	DemoMode bool
	Remote   RemoteConfig
}

// ResolveMode reports the backend New would build for cfg.
func ResolveMode(cfg Config) (string, error) {
	switch cfg.Mode {
	case ModeSimulated, ModeRemote:
		return cfg.Mode, nil
	case "", ModeAuto:
		if cfg.DemoMode || cfg.Remote.Endpoint == "" || cfg.Remote.ContractHash == "" || cfg.Remote.Account == "" {
			return ModeSimulated, nil
		}
		return ModeRemote, nil
	default:
		return "", fmt.Errorf("unknown ledger mode %q", cfg.Mode)
	}
}

// New builds the ledger client described by cfg.
func New(cfg Config, log *logrus.Entry) (Client, error) {
	mode, err := ResolveMode(cfg)
	if err != nil {
		return nil, err
	}
	if mode == ModeRemote {
		return NewRemote(cfg.Remote, WithRemoteLogger(log))
	}
	log.Warn("ledger running in simulation mode, no transactions leave this process")
	return NewSimulated(WithSimLogger(log)), nil
}
