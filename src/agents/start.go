// Package agents wires the background modules of the service.
package agents

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/agents/core"
	"github.com/stake-plus/govvote/src/agents/simvote"
	sharedconfig "github.com/stake-plus/govvote/src/config"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/notify"
	"github.com/stake-plus/govvote/src/reconcile"
	"github.com/stake-plus/govvote/src/store"
	"github.com/stake-plus/govvote/src/voting"
)

// Deps are the shared handles the agents run against.
type Deps struct {
	Store     *store.Store
	Ledger    ledger.Client
	Processor *voting.Processor
	Hub       *notify.Hub
	Log       *logrus.Entry
}

// Build registers the enabled agents on a new manager without starting them.
func Build(cfg sharedconfig.AgentsConfig, deps Deps) (*core.Manager, error) {
	manager := core.NewManager(deps.Log)

	if cfg.Simulation.Enabled {
		agent := simvote.New(cfg.Simulation.Config, deps.Store, deps.Processor, deps.Log)
		if err := manager.Add(agent); err != nil {
			return nil, fmt.Errorf("agents: simulated voting: %w", err)
		}
	} else {
		deps.Log.Info("agents: simulated voting disabled")
	}

	if cfg.Reconcile.Enabled {
		listener := reconcile.New(deps.Store, deps.Ledger, deps.Hub, cfg.Reconcile.Interval, deps.Log)
		if err := manager.Add(listener); err != nil {
			return nil, fmt.Errorf("agents: chain reconciliation: %w", err)
		}
	} else {
		deps.Log.Info("agents: chain reconciliation disabled")
	}

	return manager, nil
}

// StartAll builds and starts the enabled agents.
func StartAll(ctx context.Context, cfg sharedconfig.AgentsConfig, deps Deps) (*core.Manager, error) {
	manager, err := Build(cfg, deps)
	if err != nil {
		return nil, err
	}
	if err := manager.Start(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}
