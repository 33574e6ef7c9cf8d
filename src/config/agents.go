package config

import (
	"time"

	"github.com/stake-plus/govvote/src/agents/simvote"
	"github.com/stake-plus/govvote/src/reconcile"
	"gorm.io/gorm"
)

// AgentsConfig exposes feature gates and knobs for background agents.
type AgentsConfig struct {
	Simulation SimulationConfig
	Reconcile  ReconcileConfig
}

// SimulationConfig tunes the synthetic voter.
type SimulationConfig struct {
	Enabled bool
	simvote.Config
}

// ReconcileConfig tunes the chain reconciliation listener.
type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
}

// LoadAgentsConfig reads configuration values for the agent subsystem.
func LoadAgentsConfig(db *gorm.DB) AgentsConfig {
	refreshSettings(db)

	maxVotes := getIntSetting("simulated_voting_max_votes_per_proposal", "SIMULATED_VOTING_MAX_VOTES_PER_PROPOSAL", simvote.DefaultMaxVotes)
	if maxVotes < 1 {
		maxVotes = 1
	}
	sim := simvote.Config{
		Interval:            getSecondsSetting("simulated_voting_interval_seconds", "SIMULATED_VOTING_INTERVAL_SECONDS", simvote.DefaultInterval),
		MaxVotesPerProposal: uint64(maxVotes),
		YesBias:             getFloatSetting("simulated_voting_yes_probability", "SIMULATED_VOTING_YES_PROBABILITY", simvote.DefaultYesBias),
	}

	return AgentsConfig{
		Simulation: SimulationConfig{
			Enabled: getBoolSetting("simulated_voting_enabled", "SIMULATED_VOTING_ENABLED", false),
			Config:  sim.Normalize(),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getBoolSetting("enable_reconcile", "ENABLE_RECONCILE", true),
			Interval: getSecondsSetting("blockchain_poll_interval", "BLOCKCHAIN_POLL_INTERVAL", reconcile.DefaultInterval),
		},
	}
}
