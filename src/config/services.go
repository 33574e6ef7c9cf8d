package config

import (
	"time"

	"github.com/stake-plus/govvote/src/ledger"
	"gorm.io/gorm"
)

// ServerConfig holds HTTP adapter configuration.
type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	VoteRateLimit   string
	ShutdownTimeout time.Duration
}

// LoadServerConfig loads HTTP adapter configuration.
func LoadServerConfig(db *gorm.DB) ServerConfig {
	refreshSettings(db)
	return ServerConfig{
		Port:            getIntSetting("backend_port", "BACKEND_PORT", 8000),
		AllowedOrigins:  parseCSV(GetSetting("cors_allowed_origins", "CORS_ALLOWED_ORIGINS", "*")),
		VoteRateLimit:   GetSetting("vote_rate_limit", "VOTE_RATE_LIMIT", "60-M"),
		ShutdownTimeout: getSecondsSetting("shutdown_timeout_seconds", "SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
	}
}

// VotingConfig holds ledger and vote processing configuration.
type VotingConfig struct {
	DemoMode           bool
	StrictOnchainCheck bool
	Ledger             ledger.Config
}

// LoadVotingConfig loads ledger and vote processing configuration.
func LoadVotingConfig(db *gorm.DB) VotingConfig {
	refreshSettings(db)

	demo := getBoolSetting("demo_mode", "DEMO_MODE", true)
	remote := ledger.RemoteConfig{
		Endpoint:       GetSetting("neo_rpc_url", "NEO_RPC_URL", ""),
		ContractHash:   GetSetting("neo_contract_hash", "NEO_CONTRACT_HASH", ""),
		Account:        GetSetting("neo_wallet_account", "NEO_WALLET_ACCOUNT", ""),
		WalletPath:     GetSetting("neo_wallet_path", "NEO_WALLET_PATH", ""),
		WalletPassword: GetSetting("neo_wallet_password", "NEO_WALLET_PASSWORD", ""),
		Connections:    getIntSetting("neo_rpc_connections", "NEO_RPC_CONNECTIONS", 0),
		CallTimeout:    getSecondsSetting("neo_rpc_timeout_seconds", "NEO_RPC_TIMEOUT_SECONDS", 0),
	}

	return VotingConfig{
		DemoMode:           demo,
		StrictOnchainCheck: getBoolSetting("strict_onchain_check", "STRICT_ONCHAIN_CHECK", true),
		Ledger: ledger.Config{
			Mode:     GetSetting("ledger_mode", "LEDGER_MODE", ledger.ModeAuto),
			DemoMode: demo,
			Remote:   remote,
		},
	}
}
