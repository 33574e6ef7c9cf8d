package ledger

import (
	"context"
	"time"

	"github.com/stake-plus/govvote/src/shared/gov"
)

const (
	ModeSimulated = "simulated"
	ModeRemote    = "remote"
	ModeAuto      = "auto"
)

// Creation is returned by CreateProposal.
type Creation struct {
	TxRef    string
	RemoteID uint64
}

// Receipt is returned by state-changing calls.
type Receipt struct {
	TxRef string
}

// Client submits transactions to the authoritative ledger. Implementations are
// safe for concurrent use and are passed explicitly to every consumer.
//
// Failures carry a gov.Code: CodeDuplicateVote, CodeVotingClosed,
// CodeVotingOpen, CodeAlreadyFinalized and CodeProposalNotFound mirror contract
// rules; CodeLedgerUnavailable covers transport failures and timeouts.
type Client interface {
	CreateProposal(ctx context.Context, title, contentHash string, deadline time.Time, confidence int) (Creation, error)
	CastVote(ctx context.Context, remoteID uint64, voter string, choice gov.Choice) (Receipt, error)
	Finalize(ctx context.Context, remoteID uint64) (Receipt, error)
	// GetRecord returns nil without error when the id is unknown.
	GetRecord(ctx context.Context, remoteID uint64) (*Record, error)
	HasVoted(ctx context.Context, remoteID uint64, voter string) (bool, error)
	// ProposalCount is the number of proposals ever created on the contract.
	ProposalCount(ctx context.Context) (uint64, error)
	Mode() string
	Close() error
}
