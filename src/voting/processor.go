package voting

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/store"
)

const maxVoterLen = 128

// CommitTimeout bounds a local write that follows an accepted ledger call.
const CommitTimeout = 10 * time.Second

// commitContext detaches ctx from its caller. Once the ledger has accepted a
// write the mirror must follow, whether or not the caller is still waiting.
func commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), CommitTimeout)
}

// TallyResult is returned for an accepted vote.
type TallyResult struct {
	ProposalID uint64 `json:"proposal_id"`
	YesVotes   uint64 `json:"yes_votes"`
	NoVotes    uint64 `json:"no_votes"`
	TxRef      string `json:"tx_ref"`
}

// Options configure the processor and finalizer.
type Options struct {
	// StrictOnchainCheck aborts a vote with LedgerUnavailable when the
	// on-chain has-voted check fails. When false the failure is logged and the
	// local unique index is the only duplicate guard until cast.
	StrictOnchainCheck bool
	Now                func() time.Time
	Log                *logrus.Entry
	Metrics            *Metrics
}

func (o *Options) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Processor runs one vote through both ledgers. It is safe for concurrent
// use; the store's unique index decides races between callers.
type Processor struct {
	store   *store.Store
	ledger  ledger.Client
	strict  bool
	now     func() time.Time
	log     *logrus.Entry
	metrics *Metrics
}

func NewProcessor(st *store.Store, lc ledger.Client, opts Options) *Processor {
	opts.defaults()
	return &Processor{
		store:   st,
		ledger:  lc,
		strict:  opts.StrictOnchainCheck,
		now:     opts.Now,
		log:     opts.Log.WithField("component", "vote_processor"),
		metrics: opts.Metrics,
	}
}

// Submit loads the proposal and processes the vote.
func (p *Processor) Submit(ctx context.Context, proposalID uint64, voter string, choice gov.Choice) (*TallyResult, error) {
	prop, err := p.store.Get(ctx, proposalID)
	if err != nil {
		p.metrics.vote(err)
		return nil, err
	}
	return p.Process(ctx, prop, voter, choice)
}

// Process validates and records a vote on an already loaded proposal. Nothing
// is written anywhere before the ledger accepts the vote.
func (p *Processor) Process(ctx context.Context, prop *gov.Proposal, voter string, choice gov.Choice) (*TallyResult, error) {
	res, err := p.process(ctx, prop, strings.TrimSpace(voter), choice)
	p.metrics.vote(err)
	return res, err
}

func (p *Processor) process(ctx context.Context, prop *gov.Proposal, voter string, choice gov.Choice) (*TallyResult, error) {
	const op = "voting.process"
	log := p.log.WithFields(logrus.Fields{"proposal_id": prop.ID, "voter": voter})

	if prop.Status != gov.StatusActive {
		return nil, gov.E(gov.CodeProposalNotActive, op, "proposal is "+string(prop.Status))
	}
	if p.now().After(prop.Deadline) {
		return nil, gov.E(gov.CodeVotingClosed, op, "voting deadline has passed")
	}
	if voter == "" || len(voter) > maxVoterLen {
		return nil, gov.E(gov.CodeInvalidArgument, op, "voter address is required and at most 128 bytes")
	}
	if !choice.Valid() {
		return nil, gov.E(gov.CodeInvalidArgument, op, "vote must be 0 or 1")
	}

	voted, err := p.store.HasVote(ctx, prop.ID, voter)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, gov.E(gov.CodeDuplicateVote, op, "voter has already voted on this proposal")
	}

	remoteID := prop.RemoteID()
	start := time.Now()
	voted, err = p.ledger.HasVoted(ctx, remoteID, voter)
	p.metrics.observe("has_voted", time.Since(start).Seconds())
	switch {
	case err != nil && gov.CodeOf(err) == gov.CodeInvalidArgument:
		return nil, err
	case err != nil && p.strict:
		log.WithError(err).Warn("on-chain vote check failed, rejecting vote")
		return nil, ledgerErr(err, op)
	case err != nil:
		log.WithError(err).Warn("on-chain vote check failed, continuing with local guard")
	case voted:
		return nil, gov.E(gov.CodeDuplicateVote, op, "voter has already voted on-chain")
	}

	start = time.Now()
	receipt, err := p.ledger.CastVote(ctx, remoteID, voter, choice)
	p.metrics.observe("cast_vote", time.Since(start).Seconds())
	if err != nil {
		switch gov.CodeOf(err) {
		case gov.CodeDuplicateVote, gov.CodeVotingClosed, gov.CodeInvalidArgument:
			return nil, err
		}
		log.WithError(err).Error("ledger rejected vote")
		return nil, ledgerErr(err, op)
	}

	txRef := receipt.TxRef
	wctx, cancel := commitContext(ctx)
	defer cancel()
	tally, err := p.store.RecordVote(wctx, &gov.Vote{
		ProposalID:   prop.ID,
		VoterAddress: voter,
		Choice:       choice,
		TxRef:        &txRef,
	})
	if err != nil {
		if gov.CodeOf(err) == gov.CodeDuplicateVote {
			log.Info("lost local race for vote")
			return nil, err
		}
		// the ledger holds a vote the mirror does not
		log.WithError(err).WithFields(logrus.Fields{"tx_ref": txRef, "alert": true}).Error("vote accepted on ledger but not recorded locally")
		return nil, err
	}

	log.WithFields(logrus.Fields{"choice": choice.String(), "tx_ref": txRef}).Info("vote recorded")
	return &TallyResult{
		ProposalID: prop.ID,
		YesVotes:   tally.YesVotes,
		NoVotes:    tally.NoVotes,
		TxRef:      txRef,
	}, nil
}

// ledgerErr keeps LedgerUnavailable errors as they are and reclassifies the
// rest.
func ledgerErr(err error, op string) error {
	if gov.CodeOf(err) == gov.CodeLedgerUnavailable {
		return err
	}
	return gov.Wrap(err, gov.CodeLedgerUnavailable, op)
}
