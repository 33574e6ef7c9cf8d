package voting

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/notify"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/store"
)

// FinalizationResult describes a proposal that just became terminal.
type FinalizationResult struct {
	ProposalID uint64     `json:"proposal_id"`
	Status     gov.Status `json:"status"`
	YesVotes   uint64     `json:"yes_votes"`
	NoVotes    uint64     `json:"no_votes"`
	TxRef      string     `json:"tx_ref"`
}

// Finalizer closes proposals on the ledger and then locally.
type Finalizer struct {
	store   *store.Store
	ledger  ledger.Client
	hub     *notify.Hub
	now     func() time.Time
	log     *logrus.Entry
	metrics *Metrics
}

func NewFinalizer(st *store.Store, lc ledger.Client, hub *notify.Hub, opts Options) *Finalizer {
	opts.defaults()
	return &Finalizer{
		store:   st,
		ledger:  lc,
		hub:     hub,
		now:     opts.Now,
		log:     opts.Log.WithField("component", "finalizer"),
		metrics: opts.Metrics,
	}
}

// Finalize transitions an active proposal whose deadline has passed. The ledger
// is finalized first; if that fails the local status is left alone.
func (f *Finalizer) Finalize(ctx context.Context, proposalID uint64) (*FinalizationResult, error) {
	res, err := f.finalize(ctx, proposalID)
	var status gov.Status
	if res != nil {
		status = res.Status
	}
	f.metrics.finalize(status, err)
	return res, err
}

func (f *Finalizer) finalize(ctx context.Context, proposalID uint64) (*FinalizationResult, error) {
	const op = "voting.finalize"
	prop, err := f.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if prop.Status != gov.StatusActive {
		return nil, gov.E(gov.CodeAlreadyFinalized, op, "proposal is already "+string(prop.Status))
	}
	if f.now().Before(prop.Deadline) {
		return nil, gov.E(gov.CodeVotingOpen, op, "voting deadline has not passed")
	}

	log := f.log.WithFields(logrus.Fields{"proposal_id": prop.ID, "remote_id": prop.RemoteID()})

	start := time.Now()
	receipt, err := f.ledger.Finalize(ctx, prop.RemoteID())
	f.metrics.observe("finalize", time.Since(start).Seconds())
	if err != nil {
		log.WithError(err).Warn("ledger finalize failed, local status unchanged")
		switch gov.CodeOf(err) {
		case gov.CodeAlreadyFinalized, gov.CodeVotingOpen, gov.CodeProposalNotFound:
			return nil, err
		}
		return nil, ledgerErr(err, op)
	}

	wctx, cancel := commitContext(ctx)
	defer cancel()
	final, transitioned, err := f.store.Finalize(wctx, prop.ID, receipt.TxRef)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"tx_ref": receipt.TxRef, "alert": true}).Error("ledger finalized but local transition failed")
		return nil, err
	}
	if !transitioned {
		return nil, gov.E(gov.CodeAlreadyFinalized, op, "proposal was finalized concurrently")
	}

	log.WithFields(logrus.Fields{
		"status":    final.Status,
		"yes_votes": final.YesVotes,
		"no_votes":  final.NoVotes,
		"tx_ref":    receipt.TxRef,
	}).Info("proposal finalized")

	if f.hub != nil {
		f.hub.Publish(wctx, notify.NewEvent(final, notify.SourceFinalizer))
	}

	return &FinalizationResult{
		ProposalID: final.ID,
		Status:     final.Status,
		YesVotes:   final.YesVotes,
		NoVotes:    final.NoVotes,
		TxRef:      receipt.TxRef,
	}, nil
}

// FinalizeExpired finalizes every active proposal whose deadline has passed.
// Failures are logged per proposal and do not stop the sweep.
func (f *Finalizer) FinalizeExpired(ctx context.Context) ([]FinalizationResult, error) {
	active, err := f.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := f.now()
	var out []FinalizationResult
	for i := range active {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if now.Before(active[i].Deadline) {
			continue
		}
		res, err := f.Finalize(ctx, active[i].ID)
		if err != nil {
			f.log.WithError(err).WithField("proposal_id", active[i].ID).Warn("finalize sweep skipped proposal")
			continue
		}
		out = append(out, *res)
	}
	return out, nil
}
