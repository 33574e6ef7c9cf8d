// Package reconcile keeps the local proposal mirror in step with the ledger.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/agents/core"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/notify"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/store"
)

const (
	Name            = "reconcile"
	DefaultInterval = 30 * time.Second
)

// Report summarizes one reconciliation pass.
//
// Lagging counts proposals where the ledger holds votes the mirror has not
// recorded yet. That is normal while votes are in flight; it becomes Drifted
// when the mirror is still behind what the ledger held on the previous pass.
// Unmirrored is likewise measured against the previous pass's ledger count.
type Report struct {
	Checked             int
	Transitioned        int
	Drifted             int
	Lagging             int
	Failed              int
	InvariantViolations int
	LedgerProposals     uint64
	Unmirrored          uint64
}

// Listener polls the ledger for proposals that were finalized outside this
// process and flags local tallies that disagree with the vote rows.
type Listener struct {
	store    *store.Store
	ledger   ledger.Client
	hub      *notify.Hub
	interval time.Duration
	log      *logrus.Entry
	loop     *core.Loop

	// mu serializes passes and guards the previous pass's ledger view.
	mu         sync.Mutex
	ahead      map[uint64]gov.Tally
	lastCount  uint64
	countKnown bool
}

// New builds a listener. hub may be nil.
func New(st *store.Store, lc ledger.Client, hub *notify.Hub, interval time.Duration, log *logrus.Entry) *Listener {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Listener{
		store:    st,
		ledger:   lc,
		hub:      hub,
		interval: interval,
		log:      log.WithField("component", Name),
	}
	l.loop = core.NewLoop(Name, interval, func(ctx context.Context) { l.RunOnce(ctx) }, l.log)
	return l
}

func (l *Listener) Name() string { return Name }

func (l *Listener) Start(ctx context.Context) error {
	l.log.WithField("interval", l.interval.String()).Info("chain reconciliation started")
	return l.loop.Start(ctx)
}

func (l *Listener) Stop(ctx context.Context) {
	l.loop.Stop(ctx)
}

// RunOnce reconciles every locally active proposal. Failures on one proposal
// are logged and do not stop the pass.
func (l *Listener) RunOnce(ctx context.Context) Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rep Report

	active, err := l.store.ListActive(ctx)
	if err != nil {
		l.log.WithError(err).Warn("list active proposals")
		rep.Failed++
		return rep
	}

	ahead := make(map[uint64]gov.Tally)
	for i := range active {
		if ctx.Err() != nil {
			break
		}
		rep.Checked++
		l.reconcile(ctx, active[i].ID, &rep, ahead)
	}
	l.ahead = ahead
	l.checkCount(ctx, &rep)

	fields := logrus.Fields{
		"checked":      rep.Checked,
		"transitioned": rep.Transitioned,
		"drifted":      rep.Drifted,
		"lagging":      rep.Lagging,
		"failed":       rep.Failed,
		"violations":   rep.InvariantViolations,
		"unmirrored":   rep.Unmirrored,
	}
	if rep.Transitioned > 0 || rep.Failed > 0 || rep.InvariantViolations > 0 || rep.Drifted > 0 || rep.Unmirrored > 0 {
		l.log.WithFields(fields).Info("reconciliation pass complete")
	} else {
		l.log.WithFields(fields).Debug("reconciliation pass complete")
	}
	return rep
}

func (l *Listener) reconcile(ctx context.Context, id uint64, rep *Report, ahead map[uint64]gov.Tally) {
	log := l.log.WithField("proposal_id", id)

	p, rows, err := l.store.TallySnapshot(ctx, id)
	if err != nil {
		log.WithError(err).Warn("read local tally")
		rep.Failed++
		return
	}
	if p.Status != gov.StatusActive {
		return
	}
	log = log.WithField("remote_id", p.RemoteID())

	local := gov.Tally{YesVotes: p.YesVotes, NoVotes: p.NoVotes}
	if rows != local {
		rep.InvariantViolations++
		log.WithFields(logrus.Fields{
			"alert":     true,
			"yes_votes": p.YesVotes,
			"no_votes":  p.NoVotes,
			"yes_rows":  rows.YesVotes,
			"no_rows":   rows.NoVotes,
		}).Error("local tally does not match recorded votes")
	}

	// the ledger is read after the local snapshot and only ever grows
	rec, err := l.ledger.GetRecord(ctx, p.RemoteID())
	if err != nil {
		log.WithError(err).Warn("fetch ledger record")
		rep.Failed++
		return
	}
	if rec == nil {
		return
	}
	remote := gov.Tally{YesVotes: rec.YesVotes, NoVotes: rec.NoVotes}
	driftLog := log.WithFields(logrus.Fields{
		"local_yes":  local.YesVotes,
		"local_no":   local.NoVotes,
		"remote_yes": remote.YesVotes,
		"remote_no":  remote.NoVotes,
	})

	switch {
	case remote == local:
	case rec.Finalized || exceeds(local, remote):
		rep.Drifted++
		driftLog.Warn("vote counts differ from ledger")
	default:
		ahead[p.ID] = remote
		if prev, ok := l.ahead[p.ID]; ok && exceeds(prev, local) {
			rep.Drifted++
			driftLog.WithFields(logrus.Fields{"prev_remote_yes": prev.YesVotes, "prev_remote_no": prev.NoVotes}).
				Warn("mirror still behind the ledger's previous counts")
		} else {
			rep.Lagging++
			driftLog.Debug("ledger ahead of mirror, votes may be in flight")
		}
	}

	if !rec.Finalized {
		return
	}

	outcome := gov.Outcome(rec.YesVotes, rec.NoVotes)
	updated, transitioned, err := l.store.ApplyOutcome(ctx, p.ID, outcome)
	if err != nil {
		log.WithError(err).Warn("apply ledger outcome")
		rep.Failed++
		return
	}
	if !transitioned {
		return
	}
	rep.Transitioned++
	log.WithField("status", updated.Status).Info("proposal finalized on ledger, mirror updated")
	if l.hub != nil {
		l.hub.Publish(ctx, notify.NewEvent(updated, notify.SourceReconciler))
	}
}

// checkCount compares the mirror against the ledger's proposal counter. A
// create may be in flight, so only proposals the ledger already held on the
// previous pass count as unmirrored.
func (l *Listener) checkCount(ctx context.Context, rep *Report) {
	mirrored, err := l.store.CountMirrored(ctx)
	if err != nil {
		l.log.WithError(err).Warn("count mirrored proposals")
		rep.Failed++
		return
	}
	count, err := l.ledger.ProposalCount(ctx)
	if err != nil {
		l.log.WithError(err).Warn("read ledger proposal count")
		rep.Failed++
		return
	}
	rep.LedgerProposals = count

	if l.countKnown && l.lastCount > mirrored {
		rep.Unmirrored = l.lastCount - mirrored
		l.log.WithFields(logrus.Fields{
			"ledger_proposals": l.lastCount,
			"mirrored":         mirrored,
		}).Warn("ledger holds proposals the mirror does not")
	}
	l.lastCount, l.countKnown = count, true
}

// exceeds reports whether a holds more votes than b for either choice.
func exceeds(a, b gov.Tally) bool {
	return a.YesVotes > b.YesVotes || a.NoVotes > b.NoVotes
}
