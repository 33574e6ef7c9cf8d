// Package simvote casts synthetic ballots on open proposals so a demo
// deployment shows live tallies.
package simvote

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/agents/core"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/voting"
)

const (
	Name = "simvote"

	TickInterval    = 500 * time.Millisecond
	MinInterval     = 500 * time.Millisecond
	DefaultInterval = 2 * time.Second
	DefaultMaxVotes = 200
	DefaultYesBias  = 0.65

	defaultConfidence = 50
	minYesProbability = 0.05
	maxYesProbability = 0.95
)

// Config controls pacing and the yes/no mix.
type Config struct {
	Interval            time.Duration
	MaxVotesPerProposal uint64
	YesBias             float64
}

// Normalize clamps c into its accepted ranges.
func (c Config) Normalize() Config {
	if c.Interval < MinInterval {
		c.Interval = MinInterval
	}
	if c.MaxVotesPerProposal < 1 {
		c.MaxVotesPerProposal = 1
	}
	if math.IsNaN(c.YesBias) {
		c.YesBias = DefaultYesBias
	}
	c.YesBias = clamp(c.YesBias, 0, 1)
	return c
}

// ProposalLister is the store surface the agent reads from.
type ProposalLister interface {
	ListActive(ctx context.Context) ([]gov.Proposal, error)
}

// VoteProcessor accepts ballots. *voting.Processor satisfies it.
type VoteProcessor interface {
	Process(ctx context.Context, prop *gov.Proposal, voter string, choice gov.Choice) (*voting.TallyResult, error)
}

// Option customizes an Agent.
type Option func(*Agent)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithRand replaces the random source.
func WithRand(r *rand.Rand) Option {
	return func(a *Agent) { a.rng = r }
}

// WithTickInterval overrides the scheduler period.
func WithTickInterval(d time.Duration) Option {
	return func(a *Agent) { a.tickEvery = d }
}

// Agent periodically submits synthetic votes through the regular vote path.
type Agent struct {
	cfg       Config
	proposals ProposalLister
	votes     VoteProcessor
	log       *logrus.Entry
	now       func() time.Time
	tickEvery time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	mu         sync.Mutex
	lastVoteAt map[uint64]time.Time
	counters   map[uint64]uint64

	loop *core.Loop
}

func New(cfg Config, proposals ProposalLister, votes VoteProcessor, log *logrus.Entry, opts ...Option) *Agent {
	a := &Agent{
		cfg:        cfg.Normalize(),
		proposals:  proposals,
		votes:      votes,
		log:        log.WithField("component", Name),
		now:        time.Now,
		tickEvery:  TickInterval,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		lastVoteAt: map[uint64]time.Time{},
		counters:   map[uint64]uint64{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.loop = core.NewLoop(Name, a.tickEvery, a.Tick, a.log)
	return a
}

func (a *Agent) Name() string { return Name }

// Config returns the normalized configuration.
func (a *Agent) Config() Config { return a.cfg }

func (a *Agent) Start(ctx context.Context) error {
	a.log.WithFields(logrus.Fields{
		"interval":  a.cfg.Interval.String(),
		"max_votes": a.cfg.MaxVotesPerProposal,
		"yes_bias":  a.cfg.YesBias,
	}).Info("synthetic voting started")
	return a.loop.Start(ctx)
}

func (a *Agent) Stop(ctx context.Context) {
	a.loop.Stop(ctx)
}

// Tick runs one scheduling pass over the active proposals.
func (a *Agent) Tick(ctx context.Context) {
	active, err := a.proposals.ListActive(ctx)
	if err != nil {
		a.log.WithError(err).Warn("list active proposals")
		return
	}
	for i := range active {
		a.maybeVote(ctx, &active[i])
	}
}

func (a *Agent) maybeVote(ctx context.Context, prop *gov.Proposal) {
	now := a.now()
	if now.After(prop.Deadline) {
		return
	}
	current := prop.TotalVotes()
	if current >= a.cfg.MaxVotesPerProposal {
		return
	}

	a.mu.Lock()
	last, seen := a.lastVoteAt[prop.ID]
	if seen && now.Sub(last) < a.cfg.Interval {
		a.mu.Unlock()
		return
	}
	index := max(a.counters[prop.ID], current) + 1
	a.mu.Unlock()

	voter := VoterAddress(prop.ID, index)
	choice := gov.ChoiceNo
	if a.roll() < YesProbability(a.cfg.YesBias, prop.Confidence) {
		choice = gov.ChoiceYes
	}

	log := a.log.WithFields(logrus.Fields{"proposal_id": prop.ID, "voter": voter})
	res, err := a.votes.Process(ctx, prop, voter, choice)
	switch {
	case err == nil:
		a.mu.Lock()
		a.lastVoteAt[prop.ID] = now
		a.counters[prop.ID] = index
		a.mu.Unlock()
		log.WithFields(logrus.Fields{"choice": choice.String(), "yes": res.YesVotes, "no": res.NoVotes}).Debug("synthetic vote cast")
	case gov.CodeOf(err) == gov.CodeDuplicateVote:
		a.mu.Lock()
		a.counters[prop.ID] = index
		a.mu.Unlock()
		log.Debug("synthetic voter already voted, skipping index")
	default:
		log.WithError(err).Warn("synthetic vote failed")
	}
}

func (a *Agent) roll() float64 {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.Float64()
}

// YesProbability blends the configured bias with the proposal's confidence.
// A confidence of zero counts as 50.
func YesProbability(bias float64, confidence int) float64 {
	if confidence == 0 {
		confidence = defaultConfidence
	}
	p := (bias + float64(confidence)/100) / 2
	return clamp(p, minYesProbability, maxYesProbability)
}

// VoterAddress names the index-th synthetic voter of a proposal.
func VoterAddress(proposalID, index uint64) string {
	return fmt.Sprintf("sim-voter-%d-%05d", proposalID, index)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
