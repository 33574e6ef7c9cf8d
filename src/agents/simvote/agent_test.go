package simvote

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/data"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/store"
	"github.com/stake-plus/govvote/src/voting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)
	return logrus.NewEntry(log)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticLister struct {
	proposals []gov.Proposal
}

func (s *staticLister) ListActive(context.Context) ([]gov.Proposal, error) {
	return s.proposals, nil
}

type ballot struct {
	proposalID uint64
	voter      string
	choice     gov.Choice
}

type recordingProcessor struct {
	mu      sync.Mutex
	ballots []ballot
	err     error
}

func (r *recordingProcessor) Process(_ context.Context, prop *gov.Proposal, voter string, choice gov.Choice) (*voting.TallyResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ballots = append(r.ballots, ballot{prop.ID, voter, choice})
	if r.err != nil {
		return nil, r.err
	}
	return &voting.TallyResult{ProposalID: prop.ID}, nil
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Interval: time.Millisecond, MaxVotesPerProposal: 0, YesBias: 3}.Normalize()
	assert.Equal(t, MinInterval, cfg.Interval)
	assert.Equal(t, uint64(1), cfg.MaxVotesPerProposal)
	assert.Equal(t, 1.0, cfg.YesBias)

	cfg = Config{Interval: 5 * time.Second, MaxVotesPerProposal: 10, YesBias: -0.5}.Normalize()
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, uint64(10), cfg.MaxVotesPerProposal)
	assert.Zero(t, cfg.YesBias)

	assert.Equal(t, DefaultYesBias, Config{YesBias: math.NaN()}.Normalize().YesBias)
}

func TestYesProbability(t *testing.T) {
	assert.InDelta(t, 0.775, YesProbability(0.65, 90), 1e-9)
	assert.InDelta(t, 0.575, YesProbability(0.65, 0), 1e-9)
	assert.Equal(t, maxYesProbability, YesProbability(1, 100))
	assert.Equal(t, minYesProbability, YesProbability(0, 1))
}

func TestVoterAddress(t *testing.T) {
	assert.Equal(t, "sim-voter-7-00001", VoterAddress(7, 1))
	assert.Equal(t, "sim-voter-12-123456", VoterAddress(12, 123456))
}

func TestTickSkipsClosedAndFullProposals(t *testing.T) {
	clk := &clock{now: epoch}
	lister := &staticLister{proposals: []gov.Proposal{
		{ID: 1, Status: gov.StatusActive, Deadline: epoch.Add(time.Hour), YesVotes: 2, NoVotes: 1},
		{ID: 2, Status: gov.StatusActive, Deadline: epoch.Add(-time.Second)},
		{ID: 3, Status: gov.StatusActive, Deadline: epoch.Add(time.Hour), YesVotes: 5},
	}}
	proc := &recordingProcessor{}
	a := New(Config{Interval: time.Second, MaxVotesPerProposal: 5}, lister, proc, quietLog(), WithClock(clk.Now))

	a.Tick(context.Background())

	require.Len(t, proc.ballots, 1)
	assert.Equal(t, uint64(1), proc.ballots[0].proposalID)
	assert.Equal(t, "sim-voter-1-00004", proc.ballots[0].voter)
}

func TestTickRespectsInterval(t *testing.T) {
	clk := &clock{now: epoch}
	prop := gov.Proposal{ID: 1, Status: gov.StatusActive, Deadline: epoch.Add(time.Hour)}
	lister := &staticLister{proposals: []gov.Proposal{prop}}
	proc := &recordingProcessor{}
	a := New(Config{Interval: 2 * time.Second, MaxVotesPerProposal: 100}, lister, proc, quietLog(), WithClock(clk.Now))

	ctx := context.Background()
	a.Tick(ctx)
	clk.Advance(time.Second)
	a.Tick(ctx)
	require.Len(t, proc.ballots, 1)

	clk.Advance(time.Second)
	a.Tick(ctx)
	require.Len(t, proc.ballots, 2)
	assert.Equal(t, "sim-voter-1-00001", proc.ballots[0].voter)
	assert.Equal(t, "sim-voter-1-00002", proc.ballots[1].voter)
}

func TestDuplicateAdvancesCounter(t *testing.T) {
	clk := &clock{now: epoch}
	lister := &staticLister{proposals: []gov.Proposal{{ID: 4, Status: gov.StatusActive, Deadline: epoch.Add(time.Hour)}}}
	proc := &recordingProcessor{err: gov.E(gov.CodeDuplicateVote, "test", "dup")}
	a := New(Config{Interval: time.Minute, MaxVotesPerProposal: 100}, lister, proc, quietLog(), WithClock(clk.Now))

	ctx := context.Background()
	a.Tick(ctx)
	a.Tick(ctx)

	// a duplicate does not count as a cast vote, so the interval does not apply
	require.Len(t, proc.ballots, 2)
	assert.Equal(t, "sim-voter-4-00001", proc.ballots[0].voter)
	assert.Equal(t, "sim-voter-4-00002", proc.ballots[1].voter)
}

func TestFailureRetriesSameVoter(t *testing.T) {
	clk := &clock{now: epoch}
	lister := &staticLister{proposals: []gov.Proposal{{ID: 4, Status: gov.StatusActive, Deadline: epoch.Add(time.Hour)}}}
	proc := &recordingProcessor{err: gov.E(gov.CodeLedgerUnavailable, "test", "down")}
	a := New(Config{Interval: time.Minute, MaxVotesPerProposal: 100}, lister, proc, quietLog(), WithClock(clk.Now))

	ctx := context.Background()
	a.Tick(ctx)
	a.Tick(ctx)

	require.Len(t, proc.ballots, 2)
	assert.Equal(t, proc.ballots[0].voter, proc.ballots[1].voter)
}

func TestChoiceFollowsProbability(t *testing.T) {
	clk := &clock{now: epoch}
	lister := &staticLister{proposals: []gov.Proposal{
		{ID: 1, Status: gov.StatusActive, Deadline: epoch.Add(time.Hour), Confidence: 100},
	}}
	proc := &recordingProcessor{}
	a := New(Config{Interval: MinInterval, MaxVotesPerProposal: 10_000, YesBias: 1}, lister, proc, quietLog(),
		WithClock(clk.Now), WithRand(rand.New(rand.NewPCG(1, 2))))

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		a.Tick(ctx)
		clk.Advance(MinInterval)
	}

	yes := 0
	for _, b := range proc.ballots {
		if b.choice == gov.ChoiceYes {
			yes++
		}
	}
	require.Len(t, proc.ballots, 1000)
	assert.InDelta(t, 950, yes, 40)
}

func TestAgentVotesThroughProcessor(t *testing.T) {
	db, err := data.Connect("sqlite:///"+filepath.Join(t.TempDir(), "sim.db"), quietLog())
	require.NoError(t, err)
	st := store.New(db)
	require.NoError(t, st.AutoMigrate())

	clk := &clock{now: epoch}
	sim := ledger.NewSimulated(ledger.WithClock(clk.Now), ledger.WithSimLogger(quietLog()))
	svc := voting.NewService(st, sim, nil, voting.Options{StrictOnchainCheck: true, Now: clk.Now, Log: quietLog()})

	ctx := context.Background()
	view, _, err := svc.CreateProposal(ctx, voting.NewProposal{
		Title:       "Deal X",
		ContentHash: "bafyabc",
		Confidence:  90,
		Deadline:    epoch.Add(time.Hour),
	})
	require.NoError(t, err)

	a := New(Config{Interval: MinInterval, MaxVotesPerProposal: 3}, st, svc.Processor(), quietLog(), WithClock(clk.Now))
	for i := 0; i < 5; i++ {
		a.Tick(ctx)
		clk.Advance(MinInterval)
	}

	got, err := svc.GetProposal(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.YesVotes+got.NoVotes)

	rec, err := sim.GetRecord(ctx, view.OnChainID)
	require.NoError(t, err)
	assert.Equal(t, got.YesVotes, rec.YesVotes)
	assert.Equal(t, got.NoVotes, rec.NoVotes)

	voted, err := sim.HasVoted(ctx, view.OnChainID, VoterAddress(view.ID, 3))
	require.NoError(t, err)
	assert.True(t, voted)
}

func TestStartStop(t *testing.T) {
	lister := &staticLister{proposals: []gov.Proposal{{ID: 1, Status: gov.StatusActive, Deadline: time.Now().Add(time.Hour)}}}
	proc := &recordingProcessor{}
	a := New(Config{MaxVotesPerProposal: 1}, lister, proc, quietLog(), WithTickInterval(time.Millisecond))

	require.NoError(t, a.Start(context.Background()))
	assert.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.ballots) > 0
	}, time.Second, time.Millisecond)
	a.Stop(context.Background())
	assert.Equal(t, Name, a.Name())
}
