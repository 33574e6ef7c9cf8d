package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/shared/gov"
)

// Event sources.
const (
	SourceFinalizer  = "finalizer"
	SourceReconciler = "reconciler"
)

// Event is published once when a proposal becomes terminal.
type Event struct {
	ID         string     `json:"id"`
	ProposalID uint64     `json:"proposal_id"`
	OnChainID  uint64     `json:"on_chain_id"`
	Title      string     `json:"title"`
	Status     gov.Status `json:"status"`
	YesVotes   uint64     `json:"yes_votes"`
	NoVotes    uint64     `json:"no_votes"`
	TxRef      string     `json:"tx_ref,omitempty"`
	Source     string     `json:"source"`
	At         time.Time  `json:"at"`
}

// NewEvent snapshots p as a terminal event.
func NewEvent(p *gov.Proposal, source string) Event {
	ev := Event{
		ID:         uuid.NewString(),
		ProposalID: p.ID,
		OnChainID:  p.RemoteID(),
		Title:      p.Title,
		Status:     p.Status,
		YesVotes:   p.YesVotes,
		NoVotes:    p.NoVotes,
		Source:     source,
		At:         time.Now().UTC(),
	}
	if p.FinalTxRef != nil {
		ev.TxRef = *p.FinalTxRef
	}
	return ev
}

// Sink receives terminal events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Hub fans events out to subscribed sinks. Delivery failures are logged and
// never reach the publisher.
type Hub struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *logrus.Entry
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{log: log.WithField("component", "notify")}
}

// Subscribe adds a sink.
func (h *Hub) Subscribe(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// Publish delivers ev to every sink in subscription order.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	h.mu.RLock()
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"sink":        s.Name(),
				"proposal_id": ev.ProposalID,
				"status":      ev.Status,
			}).Warn("terminal event delivery failed")
		}
	}
}

// LogSink writes events to the log.
type LogSink struct {
	Log *logrus.Entry
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, ev Event) error {
	s.Log.WithFields(logrus.Fields{
		"proposal_id": ev.ProposalID,
		"status":      ev.Status,
		"yes_votes":   ev.YesVotes,
		"no_votes":    ev.NoVotes,
		"source":      ev.Source,
	}).Info("proposal finalized")
	return nil
}

// FuncSink adapts a function.
type FuncSink func(ctx context.Context, ev Event) error

func (FuncSink) Name() string { return "func" }

func (f FuncSink) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }
