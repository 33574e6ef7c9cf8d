package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProposal() *gov.Proposal {
	onChain := uint64(7)
	tx := "0xfeed"
	return &gov.Proposal{
		ID:         3,
		OnChainID:  &onChain,
		Title:      "Deal X",
		Status:     gov.StatusApproved,
		YesVotes:   5,
		NoVotes:    2,
		FinalTxRef: &tx,
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(testProposal(), SourceFinalizer)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, uint64(3), ev.ProposalID)
	assert.Equal(t, uint64(7), ev.OnChainID)
	assert.Equal(t, gov.StatusApproved, ev.Status)
	assert.Equal(t, "0xfeed", ev.TxRef)
	assert.Equal(t, SourceFinalizer, ev.Source)
	assert.False(t, ev.At.IsZero())
}

func TestHubFansOutAndSwallowsErrors(t *testing.T) {
	hub := NewHub(logrus.NewEntry(logrus.New()))
	var got []string
	hub.Subscribe(FuncSink(func(_ context.Context, ev Event) error {
		got = append(got, "first:"+ev.Title)
		return errors.New("sink down")
	}))
	hub.Subscribe(FuncSink(func(_ context.Context, ev Event) error {
		got = append(got, "second:"+ev.Title)
		return nil
	}))

	hub.Publish(context.Background(), NewEvent(testProposal(), SourceReconciler))
	assert.Equal(t, []string{"first:Deal X", "second:Deal X"}, got)
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sink := NewRedisSink(rdb, "")
	ev := NewEvent(testProposal(), SourceFinalizer)
	require.NoError(t, sink.Deliver(context.Background(), ev))

	msgs, err := rdb.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "3", msgs[0].Values["proposal_id"])
	assert.Equal(t, "approved", msgs[0].Values["status"])
	assert.Equal(t, "0xfeed", msgs[0].Values["tx_ref"])
	assert.Equal(t, ev.ID, msgs[0].Values["id"])
}

type recordingPublisher struct {
	subject string
	data    []byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subject, p.data = subject, data
	return nil
}

func TestNATSSink(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewNATSSink(pub, "")
	ev := NewEvent(testProposal(), SourceFinalizer)
	require.NoError(t, sink.Deliver(context.Background(), ev))

	assert.Equal(t, "govvote.proposal.finalized.approved", pub.subject)
	var decoded Event
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, uint64(5), decoded.YesVotes)
}
