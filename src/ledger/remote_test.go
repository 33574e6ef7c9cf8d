package ledger

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x0102030405060708090a0b0c0d0e0f1011121314"

// fakeNode answers the contract's RPC surface from a Simulated ledger.
// Invocations are predicted without mutating, broadcasts execute.
type fakeNode struct {
	t     *testing.T
	sim   *Simulated
	clock *fakeClock
	hang  atomic.Bool
	calls atomic.Int64
	srv   *httptest.Server
}

type pendingTx struct {
	Operation string          `json:"operation"`
	Args      []contractParam `json:"args"`
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	n := &fakeNode{t: t, sim: NewSimulated(WithClock(clock.Now)), clock: clock}
	upgrader := websocket.Upgrader{}
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			n.calls.Add(1)
			if n.hang.Load() {
				continue
			}
			result, rpcErr := n.handle(req.Method, req.Params)
			rsp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
			if rpcErr != nil {
				rsp["error"] = rpcErr
			} else {
				rsp["result"] = result
			}
			if err := conn.WriteJSON(rsp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *fakeNode) url() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

func (n *fakeNode) handle(method string, params []json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "invokefunction":
		var op string
		var args []contractParam
		json.Unmarshal(params[1], &op)
		if len(params) > 2 {
			json.Unmarshal(params[2], &args)
		}
		return n.invoke(op, args), nil
	case "sendrawtransaction":
		var tx string
		json.Unmarshal(params[0], &tx)
		raw, _ := base64.StdEncoding.DecodeString(tx)
		var p pendingTx
		json.Unmarshal(raw, &p)
		return n.execute(p)
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func (n *fakeNode) invoke(op string, args []contractParam) invokeResult {
	ctx := context.Background()
	halt := func(item stackItem, signed bool) invokeResult {
		res := invokeResult{State: "HALT", Stack: []stackItem{item}}
		if signed {
			raw, _ := json.Marshal(pendingTx{Operation: op, Args: args})
			res.Tx = base64.StdEncoding.EncodeToString(raw)
		}
		return res
	}
	switch op {
	case "get_proposal":
		raw := n.sim.rawRecord(argUint(args[0]))
		return halt(byteString(raw), false)
	case "get_proposal_count":
		count, _ := n.sim.ProposalCount(ctx)
		return halt(integer(int64(count)), false)
	case "has_voted":
		voted, _ := n.sim.HasVoted(ctx, argUint(args[0]), argAddress(args[1]))
		return halt(boolean(voted), false)
	case "create_proposal":
		count, _ := n.sim.ProposalCount(ctx)
		return halt(integer(int64(count+1)), true)
	case "vote":
		id := argUint(args[0])
		rec, _ := n.sim.GetRecord(ctx, id)
		voted, _ := n.sim.HasVoted(ctx, id, argAddress(args[1]))
		ok := rec != nil && !rec.Finalized && n.clock.Now().Unix() <= rec.Deadline && !voted
		return halt(boolean(ok), ok)
	case "finalize_proposal":
		rec, _ := n.sim.GetRecord(ctx, argUint(args[0]))
		ok := rec != nil && !rec.Finalized && n.clock.Now().Unix() >= rec.Deadline
		return halt(boolean(ok), ok)
	}
	exc := "method not found in contract"
	return invokeResult{State: "FAULT", Exception: &exc}
}

func (n *fakeNode) execute(p pendingTx) (interface{}, *rpcError) {
	ctx := context.Background()
	var (
		r   Receipt
		err error
	)
	switch p.Operation {
	case "create_proposal":
		deadline, _ := strconv.ParseInt(p.Args[2].Value.(string), 10, 64)
		confidence, _ := strconv.Atoi(p.Args[3].Value.(string))
		var c Creation
		c, err = n.sim.CreateProposal(ctx, p.Args[0].Value.(string), p.Args[1].Value.(string), time.Unix(deadline, 0), confidence)
		r.TxRef = c.TxRef
	case "vote":
		choice, _ := strconv.Atoi(p.Args[2].Value.(string))
		r, err = n.sim.CastVote(ctx, argUint(p.Args[0]), argAddress(p.Args[1]), gov.Choice(choice))
	case "finalize_proposal":
		r, err = n.sim.Finalize(ctx, argUint(p.Args[0]))
	}
	if err != nil {
		return nil, &rpcError{Code: -500, Message: err.Error()}
	}
	return sendResult{Hash: r.TxRef}, nil
}

func argUint(p contractParam) uint64 {
	v, _ := strconv.ParseUint(p.Value.(string), 10, 64)
	return v
}

func argAddress(p contractParam) string {
	raw, _ := hex.DecodeString(strings.TrimPrefix(p.Value.(string), "0x"))
	var h ScriptHash
	for i := range raw {
		h[len(raw)-1-i] = raw[i]
	}
	return ScriptHashToAddress(h)
}

func byteString(s string) stackItem {
	v, _ := json.Marshal(base64.StdEncoding.EncodeToString([]byte(s)))
	return stackItem{Type: "ByteString", Value: v}
}

func integer(i int64) stackItem {
	v, _ := json.Marshal(strconv.FormatInt(i, 10))
	return stackItem{Type: "Integer", Value: v}
}

func boolean(b bool) stackItem {
	v, _ := json.Marshal(b)
	return stackItem{Type: "Boolean", Value: v}
}

func testAddress(seed byte) string {
	var h ScriptHash
	for i := range h {
		h[i] = seed + byte(i)
	}
	return ScriptHashToAddress(h)
}

func newTestRemote(t *testing.T, node *fakeNode, timeout time.Duration) *Remote {
	t.Helper()
	r, err := NewRemote(RemoteConfig{
		Endpoint:     node.url(),
		ContractHash: testContract,
		Account:      testAddress(0xA0),
		Connections:  2,
		CallTimeout:  timeout,
		ReadAttempts: 2,
		RetryDelay:   time.Millisecond,
	}, WithRemoteClock(node.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRemoteProposalLifecycle(t *testing.T) {
	node := newFakeNode(t)
	r := newTestRemote(t, node, 2*time.Second)
	ctx := context.Background()
	alice, bob := testAddress(1), testAddress(2)

	c, err := r.CreateProposal(ctx, "Deal X", "cid123", node.clock.Now().Add(time.Hour), 90)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.RemoteID)
	assert.True(t, strings.HasPrefix(c.TxRef, "0x"))

	_, err = r.CastVote(ctx, c.RemoteID, alice, gov.ChoiceYes)
	require.NoError(t, err)
	_, err = r.CastVote(ctx, c.RemoteID, bob, gov.ChoiceNo)
	require.NoError(t, err)

	voted, err := r.HasVoted(ctx, c.RemoteID, alice)
	require.NoError(t, err)
	assert.True(t, voted)
	voted, err = r.HasVoted(ctx, c.RemoteID, testAddress(3))
	require.NoError(t, err)
	assert.False(t, voted)

	rec, err := r.GetRecord(ctx, c.RemoteID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, Record{Title: "Deal X", ContentHash: "cid123", Deadline: 1_700_003_600, Confidence: 90, YesVotes: 1, NoVotes: 1}, *rec)

	count, err := r.ProposalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	_, err = r.Finalize(ctx, c.RemoteID)
	assert.ErrorIs(t, err, gov.ErrVotingOpen)

	node.clock.Advance(time.Hour)
	rcpt, err := r.Finalize(ctx, c.RemoteID)
	require.NoError(t, err)
	assert.NotEmpty(t, rcpt.TxRef)

	_, err = r.Finalize(ctx, c.RemoteID)
	assert.ErrorIs(t, err, gov.ErrAlreadyFinalized)
}

func TestRemoteClassifiesRejectedVotes(t *testing.T) {
	node := newFakeNode(t)
	r := newTestRemote(t, node, 2*time.Second)
	ctx := context.Background()
	alice := testAddress(1)

	_, err := r.CastVote(ctx, 9, alice, gov.ChoiceYes)
	assert.ErrorIs(t, err, gov.ErrProposalNotFound)

	c, err := r.CreateProposal(ctx, "Deal X", "cid123", node.clock.Now().Add(time.Minute), 90)
	require.NoError(t, err)

	_, err = r.CastVote(ctx, c.RemoteID, alice, gov.ChoiceYes)
	require.NoError(t, err)
	_, err = r.CastVote(ctx, c.RemoteID, alice, gov.ChoiceYes)
	assert.ErrorIs(t, err, gov.ErrDuplicateVote)

	node.clock.Advance(2 * time.Minute)
	_, err = r.CastVote(ctx, c.RemoteID, testAddress(2), gov.ChoiceNo)
	assert.ErrorIs(t, err, gov.ErrVotingClosed)
}

func TestRemoteRejectsNonAddressVoter(t *testing.T) {
	node := newFakeNode(t)
	r := newTestRemote(t, node, time.Second)

	_, err := r.CastVote(context.Background(), 1, "sim-voter-1-00001", gov.ChoiceYes)
	assert.ErrorIs(t, err, gov.ErrInvalidArgument)
	assert.Zero(t, node.calls.Load())
}

func TestRemoteMissingRecord(t *testing.T) {
	node := newFakeNode(t)
	r := newTestRemote(t, node, time.Second)

	rec, err := r.GetRecord(context.Background(), 77)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRemoteTimeoutIsLedgerUnavailable(t *testing.T) {
	node := newFakeNode(t)
	node.hang.Store(true)
	r := newTestRemote(t, node, 50*time.Millisecond)

	_, err := r.CastVote(context.Background(), 1, testAddress(1), gov.ChoiceYes)
	assert.ErrorIs(t, err, gov.ErrLedgerUnavailable)
	// writes are attempted once
	assert.Equal(t, int64(1), node.calls.Load())

	_, err = r.HasVoted(context.Background(), 1, testAddress(1))
	assert.ErrorIs(t, err, gov.ErrLedgerUnavailable)
	// reads are retried
	assert.Equal(t, int64(3), node.calls.Load())
}

func TestRemoteUnreachableEndpoint(t *testing.T) {
	r, err := NewRemote(RemoteConfig{
		Endpoint:     "ws://127.0.0.1:1",
		ContractHash: testContract,
		Account:      testAddress(0xA0),
		CallTimeout:  100 * time.Millisecond,
		ReadAttempts: 1,
	})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetRecord(context.Background(), 1)
	assert.ErrorIs(t, err, gov.ErrLedgerUnavailable)
}

func TestNewRemoteValidatesConfig(t *testing.T) {
	_, err := NewRemote(RemoteConfig{Endpoint: "ws://x"})
	assert.ErrorIs(t, err, gov.ErrInvalidArgument)

	_, err = NewRemote(RemoteConfig{Endpoint: "ws://x", ContractHash: testContract, Account: "not-an-address"})
	assert.ErrorIs(t, err, gov.ErrInvalidArgument)
}

func TestClosedRemote(t *testing.T) {
	node := newFakeNode(t)
	r := newTestRemote(t, node, time.Second)
	require.NoError(t, r.Close())

	_, err := r.Finalize(context.Background(), 1)
	assert.ErrorIs(t, err, gov.ErrLedgerUnavailable)
}

func TestResolveMode(t *testing.T) {
	full := RemoteConfig{Endpoint: "ws://node", ContractHash: testContract, Account: testAddress(1)}

	mode, err := ResolveMode(Config{Mode: ModeAuto, Remote: full})
	require.NoError(t, err)
	assert.Equal(t, ModeRemote, mode)

	mode, _ = ResolveMode(Config{Mode: ModeAuto, DemoMode: true, Remote: full})
	assert.Equal(t, ModeSimulated, mode)

	mode, _ = ResolveMode(Config{Remote: RemoteConfig{Endpoint: "ws://node"}})
	assert.Equal(t, ModeSimulated, mode)

	mode, _ = ResolveMode(Config{Mode: ModeSimulated, Remote: full})
	assert.Equal(t, ModeSimulated, mode)

	_, err = ResolveMode(Config{Mode: "mainnet"})
	assert.Error(t, err)
}
