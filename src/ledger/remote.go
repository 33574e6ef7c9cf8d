package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/webclient"
)

// RemoteConfig configures the contract-backed ledger.
type RemoteConfig struct {
	Endpoint     string // ws:// or wss:// RPC endpoint
	ContractHash string // 0x-prefixed contract script hash
	Account      string // fee payer and default signer address
	// WalletPath and WalletPassword, when set, are passed to openwallet on every
	// new connection so the node can sign invocations.
	WalletPath     string
	WalletPassword string

	Connections  int
	CallTimeout  time.Duration
	ReadAttempts int
	RetryDelay   time.Duration
}

func (c *RemoteConfig) normalize() {
	if c.Connections <= 0 {
		c.Connections = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.ReadAttempts <= 0 {
		c.ReadAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
}

// ---------- JSON-RPC envelopes ----------

type rpcReq struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC %d: %s", e.Code, e.Message)
}

// contractParam is a typed invocation argument.
type contractParam struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type signer struct {
	Account string `json:"account"`
	Scopes  string `json:"scopes"`
}

type stackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type invokeResult struct {
	State     string      `json:"state"`
	Exception *string     `json:"exception"`
	Stack     []stackItem `json:"stack"`
	Tx        string      `json:"tx,omitempty"`
}

type sendResult struct {
	Hash string `json:"hash"`
}

// ---------- worker pool ----------

type job struct {
	ctx    context.Context
	method string
	params []interface{}
	reply  chan jobResult
}

type jobResult struct {
	raw json.RawMessage
	err error
}

// Remote talks to the deployed proposal contract over JSON-RPC. Calls are
// executed by a fixed pool of workers, each owning one websocket connection.
type Remote struct {
	cfg    RemoteConfig
	dialer *websocket.Dialer
	log    *logrus.Entry
	now    func() time.Time

	jobs      chan job
	quit      chan struct{}
	wg        sync.WaitGroup
	nextID    atomic.Uint64
	closeOnce sync.Once

	// create_proposal's id is read from the test invocation, so creations are
	// serialized between it and the broadcast.
	createMu sync.Mutex
}

// RemoteOption customizes a Remote ledger.
type RemoteOption func(*Remote)

// WithRemoteLogger sets the logger entry.
func WithRemoteLogger(log *logrus.Entry) RemoteOption {
	return func(r *Remote) { r.log = log }
}

// WithRemoteClock replaces the clock used to classify rejected invocations.
func WithRemoteClock(now func() time.Time) RemoteOption {
	return func(r *Remote) { r.now = now }
}

// NewRemote validates cfg and starts the worker pool. Connections are dialed
// lazily by each worker.
func NewRemote(cfg RemoteConfig, opts ...RemoteOption) (*Remote, error) {
	if cfg.Endpoint == "" || cfg.ContractHash == "" || cfg.Account == "" {
		return nil, gov.E(gov.CodeInvalidArgument, "ledger.remote", "endpoint, contract hash and account are required")
	}
	if _, err := AddressToScriptHash(cfg.Account); err != nil {
		return nil, fmt.Errorf("signer account: %w", err)
	}
	cfg.normalize()

	r := &Remote{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.CallTimeout},
		log:    logrus.NewEntry(logrus.StandardLogger()),
		now:    time.Now,
		jobs:   make(chan job),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithFields(logrus.Fields{"ledger": ModeRemote, "endpoint": cfg.Endpoint})

	for i := 0; i < cfg.Connections; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.log.WithField("workers", cfg.Connections).Info("remote ledger client started")
	return r, nil
}

func (r *Remote) Mode() string { return ModeRemote }

// Close stops the workers and closes their connections. In-flight calls finish
// first.
func (r *Remote) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
	})
	return nil
}

func (r *Remote) worker(n int) {
	defer r.wg.Done()
	log := r.log.WithField("worker", n)

	var conn *websocket.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-r.quit:
			return
		case j := <-r.jobs:
			if conn == nil {
				c, err := r.dial(j.ctx)
				if err != nil {
					j.reply <- jobResult{err: err}
					continue
				}
				conn = c
			}
			raw, err := r.roundTrip(j.ctx, conn, j.method, j.params)
			var rpcErr *rpcError
			if err != nil && !errors.As(err, &rpcErr) {
				// transport failure, the connection state is unknown
				log.WithError(err).Warn("dropping ledger connection")
				conn.Close()
				conn = nil
			}
			j.reply <- jobResult{raw: raw, err: err}
		}
	}
}

func (r *Remote) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	if r.cfg.WalletPath != "" {
		if _, err := r.roundTrip(ctx, conn, "openwallet", []interface{}{r.cfg.WalletPath, r.cfg.WalletPassword}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("openwallet: %w", err)
		}
	}
	return conn, nil
}

func (r *Remote) roundTrip(ctx context.Context, conn *websocket.Conn, method string, params []interface{}) (json.RawMessage, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	}
	if params == nil {
		params = []interface{}{}
	}
	req := rpcReq{Jsonrpc: "2.0", ID: r.nextID.Add(1), Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		return nil, err
	}
	for {
		var rsp rpcResp
		if err := conn.ReadJSON(&rsp); err != nil {
			return nil, err
		}
		if rsp.ID != req.ID {
			// stale reply from a call that timed out earlier
			continue
		}
		if rsp.Error != nil {
			return nil, rsp.Error
		}
		return rsp.Result, nil
	}
}

// call submits one RPC to the pool and waits for it under the per-call timeout.
func (r *Remote) call(ctx context.Context, op, method string, params []interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	j := job{ctx: ctx, method: method, params: params, reply: make(chan jobResult, 1)}
	select {
	case r.jobs <- j:
	case <-r.quit:
		return gov.E(gov.CodeLedgerUnavailable, op, "ledger client closed")
	case <-ctx.Done():
		return gov.Wrap(ctx.Err(), gov.CodeLedgerUnavailable, op)
	}

	var res jobResult
	select {
	case res = <-j.reply:
	case <-ctx.Done():
		return gov.Wrap(ctx.Err(), gov.CodeLedgerUnavailable, op)
	}
	if res.err != nil {
		return gov.Wrap(res.err, gov.CodeLedgerUnavailable, op)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.raw, out); err != nil {
		return gov.Wrap(err, gov.CodeLedgerUnavailable, op)
	}
	return nil
}

// read runs a side-effect free invocation with retries on transport failures.
func (r *Remote) read(ctx context.Context, op, operation string, args ...contractParam) (*invokeResult, error) {
	var res invokeResult
	err := webclient.Do(ctx, r.cfg.ReadAttempts, r.cfg.RetryDelay, retryable, func(ctx context.Context) error {
		return r.call(ctx, op, "invokefunction", []interface{}{r.cfg.ContractHash, operation, args}, &res)
	})
	if err != nil {
		return nil, err
	}
	if res.State != "HALT" {
		return nil, faultErr(op, &res)
	}
	if len(res.Stack) == 0 {
		return nil, gov.E(gov.CodeMalformedRecord, op, "empty result stack")
	}
	return &res, nil
}

// write test-invokes operation with the given signers, then broadcasts the
// signed transaction the node returned. Writes are never retried.
func (r *Remote) write(ctx context.Context, op, operation string, signers []signer, args ...contractParam) (*invokeResult, string, error) {
	var res invokeResult
	if err := r.call(ctx, op, "invokefunction", []interface{}{r.cfg.ContractHash, operation, args, signers}, &res); err != nil {
		return nil, "", err
	}
	if res.State != "HALT" {
		return nil, "", faultErr(op, &res)
	}
	if len(res.Stack) == 0 {
		return nil, "", gov.E(gov.CodeMalformedRecord, op, "empty result stack")
	}
	if ok, isBool := stackBool(res.Stack[0]); isBool && !ok {
		return &res, "", nil
	}
	if res.Tx == "" {
		return nil, "", gov.E(gov.CodeInternal, op, "node returned no signed transaction; is a wallet holding the signer keys open?")
	}

	var sent sendResult
	if err := r.call(ctx, op, "sendrawtransaction", []interface{}{res.Tx}, &sent); err != nil {
		return nil, "", err
	}
	return &res, sent.Hash, nil
}

func (r *Remote) CreateProposal(ctx context.Context, title, contentHash string, deadline time.Time, confidence int) (Creation, error) {
	const op = "ledger.create_proposal"
	if ContainsDelimiter(title) || ContainsDelimiter(contentHash) {
		return Creation{}, gov.E(gov.CodeInvalidArgument, op, "title and content hash must not contain "+Delimiter)
	}
	if !ValidConfidence(int64(confidence)) {
		return Creation{}, gov.E(gov.CodeInvalidArgument, op, "confidence must be between 0 and 100")
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	res, tx, err := r.write(ctx, op, "create_proposal", r.signers(),
		stringParam(title), stringParam(contentHash), intParam(deadline.Unix()), intParam(int64(confidence)))
	if err != nil {
		return Creation{}, err
	}
	if tx == "" {
		return Creation{}, gov.E(gov.CodeInternal, op, "contract rejected proposal creation")
	}
	id, err := stackInt(res.Stack[0])
	if err != nil || id <= 0 {
		return Creation{}, gov.E(gov.CodeMalformedRecord, op, "create_proposal did not return an id")
	}

	r.log.WithFields(logrus.Fields{"remote_id": id, "tx_ref": tx}).Info("created proposal")
	return Creation{TxRef: tx, RemoteID: uint64(id)}, nil
}

func (r *Remote) CastVote(ctx context.Context, remoteID uint64, voter string, choice gov.Choice) (Receipt, error) {
	const op = "ledger.cast_vote"
	if !choice.Valid() {
		return Receipt{}, gov.E(gov.CodeInvalidArgument, op, "choice must be 0 or 1")
	}
	voterHash, err := AddressToScriptHash(voter)
	if err != nil {
		return Receipt{}, err
	}

	_, tx, err := r.write(ctx, op, "vote", r.signers(voterHash),
		uintParam(remoteID), hash160Param(voterHash), intParam(int64(choice)))
	if err != nil {
		return Receipt{}, err
	}
	if tx == "" {
		return Receipt{}, r.classifyVote(ctx, remoteID, voter)
	}
	r.log.WithFields(logrus.Fields{"remote_id": remoteID, "tx_ref": tx}).Debug("vote broadcast")
	return Receipt{TxRef: tx}, nil
}

func (r *Remote) Finalize(ctx context.Context, remoteID uint64) (Receipt, error) {
	const op = "ledger.finalize"
	_, tx, err := r.write(ctx, op, "finalize_proposal", r.signers(), uintParam(remoteID))
	if err != nil {
		return Receipt{}, err
	}
	if tx == "" {
		return Receipt{}, r.classifyFinalize(ctx, remoteID)
	}
	r.log.WithFields(logrus.Fields{"remote_id": remoteID, "tx_ref": tx}).Info("finalize broadcast")
	return Receipt{TxRef: tx}, nil
}

func (r *Remote) GetRecord(ctx context.Context, remoteID uint64) (*Record, error) {
	const op = "ledger.get_record"
	res, err := r.read(ctx, op, "get_proposal", uintParam(remoteID))
	if err != nil {
		return nil, err
	}
	raw, err := stackString(res.Stack[0])
	if err != nil {
		return nil, gov.Wrap(err, gov.CodeMalformedRecord, op)
	}
	if raw == "" {
		return nil, nil
	}
	rec, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Remote) HasVoted(ctx context.Context, remoteID uint64, voter string) (bool, error) {
	const op = "ledger.has_voted"
	voterHash, err := AddressToScriptHash(voter)
	if err != nil {
		return false, err
	}
	res, err := r.read(ctx, op, "has_voted", uintParam(remoteID), hash160Param(voterHash))
	if err != nil {
		return false, err
	}
	ok, isBool := stackBool(res.Stack[0])
	if !isBool {
		return false, gov.E(gov.CodeMalformedRecord, op, "has_voted did not return a boolean")
	}
	return ok, nil
}

// ProposalCount reads get_proposal_count.
func (r *Remote) ProposalCount(ctx context.Context) (uint64, error) {
	const op = "ledger.proposal_count"
	res, err := r.read(ctx, op, "get_proposal_count")
	if err != nil {
		return 0, err
	}
	n, err := stackInt(res.Stack[0])
	if err != nil || n < 0 {
		return 0, gov.E(gov.CodeMalformedRecord, op, "get_proposal_count did not return a count")
	}
	return uint64(n), nil
}

// classifyVote explains a vote the contract answered with false.
func (r *Remote) classifyVote(ctx context.Context, remoteID uint64, voter string) error {
	const op = "ledger.cast_vote"
	rec, err := r.GetRecord(ctx, remoteID)
	if err != nil {
		return err
	}
	if rec == nil {
		return gov.E(gov.CodeProposalNotFound, op, "no proposal "+strconv.FormatUint(remoteID, 10)+" on ledger")
	}
	if rec.Finalized || r.now().Unix() > rec.Deadline {
		return gov.E(gov.CodeVotingClosed, op, "voting closed on ledger")
	}
	voted, err := r.HasVoted(ctx, remoteID, voter)
	if err != nil {
		return err
	}
	if voted {
		return gov.E(gov.CodeDuplicateVote, op, "voter has already voted on-chain")
	}
	return gov.E(gov.CodeInternal, op, "contract rejected vote")
}

// classifyFinalize explains a finalize the contract answered with false.
func (r *Remote) classifyFinalize(ctx context.Context, remoteID uint64) error {
	const op = "ledger.finalize"
	rec, err := r.GetRecord(ctx, remoteID)
	if err != nil {
		return err
	}
	switch {
	case rec == nil:
		return gov.E(gov.CodeProposalNotFound, op, "no proposal "+strconv.FormatUint(remoteID, 10)+" on ledger")
	case rec.Finalized:
		return gov.E(gov.CodeAlreadyFinalized, op, "already finalized on ledger")
	case r.now().Unix() < rec.Deadline:
		return gov.E(gov.CodeVotingOpen, op, "deadline has not passed")
	}
	return gov.E(gov.CodeInternal, op, "contract rejected finalize")
}

// signers puts the service account first as fee payer, followed by any extra
// witnesses the contract checks.
func (r *Remote) signers(extra ...ScriptHash) []signer {
	account, _ := AddressToScriptHash(r.cfg.Account)
	out := []signer{{Account: account.String(), Scopes: "CalledByEntry"}}
	for _, h := range extra {
		if h == account {
			continue
		}
		out = append(out, signer{Account: h.String(), Scopes: "CalledByEntry"})
	}
	return out
}

func retryable(err error) bool {
	return gov.CodeOf(err) == gov.CodeLedgerUnavailable
}

func faultErr(op string, res *invokeResult) error {
	msg := "invocation faulted"
	if res.Exception != nil && *res.Exception != "" {
		msg += ": " + *res.Exception
	}
	return gov.E(gov.CodeInternal, op, msg)
}

// ---------- contract parameters and stack items ----------

func stringParam(s string) contractParam { return contractParam{Type: "String", Value: s} }

func intParam(v int64) contractParam {
	return contractParam{Type: "Integer", Value: strconv.FormatInt(v, 10)}
}

func uintParam(v uint64) contractParam {
	return contractParam{Type: "Integer", Value: strconv.FormatUint(v, 10)}
}

func hash160Param(h ScriptHash) contractParam {
	return contractParam{Type: "Hash160", Value: h.String()}
}

func stackBool(it stackItem) (value, ok bool) {
	if it.Type != "Boolean" {
		return false, false
	}
	if err := json.Unmarshal(it.Value, &value); err != nil {
		return false, false
	}
	return value, true
}

func stackInt(it stackItem) (int64, error) {
	if it.Type != "Integer" {
		return 0, fmt.Errorf("expected Integer, got %s", it.Type)
	}
	var s string
	if err := json.Unmarshal(it.Value, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// stackString decodes a ByteString item. Empty storage comes back as an empty
// ByteString or as Any/null.
func stackString(it stackItem) (string, error) {
	switch it.Type {
	case "Any":
		return "", nil
	case "ByteString", "Buffer":
	default:
		return "", fmt.Errorf("expected ByteString, got %s", it.Type)
	}
	var b64 string
	if err := json.Unmarshal(it.Value, &b64); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
