package ledger

import (
	"context"
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/shared/gov"
)

// Simulated is an in-memory ledger that applies the contract's transition
// rules against a copy of its storage layout. One mutex serializes every call.
type Simulated struct {
	mu      sync.Mutex
	storage map[string]string
	seq     uint64

	now func() time.Time
	log *logrus.Entry
}

// SimOption customizes a Simulated ledger.
type SimOption func(*Simulated)

// WithClock replaces the wall clock used for deadline checks.
func WithClock(now func() time.Time) SimOption {
	return func(s *Simulated) { s.now = now }
}

// WithSimLogger sets the logger entry.
func WithSimLogger(log *logrus.Entry) SimOption {
	return func(s *Simulated) { s.log = log }
}

// NewSimulated returns an empty simulated ledger.
func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		storage: make(map[string]string),
		now:     time.Now,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("ledger", ModeSimulated)
	return s
}

func (s *Simulated) Mode() string { return ModeSimulated }

func (s *Simulated) Close() error { return nil }

func (s *Simulated) CreateProposal(ctx context.Context, title, contentHash string, deadline time.Time, confidence int) (Creation, error) {
	if err := ctx.Err(); err != nil {
		return Creation{}, gov.Wrap(err, gov.CodeLedgerUnavailable, "ledger.create_proposal")
	}
	if ContainsDelimiter(title) || ContainsDelimiter(contentHash) {
		return Creation{}, gov.E(gov.CodeInvalidArgument, "ledger.create_proposal", "title and content hash must not contain "+Delimiter)
	}
	if !ValidConfidence(int64(confidence)) {
		return Creation{}, gov.E(gov.CodeInvalidArgument, "ledger.create_proposal", "confidence must be between 0 and 100")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.count() + 1
	s.storage[string(proposalCountKey)] = strconv.FormatUint(id, 10)
	s.storage[proposalKey(id)] = Encode(Record{
		Title:       title,
		ContentHash: contentHash,
		Deadline:    deadline.Unix(),
		Confidence:  int64(confidence),
	})

	tx := s.tx("create_proposal", id, []byte(title), []byte(contentHash))
	s.log.WithFields(logrus.Fields{"remote_id": id, "tx_ref": tx}).Info("created proposal")
	return Creation{TxRef: tx, RemoteID: id}, nil
}

func (s *Simulated) CastVote(ctx context.Context, remoteID uint64, voter string, choice gov.Choice) (Receipt, error) {
	const op = "ledger.cast_vote"
	if err := ctx.Err(); err != nil {
		return Receipt{}, gov.Wrap(err, gov.CodeLedgerUnavailable, op)
	}
	if !choice.Valid() {
		return Receipt{}, gov.E(gov.CodeInvalidArgument, op, "choice must be 0 or 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(remoteID)
	if err != nil {
		return Receipt{}, err
	}
	if rec == nil {
		return Receipt{}, gov.E(gov.CodeProposalNotFound, op, "no proposal "+strconv.FormatUint(remoteID, 10)+" on ledger")
	}
	if s.now().Unix() > rec.Deadline || rec.Finalized {
		return Receipt{}, gov.E(gov.CodeVotingClosed, op, "voting closed on ledger")
	}

	key := voteKey(remoteID, voter)
	if _, voted := s.storage[key]; voted {
		return Receipt{}, gov.E(gov.CodeDuplicateVote, op, "voter has already voted on-chain")
	}
	s.storage[key] = strconv.Itoa(int(choice))

	if choice == gov.ChoiceYes {
		rec.YesVotes++
	} else {
		rec.NoVotes++
	}
	s.storage[proposalKey(remoteID)] = Encode(*rec)

	tx := s.tx("vote", remoteID, []byte(voter), []byte{byte(choice)})
	s.log.WithFields(logrus.Fields{"remote_id": remoteID, "tx_ref": tx}).Debug("recorded vote")
	return Receipt{TxRef: tx}, nil
}

func (s *Simulated) Finalize(ctx context.Context, remoteID uint64) (Receipt, error) {
	const op = "ledger.finalize"
	if err := ctx.Err(); err != nil {
		return Receipt{}, gov.Wrap(err, gov.CodeLedgerUnavailable, op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(remoteID)
	if err != nil {
		return Receipt{}, err
	}
	if rec == nil {
		return Receipt{}, gov.E(gov.CodeProposalNotFound, op, "no proposal "+strconv.FormatUint(remoteID, 10)+" on ledger")
	}
	if rec.Finalized {
		return Receipt{}, gov.E(gov.CodeAlreadyFinalized, op, "already finalized on ledger")
	}
	if s.now().Unix() < rec.Deadline {
		return Receipt{}, gov.E(gov.CodeVotingOpen, op, "deadline has not passed")
	}

	rec.Finalized = true
	s.storage[proposalKey(remoteID)] = Encode(*rec)

	tx := s.tx("finalize", remoteID)
	s.log.WithFields(logrus.Fields{"remote_id": remoteID, "tx_ref": tx}).Info("finalized proposal")
	return Receipt{TxRef: tx}, nil
}

func (s *Simulated) GetRecord(ctx context.Context, remoteID uint64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, gov.Wrap(err, gov.CodeLedgerUnavailable, "ledger.get_record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(remoteID)
}

func (s *Simulated) HasVoted(ctx context.Context, remoteID uint64, voter string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, gov.Wrap(err, gov.CodeLedgerUnavailable, "ledger.has_voted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.storage[voteKey(remoteID, voter)]
	return ok, nil
}

// VoteOf returns the stored choice for voter, mirroring the contract's get_vote.
func (s *Simulated) VoteOf(remoteID uint64, voter string) (gov.Choice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.storage[voteKey(remoteID, voter)]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return gov.Choice(v), true
}

func (s *Simulated) ProposalCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, gov.Wrap(err, gov.CodeLedgerUnavailable, "ledger.proposal_count")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count(), nil
}

// rawRecord returns the stored wire form, "" when absent.
func (s *Simulated) rawRecord(remoteID uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage[proposalKey(remoteID)]
}

// callers hold s.mu
func (s *Simulated) count() uint64 {
	n, _ := strconv.ParseUint(s.storage[string(proposalCountKey)], 10, 64)
	return n
}

// callers hold s.mu
func (s *Simulated) record(remoteID uint64) (*Record, error) {
	raw, ok := s.storage[proposalKey(remoteID)]
	if !ok || raw == "" {
		return nil, nil
	}
	rec, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// callers hold s.mu
func (s *Simulated) tx(op string, id uint64, extra ...[]byte) string {
	s.seq++
	var seq, rid [8]byte
	binary.BigEndian.PutUint64(seq[:], s.seq)
	binary.BigEndian.PutUint64(rid[:], id)
	parts := append([][]byte{[]byte(op), rid[:], seq[:]}, extra...)
	return txHash(parts...)
}
