package store

import (
	"context"
	"errors"
	"time"

	"github.com/stake-plus/govvote/src/shared/gov"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the durable local mirror of proposals and votes. The unique
// (proposal_id, voter_address) index is the last line of defence against
// double votes.
type Store struct {
	db *gorm.DB
}

// New wraps db. The DB should be opened with TranslateError so unique
// violations surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates the tables the store owns.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&gov.Proposal{}, &gov.Vote{}, &gov.Setting{})
}

// Create inserts a new proposal. Status defaults to active.
func (s *Store) Create(ctx context.Context, p *gov.Proposal) error {
	if p.Status == "" {
		p.Status = gov.StatusActive
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return gov.Wrap(err, gov.CodeInternal, "store.create")
	}
	return nil
}

// Get loads a proposal by local id.
func (s *Store) Get(ctx context.Context, id uint64) (*gov.Proposal, error) {
	return getProposal(s.db.WithContext(ctx), id, "store.get")
}

// FindByContent returns the proposal with the given content hash or title,
// nil when none exists.
func (s *Store) FindByContent(ctx context.Context, contentHash, title string) (*gov.Proposal, error) {
	var p gov.Proposal
	q := s.db.WithContext(ctx)
	switch {
	case contentHash != "" && title != "":
		q = q.Where("content_hash = ? OR title = ?", contentHash, title)
	case contentHash != "":
		q = q.Where("content_hash = ?", contentHash)
	case title != "":
		q = q.Where("title = ?", title)
	default:
		return nil, nil
	}
	err := q.Order("id").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gov.Wrap(err, gov.CodeInternal, "store.find_by_content")
	}
	return &p, nil
}

// ListActive returns every active proposal ordered by id.
func (s *Store) ListActive(ctx context.Context) ([]gov.Proposal, error) {
	var out []gov.Proposal
	err := s.db.WithContext(ctx).
		Where("status = ?", gov.StatusActive).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, gov.Wrap(err, gov.CodeInternal, "store.list_active")
	}
	return out, nil
}

// CountMirrored counts proposals that carry a ledger id.
func (s *Store) CountMirrored(ctx context.Context) (uint64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&gov.Proposal{}).
		Where("on_chain_id IS NOT NULL").
		Count(&n).Error
	if err != nil {
		return 0, gov.Wrap(err, gov.CodeInternal, "store.count_mirrored")
	}
	return uint64(n), nil
}

// HasVote reports whether voter already has a local vote on proposalID.
func (s *Store) HasVote(ctx context.Context, proposalID uint64, voter string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&gov.Vote{}).
		Where("proposal_id = ? AND voter_address = ?", proposalID, voter).
		Count(&n).Error
	if err != nil {
		return false, gov.Wrap(err, gov.CodeInternal, "store.has_vote")
	}
	return n > 0, nil
}

// CountVotes counts vote rows by choice.
func (s *Store) CountVotes(ctx context.Context, proposalID uint64) (yes, no uint64, err error) {
	return countVotes(s.db.WithContext(ctx), proposalID, "store.count_votes")
}

// TallySnapshot reads a proposal together with its per-choice vote row counts
// in one transaction, so both describe the same committed state. On MySQL the
// proposal row is share-locked first, which waits out an in-flight RecordVote.
func (s *Store) TallySnapshot(ctx context.Context, id uint64) (*gov.Proposal, gov.Tally, error) {
	const op = "store.tally_snapshot"
	var (
		p    *gov.Proposal
		rows gov.Tally
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "SHARE"})
		}
		var err error
		if p, err = getProposal(q, id, op); err != nil {
			return err
		}
		rows.YesVotes, rows.NoVotes, err = countVotes(tx, id, op)
		return err
	})
	if err != nil {
		return nil, gov.Tally{}, err
	}
	return p, rows, nil
}

// ListVotes returns the votes on proposalID in insertion order.
func (s *Store) ListVotes(ctx context.Context, proposalID uint64) ([]gov.Vote, error) {
	var out []gov.Vote
	err := s.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, gov.Wrap(err, gov.CodeInternal, "store.list_votes")
	}
	return out, nil
}

// RecordVote inserts v and bumps the matching tally column in one
// transaction. A unique violation means another caller won the race and is
// reported as DuplicateVote. The increment only applies while the proposal is
// active, so a vote can never land on a finalized proposal.
func (s *Store) RecordVote(ctx context.Context, v *gov.Vote) (gov.Tally, error) {
	const op = "store.record_vote"
	if !v.Choice.Valid() {
		return gov.Tally{}, gov.E(gov.CodeInvalidArgument, op, "choice must be 0 or 1")
	}
	column := "no_votes"
	if v.Choice == gov.ChoiceYes {
		column = "yes_votes"
	}

	var tally gov.Tally
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return gov.E(gov.CodeDuplicateVote, op, "voter has already voted on this proposal")
			}
			return gov.Wrap(err, gov.CodeInternal, op)
		}

		res := tx.Model(&gov.Proposal{}).
			Where("id = ? AND status = ?", v.ProposalID, gov.StatusActive).
			Update(column, gorm.Expr(column+" + 1"))
		if res.Error != nil {
			return gov.Wrap(res.Error, gov.CodeInternal, op)
		}
		if res.RowsAffected == 0 {
			if _, err := getProposal(tx, v.ProposalID, op); err != nil {
				return err
			}
			return gov.E(gov.CodeProposalNotActive, op, "proposal is no longer active")
		}

		p, err := getProposal(tx, v.ProposalID, op)
		if err != nil {
			return err
		}
		tally = gov.Tally{YesVotes: p.YesVotes, NoVotes: p.NoVotes}
		return nil
	})
	if err != nil {
		return gov.Tally{}, err
	}
	return tally, nil
}

// Finalize moves an active proposal to the outcome of its current tallies.
// The bool is false when the proposal was already terminal, in which case the
// stored proposal is returned unchanged.
func (s *Store) Finalize(ctx context.Context, id uint64, txRef string) (*gov.Proposal, bool, error) {
	return s.transition(ctx, "store.finalize", id, txRef, func(p *gov.Proposal) gov.Status {
		return gov.Outcome(p.YesVotes, p.NoVotes)
	})
}

// ApplyOutcome moves an active proposal to a terminal status decided
// elsewhere, with gov.Outcome over the ledger's tallies. Local tallies are left
// as recorded.
func (s *Store) ApplyOutcome(ctx context.Context, id uint64, status gov.Status) (*gov.Proposal, bool, error) {
	const op = "store.apply_outcome"
	if !status.Terminal() {
		return nil, false, gov.E(gov.CodeInvalidArgument, op, "outcome must be terminal")
	}
	return s.transition(ctx, op, id, "", func(*gov.Proposal) gov.Status { return status })
}

func (s *Store) transition(ctx context.Context, op string, id uint64, txRef string, decide func(*gov.Proposal) gov.Status) (*gov.Proposal, bool, error) {
	var (
		out          *gov.Proposal
		transitioned bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		p, err := getProposal(q, id, op)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			out = p
			return nil
		}

		updates := map[string]interface{}{
			"status":       decide(p),
			"finalized_at": time.Now(),
		}
		if txRef != "" {
			updates["final_tx_ref"] = txRef
		}

		// the status guard makes a concurrent transition lose cleanly
		res := tx.Model(&gov.Proposal{}).
			Where("id = ? AND status = ?", id, gov.StatusActive).
			Updates(updates)
		if res.Error != nil {
			return gov.Wrap(res.Error, gov.CodeInternal, op)
		}
		transitioned = res.RowsAffected == 1

		out, err = getProposal(tx, id, op)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, transitioned, nil
}

func countVotes(db *gorm.DB, proposalID uint64, op string) (yes, no uint64, err error) {
	var rows []struct {
		Choice gov.Choice
		N      uint64
	}
	err = db.Model(&gov.Vote{}).
		Select("choice, COUNT(*) AS n").
		Where("proposal_id = ?", proposalID).
		Group("choice").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, gov.Wrap(err, gov.CodeInternal, op)
	}
	for _, r := range rows {
		switch r.Choice {
		case gov.ChoiceYes:
			yes = r.N
		case gov.ChoiceNo:
			no = r.N
		}
	}
	return yes, no, nil
}

func getProposal(db *gorm.DB, id uint64, op string) (*gov.Proposal, error) {
	var p gov.Proposal
	err := db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gov.E(gov.CodeProposalNotFound, op, "proposal not found")
	}
	if err != nil {
		return nil, gov.Wrap(err, gov.CodeInternal, op)
	}
	return &p, nil
}
