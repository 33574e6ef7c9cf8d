package gov

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusActive   Status = "active"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Choice is a single ballot value. The numeric values match the contract.
type Choice int16

const (
	ChoiceNo  Choice = 0
	ChoiceYes Choice = 1
)

// Valid reports whether c is Yes or No.
func (c Choice) Valid() bool {
	return c == ChoiceYes || c == ChoiceNo
}

func (c Choice) String() string {
	switch c {
	case ChoiceYes:
		return "yes"
	case ChoiceNo:
		return "no"
	default:
		return fmt.Sprintf("choice(%d)", int16(c))
	}
}

// ParseChoice accepts "yes"/"no" as well as the contract's 1/0.
func ParseChoice(v string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "yes", "y", "true":
		return ChoiceYes, nil
	case "0", "no", "n", "false":
		return ChoiceNo, nil
	}
	return 0, E(CodeInvalidArgument, "parse choice", fmt.Sprintf("unknown vote value %q", v))
}

// Proposal is the local mirror of an on-chain proposal record.
type Proposal struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	OnChainID   *uint64   `gorm:"index"`
	Title       string    `gorm:"size:255;not null;index"`
	Summary     string    `gorm:"type:text"`
	ContentHash string    `gorm:"size:128;not null;index"`
	Confidence  int       `gorm:"not null"`
	Status      Status    `gorm:"size:16;not null;default:active;index"`
	YesVotes    uint64    `gorm:"not null;default:0"`
	NoVotes     uint64    `gorm:"not null;default:0"`
	Deadline    time.Time `gorm:"not null"`
	TxRef       *string   `gorm:"size:80"`
	FinalTxRef  *string   `gorm:"size:80"`
	FinalizedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RemoteID is the identifier used on the ledger. Proposals created before the
// ledger assigned an id fall back to the local id.
func (p *Proposal) RemoteID() uint64 {
	if p.OnChainID != nil && *p.OnChainID != 0 {
		return *p.OnChainID
	}
	return p.ID
}

// TotalVotes returns yes + no.
func (p *Proposal) TotalVotes() uint64 {
	return p.YesVotes + p.NoVotes
}

// Open reports whether the proposal still accepts votes at now.
func (p *Proposal) Open(now time.Time) bool {
	return p.Status == StatusActive && !now.After(p.Deadline)
}

// Vote is a single recorded ballot. (ProposalID, VoterAddress) is unique.
type Vote struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement"`
	ProposalID   uint64  `gorm:"uniqueIndex:idx_vote_proposal_voter,priority:1;not null"`
	VoterAddress string  `gorm:"uniqueIndex:idx_vote_proposal_voter,priority:2;size:128;not null"`
	Choice       Choice  `gorm:"not null"`
	TxRef        *string `gorm:"size:80"`
	CreatedAt    time.Time
}

// Tally is a snapshot of a proposal's counters.
type Tally struct {
	YesVotes uint64
	NoVotes  uint64
}

// Setting represents a configuration setting stored in the database
type Setting struct {
	ID     uint16 `gorm:"primaryKey"`
	Name   string `gorm:"size:64;not null;uniqueIndex"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null;default:1"`
}
