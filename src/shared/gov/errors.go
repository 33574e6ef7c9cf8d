package gov

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a governance failure so outer layers can branch on it.
type Code string

const (
	CodeProposalNotFound  Code = "proposal_not_found"
	CodeProposalNotActive Code = "proposal_not_active"
	CodeDuplicateVote     Code = "duplicate_vote"
	CodeVotingClosed      Code = "voting_closed"
	CodeVotingOpen        Code = "voting_open"
	CodeAlreadyFinalized  Code = "already_finalized"
	CodeLedgerUnavailable Code = "ledger_unavailable"
	CodeMalformedRecord   Code = "malformed_record"
	CodeInvalidArgument   Code = "invalid_argument"
	CodeInternal          Code = "internal"
)

// Error is the typed error returned by the ledger, store and voting packages.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so errors.Is(err, ErrDuplicateVote)
// holds regardless of where the duplicate was detected.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// E builds an *Error.
func E(code Code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// Wrap attaches a code to an underlying error.
func Wrap(err error, code Code, op string) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

var (
	ErrProposalNotFound  = E(CodeProposalNotFound, "", "proposal not found")
	ErrProposalNotActive = E(CodeProposalNotActive, "", "proposal is not active")
	ErrDuplicateVote     = E(CodeDuplicateVote, "", "voter has already voted on this proposal")
	ErrVotingClosed      = E(CodeVotingClosed, "", "voting is closed")
	ErrVotingOpen        = E(CodeVotingOpen, "", "voting deadline has not passed")
	ErrAlreadyFinalized  = E(CodeAlreadyFinalized, "", "proposal already finalized")
	ErrLedgerUnavailable = E(CodeLedgerUnavailable, "", "ledger unavailable")
	ErrMalformedRecord   = E(CodeMalformedRecord, "", "malformed ledger record")
	ErrInvalidArgument   = E(CodeInvalidArgument, "", "invalid argument")
)

// CodeOf returns the code carried by err, CodeInternal for foreign errors and ""
// for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to the status an HTTP adapter should answer with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeProposalNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeProposalNotActive, CodeDuplicateVote, CodeVotingClosed, CodeVotingOpen, CodeAlreadyFinalized:
		return http.StatusConflict
	case CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case CodeMalformedRecord:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
