package gov

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		yes, no uint64
		want    Status
	}{
		{2, 1, StatusApproved},
		{1, 2, StatusRejected},
		{3, 3, StatusRejected},
		{0, 0, StatusRejected},
		{1, 0, StatusApproved},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.yes, tt.no), func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.yes, tt.no))
		})
	}
}

func TestErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("submit: %w", E(CodeDuplicateVote, "ledger.cast_vote", "already voted on-chain"))

	assert.True(t, errors.Is(err, ErrDuplicateVote))
	assert.False(t, errors.Is(err, ErrVotingClosed))
	assert.Equal(t, CodeDuplicateVote, CodeOf(err))
	assert.Equal(t, "ledger.cast_vote: already voted on-chain", errors.Unwrap(err).Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, CodeLedgerUnavailable, "ledger.has_voted")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeProposalNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeDuplicateVote))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(CodeLedgerUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(CodeInternal))
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("1")
	require.NoError(t, err)
	assert.Equal(t, ChoiceYes, c)

	c, err = ParseChoice(" No ")
	require.NoError(t, err)
	assert.Equal(t, ChoiceNo, c)

	_, err = ParseChoice("abstain")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRemoteIDFallsBackToLocalID(t *testing.T) {
	p := &Proposal{ID: 7}
	assert.Equal(t, uint64(7), p.RemoteID())

	remote := uint64(42)
	p.OnChainID = &remote
	assert.Equal(t, uint64(42), p.RemoteID())
}
