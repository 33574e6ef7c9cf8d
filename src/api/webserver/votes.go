package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/voting"
)

type Votes struct {
	svc *voting.Service
	log *logrus.Entry
}

func NewVotes(svc *voting.Service, log *logrus.Entry) Votes {
	return Votes{svc: svc, log: log}
}

func (v Votes) Cast(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}
	var req struct {
		VoterAddress string `json:"voter_address" binding:"required"`
		Vote         *int   `json:"vote" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if *req.Vote != int(gov.ChoiceYes) && *req.Vote != int(gov.ChoiceNo) {
		badRequest(c, "vote must be 0 or 1")
		return
	}

	res, err := v.svc.SubmitVote(c.Request.Context(), id, req.VoterAddress, gov.Choice(*req.Vote))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (v Votes) HasVoted(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}
	voter := c.Param("voter")
	voted, err := v.svc.HasVoted(c.Request.Context(), id, voter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal_id": id, "voter_address": voter, "has_voted": voted})
}
