package webserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/voting"
)

type Proposals struct {
	svc *voting.Service
	log *logrus.Entry
}

func NewProposals(svc *voting.Service, log *logrus.Entry) Proposals {
	return Proposals{svc: svc, log: log}
}

func (p Proposals) Create(c *gin.Context) {
	var req struct {
		Title       string     `json:"title" binding:"required"`
		Summary     string     `json:"summary"`
		ContentHash string     `json:"content_hash" binding:"required"`
		Confidence  int        `json:"confidence"`
		Deadline    *time.Time `json:"deadline"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	in := voting.NewProposal{
		Title:       req.Title,
		Summary:     req.Summary,
		ContentHash: req.ContentHash,
		Confidence:  req.Confidence,
	}
	if req.Deadline != nil {
		in.Deadline = *req.Deadline
	}

	view, created, err := p.svc.CreateProposal(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"proposal": view, "created": created})
}

func (p Proposals) Get(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}
	view, err := p.svc.GetProposal(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (p Proposals) Finalize(c *gin.Context) {
	id, ok := proposalID(c)
	if !ok {
		return
	}
	res, err := p.svc.Finalize(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func proposalID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "bad proposal id")
		return 0, false
	}
	return id, true
}
