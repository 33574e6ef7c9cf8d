package voting

import (
	"context"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/notify"
	"github.com/stake-plus/govvote/src/shared/gov"
	"github.com/stake-plus/govvote/src/store"
)

// DefaultVotingPeriod applies when a new proposal has no deadline.
const DefaultVotingPeriod = 7 * 24 * time.Hour

const maxTitleLen = 255

// ProposalView is the read model handed to outer layers.
type ProposalView struct {
	ID          uint64     `json:"id"`
	OnChainID   uint64     `json:"on_chain_id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	ContentHash string     `json:"content_hash"`
	Confidence  int        `json:"confidence"`
	Status      gov.Status `json:"status"`
	YesVotes    uint64     `json:"yes_votes"`
	NoVotes     uint64     `json:"no_votes"`
	Deadline    time.Time  `json:"deadline"`
	TxRef       string     `json:"tx_ref,omitempty"`
	FinalTxRef  string     `json:"final_tx_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func viewOf(p *gov.Proposal) *ProposalView {
	v := &ProposalView{
		ID:          p.ID,
		OnChainID:   p.RemoteID(),
		Title:       p.Title,
		Summary:     p.Summary,
		ContentHash: p.ContentHash,
		Confidence:  p.Confidence,
		Status:      p.Status,
		YesVotes:    p.YesVotes,
		NoVotes:     p.NoVotes,
		Deadline:    p.Deadline,
		CreatedAt:   p.CreatedAt,
	}
	if p.TxRef != nil {
		v.TxRef = *p.TxRef
	}
	if p.FinalTxRef != nil {
		v.FinalTxRef = *p.FinalTxRef
	}
	return v
}

// NewProposal is the input to CreateProposal.
type NewProposal struct {
	Title       string
	Summary     string
	ContentHash string
	Confidence  int
	// Deadline defaults to now plus DefaultVotingPeriod.
	Deadline time.Time
}

// Service is the surface consumed by the HTTP adapter and the CLI.
type Service struct {
	store     *store.Store
	ledger    ledger.Client
	processor *Processor
	finalizer *Finalizer
	now       func() time.Time
	log       *logrus.Entry

	titlePolicy   *bluemonday.Policy
	summaryPolicy *bluemonday.Policy
}

func NewService(st *store.Store, lc ledger.Client, hub *notify.Hub, opts Options) *Service {
	opts.defaults()

	summary := bluemonday.StrictPolicy()
	summary.AllowElements("p", "br", "strong", "em", "code", "pre", "blockquote")
	summary.AllowElements("ul", "ol", "li")
	summary.AllowAttrs("href").OnElements("a")
	summary.RequireParseableURLs(true)
	summary.RequireNoFollowOnLinks(true)

	return &Service{
		store:         st,
		ledger:        lc,
		processor:     NewProcessor(st, lc, opts),
		finalizer:     NewFinalizer(st, lc, hub, opts),
		now:           opts.Now,
		log:           opts.Log.WithField("component", "voting_service"),
		titlePolicy:   bluemonday.StrictPolicy(),
		summaryPolicy: summary,
	}
}

// Processor returns the vote processor shared with background agents.
func (s *Service) Processor() *Processor { return s.processor }

// Finalizer returns the finalizer.
func (s *Service) Finalizer() *Finalizer { return s.finalizer }

func (s *Service) SubmitVote(ctx context.Context, proposalID uint64, voter string, choice gov.Choice) (*TallyResult, error) {
	return s.processor.Submit(ctx, proposalID, voter, choice)
}

func (s *Service) Finalize(ctx context.Context, proposalID uint64) (*FinalizationResult, error) {
	return s.finalizer.Finalize(ctx, proposalID)
}

func (s *Service) GetProposal(ctx context.Context, proposalID uint64) (*ProposalView, error) {
	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return viewOf(p), nil
}

// HasVoted asks the ledger, which is authoritative for votes.
func (s *Service) HasVoted(ctx context.Context, proposalID uint64, voter string) (bool, error) {
	p, err := s.store.Get(ctx, proposalID)
	if err != nil {
		return false, err
	}
	return s.ledger.HasVoted(ctx, p.RemoteID(), strings.TrimSpace(voter))
}

// CreateProposal registers a proposal on the ledger and mirrors it locally.
// A proposal with the same content hash or title is returned as is with
// created=false.
func (s *Service) CreateProposal(ctx context.Context, in NewProposal) (view *ProposalView, created bool, err error) {
	const op = "voting.create_proposal"

	title := strings.TrimSpace(html.UnescapeString(s.titlePolicy.Sanitize(in.Title)))
	contentHash := CleanContentHash(in.ContentHash)
	summary := strings.TrimSpace(s.summaryPolicy.Sanitize(in.Summary))

	switch {
	case title == "" || contentHash == "":
		return nil, false, gov.E(gov.CodeInvalidArgument, op, "title and content hash are required")
	case !utf8.ValidString(title) || !utf8.ValidString(summary):
		return nil, false, gov.E(gov.CodeInvalidArgument, op, "title and summary must be valid UTF-8")
	case len(title) > maxTitleLen:
		return nil, false, gov.E(gov.CodeInvalidArgument, op, "title is too long")
	case ledger.ContainsDelimiter(title) || ledger.ContainsDelimiter(contentHash):
		return nil, false, gov.E(gov.CodeInvalidArgument, op, "title and content hash must not contain "+ledger.Delimiter)
	case !ledger.ValidConfidence(int64(in.Confidence)):
		return nil, false, gov.E(gov.CodeInvalidArgument, op, "confidence must be between 0 and 100")
	}

	existing, err := s.store.FindByContent(ctx, contentHash, title)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		s.log.WithField("proposal_id", existing.ID).Info("duplicate proposal, returning existing record")
		return viewOf(existing), false, nil
	}

	deadline := in.Deadline
	if deadline.IsZero() {
		deadline = s.now().Add(DefaultVotingPeriod)
	}
	// the ledger stores whole seconds
	deadline = deadline.Truncate(time.Second)

	creation, err := s.ledger.CreateProposal(ctx, title, contentHash, deadline, in.Confidence)
	if err != nil {
		if gov.CodeOf(err) == gov.CodeInvalidArgument {
			return nil, false, err
		}
		return nil, false, ledgerErr(err, op)
	}

	onChainID := creation.RemoteID
	txRef := creation.TxRef
	p := &gov.Proposal{
		OnChainID:   &onChainID,
		Title:       title,
		Summary:     summary,
		ContentHash: contentHash,
		Confidence:  in.Confidence,
		Status:      gov.StatusActive,
		Deadline:    deadline,
		TxRef:       &txRef,
	}
	wctx, cancel := commitContext(ctx)
	defer cancel()
	if err := s.store.Create(wctx, p); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"remote_id": onChainID, "tx_ref": txRef, "alert": true}).Error("proposal created on ledger but not stored locally")
		return nil, false, err
	}

	s.log.WithFields(logrus.Fields{"proposal_id": p.ID, "remote_id": onChainID, "tx_ref": txRef}).Info("proposal created")
	return viewOf(p), true, nil
}

var gatewayPrefix = regexp.MustCompile(`^[^/]+/ipfs/`)

// CleanContentHash reduces gateway URLs and ipfs:// links to the bare CID.
func CleanContentHash(cid string) string {
	clean := strings.TrimSpace(cid)
	clean = strings.ReplaceAll(clean, "https://", "")
	clean = strings.ReplaceAll(clean, "http://", "")
	clean = gatewayPrefix.ReplaceAllString(clean, "")
	return strings.ReplaceAll(clean, "ipfs://", "")
}
