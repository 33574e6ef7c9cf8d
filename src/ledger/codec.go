package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stake-plus/govvote/src/shared/gov"
)

// Delimiter separates record fields in contract storage. It must never appear
// inside Title or ContentHash.
const Delimiter = "|"

const recordFields = 7

// MaxConfidence is the upper bound of Record.Confidence; the lower is 0.
const MaxConfidence = 100

// ValidConfidence reports whether c is in the stored 0..100 range.
func ValidConfidence(c int64) bool {
	return c >= 0 && c <= MaxConfidence
}

// Record is the contract's proposal representation:
// title|content_hash|deadline|confidence|yes_votes|no_votes|finalized
type Record struct {
	Title       string
	ContentHash string
	Deadline    int64 // unix seconds
	Confidence  int64
	YesVotes    uint64
	NoVotes     uint64
	Finalized   bool
}

// Encode renders r in wire form. Free text is written as-is; callers reject
// values containing Delimiter beforehand.
func Encode(r Record) string {
	finalized := "0"
	if r.Finalized {
		finalized = "1"
	}
	return strings.Join([]string{
		r.Title,
		r.ContentHash,
		strconv.FormatInt(r.Deadline, 10),
		strconv.FormatInt(r.Confidence, 10),
		strconv.FormatUint(r.YesVotes, 10),
		strconv.FormatUint(r.NoVotes, 10),
		finalized,
	}, Delimiter)
}

// Decode parses the wire form. Any structural or numeric problem yields a
// gov.CodeMalformedRecord error.
func Decode(raw string) (Record, error) {
	parts := strings.Split(raw, Delimiter)
	if len(parts) != recordFields {
		return Record{}, malformed(fmt.Sprintf("expected %d fields, got %d", recordFields, len(parts)))
	}

	deadline, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Record{}, malformed("deadline is not an integer")
	}
	confidence, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Record{}, malformed("confidence is not an integer")
	}
	if !ValidConfidence(confidence) {
		return Record{}, malformed(fmt.Sprintf("confidence %d is outside 0..%d", confidence, MaxConfidence))
	}
	yes, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return Record{}, malformed("yes_votes is not a non-negative integer")
	}
	no, err := strconv.ParseUint(parts[5], 10, 64)
	if err != nil {
		return Record{}, malformed("no_votes is not a non-negative integer")
	}

	var finalized bool
	switch parts[6] {
	case "0":
	case "1":
		finalized = true
	default:
		return Record{}, malformed(fmt.Sprintf("finalized flag %q is not 0 or 1", parts[6]))
	}

	return Record{
		Title:       parts[0],
		ContentHash: parts[1],
		Deadline:    deadline,
		Confidence:  confidence,
		YesVotes:    yes,
		NoVotes:     no,
		Finalized:   finalized,
	}, nil
}

// ContainsDelimiter reports whether s cannot be stored in a record field.
func ContainsDelimiter(s string) bool {
	return strings.Contains(s, Delimiter)
}

func malformed(msg string) error {
	return gov.E(gov.CodeMalformedRecord, "ledger.decode", msg)
}
