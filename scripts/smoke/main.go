// Minimal end-to-end smoke run against a live govvote API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	baseURL  = getenv("API_URL", "http://localhost:8000")
	redisURL = getenv("REDIS_URL", "")
	stream   = getenv("EVENT_STREAM", "govvote.proposals.finalized")
)

type proposal struct {
	ID       uint64 `json:"id"`
	Status   string `json:"status"`
	YesVotes uint64 `json:"yes_votes"`
	NoVotes  uint64 `json:"no_votes"`
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()
	doJSON("GET", "/health", nil, nil, http.StatusOK)

	id := createProposal(3 * time.Second)
	castVote(id, "smoke-yes-"+uuid.NewString()[:8], 1)
	castVote(id, "smoke-no-"+uuid.NewString()[:8], 0)
	checkTally(id, 1, 1)

	time.Sleep(4 * time.Second)
	finalize(id)

	if redisURL != "" {
		checkStream(ctx, id)
	}
	fmt.Println("✓ all endpoints passed")
}

// ----------------------------- proposals

func createProposal(window time.Duration) uint64 {
	var resp struct {
		Proposal proposal `json:"proposal"`
	}
	tag := uuid.NewString()
	doJSON("POST", "/proposals", map[string]any{
		"title":        "smoke " + tag,
		"summary":      "end-to-end smoke run",
		"content_hash": "smoke-" + tag,
		"confidence":   60,
		"deadline":     time.Now().Add(window).UTC().Format(time.RFC3339),
	}, &resp, http.StatusCreated)
	if resp.Proposal.ID == 0 {
		log.Fatal("create: empty id")
	}
	return resp.Proposal.ID
}

func checkTally(id, yes, no uint64) {
	var p proposal
	doJSON("GET", fmt.Sprintf("/proposals/%d", id), nil, &p, http.StatusOK)
	if p.YesVotes != yes || p.NoVotes != no {
		log.Fatalf("tally: want %d/%d got %d/%d", yes, no, p.YesVotes, p.NoVotes)
	}
}

func finalize(id uint64) {
	var resp struct{ Status string }
	doJSON("POST", fmt.Sprintf("/proposals/%d/finalize", id), nil, &resp, http.StatusOK)
	if resp.Status != "rejected" {
		log.Fatalf("finalize: a tie must reject, got %q", resp.Status)
	}
}

// ----------------------------- votes

func castVote(id uint64, voter string, choice int) {
	path := fmt.Sprintf("/proposals/%d/vote", id)
	doJSON("POST", path, map[string]any{"voter_address": voter, "vote": choice}, nil, http.StatusCreated)
	doJSON("POST", path, map[string]any{"voter_address": voter, "vote": choice}, nil, http.StatusConflict)

	var resp struct {
		HasVoted bool `json:"has_voted"`
	}
	doJSON("GET", fmt.Sprintf("/proposals/%d/has-voted/%s", id, voter), nil, &resp, http.StatusOK)
	if !resp.HasVoted {
		log.Fatalf("has-voted: %s not found on ledger", voter)
	}
}

// ----------------------------- events

func checkStream(ctx context.Context, id uint64) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	msgs, err := rdb.XRevRangeN(ctx, stream, "+", "-", 50).Result()
	if err != nil {
		log.Fatalf("redis xrevrange: %v", err)
	}
	want := fmt.Sprint(id)
	for _, m := range msgs {
		if fmt.Sprint(m.Values["proposal_id"]) == want {
			return
		}
	}
	log.Fatal("events: finalization not found on stream")
}

// ----------------------------- helpers

func doJSON(method, path string, body, out any, want int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s encode: %v", method, path, err)
		}
	}
	req, _ := http.NewRequest(method, baseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: want %d got %d", method, path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
}
