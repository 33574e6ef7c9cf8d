package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the redis stream terminal events are appended to.
const DefaultStream = "govvote.proposals.finalized"

// RedisSink appends events to a redis stream.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(rdb *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{rdb: rdb, stream: stream, maxLen: 10000}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":          ev.ID,
			"proposal_id": strconv.FormatUint(ev.ProposalID, 10),
			"on_chain_id": strconv.FormatUint(ev.OnChainID, 10),
			"title":       ev.Title,
			"status":      string(ev.Status),
			"yes_votes":   strconv.FormatUint(ev.YesVotes, 10),
			"no_votes":    strconv.FormatUint(ev.NoVotes, 10),
			"tx_ref":      ev.TxRef,
			"source":      ev.Source,
			"at":          ev.At.Format(time.RFC3339Nano),
		},
	}).Result()
	return err
}
