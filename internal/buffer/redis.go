package buffer

import (
	"context"
	"encoding/json"
	"fmt"

	"dealsense/internal/calls"

	"github.com/redis/go-redis/v9"
)

// Redis is the durable shared Buffer and SideStore for multi-process
// deployments.
//
// Key patterns:
// - call:{call_id}:transcript_buffer  list of chunk JSON
// - call:{call_id}:status             current live status
// - call:{call_id}:metadata           call metadata hash
type Redis struct {
	rdb  *redis.Client
	opts Options
}

func NewRedis(rdb *redis.Client, opts Options) *Redis {
	return &Redis{rdb: rdb, opts: opts.withDefaults()}
}

// appendScript pushes a chunk, trims to the count cap and refreshes the TTL
// in one atomic step, so concurrent appends for the same call key serialize
// inside Redis.
var appendScript = redis.NewScript(`
-- KEYS[1] = buffer key
-- ARGV[1] = chunk json
-- ARGV[2] = max chunks (int)
-- ARGV[3] = ttl_ms (int)
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('LTRIM', KEYS[1], -tonumber(ARGV[2]), -1)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func bufferKey(callID string) string   { return "call:" + callID + ":transcript_buffer" }
func statusKey(callID string) string   { return "call:" + callID + ":status" }
func metadataKey(callID string) string { return "call:" + callID + ":metadata" }

func (r *Redis) Append(ctx context.Context, callID string, chunk calls.TranscriptChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	return appendScript.Run(ctx, r.rdb,
		[]string{bufferKey(callID)},
		payload, r.opts.MaxChunks, r.opts.TTL.Milliseconds(),
	).Err()
}

func (r *Redis) Recent(ctx context.Context, callID string, windowSeconds float64) ([]calls.TranscriptChunk, error) {
	all, err := r.All(ctx, callID)
	if err != nil {
		return nil, err
	}
	return recentWindow(all, windowSeconds), nil
}

func (r *Redis) All(ctx context.Context, callID string) ([]calls.TranscriptChunk, error) {
	raw, err := r.rdb.LRange(ctx, bufferKey(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	out := make([]calls.TranscriptChunk, 0, len(raw))
	for _, item := range raw {
		var c calls.TranscriptChunk
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Redis) Clear(ctx context.Context, callID string) error {
	return r.rdb.Del(ctx, bufferKey(callID)).Err()
}

func (r *Redis) SetMeta(ctx context.Context, callID string, meta Meta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	key := metadataKey(callID)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, "meta", payload)
	pipe.Expire(ctx, key, r.opts.TTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) GetMeta(ctx context.Context, callID string) (Meta, error) {
	raw, err := r.rdb.HGet(ctx, metadataKey(callID), "meta").Result()
	if err == redis.Nil {
		return Meta{}, nil
	}
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

func (r *Redis) SetStatus(ctx context.Context, callID string, status string) error {
	return r.rdb.Set(ctx, statusKey(callID), status, r.opts.TTL).Err()
}

func (r *Redis) GetStatus(ctx context.Context, callID string) (string, error) {
	status, err := r.rdb.Get(ctx, statusKey(callID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return status, err
}

func (r *Redis) Cleanup(ctx context.Context, callID string) error {
	return r.rdb.Del(ctx, bufferKey(callID), statusKey(callID), metadataKey(callID)).Err()
}
