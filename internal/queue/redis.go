package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	entryKeyPrefix = "callqueue:entry:"
	dueKey         = "callqueue:due"
)

// RedisQueue stores queue entries as hashes plus a due-time sorted set.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(ctx context.Context, addr string) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisQueue{rdb: rdb}, nil
}

func entryKey(campaignID, contactID string) string {
	return entryKeyPrefix + campaignID + ":" + contactID
}

func memberID(campaignID, contactID string) string {
	return campaignID + "|" + contactID
}

// claimDueScript marks due pending members as processing and removes them from
// the due set, returning the claimed member ids. Due members are ordered by
// priority (highest first) before scheduled time, matching the in-memory
// queue. Claiming is atomic so two dispatch workers never double-dial the
// same pair. The scan over due members is capped at 512 per call; anything
// beyond that is picked up on the next tick.
var claimDueScript = redis.NewScript(`
-- KEYS[1] = due zset
-- ARGV[1] = now (unix ms)
-- ARGV[2] = limit
-- ARGV[3] = entry key prefix
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 512)
local candidates = {}
for i = 1, #due, 2 do
  local member = due[i]
  local score = tonumber(due[i + 1])
  local sep = string.find(member, '|', 1, true)
  if sep then
    local key = ARGV[3] .. string.sub(member, 1, sep - 1) .. ':' .. string.sub(member, sep + 1)
    local status = redis.call('HGET', key, 'status')
    if status == 'pending' then
      local priority = tonumber(redis.call('HGET', key, 'priority')) or 0
      candidates[#candidates + 1] = {member = member, key = key, priority = priority, score = score}
    else
      redis.call('ZREM', KEYS[1], member)
    end
  end
end
table.sort(candidates, function(a, b)
  if a.priority ~= b.priority then
    return a.priority > b.priority
  end
  return a.score < b.score
end)
local claimed = {}
local limit = tonumber(ARGV[2])
for i = 1, math.min(limit, #candidates) do
  local c = candidates[i]
  redis.call('HSET', c.key, 'status', 'processing')
  redis.call('ZREM', KEYS[1], c.member)
  claimed[#claimed + 1] = c.member
end
return claimed
`)

func (q *RedisQueue) Upsert(ctx context.Context, e Entry) error {
	key := entryKey(e.CampaignID, e.ContactID)
	fields := map[string]any{
		"campaign_id":    e.CampaignID,
		"contact_id":     e.ContactID,
		"call_record_id": e.CallRecordID,
		"agent_id":       e.AgentID,
		"phone_number":   e.PhoneNumber,
		"priority":       e.Priority,
		"scheduled_at":   e.ScheduledAt.UTC().UnixMilli(),
		"status":         string(e.Status),
		"attempts":       e.Attempts,
		"max_attempts":   e.MaxAttempts,
		"last_error":     e.LastError,
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, dueKey, redis.Z{Score: float64(e.ScheduledAt.UTC().UnixMilli()), Member: memberID(e.CampaignID, e.ContactID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue upsert: %w", err)
	}
	return nil
}

func (q *RedisQueue) Get(ctx context.Context, campaignID, contactID string) (Entry, error) {
	vals, err := q.rdb.HGetAll(ctx, entryKey(campaignID, contactID)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("queue get: %w", err)
	}
	if len(vals) == 0 {
		return Entry{}, ErrNotFound
	}
	return entryFromHash(vals), nil
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	members, err := claimDueScript.Run(ctx, q.rdb, []string{dueKey},
		now.UTC().UnixMilli(), limit, entryKeyPrefix).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("queue claim due: %w", err)
	}

	out := make([]Entry, 0, len(members))
	for _, m := range members {
		campaignID, contactID, ok := splitMember(m)
		if !ok {
			continue
		}
		vals, err := q.rdb.HGetAll(ctx, entryKey(campaignID, contactID)).Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		out = append(out, entryFromHash(vals))
	}
	return out, nil
}

func (q *RedisQueue) Complete(ctx context.Context, campaignID, contactID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, entryKey(campaignID, contactID))
	pipe.ZRem(ctx, dueKey, memberID(campaignID, contactID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue complete: %w", err)
	}
	return nil
}

func (q *RedisQueue) MarkFailed(ctx context.Context, campaignID, contactID, errMsg string) error {
	key := entryKey(campaignID, contactID)
	exists, err := q.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("queue mark failed: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{"status": string(StatusFailed), "last_error": errMsg})
	pipe.ZRem(ctx, dueKey, memberID(campaignID, contactID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue mark failed: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func splitMember(m string) (campaignID, contactID string, ok bool) {
	for i := 0; i < len(m); i++ {
		if m[i] == '|' {
			return m[:i], m[i+1:], true
		}
	}
	return "", "", false
}

func entryFromHash(vals map[string]string) Entry {
	priority, _ := strconv.Atoi(vals["priority"])
	attempts, _ := strconv.Atoi(vals["attempts"])
	maxAttempts, _ := strconv.Atoi(vals["max_attempts"])
	scheduledMs, _ := strconv.ParseInt(vals["scheduled_at"], 10, 64)
	return Entry{
		CampaignID:   vals["campaign_id"],
		ContactID:    vals["contact_id"],
		CallRecordID: vals["call_record_id"],
		AgentID:      vals["agent_id"],
		PhoneNumber:  vals["phone_number"],
		Priority:     priority,
		ScheduledAt:  time.UnixMilli(scheduledMs).UTC(),
		Status:       Status(vals["status"]),
		Attempts:     attempts,
		MaxAttempts:  maxAttempts,
		LastError:    vals["last_error"],
	}
}
