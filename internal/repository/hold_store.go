package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/camp-seat-checkout/internal/model"
)

// HoldDemand is the number of seats a hold wants in one slot together with
// the slot's confirmed counter at the time of the request.
type HoldDemand struct {
	Key     model.SlotKey
	Seats   int
	Counter model.CapacityCounter
}

// HoldConflictError reports the first slot that could not be held.
type HoldConflictError struct {
	Key       model.SlotKey
	Requested int
	Free      int
}

func (e *HoldConflictError) Error() string {
	return fmt.Sprintf("%s: %s requested %d free %d", ErrHoldConflict, e.Key, e.Requested, e.Free)
}

func (e *HoldConflictError) Unwrap() error { return ErrHoldConflict }

// HoldStore keeps short-lived seat holds in Redis so that seats promised to
// an open checkout session are not sold twice.
//
// Every slot has a hash <prefix>:slot:<offering>__<slot> mapping hold ids to
// "<seats>:<expiresAtMillis>".  Every hold has a set <prefix>:hold:<id>
// naming the slot hashes it touches, so it can be released without knowing
// the cart again.  Expired entries are pruned whenever a slot is reserved.
type HoldStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewHoldStore returns a HoldStore using prefix for all keys.
func NewHoldStore(rdb *redis.Client, prefix string) *HoldStore {
	if prefix == "" {
		prefix = "hold"
	}
	return &HoldStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *HoldStore) slotKey(k model.SlotKey) string { return s.prefix + ":slot:" + k.String() }
func (s *HoldStore) holdKey(id string) string        { return s.prefix + ":hold:" + id }

// KEYS: slot hashes..., hold index.  ARGV: hold id, now, expiresAt, ttl, then
// (seats, max, booked) per slot.  Returns {1} or {0, slot index, free}.
var reserveScript = redis.NewScript(`
local n = #KEYS - 1
local hold = ARGV[1]
local now = tonumber(ARGV[2])
local exp = ARGV[3]
local ttl = tonumber(ARGV[4])
for i = 1, n do
  local base = 4 + (i - 1) * 3
  local seats = tonumber(ARGV[base + 1])
  local max = tonumber(ARGV[base + 2])
  local booked = tonumber(ARGV[base + 3])
  local held = 0
  local entries = redis.call('HGETALL', KEYS[i])
  for j = 1, #entries, 2 do
	local v = entries[j + 1]
	local sep = string.find(v, ':', 1, true)
	local q = tonumber(string.sub(v, 1, sep - 1))
	local e = tonumber(string.sub(v, sep + 1))
	if e <= now then
	  redis.call('HDEL', KEYS[i], entries[j])
	elseif entries[j] ~= hold then
	  held = held + q
	end
  end
  if max > 0 and booked + held + seats > max then
	local free = max - booked - held
	if free < 0 then free = 0 end
	return {0, i, free}
  end
end
for i = 1, n do
  local base = 4 + (i - 1) * 3
  redis.call('HSET', KEYS[i], hold, ARGV[base + 1] .. ':' .. exp)
  if redis.call('PTTL', KEYS[i]) < ttl then
	redis.call('PEXPIRE', KEYS[i], ttl)
  end
  redis.call('SADD', KEYS[n + 1], KEYS[i])
end
redis.call('PEXPIRE', KEYS[n + 1], ttl)
return {1, 0, 0}
`)

// KEYS: hold index.  ARGV: hold id.  Returns the number of slots released.
var releaseScript = redis.NewScript(`
local slots = redis.call('SMEMBERS', KEYS[1])
for _, k in ipairs(slots) do
  redis.call('HDEL', k, ARGV[1])
end
redis.call('DEL', KEYS[1])
return #slots
`)

// Reserve atomically holds every demand for ttl, or nothing.  A slot with
// Counter.MaxSeats == 0 is recorded but never refused.  Reserving again
// with the same id replaces the earlier quantities.
func (s *HoldStore) Reserve(ctx context.Context, holdID string, demands []HoldDemand, ttl time.Duration) error {
	if len(demands) == 0 {
		return nil
	}
	now := s.now()
	keys := make([]string, 0, len(demands)+1)
	args := make([]interface{}, 0, 4+3*len(demands))
	args = append(args, holdID, now.UnixMilli(), now.Add(ttl).UnixMilli(), ttl.Milliseconds())
	for _, d := range demands {
		keys = append(keys, s.slotKey(d.Key))
		args = append(args, d.Seats, d.Counter.MaxSeats, d.Counter.BookedSeats)
	}
	keys = append(keys, s.holdKey(holdID))

	res, err := reserveScript.Run(ctx, s.rdb, keys, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("reserve hold %s: %w", holdID, err)
	}
	if len(res) == 3 && res[0] == 0 {
		d := demands[res[1]-1]
		return &HoldConflictError{Key: d.Key, Requested: d.Seats, Free: int(res[2])}
	}
	return nil
}

// Release drops the hold.  Releasing an unknown or expired hold is a no-op.
func (s *HoldStore) Release(ctx context.Context, holdID string) error {
	if holdID == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, s.rdb, []string{s.holdKey(holdID)}, holdID).Err(); err != nil {
		return fmt.Errorf("release hold %s: %w", holdID, err)
	}
	return nil
}

// Held returns the seats held by unexpired holds for each key.  Keys with
// no active hold are omitted.
func (s *HoldStore) Held(ctx context.Context, keys []model.SlotKey) (map[model.SlotKey]int, error) {
	nowMs := s.now().UnixMilli()
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.slotKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	out := make(map[model.SlotKey]int)
	for i, k := range keys {
		total := 0
		for _, v := range cmds[i].Val() {
			seats, exp, ok := parseHoldEntry(v)
			if ok && exp > nowMs {
				total += seats
			}
		}
		if total > 0 {
			out[k] = total
		}
	}
	return out, nil
}

func parseHoldEntry(v string) (seats int, expiresMs int64, ok bool) {
	q, e, found := strings.Cut(v, ":")
	if !found {
		return 0, 0, false
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0, 0, false
	}
	ms, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return n, ms, true
}
