package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// DefaultRedisPrefix namespaces every key written by RedisSessionRepo.
const DefaultRedisPrefix = "pitchfork:auth"

// Each session is a hash at <prefix>:session:<token>. Tokens are indexed per
// user, by expiry (zset score in unix ms) and in a revoked set for the sweeper.
// Keys carry no TTL: an expired session must still be found so refresh can
// report it as expired.

const revokeScript = `
if redis.call("HGET", KEYS[1], "revoked") ~= "0" then
  return false
end
redis.call("HSET", KEYS[1], "revoked", "1", "updated_at", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[1])
return redis.call("HGETALL", KEYS[1])
`

const revokeAllScript = `
local n = 0
for _, token in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. token
  if redis.call("HGET", key, "revoked") == "0" then
    redis.call("HSET", key, "revoked", "1", "updated_at", ARGV[2])
    redis.call("SADD", KEYS[2], token)
    n = n + 1
  end
end
return n
`

const purgeScript = `
local tokens
if ARGV[3] == "revoked" then
  tokens = redis.call("SMEMBERS", KEYS[2])
else
  tokens = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[4])
end
for _, token in ipairs(tokens) do
  local key = ARGV[1] .. token
  local uid = redis.call("HGET", key, "user_id")
  if uid then
    redis.call("SREM", ARGV[2] .. uid, token)
  end
  redis.call("DEL", key)
  redis.call("ZREM", KEYS[1], token)
  redis.call("SREM", KEYS[2], token)
end
return #tokens
`

var (
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
	purgeLua     = redis.NewScript(purgeScript)
)

// RedisSessionRepo stores sessions in Redis. Revocation runs in Lua so a
// token is revoked by exactly one caller.
type RedisSessionRepo struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisSessionRepo(rdb redis.UniversalClient, prefix string) *RedisSessionRepo {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSessionRepo{rdb: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisSessionRepo) WithClock(now func() time.Time) *RedisSessionRepo {
	r.now = now
	return r
}

func (r *RedisSessionRepo) sessionPrefix() string { return r.prefix + ":session:" }
func (r *RedisSessionRepo) userPrefix() string    { return r.prefix + ":user:" }
func (r *RedisSessionRepo) expiryKey() string     { return r.prefix + ":expiry" }
func (r *RedisSessionRepo) revokedKey() string    { return r.prefix + ":revoked" }

func (r *RedisSessionRepo) sessionKey(token string) string { return r.sessionPrefix() + token }
func (r *RedisSessionRepo) userKey(userID string) string   { return r.userPrefix() + userID }

func (r *RedisSessionRepo) Create(ctx context.Context, s *auth.Session) error {
	if s.ID == "" {
		s.ID = utilities.NewKSUID()
	}
	now := r.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	fields := map[string]any{
		"id":         s.ID,
		"user_id":    s.UserID,
		"expires_at": strconv.FormatInt(s.ExpiresAt.UnixNano(), 10),
		"revoked":    boolField(s.Revoked),
		"created_at": strconv.FormatInt(now.UnixNano(), 10),
		"updated_at": strconv.FormatInt(now.UnixNano(), 10),
	}
	if s.DeviceInfo != nil {
		fields["device_info"] = *s.DeviceInfo
	}
	if s.IPAddress != nil {
		fields["ip_address"] = *s.IPAddress
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.sessionKey(s.Token), fields)
		pipe.SAdd(ctx, r.userKey(s.UserID), s.Token)
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(s.ExpiresAt.UnixMilli()), Member: s.Token})
		if s.Revoked {
			pipe.SAdd(ctx, r.revokedKey(), s.Token)
		}
		return nil
	})
	if err != nil {
		return database.Unavailable("redis create session", err)
	}
	return nil
}

// FindValidByToken returns the non-revoked session for token, or nil. The
// owner is not loaded.
func (r *RedisSessionRepo) FindValidByToken(ctx context.Context, token string) (*auth.Session, error) {
	m, err := r.rdb.HGetAll(ctx, r.sessionKey(token)).Result()
	if err != nil {
		return nil, database.Unavailable("redis find session", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	s, err := decodeSession(token, m)
	if err != nil {
		return nil, err
	}
	if s.Revoked {
		return nil, nil
	}
	return s, nil
}

func (r *RedisSessionRepo) FindByUserID(ctx context.Context, userID string) ([]*auth.Session, error) {
	tokens, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, database.Unavailable("redis list sessions", err)
	}
	if len(tokens) == 0 {
		return []*auth.Session{}, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, token := range tokens {
		cmds[i] = pipe.HGetAll(ctx, r.sessionKey(token))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, database.Unavailable("redis list sessions", err)
	}

	out := make([]*auth.Session, 0, len(tokens))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		s, err := decodeSession(tokens[i], m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Revoke returns the session as it was left by the script, or nil when the
// token is unknown or already revoked.
func (r *RedisSessionRepo) Revoke(ctx context.Context, token string) (*auth.Session, error) {
	flat, err := revokeLua.Run(ctx, r.rdb,
		[]string{r.sessionKey(token), r.revokedKey()},
		token, r.stamp(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable("redis revoke session", err)
	}
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return decodeSession(token, m)
}

func (r *RedisSessionRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := revokeAllLua.Run(ctx, r.rdb,
		[]string{r.userKey(userID), r.revokedKey()},
		r.sessionPrefix(), r.stamp(),
	).Int64()
	if err != nil {
		return 0, database.Unavailable("redis revoke user sessions", err)
	}
	return n, nil
}

// PurgeExpired deletes sessions whose expiry is strictly before now.
func (r *RedisSessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	return r.purge(ctx, "expired", "("+strconv.FormatInt(r.now().UnixMilli(), 10))
}

func (r *RedisSessionRepo) PurgeRevoked(ctx context.Context) (int64, error) {
	return r.purge(ctx, "revoked", "")
}

func (r *RedisSessionRepo) purge(ctx context.Context, kind, maxScore string) (int64, error) {
	n, err := purgeLua.Run(ctx, r.rdb,
		[]string{r.expiryKey(), r.revokedKey()},
		r.sessionPrefix(), r.userPrefix(), kind, maxScore,
	).Int64()
	if err != nil {
		return 0, database.Unavailable("redis purge "+kind+" sessions", err)
	}
	return n, nil
}

func (r *RedisSessionRepo) stamp() string {
	return strconv.FormatInt(r.now().UTC().UnixNano(), 10)
}

var errCorruptSession = errors.New("corrupt session record")

func decodeSession(token string, m map[string]string) (*auth.Session, error) {
	s := &auth.Session{
		ID:      m["id"],
		Token:   token,
		UserID:  m["user_id"],
		Revoked: m["revoked"] == "1",
	}
	var err error
	if s.ExpiresAt, err = nanoField(m, "expires_at"); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = nanoField(m, "created_at"); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = nanoField(m, "updated_at"); err != nil {
		return nil, err
	}
	if v, ok := m["device_info"]; ok {
		s.DeviceInfo = &v
	}
	if v, ok := m["ip_address"]; ok {
		s.IPAddress = &v
	}
	return s, nil
}

func nanoField(m map[string]string, name string) (time.Time, error) {
	n, err := strconv.ParseInt(m[name], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errCorruptSession, name, err)
	}
	return time.Unix(0, n).UTC(), nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ auth.SessionStore = (*RedisSessionRepo)(nil)
