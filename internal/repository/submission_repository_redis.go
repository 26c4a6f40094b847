package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/observability"
)

var redisCreateSubmissionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`)

var redisClaimSubmissionScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "pending" then
  return 0
end
local claim = tonumber(redis.call("HGET", KEYS[1], "claim_until") or "0")
if claim >= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "claim_until", ARGV[2], "claim_token", ARGV[3])
return 1
`)

var redisConfirmSubmissionScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "pending" or redis.call("HGET", KEYS[1], "claim_token") ~= ARGV[3] then
  return 0
end
redis.call("HSET", KEYS[1], "status", "confirmed", "artifact_url", ARGV[1], "confirmed_at", ARGV[2], "updated_at", ARGV[2], "claim_until", "0", "claim_token", "")
return 1
`)

var redisReleaseSubmissionScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "pending" or redis.call("HGET", KEYS[1], "claim_token") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "claim_until", "0", "claim_token", "")
return 1
`)

// RedisSubmissionRepository keeps each submission in one hash. Conditional
// transitions run as Lua scripts so check and set are atomic. claim_until is
// stored in unix milliseconds; the other timestamps in nanoseconds.
type RedisSubmissionRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSubmissionRepository stores records under prefix. A positive ttl
// expires records after creation; zero keeps them until purged externally.
func NewRedisSubmissionRepository(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSubmissionRepository {
	if strings.TrimSpace(prefix) == "" {
		prefix = "intake"
	}
	return &RedisSubmissionRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisSubmissionRepository) key(id string) string {
	return r.prefix + ":submission:" + id
}

func (r *RedisSubmissionRepository) Create(ctx context.Context, sub *domain.Submission) error {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return fmt.Errorf("encode submission payload: %w", err)
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = domain.SubmissionPending
	}
	args := []any{
		r.ttl.Milliseconds(),
		"id", sub.ID,
		"status", string(sub.Status),
		"type", string(sub.Type),
		"site_slug", sub.SiteSlug,
		"email", sub.Email,
		"payload", string(payload),
		"claim_until", "0",
		"claim_token", "",
		"artifact_url", sub.ArtifactURL,
		"created_at", unixNano(sub.CreatedAt),
		"updated_at", unixNano(sub.UpdatedAt),
	}
	created, err := redisCreateSubmissionScript.Run(ctx, r.client, []string{r.key(sub.ID)}, args...).Int64()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "submission_redis", "create", "error")
		return err
	}
	if created == 0 {
		observability.RecordRepositoryOperation(ctx, "submission_redis", "create", "conflict")
		return ErrSubmissionConflict
	}
	observability.RecordRepositoryOperation(ctx, "submission_redis", "create", "success")
	return nil
}

func (r *RedisSubmissionRepository) FindByID(ctx context.Context, id string) (*domain.Submission, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "submission_redis", "find_by_id", "error")
		return nil, err
	}
	if len(fields) == 0 {
		observability.RecordRepositoryOperation(ctx, "submission_redis", "find_by_id", "not_found")
		return nil, ErrSubmissionNotFound
	}
	sub, err := decodeSubmission(fields)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "submission_redis", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "submission_redis", "find_by_id", "success")
	return sub, nil
}

func (r *RedisSubmissionRepository) Claim(ctx context.Context, id, token string, now time.Time, lease time.Duration) error {
	if token == "" {
		return errEmptyClaimToken
	}
	res, err := redisClaimSubmissionScript.Run(ctx, r.client, []string{r.key(id)}, now.UnixMilli(), now.Add(lease).UnixMilli(), token).Int64()
	return r.scriptResult(ctx, "claim", res, err)
}

func (r *RedisSubmissionRepository) MarkConfirmed(ctx context.Context, id, token, artifactURL string, now time.Time) error {
	if token == "" {
		return errEmptyClaimToken
	}
	res, err := redisConfirmSubmissionScript.Run(ctx, r.client, []string{r.key(id)}, artifactURL, unixNano(now), token).Int64()
	return r.scriptResult(ctx, "mark_confirmed", res, err)
}

func (r *RedisSubmissionRepository) Release(ctx context.Context, id, token string) error {
	if token == "" {
		return errEmptyClaimToken
	}
	res, err := redisReleaseSubmissionScript.Run(ctx, r.client, []string{r.key(id)}, token).Int64()
	return r.scriptResult(ctx, "release", res, err)
}

func (r *RedisSubmissionRepository) scriptResult(ctx context.Context, op string, res int64, err error) error {
	switch {
	case err != nil:
		observability.RecordRepositoryOperation(ctx, "submission_redis", op, "error")
		return err
	case res < 0:
		observability.RecordRepositoryOperation(ctx, "submission_redis", op, "not_found")
		return ErrSubmissionNotFound
	case res == 0:
		observability.RecordRepositoryOperation(ctx, "submission_redis", op, "conflict")
		return ErrSubmissionConflict
	}
	observability.RecordRepositoryOperation(ctx, "submission_redis", op, "success")
	return nil
}

func decodeSubmission(fields map[string]string) (*domain.Submission, error) {
	sub := &domain.Submission{
		ID:          fields["id"],
		Status:      domain.SubmissionStatus(fields["status"]),
		Type:        domain.SubmissionType(fields["type"]),
		SiteSlug:    fields["site_slug"],
		Email:       fields["email"],
		ArtifactURL: fields["artifact_url"],
		ClaimToken:  fields["claim_token"],
	}
	if sub.ID == "" {
		return nil, errors.New("submission record missing id")
	}
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.Payload); err != nil {
			return nil, fmt.Errorf("decode submission payload: %w", err)
		}
	}
	sub.CreatedAt = parseUnixNano(fields["created_at"])
	sub.UpdatedAt = parseUnixNano(fields["updated_at"])
	if ms, err := strconv.ParseInt(fields["claim_until"], 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms).UTC()
		sub.ClaimUntil = &t
	}
	if t := parseUnixNano(fields["confirmed_at"]); !t.IsZero() {
		sub.ConfirmedAt = &t
	}
	return sub, nil
}

func unixNano(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseUnixNano(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
