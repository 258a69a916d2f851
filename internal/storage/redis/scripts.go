package redis

const (
	// admitDailyUsageScript atomically checks and increments a user's
	// counter for the current day. Returns {admitted, count}.
	admitDailyUsageScript = `
local usage_key = KEYS[1]     -- lockedin:usage:{userID}

local user_id = ARGV[1]
local date = ARGV[2]
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

-- A record from an earlier day counts as zero
local count = 0
if redis.call('HGET', usage_key, 'date') == date then
  count = tonumber(redis.call('HGET', usage_key, 'count') or '0')
end

-- Reject without touching the counter once the limit is reached
if limit > 0 and count >= limit then
  return {0, count}
end

count = count + 1
redis.call('HSET', usage_key,
  'user_id', user_id,
  'date', date,
  'count', count
)
redis.call('EXPIRE', usage_key, ttl)

return {1, count}
`

	// deleteUsageBeforeScript removes a usage record whose date is older
	// than the cutoff. Returns 1 when the key was deleted.
	deleteUsageBeforeScript = `
local usage_key = KEYS[1]
local cutoff = ARGV[1]

local date = redis.call('HGET', usage_key, 'date')
if date and date < cutoff then
  redis.call('DEL', usage_key)
  return 1
end

return 0
`
)
