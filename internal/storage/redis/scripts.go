package redis

const (
	// upsertSessionScript atomically updates a session and its indexes
	upsertSessionScript = `
local session_key = KEYS[1]     -- playtime:session:{sessionID}
local active_set = KEYS[2]      -- playtime:sessions:active
local app_key = KEYS[3]         -- playtime:sessions:app:{appID}

local session_id = ARGV[1]
local app_id = ARGV[2]
local started_at = ARGV[3]
local last_seen = ARGV[4]
local accumulated_seconds = ARGV[5]
local active = ARGV[6]
local retention = tonumber(ARGV[7])

redis.call('HSET', session_key,
  'id', session_id,
  'app_id', app_id,
  'started_at', started_at,
  'last_seen', last_seen,
  'accumulated_seconds', accumulated_seconds,
  'active', active
)

if active == '1' then
  redis.call('SADD', active_set, session_id)
  redis.call('SET', app_key, session_id)
  redis.call('PERSIST', session_key)
else
  redis.call('SREM', active_set, session_id)
  if redis.call('GET', app_key) == session_id then
    redis.call('DEL', app_key)
  end
  if retention > 0 then
    redis.call('EXPIRE', session_key, retention)
  end
end

return 'OK'
`
)
