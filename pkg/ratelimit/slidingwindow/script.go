package slidingwindow

// luaSlidingWindowAllow performs read, compaction, check and append in one
// step, so concurrent requests for the same identity cannot both pass the
// check before either appends.
const luaSlidingWindowAllow = `
-- KEYS[1]: window list of millisecond timestamps
-- ARGV[1]: current time (ms)
-- ARGV[2]: window length (ms)
-- ARGV[3]: max requests per window
-- ARGV[4]: key expiry (seconds)

local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local entries = redis.call('LRANGE', key, 0, -1)
local valid = {}
local oldest = nil

for _, entry in ipairs(entries) do
    local t = tonumber(entry)
    if t and now - t <= window then
        table.insert(valid, entry)
        if oldest == nil or t < oldest then
            oldest = t
        end
    end
end

local compacted = #valid ~= #entries
if compacted then
    redis.call('DEL', key)
    if #valid > 0 then
        redis.call('RPUSH', key, unpack(valid))
    end
end

if #valid >= max_requests then
    if compacted then
        redis.call('EXPIRE', key, ttl)
    end
    return {0, #valid, oldest}
end

redis.call('RPUSH', key, ARGV[1])
redis.call('EXPIRE', key, ttl)
return {1, #valid, oldest or now}
`
