// internal/store/scripts.go
package store

import "github.com/redis/go-redis/v9"

// admitScript seats a joiner in a lobby as one indivisible step.
//
//	KEYS[1] = lobby:{id}
//	ARGV[1] = member JSON
//	ARGV[2] = joiner capacity
//
// Returns {code, lobbyJSON}: 0 rejected (missing, not ready, started or
// full), 1 admitted, 2 already seated.
var admitScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return {0, ""}
end

local ok, lobby = pcall(cjson.decode, raw)
if not ok or type(lobby) ~= "table" then
	return {0, ""}
end

local joiners = lobby["joiners"]
if type(joiners) ~= "table" then
	joiners = {}
end

local member = cjson.decode(ARGV[1])
for _, m in ipairs(joiners) do
	if m["playerId"] == member["playerId"] then
		return {2, raw}
	end
end

if lobby["isReady"] ~= true or lobby["hasStarted"] == true then
	return {0, ""}
end

if #joiners >= tonumber(ARGV[2]) then
	return {0, ""}
end

table.insert(joiners, member)
lobby["joiners"] = joiners
local encoded = cjson.encode(lobby)
redis.call("SET", KEYS[1], encoded)
return {1, encoded}
`)

// enqueueScript appends an entry to a side's FIFO list unless an entry with
// the same session token is already queued.
//
//	KEYS[1] = queue:{side}
//	ARGV[1] = session token
//	ARGV[2] = entry JSON
var enqueueScript = redis.NewScript(`
local items = redis.call("LRANGE", KEYS[1], 0, -1)
for _, raw in ipairs(items) do
	local ok, e = pcall(cjson.decode, raw)
	if ok and type(e) == "table" and e["sessionToken"] == ARGV[1] then
		return 0
	end
end
redis.call("RPUSH", KEYS[1], ARGV[2])
return 1
`)

// dequeueScript removes the first entry carrying the session token.
//
//	KEYS[1] = queue:{side}
//	ARGV[1] = session token
var dequeueScript = redis.NewScript(`
local items = redis.call("LRANGE", KEYS[1], 0, -1)
for _, raw in ipairs(items) do
	local ok, e = pcall(cjson.decode, raw)
	if ok and type(e) == "table" and e["sessionToken"] == ARGV[1] then
		redis.call("LREM", KEYS[1], 1, raw)
		return 1
	end
end
return 0
`)
