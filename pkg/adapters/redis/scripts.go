package redis

import (
	"errors"
	"strings"

	"github.com/aretw0/gridsession/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// updateScript applies a domain.Delta to a stored session atomically and refreshes
// its expiry bookkeeping.
//
// KEYS[1] session hash, KEYS[2] expirations zset.
// ARGV[1] id, ARGV[2] now (ms), ARGV[3] grace (ms), ARGV[4] principal index prefix,
// ARGV[5] last accessed (ms) or "", ARGV[6] interval (ms) or "",
// ARGV[7] "" or "=" followed by the new principal,
// ARGV[8..] pairs of "+name"/"-name" and value.
//
// Returns 1 when applied, 0 when the session does not exist.
var updateScript = backend.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local id = ARGV[1]
local now = tonumber(ARGV[2])
local grace = tonumber(ARGV[3])
local indexPrefix = ARGV[4]

if ARGV[5] ~= '' then
  redis.call('HSET', KEYS[1], 'lastAccessedTime', ARGV[5])
end
if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'maxInactiveInterval', ARGV[6])
end

for i = 8, #ARGV, 2 do
  local op = string.sub(ARGV[i], 1, 1)
  local field = 'attr:' .. string.sub(ARGV[i], 2)
  if op == '+' then
    redis.call('HSET', KEYS[1], field, ARGV[i + 1])
  else
    redis.call('HDEL', KEYS[1], field)
  end
end

local principal = redis.call('HGET', KEYS[1], 'principalName')
if not principal then
  principal = ''
end
if ARGV[7] ~= '' then
  local newPrincipal = string.sub(ARGV[7], 2)
  if principal ~= '' and principal ~= newPrincipal then
    redis.call('ZREM', indexPrefix .. principal, id)
  end
  if newPrincipal == '' then
    redis.call('HDEL', KEYS[1], 'principalName')
  else
    redis.call('HSET', KEYS[1], 'principalName', newPrincipal)
  end
  principal = newPrincipal
end

local lastAccessed = tonumber(redis.call('HGET', KEYS[1], 'lastAccessedTime'))
local interval = tonumber(redis.call('HGET', KEYS[1], 'maxInactiveInterval'))
if interval < 0 then
  redis.call('PERSIST', KEYS[1])
  redis.call('ZREM', KEYS[2], id)
  if principal ~= '' then
    redis.call('ZADD', indexPrefix .. principal, '+inf', id)
  end
  return 1
end

local expiresAt = lastAccessed + interval
local ttl = expiresAt + grace - now
if ttl < 1 then
  ttl = 1
end
redis.call('PEXPIRE', KEYS[1], string.format('%.0f', ttl))
redis.call('ZADD', KEYS[2], string.format('%.0f', expiresAt), id)
if principal ~= '' then
  redis.call('ZADD', indexPrefix .. principal, string.format('%.0f', expiresAt), id)
end
return 1
`)

// expireScript deletes a session if it is expired at ARGV[2] and returns its
// fields as a flat array, or nil when the session is gone or still active.
// A still active session is rescheduled.
//
// KEYS[1] session hash, KEYS[2] expirations zset.
// ARGV[1] id, ARGV[2] now (ms), ARGV[3] principal index prefix.
var expireScript = backend.NewScript(`
local id = ARGV[1]
local now = tonumber(ARGV[2])
local fields = redis.call('HGETALL', KEYS[1])
if #fields == 0 then
  redis.call('ZREM', KEYS[2], id)
  return nil
end

local lastAccessed = tonumber(redis.call('HGET', KEYS[1], 'lastAccessedTime'))
local interval = tonumber(redis.call('HGET', KEYS[1], 'maxInactiveInterval'))
if interval < 0 then
  redis.call('ZREM', KEYS[2], id)
  return nil
end
local expiresAt = lastAccessed + interval
if now < expiresAt then
  redis.call('ZADD', KEYS[2], string.format('%.0f', expiresAt), id)
  return nil
end

local principal = redis.call('HGET', KEYS[1], 'principalName')
if principal then
  redis.call('ZREM', ARGV[3] .. principal, id)
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], id)
return fields
`)

// scriptingUnavailable reports whether err means the server refuses to run scripts,
// as opposed to a failure of the script itself.
func scriptingUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "noperm") ||
		strings.Contains(msg, "scripting is disabled")
}

func wrapScriptError(err error) error {
	if scriptingUnavailable(err) {
		return errors.Join(domain.ErrServerSideUpdateUnsupported, err)
	}
	return err
}

// deltaArgs flattens a delta into updateScript arguments starting at ARGV[5].
func deltaArgs(d *domain.Delta) []any {
	args := make([]any, 0, 3+2*len(d.Attributes))

	if d.LastAccessedTime != nil {
		args = append(args, formatMillis(*d.LastAccessedTime))
	} else {
		args = append(args, "")
	}
	if d.MaxInactiveInterval != nil {
		args = append(args, formatInterval(*d.MaxInactiveInterval))
	} else {
		args = append(args, "")
	}
	if d.PrincipalChanged {
		args = append(args, "="+d.PrincipalName)
	} else {
		args = append(args, "")
	}

	for name, raw := range d.Attributes {
		if domain.IsPrincipalAttribute(name) {
			continue
		}
		if raw == nil {
			args = append(args, "-"+name, "")
			continue
		}
		args = append(args, "+"+name, raw)
	}
	return args
}
