package verify

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const recordVersionV1 = 1

var (
	// ErrNotFound indicates there is no live code for the purpose/subject pair.
	ErrNotFound = errors.New("verification code not found")
	// ErrMismatch indicates the submitted code is wrong.
	ErrMismatch = errors.New("verification code mismatch")
	// ErrAttemptsExceeded indicates the code was discarded after too many wrong guesses.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("verification store unavailable")
)

// consumeLua atomically performs GET→validate→DEL/SET on a code record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = max attempts (int string)
// ARGV[3] = current unix timestamp (int string)
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired", "attempts_exceeded", "mismatch"
var consumeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])

-- Layout: version(1) attempts(2 big-endian) expiresAt(8 big-endian) hash(32)
local version = string.byte(data, 1)
if version ~= 1 or string.len(data) ~= 43 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 4, 11)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local storedHash = string.sub(data, 12, 43)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local newData = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {err='mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

type record struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

type store struct {
	redis redis.UniversalClient
}

func (s *store) save(ctx context.Context, key string, rec *record, ttl time.Duration) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *store) attempts(ctx context.Context, key string) (int, error) {
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return 0, ErrNotFound
	}
	return int(rec.Attempts), nil
}

func (s *store) consume(ctx context.Context, key string, providedHash [32]byte, maxAttempts int, now time.Time) error {
	result, err := consumeLua.Run(ctx, s.redis,
		[]string{key},
		string(providedHash[:]),
		maxAttempts,
		now.Unix(),
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return ErrNotFound
		case "attempts_exceeded":
			return ErrAttemptsExceeded
		case "mismatch":
			return ErrMismatch
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return fmt.Errorf("%w: unexpected lua result type", ErrUnavailable)
	}
	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(rec.CodeHash[:], providedHash[:]) != 1 {
		return ErrMismatch
	}
	return nil
}

func encodeRecord(rec *record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(rec.CodeHash[:])
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid verification record version")
	}

	rec := &record{}
	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}
	return rec, nil
}
