package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

const (
	roomKeyPrefix  = "room:"
	roomIndexKey   = "rooms"
	roomCounterKey = "rooms:nextid"
	usersKey       = "users"
	soundsKey      = "sounds"
)

// RedisStore keeps every room record as a JSON value under room:<id> with an
// id index set, and the user table and sound catalog as single JSON blobs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func roomKey(id int64) string {
	return roomKeyPrefix + strconv.FormatInt(id, 10)
}

func (s *RedisStore) Rooms(ctx context.Context) ([]*RoomRecord, error) {
	ids, err := s.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list room ids: %w", err)
	}
	records := make([]*RoomRecord, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad room id %q in index: %w", raw, err)
		}
		rec, err := s.Room(ctx, id)
		if err == ErrNotFound {
			// index entry without a record, skip it
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) Room(ctx context.Context, id int64) (*RoomRecord, error) {
	b, err := s.client.Get(ctx, roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %d: %w", id, err)
	}
	var rec RoomRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode room %d: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) SaveRoom(ctx context.Context, rec *RoomRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode room %d: %w", rec.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(rec.ID), b, 0)
	pipe.SAdd(ctx, roomIndexKey, strconv.FormatInt(rec.ID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save room %d: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) NextRoomID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, roomCounterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("next room id: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Users(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.getJSON(ctx, usersKey, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *RedisStore) Sounds(ctx context.Context) ([]*Sound, error) {
	var sounds []*Sound
	if err := s.getJSON(ctx, soundsKey, &sounds); err != nil {
		return nil, err
	}
	return sounds, nil
}

// getJSON reads a whole-table blob; a missing key is an empty table, not an
// error.
func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
