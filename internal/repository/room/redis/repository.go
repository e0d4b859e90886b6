package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rophim/server/internal/repository/room"
)

type repo struct {
	rc      *redis.Client
	logger  *slog.Logger
	roomTTL time.Duration
}

// NewRepo returns a room store backed by rc. Rooms expire roomTTL after the
// last successful save so abandoned parties do not accumulate.
func NewRepo(rc *redis.Client, logger *slog.Logger, roomTTL time.Duration) *repo {
	return &repo{
		rc:      rc,
		logger:  logger,
		roomTTL: roomTTL,
	}
}

func (r repo) getRoomKey(roomID string) string {
	return "room:" + roomID
}

func (r repo) getIndexKey(isPrivate bool) string {
	if isPrivate {
		return "rooms:private"
	}

	return "rooms:public"
}

func (r repo) Create(ctx context.Context, rm *room.Room) error {
	r.logger.DebugContext(ctx, "called", "op", "room.redis.Create", "room_id", rm.ID)

	data, err := json.Marshal(rm)
	if err != nil {
		return err
	}

	ok, err := r.rc.SetNX(ctx, r.getRoomKey(rm.ID), data, r.roomTTL).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}
	if !ok {
		return room.ErrRoomAlreadyExists
	}

	return r.rc.ZAdd(ctx, r.getIndexKey(rm.IsPrivate), redis.Z{
		Score:  float64(rm.LastActive),
		Member: rm.ID,
	}).Err()
}

func (r repo) Get(ctx context.Context, roomID string) (*room.Room, error) {
	r.logger.DebugContext(ctx, "called", "op", "room.redis.Get", "room_id", roomID)

	raw, err := r.rc.Get(ctx, r.getRoomKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, room.ErrRoomNotFound
		}
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, err
	}

	var rm room.Room
	if err := json.Unmarshal([]byte(raw), &rm); err != nil {
		return nil, err
	}

	return &rm, nil
}

// Save persists rm only if its version still matches the stored one. The
// check and the write run under WATCH, so a concurrent save aborts the
// transaction and surfaces as ErrVersionConflict.
func (r repo) Save(ctx context.Context, rm *room.Room) error {
	r.logger.DebugContext(ctx, "called", "op", "room.redis.Save", "room_id", rm.ID, "version", rm.Version)

	key := r.getRoomKey(rm.ID)
	err := r.rc.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return room.ErrRoomNotFound
			}
			return err
		}

		var current room.Room
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return err
		}

		if current.Version != rm.Version {
			return room.ErrVersionConflict
		}

		rm.Version++
		data, err := json.Marshal(rm)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.roomTTL)
			pipe.ZAdd(ctx, r.getIndexKey(rm.IsPrivate), redis.Z{
				Score:  float64(rm.LastActive),
				Member: rm.ID,
			})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return room.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) && !errors.Is(err, room.ErrVersionConflict) {
		r.logger.DebugContext(ctx, "returned", "error", err)
	}

	return err
}

func (r repo) Delete(ctx context.Context, roomID string) error {
	r.logger.DebugContext(ctx, "called", "op", "room.redis.Delete", "room_id", roomID)

	removed, err := r.rc.Del(ctx, r.getRoomKey(roomID)).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	pipe := r.rc.TxPipeline()
	pipe.ZRem(ctx, r.getIndexKey(false), roomID)
	pipe.ZRem(ctx, r.getIndexKey(true), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if removed == 0 {
		return room.ErrRoomNotFound
	}

	return nil
}

func (r repo) ListPublic(ctx context.Context, limit int) ([]*room.Room, error) {
	r.logger.DebugContext(ctx, "called", "op", "room.redis.ListPublic", "limit", limit)

	ids, err := r.rc.ZRevRange(ctx, r.getIndexKey(false), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	return r.fetchRooms(ctx, false, ids, limit, nil)
}

// ListPrivate returns private rooms visible to viewerID: rooms it hosts or
// currently participates in.
func (r repo) ListPrivate(ctx context.Context, viewerID string, limit int) ([]*room.Room, error) {
	r.logger.DebugContext(ctx, "called", "op", "room.redis.ListPrivate", "viewer_id", viewerID, "limit", limit)

	ids, err := r.rc.ZRevRange(ctx, r.getIndexKey(true), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	return r.fetchRooms(ctx, true, ids, limit, func(rm *room.Room) bool {
		return rm.HostID == viewerID || rm.HasParticipant(viewerID)
	})
}

func (r repo) fetchRooms(ctx context.Context, isPrivate bool, ids []string, limit int, keep func(*room.Room) bool) ([]*room.Room, error) {
	rooms := make([]*room.Room, 0, len(ids))
	for _, id := range ids {
		if len(rooms) >= limit {
			break
		}

		rm, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, room.ErrRoomNotFound) {
				// the room key expired; drop the stale index entry
				r.rc.ZRem(ctx, r.getIndexKey(isPrivate), id)
				continue
			}
			return nil, err
		}

		if keep != nil && !keep(rm) {
			continue
		}

		rooms = append(rooms, rm)
	}

	return rooms, nil
}
