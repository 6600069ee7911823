package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"adgate/internal/models"
)

const slotTTL = 30 * time.Minute

// RedisStore is the multi-instance backend. GETDEL makes Take a single
// critical section, so two tabs racing for the same slot cannot both win.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(session string) string {
	return "adgate:pending:" + session
}

func (s *RedisStore) Put(ctx context.Context, session string, rec models.PendingDownload) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(session), raw, slotTTL).Err()
}

func (s *RedisStore) Peek(ctx context.Context, session string) (models.PendingDownload, error) {
	return s.decode(s.client.Get(ctx, key(session)))
}

func (s *RedisStore) Take(ctx context.Context, session string) (models.PendingDownload, error) {
	return s.decode(s.client.GetDel(ctx, key(session)))
}

func (s *RedisStore) Clear(ctx context.Context, session string) error {
	return s.client.Del(ctx, key(session)).Err()
}

func (s *RedisStore) decode(cmd *redis.StringCmd) (models.PendingDownload, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.PendingDownload{}, ErrNoPending
		}
		return models.PendingDownload{}, err
	}
	var rec models.PendingDownload
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.PendingDownload{}, err
	}
	return rec, nil
}
