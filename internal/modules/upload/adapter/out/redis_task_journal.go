package out

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pocus/internal/modules/upload/domain"
	uploadout "pocus/internal/modules/upload/port/out"
)

const redisJournalKey = "pocus:uploads"

// RedisTaskJournal keeps every unfinished task as one field of a hash.
type RedisTaskJournal struct {
	client *redis.Client
	key    string
}

func NewRedisTaskJournal(ctx context.Context, addr string) (uploadout.TaskJournal, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisTaskJournalWithClient(client, ""), nil
}

// NewRedisTaskJournalWithClient takes ownership of client. An empty key uses the default.
func NewRedisTaskJournalWithClient(client *redis.Client, key string) uploadout.TaskJournal {
	if key == "" {
		key = redisJournalKey
	}
	return &RedisTaskJournal{client: client, key: key}
}

func (j *RedisTaskJournal) Save(ctx context.Context, task domain.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode upload task: %w", err)
	}
	if err := j.client.HSet(ctx, j.key, task.ID.String(), payload).Err(); err != nil {
		return fmt.Errorf("save upload task %s: %w", task.ID, err)
	}
	return nil
}

func (j *RedisTaskJournal) Delete(ctx context.Context, taskID uuid.UUID) error {
	if err := j.client.HDel(ctx, j.key, taskID.String()).Err(); err != nil {
		return fmt.Errorf("delete upload task %s: %w", taskID, err)
	}
	return nil
}

func (j *RedisTaskJournal) Pending(ctx context.Context) ([]domain.Task, error) {
	fields, err := j.client.HGetAll(ctx, j.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list upload tasks: %w", err)
	}
	out := make([]domain.Task, 0, len(fields))
	for field, payload := range fields {
		task := domain.Task{}
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			return nil, fmt.Errorf("decode upload task %s: %w", field, err)
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (j *RedisTaskJournal) Close() error {
	return j.client.Close()
}
