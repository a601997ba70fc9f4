package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.study.sync/internal/model"
	apperrors "sudooom.study.sync/pkg/errors"
)

const (
	// SnapshotKeyPrefix 会话列表快照 Key 前缀
	SnapshotKeyPrefix = "study:sync:snapshot:"

	// WatermarkKeyPrefix 轮询水位线 Key 前缀
	WatermarkKeyPrefix = "study:sync:watermark:"

	// DefaultSnapshotTTL 快照默认 TTL
	DefaultSnapshotTTL = 24 * time.Hour
)

// BuildSnapshotKey 构建快照 Key
func BuildSnapshotKey(viewerUserID string) string {
	return SnapshotKeyPrefix + viewerUserID
}

// BuildWatermarkKey 构建水位线 Key
func BuildWatermarkKey(viewerUserID string) string {
	return WatermarkKeyPrefix + viewerUserID
}

// Snapshot 热启动快照
// 重启后先用快照渲染，再等权威拉取整体替换
type Snapshot struct {
	Conversations []model.Conversation `json:"conversations"`
	Watermark     time.Time            `json:"watermark"`
	SavedAt       time.Time            `json:"savedAt"`
}

// SnapshotStore 快照存储接口
type SnapshotStore interface {
	Save(ctx context.Context, viewerUserID string, snapshot *Snapshot) error
	Load(ctx context.Context, viewerUserID string) (*Snapshot, error)
}

// RedisStore 基于 Redis 的快照存储
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 快照存储
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Save 持久化快照，列表和水位线一次 pipeline 写入
func (s *RedisStore) Save(ctx context.Context, viewerUserID string, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot.Conversations)
	if err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, BuildSnapshotKey(viewerUserID), data, s.ttl)
	pipe.Set(ctx, BuildWatermarkKey(viewerUserID), snapshot.Watermark.UTC().Format(time.RFC3339Nano), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}
	return nil
}

// Load 读取快照，没有快照时返回 (nil, nil)
func (s *RedisStore) Load(ctx context.Context, viewerUserID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, BuildSnapshotKey(viewerUserID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreError.Wrap(err)
	}

	var conversations []model.Conversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		// 坏快照当作没有快照，走权威拉取
		return nil, nil
	}

	snapshot := &Snapshot{Conversations: conversations}

	raw, err := s.client.Get(ctx, BuildWatermarkKey(viewerUserID)).Result()
	if err == nil {
		if watermark, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			snapshot.Watermark = watermark
		}
	}

	return snapshot, nil
}

// NoopStore 空实现，配置关闭快照时使用
type NoopStore struct{}

func (NoopStore) Save(ctx context.Context, viewerUserID string, snapshot *Snapshot) error {
	return nil
}

func (NoopStore) Load(ctx context.Context, viewerUserID string) (*Snapshot, error) {
	return nil, nil
}
