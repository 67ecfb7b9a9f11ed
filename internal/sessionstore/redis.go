package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// keyPrefix はRedis上のセッションキーの接頭辞。
const keyPrefix = "hirescout:auth-session:"

// Redis はセッションをJSONとしてRedisに保存する。
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ backend.SessionStorage = (*Redis)(nil)

// NewRedis はRedisを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Connect はURLからRedisクライアントを生成し、疎通を確認する。
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Load は保存済みのセッションを返す。存在しない場合はnil。
func (r *Redis) Load(ctx context.Context, key string) (*model.AuthSession, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの読み込みに失敗しました: %w", err)
	}

	var s model.AuthSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("保存済みセッションのパースに失敗しました: %w", err)
	}
	return &s, nil
}

// Save はセッションを保存する。保存のたびに保持期間を延長する。
func (r *Redis) Save(ctx context.Context, key string, session *model.AuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("セッションのエンコードに失敗しました: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}
	return nil
}

// Delete はセッションを削除する。
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	return nil
}
