package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"price-guard/pkg/models"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "price-guard:catalog:"
	redisTypesKey  = "price-guard:catalog-types"
)

type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("store: REDIS_ADDR is required for the redis backend")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}
	return &Redis{client: rdb}, nil
}

func (r *Redis) Load(ctx context.Context, productType string) (*models.Catalog, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+productType).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrCatalogNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(productType, data)
}

func (r *Redis) Save(ctx context.Context, productType string, c *models.Catalog) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+productType, data, 0)
		pipe.SAdd(ctx, redisTypesKey, productType)
		return nil
	})
	return err
}

func (r *Redis) Types(ctx context.Context) ([]string, error) {
	types, err := r.client.SMembers(ctx, redisTypesKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(types)
	return types, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
