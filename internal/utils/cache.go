package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"strconv"       // Integer formatting
	"strings"       // Key normalisation
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// CampaignChainKey caches the on-chain snapshot of a campaign contract
func CampaignChainKey(address string) string {
	return "campaign:chain:" + strings.ToLower(address)
}

// WalletBalanceKey caches the ETH balance of a wallet address
func WalletBalanceKey(address string) string {
	return "wallet:balance:" + strings.ToLower(address)
}

// ContributionHistoryKey caches one page of a user's contribution history
func ContributionHistoryKey(userID string, page, pageSize int) string {
	return "contributions:user:" + userID + ":page:" + strconv.Itoa(page) + ":size:" + strconv.Itoa(pageSize)
}

// ContributionHistoryPattern matches every cached history page of a user
func ContributionHistoryPattern(userID string) string {
	return "contributions:user:" + userID + ":*"
}

// GetCache retrieves a value from Redis and unmarshals it into dest.
// A nil client behaves as a permanent cache miss.
func GetCache(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	val, err := rdb.Get(ctx, key).Result() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(val), dest)
}

// SetCache stores value as JSON with a TTL; a nil client is a no-op
func SetCache(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}

// DeleteCache deletes keys from Redis
func DeleteCache(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}

// DeleteCachePattern removes every key matching pattern, scanning in batches
func DeleteCachePattern(ctx context.Context, rdb *redis.Client, pattern string) error {
	if rdb == nil {
		return nil
	}
	iter := rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return DeleteCache(ctx, rdb, batch...)
}
