package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных фида в Redis
	RedisNamespace = "threatfeed"
)

const (
	RedisKeySnapshotPrefix = RedisNamespace + ":store:"
	RedisKeyRegionalPrefix = RedisNamespace + ":regional:"
	RedisKeyResponsePrefix = RedisNamespace + ":response:"
)

// SnapshotStoreKey: ключ авторитетного снапшота в Redis-хранилище.
func SnapshotStoreKey(key string) string {
	return RedisKeySnapshotPrefix + key
}

// RegionalCacheKey: ключ копии снапшота в региональном кэше.
func RegionalCacheKey(key string) string {
	return RedisKeyRegionalPrefix + key
}

// ResponseCacheKey: идентичность ресурса для HTTP-кэша ответов.
// Query и Host в ключ не входят: иначе случайный параметр обходит кэш
// и раздувает его.
func ResponseCacheKey(method, path string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyResponsePrefix, method, path)
}
