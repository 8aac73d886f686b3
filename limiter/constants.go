package limiter

// Storage types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// DefaultKeyPrefix namespaces limiter keys inside the shared counter store.
const DefaultKeyPrefix = "ratelimit:"
