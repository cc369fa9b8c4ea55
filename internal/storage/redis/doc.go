// Package redis holds the Redis client factory and the Redis-backed
// conversation store. The same client is shared by the data-source cache and
// the pub/sub event publisher.
package redis
