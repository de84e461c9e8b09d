package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pyramid-trading-bot/internal/pyramid"
)

// Redis key prefixes for live position snapshots
const (
	// PositionKeyPrefix format: pyramid:position:{engineID}:{symbol}
	PositionKeyPrefix = "pyramid:position"

	// PositionListKeyPrefix format: pyramid:positions:{engineID}:list
	PositionListKeyPrefix = "pyramid:positions"

	// PositionStateTTL keeps snapshots long enough for an operator to reconcile
	PositionStateTTL = 7 * 24 * time.Hour
)

// PersistedPosition is the snapshot written after every live transition
type PersistedPosition struct {
	EngineID string            `json:"engine_id"`
	Position *pyramid.Position `json:"position"`
	SavedAt  time.Time         `json:"saved_at"`
}

// RedisPositionStateRepository stores open positions in Redis with an
// in-memory fallback when Redis is unavailable. A nil client runs
// memory-only.
type RedisPositionStateRepository struct {
	client         *redis.Client
	logger         zerolog.Logger
	inMemoryCache  map[string]*PersistedPosition // key = "{engineID}:{symbol}"
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
}

// NewRedisPositionStateRepository creates the repository and probes Redis
func NewRedisPositionStateRepository(client *redis.Client, logger zerolog.Logger) *RedisPositionStateRepository {
	repo := &RedisPositionStateRepository{
		client:        client,
		logger:        logger.With().Str("component", "position-store").Logger(),
		inMemoryCache: make(map[string]*PersistedPosition),
	}

	if client == nil {
		repo.logger.Info().Msg("No Redis client provided, using in-memory cache only")
		return repo
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		repo.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory cache")
	} else {
		repo.logger.Info().Msg("Redis connected")
		repo.redisAvailable.Store(true)
	}
	return repo
}

// NewRedisClient builds a go-redis client from address settings
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

func (r *RedisPositionStateRepository) positionKey(engineID, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", PositionKeyPrefix, engineID, symbol)
}

func (r *RedisPositionStateRepository) positionListKey(engineID string) string {
	return fmt.Sprintf("%s:%s:list", PositionListKeyPrefix, engineID)
}

func (r *RedisPositionStateRepository) cacheKey(engineID, symbol string) string {
	return engineID + ":" + symbol
}

func (r *RedisPositionStateRepository) useRedis() bool {
	return r.client != nil && r.redisAvailable.Load()
}

// SavePosition snapshots an open position. The in-memory cache is always
// updated; a Redis failure degrades to memory without returning an error.
func (r *RedisPositionStateRepository) SavePosition(ctx context.Context, engineID string, pos *pyramid.Position) error {
	if pos == nil {
		return errors.New("cannot save nil position")
	}
	state := &PersistedPosition{EngineID: engineID, Position: pos.Clone(), SavedAt: time.Now().UTC()}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	r.updateCache(engineID, pos.Symbol, state)

	if !r.useRedis() {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.positionKey(engineID, pos.Symbol), data, PositionStateTTL)
	pipe.SAdd(ctx, r.positionListKey(engineID), pos.Symbol)
	pipe.Expire(ctx, r.positionListKey(engineID), PositionStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Failed to save to Redis, using in-memory cache")
		r.redisAvailable.Store(false)
		return nil
	}

	r.logger.Debug().
		Str("symbol", pos.Symbol).
		Int("levels", len(pos.Levels)).
		Float64("stop", pos.StopPrice).
		Msg("Saved position snapshot")
	return nil
}

// LoadPosition returns nil, nil when no snapshot exists
func (r *RedisPositionStateRepository) LoadPosition(ctx context.Context, engineID, symbol string) (*pyramid.Position, error) {
	if !r.useRedis() {
		return r.getFromCache(engineID, symbol), nil
	}

	data, err := r.client.Get(ctx, r.positionKey(engineID, symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return r.getFromCache(engineID, symbol), nil
		}
		r.logger.Warn().Err(err).Msg("Redis read error, using in-memory cache")
		r.redisAvailable.Store(false)
		return r.getFromCache(engineID, symbol), nil
	}

	var state PersistedPosition
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position %s: %w", symbol, err)
	}
	if state.Position == nil {
		return nil, nil
	}
	r.updateCache(engineID, symbol, &state)
	return state.Position, nil
}

// LoadAllPositions returns every snapshot for an engine keyed by symbol
func (r *RedisPositionStateRepository) LoadAllPositions(ctx context.Context, engineID string) (map[string]*pyramid.Position, error) {
	if !r.useRedis() {
		return r.getAllFromCache(engineID), nil
	}

	symbols, err := r.client.SMembers(ctx, r.positionListKey(engineID)).Result()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Redis read error, using in-memory cache")
		r.redisAvailable.Store(false)
		return r.getAllFromCache(engineID), nil
	}

	positions := make(map[string]*pyramid.Position, len(symbols))
	for _, symbol := range symbols {
		pos, err := r.LoadPosition(ctx, engineID, symbol)
		if err != nil {
			r.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to load position")
			continue
		}
		if pos != nil {
			positions[symbol] = pos
		}
	}
	if len(positions) > 0 {
		r.logger.Info().Int("count", len(positions)).Str("engine", engineID).Msg("Loaded positions from Redis")
	}
	return positions, nil
}

// DeletePosition removes a snapshot once the position is closed
func (r *RedisPositionStateRepository) DeletePosition(ctx context.Context, engineID, symbol string) error {
	r.removeFromCache(engineID, symbol)

	if !r.useRedis() {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.positionKey(engineID, symbol))
	pipe.SRem(ctx, r.positionListKey(engineID), symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to delete from Redis")
		r.redisAvailable.Store(false)
	}
	return nil
}

// IsRedisAvailable returns whether Redis is currently in use
func (r *RedisPositionStateRepository) IsRedisAvailable() bool {
	return r.redisAvailable.Load()
}

// CheckRedisConnection pings Redis and re-syncs the cache after a recovery
func (r *RedisPositionStateRepository) CheckRedisConnection(ctx context.Context) error {
	if r.client == nil {
		return errors.New("no Redis client configured")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}

	wasUnavailable := !r.redisAvailable.Swap(true)
	if wasUnavailable {
		r.logger.Info().Msg("Redis connection recovered")
		return r.SyncCacheToRedis(ctx)
	}
	return nil
}

// SyncCacheToRedis pushes every cached snapshot to Redis
func (r *RedisPositionStateRepository) SyncCacheToRedis(ctx context.Context) error {
	if !r.useRedis() {
		return errors.New("redis not available for sync")
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	synced := 0
	for key, state := range r.inMemoryCache {
		i := strings.LastIndex(key, ":")
		if i <= 0 || i == len(key)-1 {
			continue
		}
		engineID, symbol := key[:i], key[i+1:]

		data, err := json.Marshal(state)
		if err != nil {
			continue
		}
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, r.positionKey(engineID, symbol), data, PositionStateTTL)
		pipe.SAdd(ctx, r.positionListKey(engineID), symbol)
		pipe.Expire(ctx, r.positionListKey(engineID), PositionStateTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("Failed to sync position to Redis")
			continue
		}
		synced++
	}
	if synced > 0 {
		r.logger.Info().Int("count", synced).Msg("Synced positions from in-memory cache to Redis")
	}
	return nil
}

// PositionStateStats reports store health
type PositionStateStats struct {
	RedisAvailable    bool `json:"redis_available"`
	InMemoryCacheSize int  `json:"in_memory_cache_size"`
}

func (r *RedisPositionStateRepository) GetStats() PositionStateStats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return PositionStateStats{
		RedisAvailable:    r.redisAvailable.Load(),
		InMemoryCacheSize: len(r.inMemoryCache),
	}
}

// --- In-memory cache operations ---

func (r *RedisPositionStateRepository) updateCache(engineID, symbol string, state *PersistedPosition) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.inMemoryCache[r.cacheKey(engineID, symbol)] = &PersistedPosition{
		EngineID: state.EngineID,
		Position: state.Position.Clone(),
		SavedAt:  state.SavedAt,
	}
}

func (r *RedisPositionStateRepository) getFromCache(engineID, symbol string) *pyramid.Position {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	if state, ok := r.inMemoryCache[r.cacheKey(engineID, symbol)]; ok {
		return state.Position.Clone()
	}
	return nil
}

func (r *RedisPositionStateRepository) getAllFromCache(engineID string) map[string]*pyramid.Position {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	positions := make(map[string]*pyramid.Position)
	prefix := engineID + ":"
	for key, state := range r.inMemoryCache {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			positions[key[len(prefix):]] = state.Position.Clone()
		}
	}
	return positions
}

func (r *RedisPositionStateRepository) removeFromCache(engineID, symbol string) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	delete(r.inMemoryCache, r.cacheKey(engineID, symbol))
}

// ClearCache empties the in-memory cache
func (r *RedisPositionStateRepository) ClearCache() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.inMemoryCache = make(map[string]*PersistedPosition)
}
