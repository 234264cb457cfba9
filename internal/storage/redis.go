package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-control/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseLockScript remove o lock apenas se o token ainda for o nosso
const releaseLockScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// fencedWriteScript grava (ou apaga, com ARGV[2] == "1") só enquanto o lease ainda é nosso;
// retorna 0 quando o lease expirou
const fencedWriteScript = `
	if redis.call('GET', KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == '1' then
		redis.call('DEL', KEYS[2])
	else
		redis.call('SET', KEYS[2], ARGV[3])
	end
	return 1
`

const scanBatchSize = 200

// RedisOptions ajusta namespace e o lock consultivo por caminho
type RedisOptions struct {
	Namespace      string
	LockTTL        time.Duration
	LockRetryDelay time.Duration
	LockAttempts   int
	IDProvider     func() string
	TokenProvider  func() string
}

// RedisStorage implementa domain.KeyValueStore usando Redis.
// Update segura um lease (SET NX PX) sobre exatamente um caminho durante
// GET -> fn -> SET, o que vale entre múltiplas instâncias do serviço. A escrita
// final confere o token do lease, então um lease expirado não sobrescreve nada.
type RedisStorage struct {
	client     redis.Cmdable
	namespace  string
	lockTTL    time.Duration
	retryDelay time.Duration
	attempts   int
	newID      func() string
	newToken   func() string
	logger     domain.Logger
}

// NewRedisStorage cria uma nova instância do RedisStorage
func NewRedisStorage(host, port, password string, db int, opts *RedisOptions, logger domain.Logger) (*RedisStorage, error) {
	// Configura cliente Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,

		// Configurações de performance
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	// Testa a conexão
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Redis: %w", domain.ErrStoreUnavailable, err)
	}

	if logger != nil {
		logger.Info("Redis connection established", map[string]interface{}{
			"host": host,
			"port": port,
			"db":   db,
		})
	}

	return NewRedisStorageWithClient(rdb, opts, logger), nil
}

// NewRedisStorageWithClient cria o storage sobre um cliente já configurado
func NewRedisStorageWithClient(client redis.Cmdable, opts *RedisOptions, logger domain.Logger) *RedisStorage {
	r := &RedisStorage{
		client:     client,
		namespace:  "admission",
		lockTTL:    2 * time.Second,
		retryDelay: 10 * time.Millisecond,
		attempts:   100,
		newID:      NewRecordID,
		newToken:   func() string { return uuid.New().String() },
		logger:     logger,
	}

	if opts != nil {
		if opts.Namespace != "" {
			r.namespace = opts.Namespace
		}
		if opts.LockTTL > 0 {
			r.lockTTL = opts.LockTTL
		}
		if opts.LockRetryDelay > 0 {
			r.retryDelay = opts.LockRetryDelay
		}
		if opts.LockAttempts > 0 {
			r.attempts = opts.LockAttempts
		}
		if opts.IDProvider != nil {
			r.newID = opts.IDProvider
		}
		if opts.TokenProvider != nil {
			r.newToken = opts.TokenProvider
		}
	}

	return r
}

// Get recupera o valor de um caminho
func (r *RedisStorage) Get(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	key := r.dataKey(path)

	value, err := r.get(ctx, key)
	if err != nil {
		r.logStorageOperation("GET", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	r.logStorageOperation("GET", key, true, time.Since(start).Seconds()*1000, nil)
	return value, nil
}

// Set grava o valor de um caminho
func (r *RedisStorage) Set(ctx context.Context, path string, value []byte) error {
	start := time.Now()
	key := r.dataKey(path)

	if err := r.client.Set(ctx, key, string(value), 0).Err(); err != nil {
		err = fmt.Errorf("%w: failed to set key %s: %w", domain.ErrStoreUnavailable, key, err)
		r.logStorageOperation("SET", key, false, time.Since(start).Seconds()*1000, err)
		return err
	}

	r.logStorageOperation("SET", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Append cria um filho com id UUIDv7 sob path
func (r *RedisStorage) Append(ctx context.Context, path string, value []byte) (string, error) {
	start := time.Now()
	child := path + "/" + r.newID()
	key := r.dataKey(child)

	if err := r.client.Set(ctx, key, string(value), 0).Err(); err != nil {
		err = fmt.Errorf("%w: failed to append key %s: %w", domain.ErrStoreUnavailable, key, err)
		r.logStorageOperation("APPEND", key, false, time.Since(start).Seconds()*1000, err)
		return "", err
	}

	r.logStorageOperation("APPEND", key, true, time.Since(start).Seconds()*1000, nil)
	return child, nil
}

// Update executa read-modify-write sob o lease do caminho
func (r *RedisStorage) Update(ctx context.Context, path string, fn domain.UpdateFunc) ([]byte, error) {
	start := time.Now()
	key := r.dataKey(path)

	token, release, err := r.acquire(ctx, path)
	if err != nil {
		r.logStorageOperation("UPDATE", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}
	defer release()

	current, err := r.get(ctx, key)
	if err != nil {
		r.logStorageOperation("UPDATE", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		r.logStorageOperation("UPDATE", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	switch {
	case next == nil && current == nil:
	case next == nil:
		err = r.fencedWrite(ctx, path, token, true, "")
	case string(next) != string(current) || current == nil:
		err = r.fencedWrite(ctx, path, token, false, string(next))
	}
	if err != nil {
		r.logStorageOperation("UPDATE", key, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	r.logStorageOperation("UPDATE", key, true, time.Since(start).Seconds()*1000, nil)
	return next, nil
}

// Delete remove um caminho
func (r *RedisStorage) Delete(ctx context.Context, path string) error {
	start := time.Now()
	key := r.dataKey(path)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		err = fmt.Errorf("%w: failed to delete key %s: %w", domain.ErrStoreUnavailable, key, err)
		r.logStorageOperation("DELETE", key, false, time.Since(start).Seconds()*1000, err)
		return err
	}

	r.logStorageOperation("DELETE", key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Scan percorre as chaves com SCAN MATCH e carrega os valores com MGET
func (r *RedisStorage) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	start := time.Now()
	match := r.dataKey(prefix) + "*"
	result := make(map[string][]byte)

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			err = fmt.Errorf("%w: failed to scan %s: %w", domain.ErrStoreUnavailable, match, err)
			r.logStorageOperation("SCAN", match, false, time.Since(start).Seconds()*1000, err)
			return nil, err
		}

		if len(keys) > 0 {
			values, err := r.client.MGet(ctx, keys...).Result()
			if err != nil {
				err = fmt.Errorf("%w: failed to load %d keys: %w", domain.ErrStoreUnavailable, len(keys), err)
				r.logStorageOperation("SCAN", match, false, time.Since(start).Seconds()*1000, err)
				return nil, err
			}
			for i, key := range keys {
				// Chave removida entre SCAN e MGET
				value, ok := values[i].(string)
				if !ok {
					continue
				}
				result[r.pathOf(key)] = []byte(value)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.logStorageOperation("SCAN", match, true, time.Since(start).Seconds()*1000, nil)
	return result, nil
}

// Health verifica se o storage está saudável
func (r *RedisStorage) Health(ctx context.Context) error {
	start := time.Now()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logStorageOperation("HEALTH", "ping", false, time.Since(start).Seconds()*1000, err)
		return fmt.Errorf("%w: Redis health check failed: %w", domain.ErrStoreUnavailable, err)
	}

	r.logStorageOperation("HEALTH", "ping", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha a conexão com o storage
func (r *RedisStorage) Close() error {
	if client, ok := r.client.(*redis.Client); ok {
		if err := client.Close(); err != nil {
			if r.logger != nil {
				r.logger.Error("Failed to close Redis connection", err, nil)
			}
			return err
		}
		if r.logger != nil {
			r.logger.Info("Redis connection closed", nil)
		}
	}
	return nil
}

// fencedWrite aplica o resultado de Update conferindo o token do lease no mesmo script
func (r *RedisStorage) fencedWrite(ctx context.Context, path, token string, del bool, value string) error {
	key := r.dataKey(path)
	flag := "0"
	if del {
		flag = "1"
	}

	written, err := r.client.Eval(ctx, fencedWriteScript, []string{r.lockKey(path), key}, token, flag, value).Int64()
	if err != nil {
		return fmt.Errorf("%w: failed to write key %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	if written == 0 {
		return fmt.Errorf("%w: lease on %s expired before the write", domain.ErrLockContention, path)
	}
	return nil
}

// acquire obtém o lease do caminho, tentando novamente até esgotar as tentativas
func (r *RedisStorage) acquire(ctx context.Context, path string) (string, func(), error) {
	lockKey := r.lockKey(path)
	token := r.newToken()

	for attempt := 0; attempt < r.attempts; attempt++ {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			return "", nil, fmt.Errorf("%w: failed to lock %s: %w", domain.ErrStoreUnavailable, lockKey, err)
		}
		if ok {
			return token, func() {
				// O lease é liberado mesmo que o contexto da chamada já tenha expirado
				releaseCtx := context.WithoutCancel(ctx)
				if err := r.client.Eval(releaseCtx, releaseLockScript, []string{lockKey}, token).Err(); err != nil && r.logger != nil {
					r.logger.Warn("Failed to release path lock", map[string]interface{}{
						"key":   lockKey,
						"error": err.Error(),
					})
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}

	return "", nil, fmt.Errorf("%w: %s", domain.ErrLockContention, path)
}

func (r *RedisStorage) get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to get key %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	return []byte(value), nil
}

// dataKey constrói chaves padronizadas para Redis
func (r *RedisStorage) dataKey(path string) string {
	return r.namespace + ":" + path
}

func (r *RedisStorage) lockKey(path string) string {
	return r.namespace + ":lock:" + path
}

func (r *RedisStorage) pathOf(key string) string {
	return strings.TrimPrefix(key, r.namespace+":")
}

// logStorageOperation registra operações de storage
func (r *RedisStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if r.logger != nil {
		if success {
			r.logger.Debug("Storage operation completed", map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		} else {
			r.logger.Error("Storage operation failed", err, map[string]interface{}{
				"operation": operation,
				"key":       key,
				"latency":   latency,
			})
		}
	}
}
