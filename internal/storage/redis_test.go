package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-control/internal/domain"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLockToken = "lock-token"

func newMockedRedisStorage(t *testing.T) (*RedisStorage, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	storage := NewRedisStorageWithClient(client, &RedisOptions{
		Namespace:      "test",
		LockTTL:        time.Second,
		LockRetryDelay: time.Millisecond,
		LockAttempts:   2,
		IDProvider:     func() string { return "0001" },
		TokenProvider:  func() string { return testLockToken },
	}, nil)
	return storage, mock
}

func TestRedisStorage_Get(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectGet("test:rateLimits/1.2.3.4/api").SetVal(`{"timestamps":[10]}`)
	mock.ExpectGet("test:rateLimits/5.6.7.8/api").RedisNil()
	mock.ExpectGet("test:rateLimits/9.9.9.9/api").SetErr(errors.New("connection refused"))

	value, err := storage.Get(ctx, "rateLimits/1.2.3.4/api")
	require.NoError(t, err)
	assert.Equal(t, `{"timestamps":[10]}`, string(value))

	value, err = storage.Get(ctx, "rateLimits/5.6.7.8/api")
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = storage.Get(ctx, "rateLimits/9.9.9.9/api")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_SetAndAppend(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSet("test:security/suspendedAgents/a1", `{"suspended":true}`, 0).SetVal("OK")
	mock.ExpectSet("test:security/alerts/0001", `{"severity":"high"}`, 0).SetVal("OK")

	require.NoError(t, storage.Set(ctx, "security/suspendedAgents/a1", []byte(`{"suspended":true}`)))

	child, err := storage.Append(ctx, "security/alerts", []byte(`{"severity":"high"}`))
	require.NoError(t, err)
	assert.Equal(t, "security/alerts/0001", child)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_HoldsPathLock(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetVal(true)
	mock.ExpectGet("test:rateLimits/a/api").SetVal(`{"timestamps":[1]}`)
	mock.ExpectEval(fencedWriteScript, []string{"test:lock:rateLimits/a/api", "test:rateLimits/a/api"}, testLockToken, "0", `{"timestamps":[1,2]}`).SetVal(int64(1))
	mock.ExpectEval(releaseLockScript, []string{"test:lock:rateLimits/a/api"}, testLockToken).SetVal(int64(1))

	next, err := storage.Update(ctx, "rateLimits/a/api", func(current []byte) ([]byte, error) {
		assert.Equal(t, `{"timestamps":[1]}`, string(current))
		return []byte(`{"timestamps":[1,2]}`), nil
	})

	require.NoError(t, err)
	assert.Equal(t, `{"timestamps":[1,2]}`, string(next))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_UnchangedSkipsWrite(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:lock:security/blockedIPs", testLockToken, time.Second).SetVal(true)
	mock.ExpectGet("test:security/blockedIPs").SetVal(`["1.1.1.1"]`)
	mock.ExpectEval(releaseLockScript, []string{"test:lock:security/blockedIPs"}, testLockToken).SetVal(int64(1))

	_, err := storage.Update(ctx, "security/blockedIPs", func(current []byte) ([]byte, error) {
		return current, nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_NilDeletes(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetVal(true)
	mock.ExpectGet("test:rateLimits/a/api").SetVal(`{"timestamps":[1]}`)
	mock.ExpectEval(fencedWriteScript, []string{"test:lock:rateLimits/a/api", "test:rateLimits/a/api"}, testLockToken, "1", "").SetVal(int64(1))
	mock.ExpectEval(releaseLockScript, []string{"test:lock:rateLimits/a/api"}, testLockToken).SetVal(int64(1))

	_, err := storage.Update(ctx, "rateLimits/a/api", func(current []byte) ([]byte, error) {
		return nil, nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_ExpiredLeaseAbortsWrite(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetVal(true)
	mock.ExpectGet("test:rateLimits/a/api").SetVal(`{"timestamps":[1]}`)
	mock.ExpectEval(fencedWriteScript, []string{"test:lock:rateLimits/a/api", "test:rateLimits/a/api"}, testLockToken, "0", `{"timestamps":[1,2]}`).SetVal(int64(0))
	mock.ExpectEval(releaseLockScript, []string{"test:lock:rateLimits/a/api"}, testLockToken).SetVal(int64(0))

	next, err := storage.Update(ctx, "rateLimits/a/api", func(current []byte) ([]byte, error) {
		return []byte(`{"timestamps":[1,2]}`), nil
	})

	assert.ErrorIs(t, err, domain.ErrLockContention)
	assert.Contains(t, err.Error(), "expired before the write")
	assert.Nil(t, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_WriteError(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetVal(true)
	mock.ExpectGet("test:rateLimits/a/api").RedisNil()
	mock.ExpectEval(fencedWriteScript, []string{"test:lock:rateLimits/a/api", "test:rateLimits/a/api"}, testLockToken, "0", `{"timestamps":[5]}`).SetErr(errors.New("connection reset"))
	mock.ExpectEval(releaseLockScript, []string{"test:lock:rateLimits/a/api"}, testLockToken).SetVal(int64(1))

	_, err := storage.Update(ctx, "rateLimits/a/api", func(current []byte) ([]byte, error) {
		return []byte(`{"timestamps":[5]}`), nil
	})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_LockContention(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetVal(false)
	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetVal(false)

	called := false
	_, err := storage.Update(ctx, "rateLimits/a/api", func(current []byte) ([]byte, error) {
		called = true
		return current, nil
	})

	assert.ErrorIs(t, err, domain.ErrLockContention)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Update_LockError(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)

	mock.ExpectSetNX("test:lock:rateLimits/a/api", testLockToken, time.Second).SetErr(errors.New("i/o timeout"))

	_, err := storage.Update(context.Background(), "rateLimits/a/api", func(current []byte) ([]byte, error) {
		return current, nil
	})

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrLockContention)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Scan(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)

	mock.ExpectScan(0, "test:rateLimits/*", scanBatchSize).SetVal([]string{"test:rateLimits/a/api"}, 7)
	mock.ExpectMGet("test:rateLimits/a/api").SetVal([]interface{}{`{"timestamps":[1]}`})
	mock.ExpectScan(7, "test:rateLimits/*", scanBatchSize).SetVal([]string{"test:rateLimits/b/api", "test:rateLimits/c/api"}, 0)
	mock.ExpectMGet("test:rateLimits/b/api", "test:rateLimits/c/api").SetVal([]interface{}{`{"timestamps":[2]}`, nil})

	values, err := storage.Scan(context.Background(), RateLimitsPrefix)

	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"rateLimits/a/api": []byte(`{"timestamps":[1]}`),
		"rateLimits/b/api": []byte(`{"timestamps":[2]}`),
	}, values)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_DeleteAndHealth(t *testing.T) {
	storage, mock := newMockedRedisStorage(t)
	ctx := context.Background()

	mock.ExpectDel("test:security/suspicious/x/1").SetVal(1)
	mock.ExpectPing().SetVal("PONG")
	mock.ExpectPing().SetErr(errors.New("connection refused"))

	require.NoError(t, storage.Delete(ctx, "security/suspicious/x/1"))
	require.NoError(t, storage.Health(ctx))
	assert.ErrorIs(t, storage.Health(ctx), domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
