package service

import (
	"context"
	"sync"
	"time"

	"admission-control/internal/config"
	"admission-control/internal/domain"
	"admission-control/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockLogger é um mock do Logger para testes
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Info(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Warn(msg string, fields map[string]interface{}) {
	m.Called(msg, fields)
}

func (m *MockLogger) Error(msg string, err error, fields map[string]interface{}) {
	m.Called(msg, err, fields)
}

func (m *MockLogger) WithContext(ctx context.Context) domain.Logger {
	args := m.Called(ctx)
	return args.Get(0).(domain.Logger)
}

// newMockLogger aceita qualquer chamada; testes que verificam logs adicionam expectativas próprias
func newMockLogger() *MockLogger {
	l := new(MockLogger)
	l.On("Debug", mock.Anything, mock.Anything).Maybe()
	l.On("Info", mock.Anything, mock.Anything).Maybe()
	l.On("Warn", mock.Anything, mock.Anything).Maybe()
	l.On("Error", mock.Anything, mock.Anything, mock.Anything).Maybe()
	l.On("WithContext", mock.Anything).Return(l).Maybe()
	return l
}

// MockStore é um mock do KeyValueStore para injetar falhas
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) Set(ctx context.Context, path string, value []byte) error {
	return m.Called(ctx, path, value).Error(0)
}

func (m *MockStore) Append(ctx context.Context, path string, value []byte) (string, error) {
	args := m.Called(ctx, path, value)
	return args.String(0), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, path string, fn domain.UpdateFunc) ([]byte, error) {
	args := m.Called(ctx, path, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockStore) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]byte), args.Error(1)
}

func (m *MockStore) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

// testClock é um relógio manual seguro para uso concorrente
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// epoch é um instante arbitrário no meio de uma hora UTC
var epoch = time.Date(2024, 3, 10, 14, 20, 0, 0, time.UTC)

func newTestStore() *storage.MemoryStorage {
	return storage.NewMemoryStorage(nil)
}

func testSecurityConfig() domain.SecurityConfig {
	return config.DefaultSecurityConfig()
}
