package storage

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"admission-control/internal/domain"
)

// MemoryStorage implementa domain.KeyValueStore em memória.
// Serve apenas a um processo: Update é atômico via mutex por caminho.
type MemoryStorage struct {
	data   map[string][]byte
	mutex  sync.RWMutex
	locks  *keyedMutex
	newID  func() string
	logger domain.Logger
}

// NewMemoryStorage cria uma nova instância do MemoryStorage
func NewMemoryStorage(logger domain.Logger) *MemoryStorage {
	storage := &MemoryStorage{
		data:   make(map[string][]byte),
		locks:  newKeyedMutex(),
		newID:  NewRecordID,
		logger: logger,
	}

	if logger != nil {
		logger.Info("Memory storage initialized", nil)
	}

	return storage
}

// Get recupera o valor de um caminho
func (m *MemoryStorage) Get(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()

	value := m.read(path)

	m.logStorageOperation("GET", path, true, time.Since(start).Seconds()*1000, nil)
	return value, nil
}

// Set grava o valor de um caminho
func (m *MemoryStorage) Set(ctx context.Context, path string, value []byte) error {
	start := time.Now()

	unlock := m.locks.Lock(path)
	defer unlock()

	m.write(path, value)

	m.logStorageOperation("SET", path, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Append cria um filho com id ordenado no tempo sob path
func (m *MemoryStorage) Append(ctx context.Context, path string, value []byte) (string, error) {
	start := time.Now()

	child := path + "/" + m.newID()

	unlock := m.locks.Lock(child)
	defer unlock()

	m.write(child, value)

	m.logStorageOperation("APPEND", child, true, time.Since(start).Seconds()*1000, nil)
	return child, nil
}

// Update executa read-modify-write segurando o lock apenas deste caminho
func (m *MemoryStorage) Update(ctx context.Context, path string, fn domain.UpdateFunc) ([]byte, error) {
	start := time.Now()

	unlock := m.locks.Lock(path)
	defer unlock()

	if err := ctx.Err(); err != nil {
		m.logStorageOperation("UPDATE", path, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	current := m.read(path)
	next, err := fn(current)
	if err != nil {
		m.logStorageOperation("UPDATE", path, false, time.Since(start).Seconds()*1000, err)
		return nil, err
	}

	if !bytes.Equal(current, next) || (current == nil) != (next == nil) {
		m.write(path, next)
	}

	m.logStorageOperation("UPDATE", path, true, time.Since(start).Seconds()*1000, nil)
	return next, nil
}

// Delete remove um caminho
func (m *MemoryStorage) Delete(ctx context.Context, path string) error {
	start := time.Now()

	unlock := m.locks.Lock(path)
	defer unlock()

	m.write(path, nil)

	m.logStorageOperation("DELETE", path, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Scan retorna cópias de todos os valores sob o prefixo
func (m *MemoryStorage) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	start := time.Now()

	m.mutex.RLock()
	result := make(map[string][]byte)
	for path, value := range m.data {
		if strings.HasPrefix(path, prefix) {
			result[path] = append([]byte(nil), value...)
		}
	}
	m.mutex.RUnlock()

	m.logStorageOperation("SCAN", prefix, true, time.Since(start).Seconds()*1000, nil)
	return result, nil
}

// Health verifica se o storage está saudável
func (m *MemoryStorage) Health(ctx context.Context) error {
	start := time.Now()

	m.mutex.RLock()
	dataSize := len(m.data)
	m.mutex.RUnlock()

	if m.logger != nil {
		m.logger.Debug("Memory storage health check", map[string]interface{}{
			"data_entries": dataSize,
			"active_locks": m.locks.size(),
		})
	}

	m.logStorageOperation("HEALTH", "check", true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Close fecha o storage (limpa os dados)
func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.data = make(map[string][]byte)

	if m.logger != nil {
		m.logger.Info("Memory storage closed", nil)
	}
	return nil
}

// GetStats retorna estatísticas do storage em memória
func (m *MemoryStorage) GetStats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"data_entries": len(m.data),
		"type":         "memory",
	}
}

func (m *MemoryStorage) read(path string) []byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	value, exists := m.data[path]
	if !exists {
		return nil
	}
	// Cópia para evitar modificações concorrentes
	return append([]byte(nil), value...)
}

func (m *MemoryStorage) write(path string, value []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if value == nil {
		delete(m.data, path)
		return
	}
	m.data[path] = append([]byte(nil), value...)
}

// logStorageOperation registra operações de storage
func (m *MemoryStorage) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if m.logger == nil {
		return
	}

	if success {
		m.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		m.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
