package storage

import (
	"testing"
	"time"

	"admission-control/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestStorageFactory_CreateStorage(t *testing.T) {
	tests := []struct {
		name         string
		config       *StorageConfig
		expectError  bool
		expectedType string
	}{
		{
			name: "Should create Memory storage successfully",
			config: &StorageConfig{
				Type: MemoryStorageType,
			},
			expectError:  false,
			expectedType: "*storage.MemoryStorage",
		},
		{
			name: "Should wrap storage with circuit breaker",
			config: &StorageConfig{
				Type:    MemoryStorageType,
				Breaker: &BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second},
			},
			expectError:  false,
			expectedType: "*storage.BreakerStorage",
		},
		{
			name:        "Should return error for nil config",
			config:      nil,
			expectError: true,
		},
		{
			name: "Should return error for unsupported type",
			config: &StorageConfig{
				Type: StorageType("unsupported"),
			},
			expectError: true,
		},
		{
			name: "Should return error for Redis with nil config",
			config: &StorageConfig{
				Type:        RedisStorageType,
				RedisConfig: nil,
			},
			expectError: true,
		},
		{
			name: "Should return error for Redis with empty host",
			config: &StorageConfig{
				Type: RedisStorageType,
				RedisConfig: &RedisConfig{
					Host:     "",
					Port:     "6379",
					Database: 0,
				},
			},
			expectError: true,
		},
		{
			name: "Should return error for Redis with invalid database",
			config: &StorageConfig{
				Type: RedisStorageType,
				RedisConfig: &RedisConfig{
					Host:     "localhost",
					Port:     "6379",
					Database: 16, // Inválido (> 15)
				},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			factory := NewStorageFactory()
			testLogger := logger.NewLogger("error", "text")

			// Act
			storage, err := factory.CreateStorage(tt.config, testLogger)

			// Assert
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, storage)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, storage)
			switch tt.expectedType {
			case "*storage.MemoryStorage":
				assert.IsType(t, &MemoryStorage{}, storage)
			case "*storage.BreakerStorage":
				assert.IsType(t, &BreakerStorage{}, storage)
			}
		})
	}
}

func TestStorageFactory_ValidateConfig(t *testing.T) {
	factory := NewStorageFactory()

	assert.NoError(t, factory.ValidateConfig(&StorageConfig{Type: MemoryStorageType}))
	assert.NoError(t, factory.ValidateConfig(&StorageConfig{
		Type:        RedisStorageType,
		RedisConfig: &RedisConfig{Host: "localhost", Port: "6379"},
	}))
	assert.Error(t, factory.ValidateConfig(&StorageConfig{
		Type:        RedisStorageType,
		RedisConfig: &RedisConfig{Host: "localhost", Port: ""},
	}))
	assert.Error(t, factory.ValidateConfig(nil))
}

func TestStorageFactory_GetSupportedTypes(t *testing.T) {
	factory := NewStorageFactory()
	assert.ElementsMatch(t, []StorageType{RedisStorageType, MemoryStorageType}, factory.GetSupportedTypes())
}

func TestBuildStorageConfigFromEnv(t *testing.T) {
	config := BuildStorageConfigFromEnv("REDIS", "redis", "6380", "secret", 2, "admission")

	assert.Equal(t, RedisStorageType, config.Type)
	assert.Equal(t, &RedisConfig{
		Host:      "redis",
		Port:      "6380",
		Password:  "secret",
		Database:  2,
		Namespace: "admission",
	}, config.RedisConfig)

	memory := BuildStorageConfigFromEnv("memory", "", "", "", 0, "")
	assert.Equal(t, MemoryStorageType, memory.Type)
	assert.Nil(t, memory.RedisConfig)
}
