package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-control/internal/domain"

	"github.com/sony/gobreaker"
)

// BreakerStorage decora um KeyValueStore com um circuit breaker.
// Com o circuito aberto as chamadas falham imediatamente com ErrStoreUnavailable,
// sem esperar timeouts de um storage fora do ar.
type BreakerStorage struct {
	inner   domain.KeyValueStore
	breaker *gobreaker.CircuitBreaker
	logger  domain.Logger
}

// NewBreakerStorage cria o decorador com o número máximo de falhas consecutivas
func NewBreakerStorage(inner domain.KeyValueStore, timeout time.Duration, maxFailures uint32, logger domain.Logger) *BreakerStorage {
	b := &BreakerStorage{inner: inner, logger: logger}

	settings := gobreaker.Settings{
		Name:        "kv-store",
		MaxRequests: 5,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Apenas falhas de conectividade contam para abrir o circuito
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrLockContention)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("Store circuit breaker state changed", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			}
		},
	}
	b.breaker = gobreaker.NewCircuitBreaker(settings)

	return b
}

// State expõe o estado atual do circuito
func (b *BreakerStorage) State() string {
	return b.breaker.State().String()
}

func (b *BreakerStorage) Get(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := b.execute(func() error {
		var err error
		value, err = b.inner.Get(ctx, path)
		return err
	})
	return value, err
}

func (b *BreakerStorage) Set(ctx context.Context, path string, value []byte) error {
	return b.execute(func() error {
		return b.inner.Set(ctx, path, value)
	})
}

func (b *BreakerStorage) Append(ctx context.Context, path string, value []byte) (string, error) {
	var child string
	err := b.execute(func() error {
		var err error
		child, err = b.inner.Append(ctx, path, value)
		return err
	})
	return child, err
}

func (b *BreakerStorage) Update(ctx context.Context, path string, fn domain.UpdateFunc) ([]byte, error) {
	var next []byte
	err := b.execute(func() error {
		var err error
		next, err = b.inner.Update(ctx, path, fn)
		return err
	})
	return next, err
}

func (b *BreakerStorage) Delete(ctx context.Context, path string) error {
	return b.execute(func() error {
		return b.inner.Delete(ctx, path)
	})
}

func (b *BreakerStorage) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	var values map[string][]byte
	err := b.execute(func() error {
		var err error
		values, err = b.inner.Scan(ctx, prefix)
		return err
	})
	return values, err
}

func (b *BreakerStorage) Health(ctx context.Context) error {
	return b.execute(func() error {
		return b.inner.Health(ctx)
	})
}

func (b *BreakerStorage) Close() error {
	return b.inner.Close()
}

func (b *BreakerStorage) execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: breaker (%s): %w", domain.ErrStoreUnavailable, b.breaker.Name(), err)
	}
	return err
}
