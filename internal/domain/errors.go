package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indica falha do storage em responder (transitória)
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLockContention indica que o lock por chave não foi obtido a tempo
	ErrLockContention = fmt.Errorf("%w: lock contention", ErrStoreUnavailable)

	// ErrInvalidConfiguration indica configuração inválida (fatal na carga)
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidRequest indica parâmetros inválidos numa chamada
	ErrInvalidRequest = errors.New("invalid request")
)

// InvalidConfigf cria um erro de configuração inválida
func InvalidConfigf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// PartialUpdateError indica que o incremento dos dois buckets de quota
// foi aplicado apenas parcialmente: o bucket horário já foi gravado
type PartialUpdateError struct {
	AgentID   string
	HourlyKey string
	DailyKey  string
	Usage     TokenUsage
	Err       error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("partial quota update for agent %s: hourly bucket %s recorded, daily bucket %s not recorded: %v",
		e.AgentID, e.HourlyKey, e.DailyKey, e.Err)
}

func (e *PartialUpdateError) Unwrap() error {
	return e.Err
}
