package storage

import "github.com/google/uuid"

// NewRecordID gera ids ordenados no tempo (UUIDv7) para filhos de Append,
// de modo que a ordem lexicográfica dos caminhos acompanha a ordem de inserção
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
