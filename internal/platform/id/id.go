package id

import "github.com/google/uuid"

// Generator creates record and task identifiers.
type Generator interface {
	New() uuid.UUID
}

type RandomUUID struct{}

func (RandomUUID) New() uuid.UUID {
	return uuid.New()
}
