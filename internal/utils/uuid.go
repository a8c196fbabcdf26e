package utils

import "github.com/google/uuid"

// ClientIDPrefix marks server ids generated locally for items that have
// not been committed yet.
const ClientIDPrefix = "c-"

// UUIDGenerator produces time-ordered ids.
type UUIDGenerator struct {
}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) Generate() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return v7.String()
}

// ClientID returns a fresh client-generated server id.
func (g *UUIDGenerator) ClientID() string {
	return ClientIDPrefix + g.Generate()
}
