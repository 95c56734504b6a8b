package database

import (
	"context"
	"errors"
	"fmt"

	"dworekgo/core"

	"github.com/apex/log"
)

// ErrNotFound is returned (possibly wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistent state consumed by the game core.
type Store interface {
	SessionByToken(ctx context.Context, token string) (*Session, error)
	User(ctx context.Context, id string) (*User, error)

	Game(ctx context.Context, id string) (*Game, error)
	SetGameStage(ctx context.Context, id string, stage GameStage) error
	Teams(ctx context.Context, gameID string) ([]Team, error)

	GameUsers(ctx context.Context, gameID string) ([]GameUser, error)
	GameUser(ctx context.Context, gameID string, userID string) (*GameUser, error)

	Factory(ctx context.Context, id string) (*Factory, error)
	Factories(ctx context.Context, gameID string) ([]Factory, error)

	// Commit applies every change in the batch, or none of them.
	Commit(ctx context.Context, changes Changes) error

	Close(ctx context.Context) error
}

// Open creates the backend selected by the configuration.
func Open(ctx context.Context, config *core.ServerConfig) (Store, error) {
	dbLog := log.WithFields(log.Fields{
		"name":    fmt.Sprintf("Database (%s)", config.Backend.Type),
		"modName": "Database",
	})

	switch config.Backend.Type {
	case "memory", "yaml", "":
		backend := NewMemoryBackend()
		if config.Backend.File != "" {
			fixture, err := LoadFixture(config.Backend.File)
			if err != nil {
				return nil, err
			}
			backend.Seed(fixture)
			dbLog.Infof("Seeded memory backend from %s", config.Backend.File)
		}
		backend.snapshot = config.Backend.Snapshot
		return backend, nil
	case "mongodb":
		backend, err := NewMongoBackend(ctx, config)
		if err != nil {
			return nil, err
		}
		dbLog.Infof("Connected to %s (database %s)", config.Backend.Server, config.Backend.Database)
		return backend, nil
	}

	return nil, fmt.Errorf("unknown backend type \"%s\"", config.Backend.Type)
}
