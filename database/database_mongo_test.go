package database

import (
	"context"
	"os"
	"testing"
	"time"

	"dworekgo/core"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// These tests need a running mongod; point DWOREK_TEST_MONGODB at it, e.g.
// mongodb://127.0.0.1:27017.
func connectMongo(t *testing.T) *MongoBackend {
	uri := os.Getenv("DWOREK_TEST_MONGODB")
	if uri == "" {
		t.Skip("DWOREK_TEST_MONGODB not set")
	}

	config := core.DefaultConfig()
	config.Backend.Type = "mongodb"
	config.Backend.Server = uri
	config.Backend.Database = "dworek_test_" + uuid.NewString()[:8]
	config.Backend.Transactions = os.Getenv("DWOREK_TEST_MONGODB_TRANSACTIONS") != ""

	ctx := context.Background()
	backend, err := NewMongoBackend(ctx, config)
	require.NoError(t, err)

	t.Cleanup(func() {
		backend.client.Database(config.Backend.Database).Drop(context.Background())
		backend.Close(context.Background())
	})
	return backend
}

func TestMongoBackend_Lookups(t *testing.T) {
	backend := connectMongo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := backend.sessions.InsertOne(ctx, Session{ID: "s1", Token: "abc", UserID: "u1", CreateDate: now, ExpireDate: now.Add(time.Hour)})
	require.NoError(t, err)
	_, err = backend.users.InsertOne(ctx, User{ID: "u1", Name: "Alice"})
	require.NoError(t, err)
	_, err = backend.games.InsertOne(ctx, Game{ID: "g1", Name: "Test", Stage: GAME_STAGE_OPEN})
	require.NoError(t, err)

	session, err := backend.SessionByToken(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.True(t, session.ExpireDate.Equal(now.Add(time.Hour)))

	_, err = backend.SessionByToken(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.SetGameStage(ctx, "g1", GAME_STAGE_RUNNING))
	game, err := backend.Game(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, GAME_STAGE_RUNNING, game.Stage)

	assert.ErrorIs(t, backend.SetGameStage(ctx, "missing", GAME_STAGE_RUNNING), ErrNotFound)
}

func TestMongoBackend_Commit(t *testing.T) {
	backend := connectMongo(t)
	ctx := context.Background()

	_, err := backend.gameUsers.InsertOne(ctx, GameUser{ID: "gu1", GameID: "g1", UserID: "u1", TeamID: "red", Money: 100})
	require.NoError(t, err)

	factory := Factory{ID: "f1", GameID: "g1", Name: "Lab", TeamID: "red", Level: 1}
	require.NoError(t, backend.Commit(ctx, Changes{
		Users:   []GameUser{{ID: "gu1", GameID: "g1", UserID: "u1", TeamID: "red", Money: 40}},
		Created: []Factory{factory},
	}))

	gu, err := backend.GameUser(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 40, gu.Money)

	factories, err := backend.Factories(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, factories, 1)
	assert.Equal(t, "Lab", factories[0].Name)

	require.NoError(t, backend.Commit(ctx, Changes{Deleted: []string{"f1"}}))
	count, err := backend.factories.CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestTransactionsSupported(t *testing.T) {
	assert.True(t, transactionsSupported(bson.M{"setName": "rs0", "isWritablePrimary": true}))
	assert.True(t, transactionsSupported(bson.M{"msg": "isdbgrid"}))
	assert.False(t, transactionsSupported(bson.M{"isWritablePrimary": true}))
	assert.False(t, transactionsSupported(bson.M{"setName": ""}))
}

func TestMongoBackend_PartialCommitLogged(t *testing.T) {
	backend := connectMongo(t)
	if backend.transactions {
		t.Skip("batches are atomic with transactions")
	}
	ctx := context.Background()

	_, err := backend.gameUsers.InsertOne(ctx, GameUser{ID: "gu1", GameID: "g1", UserID: "u1", TeamID: "red", Money: 100})
	require.NoError(t, err)

	logs := memory.New()
	log.SetHandler(logs)
	defer log.SetHandler(log.HandlerFunc(func(*log.Entry) error { return nil }))

	err = backend.Commit(ctx, Changes{Users: []GameUser{
		{ID: "gu1", GameID: "g1", UserID: "u1", TeamID: "red", Money: 40},
		{ID: "missing", GameID: "g1", UserID: "u2", TeamID: "red", Money: 60},
	}})
	assert.ErrorIs(t, err, ErrNotFound)

	var partial *log.Entry
	for _, e := range logs.Entries {
		if e.Level == log.ErrorLevel {
			partial = e
		}
	}
	require.NotNil(t, partial)
	assert.Contains(t, partial.Message, "game user gu1")
}
