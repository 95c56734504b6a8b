package database

import (
	"context"
	"strings"
	"time"

	"dworekgo/core"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoBackend struct {
	client       *mongo.Client
	transactions bool
	log          *log.Entry

	sessions  *mongo.Collection
	users     *mongo.Collection
	games     *mongo.Collection
	teams     *mongo.Collection
	gameUsers *mongo.Collection
	factories *mongo.Collection
}

func NewMongoBackend(ctx context.Context, config *core.ServerConfig) (*MongoBackend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.Backend.Server))
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to mongodb")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongodb did not answer ping")
	}

	db := client.Database(config.Backend.Database)
	backend := &MongoBackend{
		client:       client,
		transactions: config.Backend.Transactions,
		log: log.WithFields(log.Fields{
			"name":    "MongoBackend",
			"modName": "MongoBackend",
		}),
		sessions:  db.Collection("sessions"),
		users:     db.Collection("users"),
		games:     db.Collection("games"),
		teams:     db.Collection("teams"),
		gameUsers: db.Collection("game_users"),
		factories: db.Collection("factories"),
	}

	if err := backend.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	if backend.transactions {
		var hello bson.M
		if err := client.Database("admin").RunCommand(connectCtx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
			client.Disconnect(context.Background())
			return nil, errors.Wrap(err, "unable to query mongodb topology")
		}
		if !transactionsSupported(hello) {
			client.Disconnect(context.Background())
			return nil, errors.New("mongodb is a standalone server without transactions; " +
				"run a replica set or set backend.transactions to false")
		}
	} else {
		backend.log.Warn("Transactions are disabled, a failing commit can leave a batch partially written")
	}

	return backend, nil
}

func (b *MongoBackend) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection]mongo.IndexModel{
		b.sessions:  {Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		b.gameUsers: {Keys: bson.D{{Key: "game_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		b.factories: {Keys: bson.D{{Key: "game_id", Value: 1}}},
		b.teams:     {Keys: bson.D{{Key: "game_id", Value: 1}}},
	}
	for coll, model := range indexes {
		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
			return errors.Wrapf(err, "unable to create index on %s", coll.Name())
		}
	}
	return nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.D, what string) (*T, error) {
	var doc T
	if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Wrap(ErrNotFound, what)
		}
		return nil, errors.Wrapf(err, "unable to find %s", what)
	}
	return &doc, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.D, what string) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to query %s", what)
	}
	docs := []T{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "unable to decode %s", what)
	}
	return docs, nil
}

func (b *MongoBackend) SessionByToken(ctx context.Context, token string) (*Session, error) {
	return findOne[Session](ctx, b.sessions, bson.D{{Key: "token", Value: token}}, "session")
}

func (b *MongoBackend) User(ctx context.Context, id string) (*User, error) {
	return findOne[User](ctx, b.users, bson.D{{Key: "_id", Value: id}}, "user "+id)
}

func (b *MongoBackend) Game(ctx context.Context, id string) (*Game, error) {
	return findOne[Game](ctx, b.games, bson.D{{Key: "_id", Value: id}}, "game "+id)
}

func (b *MongoBackend) SetGameStage(ctx context.Context, id string, stage GameStage) error {
	res, err := b.games.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: bson.D{{Key: "stage", Value: stage}}}})
	if err != nil {
		return errors.Wrapf(err, "unable to update stage of game %s", id)
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(ErrNotFound, "game %s", id)
	}
	return nil
}

func (b *MongoBackend) Teams(ctx context.Context, gameID string) ([]Team, error) {
	return findAll[Team](ctx, b.teams, bson.D{{Key: "game_id", Value: gameID}}, "teams")
}

func (b *MongoBackend) GameUsers(ctx context.Context, gameID string) ([]GameUser, error) {
	return findAll[GameUser](ctx, b.gameUsers, bson.D{{Key: "game_id", Value: gameID}}, "game users")
}

func (b *MongoBackend) GameUser(ctx context.Context, gameID string, userID string) (*GameUser, error) {
	return findOne[GameUser](ctx, b.gameUsers, bson.D{{Key: "game_id", Value: gameID}, {Key: "user_id", Value: userID}},
		"user "+userID+" in game "+gameID)
}

func (b *MongoBackend) Factory(ctx context.Context, id string) (*Factory, error) {
	return findOne[Factory](ctx, b.factories, bson.D{{Key: "_id", Value: id}}, "factory "+id)
}

func (b *MongoBackend) Factories(ctx context.Context, gameID string) ([]Factory, error) {
	return findAll[Factory](ctx, b.factories, bson.D{{Key: "game_id", Value: gameID}}, "factories")
}

// transactionsSupported reports whether a hello reply comes from a replica set
// member or a mongos, the deployments that run multi-document transactions.
func transactionsSupported(hello bson.M) bool {
	if name, ok := hello["setName"].(string); ok && name != "" {
		return true
	}
	msg, _ := hello["msg"].(string)
	return msg == "isdbgrid"
}

// apply writes the batch in order and returns the writes that succeeded before
// any failure.
func (b *MongoBackend) apply(ctx context.Context, changes Changes) ([]string, error) {
	var applied []string
	for _, gu := range changes.Users {
		res, err := b.gameUsers.ReplaceOne(ctx, bson.D{{Key: "_id", Value: gu.ID}}, gu)
		if err != nil {
			return applied, errors.Wrapf(err, "unable to write game user %s", gu.ID)
		}
		if res.MatchedCount == 0 {
			return applied, errors.Wrapf(ErrNotFound, "game user %s", gu.ID)
		}
		applied = append(applied, "game user "+gu.ID)
	}
	for _, f := range changes.Factories {
		res, err := b.factories.ReplaceOne(ctx, bson.D{{Key: "_id", Value: f.ID}}, f)
		if err != nil {
			return applied, errors.Wrapf(err, "unable to write factory %s", f.ID)
		}
		if res.MatchedCount == 0 {
			return applied, errors.Wrapf(ErrNotFound, "factory %s", f.ID)
		}
		applied = append(applied, "factory "+f.ID)
	}
	for _, f := range changes.Created {
		if _, err := b.factories.InsertOne(ctx, f); err != nil {
			return applied, errors.Wrapf(err, "unable to create factory %s", f.ID)
		}
		applied = append(applied, "new factory "+f.ID)
	}
	for _, id := range changes.Deleted {
		if _, err := b.factories.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
			return applied, errors.Wrapf(err, "unable to delete factory %s", id)
		}
		applied = append(applied, "deleted factory "+id)
	}
	return applied, nil
}

func (b *MongoBackend) Commit(ctx context.Context, changes Changes) error {
	if changes.Empty() {
		return nil
	}
	if !b.transactions {
		applied, err := b.apply(ctx, changes)
		if err != nil && len(applied) > 0 {
			b.log.WithError(err).Errorf("Partial commit, already written: %s", strings.Join(applied, ", "))
		}
		return err
	}

	session, err := b.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "unable to start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		_, err := b.apply(sc, changes)
		return nil, err
	})
	return err
}

func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}
