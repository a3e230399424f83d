package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoStore はMongoDBクライアントと使用するデータベースをまとめたもの。
type MongoStore struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// OpenMongo はMongoDBクライアントを生成する。
// mongo.Connectは接続を待たないため、疎通確認にはPingContextを使用すること。
func OpenMongo(uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}
	return &MongoStore{
		Client: client,
		DB:     client.Database(database),
	}, nil
}

// PingContext はプライマリへの疎通を確認する。
func (s *MongoStore) PingContext(ctx context.Context) error {
	return s.Client.Ping(ctx, readpref.Primary())
}

// Close はクライアントを切断する。
func (s *MongoStore) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// EnsureIndexes はusers.emailの一意インデックスとtodosの作成者インデックスを作成する。
// 既に存在する場合は何もしない。PostgreSQLのマイグレーションに相当する。
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("users").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("users_email_unique"),
		},
		{
			Keys:    bson.D{{Key: "_id", Value: 1}, {Key: "tokens.token", Value: 1}},
			Options: options.Index().SetName("users_tokens"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	_, err = db.Collection("todos").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "_creator", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("todos_creator"),
	})
	if err != nil {
		return fmt.Errorf("failed to create todos indexes: %w", err)
	}
	return nil
}
