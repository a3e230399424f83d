package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/todoman/internal/model"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsersCollection はユーザードキュメントのコレクション名。
const UsersCollection = "users"

// mongoUser はusersコレクションのドキュメント表現。
type mongoUser struct {
	ID        string        `bson:"_id"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	Tokens    []model.Token `bson:"tokens"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

func (d *mongoUser) toModel() *model.User {
	tokens := d.Tokens
	if tokens == nil {
		tokens = []model.Token{}
	}
	return &model.User{
		ID:        d.ID,
		Email:     d.Email,
		Password:  d.Password,
		Tokens:    tokens,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
// トークンリストはドキュメント内の配列で、$push/$pullによる単一ドキュメント更新で変更する。
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(UsersCollection)}
}

// Create はユーザーを作成する。emailの一意インデックス違反はErrDuplicateEmailとして返す。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	tokens := user.Tokens
	if tokens == nil {
		tokens = []model.Token{}
	}
	_, err := r.coll.InsertOne(ctx, mongoUser{
		ID:        user.ID,
		Email:     user.Email,
		Password:  user.Password,
		Tokens:    tokens,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

// FindByIDAndToken はIDが一致し、アクセス種別とトークンの組を同一要素として保持するユーザーを取得する。
func (r *MongoUserRepo) FindByIDAndToken(ctx context.Context, id, access, token string) (*model.User, error) {
	return r.findOne(ctx, bson.M{
		"_id": id,
		"tokens": bson.M{"$elemMatch": bson.M{
			"access": access,
			"token":  token,
		}},
	})
}

// AddToken はトークンリストの末尾に$pushでエントリを追加する。
func (r *MongoUserRepo) AddToken(ctx context.Context, userID string, token model.Token) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$push": bson.M{"tokens": token},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to add token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveToken はトークン文字列が一致するエントリを$pullで除去する。
func (r *MongoUserRepo) RemoveToken(ctx context.Context, userID, token string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$pull": bson.M{"tokens": bson.M{"token": token}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

// UpdatePassword はパスワードハッシュを更新し、トークンリストを空にする。
func (r *MongoUserRepo) UpdatePassword(ctx context.Context, userID, digest string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"password":  digest,
			"tokens":    bson.A{},
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *MongoUserRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc mongoUser
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
