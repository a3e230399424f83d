package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/todoman/internal/model"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// TodosCollection はTODOドキュメントのコレクション名。
const TodosCollection = "todos"

// mongoTodo はtodosコレクションのドキュメント表現。
type mongoTodo struct {
	ID          string     `bson:"_id"`
	Text        string     `bson:"text"`
	Completed   bool       `bson:"completed"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	CreatorID   string     `bson:"_creator"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

func (d *mongoTodo) toModel() *model.Todo {
	return &model.Todo{
		ID:          d.ID,
		Text:        d.Text,
		Completed:   d.Completed,
		CompletedAt: d.CompletedAt,
		CreatorID:   d.CreatorID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// MongoTodoRepo はMongoDBを使用したTODOリポジトリ。
type MongoTodoRepo struct {
	coll *mongo.Collection
}

// NewMongoTodoRepo はMongoTodoRepoを生成する。
func NewMongoTodoRepo(db *mongo.Database) *MongoTodoRepo {
	return &MongoTodoRepo{coll: db.Collection(TodosCollection)}
}

// Create はTODOを作成する。
func (r *MongoTodoRepo) Create(ctx context.Context, todo *model.Todo) error {
	_, err := r.coll.InsertOne(ctx, mongoTodo{
		ID:          todo.ID,
		Text:        todo.Text,
		Completed:   todo.Completed,
		CompletedAt: todo.CompletedAt,
		CreatorID:   todo.CreatorID,
		CreatedAt:   todo.CreatedAt,
		UpdatedAt:   todo.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert todo: %w", err)
	}
	return nil
}

// ListByCreator は作成者のTODO一覧を作成日時順で返す。
func (r *MongoTodoRepo) ListByCreator(ctx context.Context, creatorID string) ([]*model.Todo, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"_creator": creatorID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}

	var docs []mongoTodo
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode todos: %w", err)
	}

	todos := make([]*model.Todo, 0, len(docs))
	for i := range docs {
		todos = append(todos, docs[i].toModel())
	}
	return todos, nil
}

// FindByIDAndCreator はIDと作成者IDでTODOを取得する。見つからない場合はnilを返す。
func (r *MongoTodoRepo) FindByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error) {
	return decodeTodo(r.coll.FindOne(ctx, ownedFilter(id, creatorID)))
}

// DeleteByIDAndCreator はIDと作成者IDでTODOを削除し、削除したTODOを返す。
func (r *MongoTodoRepo) DeleteByIDAndCreator(ctx context.Context, id, creatorID string) (*model.Todo, error) {
	return decodeTodo(r.coll.FindOneAndDelete(ctx, ownedFilter(id, creatorID)))
}

// UpdateByIDAndCreator は部分更新をfindOneAndUpdateの更新パイプラインで1回で適用する。
// completedAtは$ifNullで既存値を優先するため、完了済みのTODOを再度完了にしても日時は変わらない。
func (r *MongoTodoRepo) UpdateByIDAndCreator(ctx context.Context, id, creatorID string, patch model.TodoPatch, now time.Time) (*model.Todo, error) {
	return decodeTodo(r.coll.FindOneAndUpdate(ctx,
		ownedFilter(id, creatorID),
		todoUpdatePipeline(patch, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	))
}

// DeleteByCreator は作成者の全TODOを削除する。
func (r *MongoTodoRepo) DeleteByCreator(ctx context.Context, creatorID string) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"_creator": creatorID}); err != nil {
		return fmt.Errorf("failed to delete todos: %w", err)
	}
	return nil
}

// todoUpdatePipeline はTodoPatchから更新パイプラインを組み立てる。
// テキストは$literalで包み、"$"で始まる文字列がフィールド参照として解釈されないようにする。
func todoUpdatePipeline(patch model.TodoPatch, now time.Time) mongo.Pipeline {
	set := bson.D{{Key: "updatedAt", Value: now}}
	if patch.Text != nil {
		set = append(set, bson.E{Key: "text", Value: bson.D{{Key: "$literal", Value: *patch.Text}}})
	}

	clearCompletedAt := false
	if patch.Completed != nil {
		set = append(set, bson.E{Key: "completed", Value: *patch.Completed})
		if *patch.Completed {
			set = append(set, bson.E{Key: "completedAt", Value: bson.D{
				{Key: "$ifNull", Value: bson.A{"$completedAt", now}},
			}})
		} else {
			clearCompletedAt = true
		}
	}

	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}
	if clearCompletedAt {
		pipeline = append(pipeline, bson.D{{Key: "$unset", Value: "completedAt"}})
	}
	return pipeline
}

func ownedFilter(id, creatorID string) bson.M {
	return bson.M{"_id": id, "_creator": creatorID}
}

func decodeTodo(res *mongo.SingleResult) (*model.Todo, error) {
	var doc mongoTodo
	err := res.Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode todo: %w", err)
	}
	return doc.toModel(), nil
}

// compile-time interface check
var _ TodoRepository = (*MongoTodoRepo)(nil)
