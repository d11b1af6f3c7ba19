package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docedit/internal/model"
	"docedit/internal/repository"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateItemOutput), args.Error(1)
}

func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DeleteItemOutput), args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *mockAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

func item(t *testing.T, id, status string, version int64) map[string]types.AttributeValue {
	t.Helper()
	now := time.Now().UTC()
	av, err := attributevalue.MarshalMap(toItem(&model.Document{
		ID:        id,
		Key:       "key-" + id,
		FileType:  model.FileTypeXlsx,
		Version:   version,
		Status:    model.Status(status),
		OwnerID:   "owner-1",
		CreatedAt: now,
		UpdatedAt: now,
	}))
	require.NoError(t, err)
	return av
}

var conditionFailed = &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}

func TestDocumentDynamo_Create(t *testing.T) {
	ctx := context.Background()
	doc := &model.Document{ID: "a", Key: "key-a", Version: 1, Status: model.StatusReady, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	t.Run("success", func(t *testing.T) {
		api := new(mockAPI)
		api.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			return aws.ToString(in.TableName) == "documents" && in.ConditionExpression != nil
		})).Return(&dynamodb.PutItemOutput{}, nil)

		out, err := NewDocumentDynamo(api, "documents").Create(ctx, doc)

		require.NoError(t, err)
		assert.Equal(t, "key-a", out.Key)
		assert.Empty(t, out.ActiveEditors)
		api.AssertExpectations(t)
	})

	t.Run("duplicate", func(t *testing.T) {
		api := new(mockAPI)
		api.On("PutItem", ctx, mock.Anything).Return(nil, conditionFailed)

		_, err := NewDocumentDynamo(api, "documents").Create(ctx, doc)

		assert.ErrorIs(t, err, repository.ErrDuplicateKey)
	})
}

func TestDocumentDynamo_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("by id", func(t *testing.T) {
		api := new(mockAPI)
		api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item(t, "a", "editing", 4)}, nil)

		doc, err := NewDocumentDynamo(api, "documents").FindByID(ctx, "a")

		require.NoError(t, err)
		assert.Equal(t, int64(4), doc.Version)
		assert.Equal(t, model.StatusEditing, doc.Status)
		assert.Equal(t, model.FileTypeXlsx, doc.FileType)
	})

	t.Run("by id missing", func(t *testing.T) {
		api := new(mockAPI)
		api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		_, err := NewDocumentDynamo(api, "documents").FindByID(ctx, "a")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("by key reads the table consistently", func(t *testing.T) {
		api := new(mockAPI)
		// The index still shows the pre-claim state.
		api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
			return aws.ToString(in.IndexName) == keyIndex && aws.ToString(in.ProjectionExpression) != ""
		})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item(t, "a", "ready", 1)}}, nil)
		api.On("GetItem", ctx, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			id, ok := in.Key["id"].(*types.AttributeValueMemberS)
			return ok && id.Value == "a" && aws.ToBool(in.ConsistentRead)
		})).Return(&dynamodb.GetItemOutput{Item: item(t, "a", "saving", 1)}, nil)

		doc, err := NewDocumentDynamo(api, "documents").FindByKey(ctx, "key-a")

		require.NoError(t, err)
		assert.Equal(t, "a", doc.ID)
		assert.Equal(t, model.StatusSaving, doc.Status)
		api.AssertExpectations(t)
	})

	t.Run("by key deleted after index read", func(t *testing.T) {
		api := new(mockAPI)
		api.On("Query", ctx, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item(t, "a", "ready", 1)}}, nil)
		api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		_, err := NewDocumentDynamo(api, "documents").FindByKey(ctx, "key-a")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("by key missing", func(t *testing.T) {
		api := new(mockAPI)
		api.On("Query", ctx, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

		_, err := NewDocumentDynamo(api, "documents").FindByKey(ctx, "nope")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestDocumentDynamo_List(t *testing.T) {
	ctx := context.Background()
	api := new(mockAPI)
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.IndexName) == ownerIndex && in.ExclusiveStartKey == nil
	})).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{item(t, "a", "ready", 1)},
		LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "a"}},
	}, nil).Once()
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{item(t, "b", "ready", 1)},
	}, nil).Once()

	res, err := NewDocumentDynamo(api, "documents").List(ctx, "owner-1", repository.PageQuery{Limit: 10})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Items, 2)
	api.AssertExpectations(t)
}

func TestDocumentDynamo_ClaimSave(t *testing.T) {
	ctx := context.Background()

	t.Run("claimed", func(t *testing.T) {
		api := new(mockAPI)
		api.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			return in.ConditionExpression != nil && in.ReturnValues == types.ReturnValueAllNew
		})).Return(&dynamodb.UpdateItemOutput{Attributes: item(t, "a", "saving", 1)}, nil)

		doc, err := NewDocumentDynamo(api, "documents").ClaimSave(ctx, "a")

		require.NoError(t, err)
		assert.Equal(t, model.StatusSaving, doc.Status)
	})

	t.Run("already saving", func(t *testing.T) {
		api := new(mockAPI)
		api.On("UpdateItem", ctx, mock.Anything).Return(nil, conditionFailed)
		api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item(t, "a", "saving", 1)}, nil)

		_, err := NewDocumentDynamo(api, "documents").ClaimSave(ctx, "a")

		assert.ErrorIs(t, err, repository.ErrSaveInFlight)
	})

	t.Run("unknown id", func(t *testing.T) {
		api := new(mockAPI)
		api.On("UpdateItem", ctx, mock.Anything).Return(nil, conditionFailed)
		api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

		_, err := NewDocumentDynamo(api, "documents").ClaimSave(ctx, "a")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("transport error", func(t *testing.T) {
		api := new(mockAPI)
		api.On("UpdateItem", ctx, mock.Anything).Return(nil, errors.New("throttled"))

		_, err := NewDocumentDynamo(api, "documents").ClaimSave(ctx, "a")

		assert.ErrorContains(t, err, "throttled")
	})
}

func TestDocumentDynamo_CommitSave(t *testing.T) {
	ctx := context.Background()
	api := new(mockAPI)
	api.On("UpdateItem", ctx, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return in.UpdateExpression != nil
	})).Return(&dynamodb.UpdateItemOutput{Attributes: item(t, "a", "ready", 2)}, nil)

	doc, err := NewDocumentDynamo(api, "documents").CommitSave(ctx, "a", 10)

	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
}

func TestDocumentDynamo_ResetStaleSaves(t *testing.T) {
	ctx := context.Background()
	api := new(mockAPI)
	api.On("Scan", ctx, mock.Anything).Return(&dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{item(t, "a", "saving", 1), item(t, "b", "saving", 1)},
	}, nil)
	api.On("UpdateItem", ctx, mock.Anything).Return(&dynamodb.UpdateItemOutput{Attributes: item(t, "a", "ready", 1)}, nil).Once()
	api.On("UpdateItem", ctx, mock.Anything).Return(nil, conditionFailed).Once()

	n, err := NewDocumentDynamo(api, "documents").ResetStaleSaves(ctx, time.Now())

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	api.AssertExpectations(t)
}

func TestDocumentDynamo_Delete(t *testing.T) {
	ctx := context.Background()
	api := new(mockAPI)
	api.On("DeleteItem", ctx, mock.Anything).Return(&dynamodb.DeleteItemOutput{}, nil)

	require.NoError(t, NewDocumentDynamo(api, "documents").Delete(ctx, "a"))
	api.AssertExpectations(t)
}
