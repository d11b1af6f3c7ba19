package mocks

import (
	"context"
	"time"

	"docedit/internal/model"
	"docedit/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) document(args mock.Arguments) (*model.Document, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	args := m.Called(ctx, doc)
	if f, ok := args.Get(0).(func(context.Context, *model.Document) *model.Document); ok {
		return f(ctx, doc), args.Error(1)
	}
	return m.document(args)
}

func (m *MockDocumentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	return m.document(m.Called(ctx, id))
}

func (m *MockDocumentRepository) FindByKey(ctx context.Context, key string) (*model.Document, error) {
	return m.document(m.Called(ctx, key))
}

func (m *MockDocumentRepository) List(ctx context.Context, ownerID string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	args := m.Called(ctx, ownerID, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Document]), args.Error(1)
}

func (m *MockDocumentRepository) Update(ctx context.Context, id string, patch model.DocumentPatch) (*model.Document, error) {
	return m.document(m.Called(ctx, id, patch))
}

func (m *MockDocumentRepository) ClaimSave(ctx context.Context, id string) (*model.Document, error) {
	return m.document(m.Called(ctx, id))
}

func (m *MockDocumentRepository) CommitSave(ctx context.Context, id string, size int64) (*model.Document, error) {
	return m.document(m.Called(ctx, id, size))
}

func (m *MockDocumentRepository) ResetStaleSaves(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
