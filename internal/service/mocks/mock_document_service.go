package mocks

import (
	"context"
	"io"

	"docedit/internal/callback"
	"docedit/internal/model"
	"docedit/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockDocumentService struct {
	mock.Mock
}

func document(args mock.Arguments) (*model.Document, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Upload(ctx context.Context, owner model.User, r io.Reader, originalFilename, title string) (*model.Document, error) {
	return document(m.Called(ctx, owner, r, originalFilename, title))
}

func (m *MockDocumentService) List(ctx context.Context, ownerID string, limit, offset int) (*service.DocumentListResult, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentListResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, ownerID, id string) (*model.Document, error) {
	return document(m.Called(ctx, ownerID, id))
}

func (m *MockDocumentService) GetByKey(ctx context.Context, key string) (*model.Document, error) {
	return document(m.Called(ctx, key))
}

func (m *MockDocumentService) Open(ctx context.Context, key string) (*service.Download, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Download), args.Error(1)
}

func (m *MockDocumentService) HistoryURL(ctx context.Context, key string, version int64) (string, error) {
	args := m.Called(ctx, key, version)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, ownerID, id string) error {
	args := m.Called(ctx, ownerID, id)
	return args.Error(0)
}

type MockEditorService struct {
	mock.Mock
}

func (m *MockEditorService) BuildConfig(ctx context.Context, id string, user model.User, mode string) (*service.EditorConfig, error) {
	args := m.Called(ctx, id, user, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.EditorConfig), args.Error(1)
}

type MockCallbackService struct {
	mock.Mock
}

func (m *MockCallbackService) Handle(ctx context.Context, p callback.Payload) (*model.Document, error) {
	return document(m.Called(ctx, p))
}
