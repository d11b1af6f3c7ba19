package service

import (
	"context"
	"maps"
	"strings"
	"time"

	"docedit/internal/config"
	"docedit/internal/model"
	"docedit/internal/repository"
)

// Editor modes accepted by BuildConfig.
const (
	ModeEdit = "edit"
	ModeView = "view"
)

// TokenIssuer signs editor capabilities.
type TokenIssuer interface {
	Issue(key string, user model.User, permissions map[string]bool, ttl time.Duration) (string, error)
}

// EditorConfig is the document server configuration object.
type EditorConfig struct {
	Document          EditorDocument     `json:"document"`
	DocumentType      model.DocumentType `json:"documentType"`
	EditorConfig      EditorSettings     `json:"editorConfig"`
	Token             string             `json:"token"`
	DocumentServerURL string             `json:"documentServerUrl,omitempty"`
}

type EditorDocument struct {
	FileType    model.FileType  `json:"fileType"`
	Key         string          `json:"key"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	Permissions map[string]bool `json:"permissions"`
	Info        DocumentInfo    `json:"info"`
}

type DocumentInfo struct {
	Owner    string    `json:"owner"`
	Uploaded time.Time `json:"uploaded"`
}

type EditorSettings struct {
	Mode          string         `json:"mode"`
	CallbackURL   string         `json:"callbackUrl"`
	User          model.User     `json:"user"`
	Customization map[string]any `json:"customization"`
}

// EditorService builds the configuration handed to the external editor.
type EditorService interface {
	BuildConfig(ctx context.Context, id string, user model.User, mode string) (*EditorConfig, error)
}

// EditorOptions are the URLs and lifetimes used in generated configs.
type EditorOptions struct {
	AppURL            string
	DocumentServerURL string
	TokenTTL          time.Duration
}

type editorService struct {
	repo    repository.DocumentRepository
	issuer  TokenIssuer
	profile config.EditorProfile
	opts    EditorOptions
}

// NewEditorService constructs an EditorService.
func NewEditorService(repo repository.DocumentRepository, issuer TokenIssuer, profile config.EditorProfile, opts EditorOptions) EditorService {
	opts.AppURL = strings.TrimRight(opts.AppURL, "/")
	return &editorService{repo: repo, issuer: issuer, profile: profile, opts: opts}
}

func (s *editorService) BuildConfig(ctx context.Context, id string, user model.User, mode string) (*EditorConfig, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	switch mode {
	case "":
		mode = ModeEdit
	case ModeEdit, ModeView:
	default:
		return nil, ErrInvalidMode
	}

	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	perms := maps.Clone(s.profile.Permissions)
	if perms == nil {
		perms = map[string]bool{}
	}
	if mode == ModeView {
		perms["edit"] = false
	}

	token, err := s.issuer.Issue(doc.Key, user, perms, s.opts.TokenTTL)
	if err != nil {
		return nil, err
	}

	return &EditorConfig{
		Document: EditorDocument{
			FileType:    doc.FileType,
			Key:         doc.Key,
			Title:       doc.Title,
			URL:         s.opts.AppURL + "/api/documents/" + doc.Key + "/download",
			Permissions: perms,
			Info: DocumentInfo{
				Owner:    doc.OwnerID,
				Uploaded: doc.CreatedAt,
			},
		},
		DocumentType: doc.FileType.DocumentType(),
		EditorConfig: EditorSettings{
			Mode:          mode,
			CallbackURL:   s.opts.AppURL + "/api/callback",
			User:          user,
			Customization: maps.Clone(s.profile.Customization),
		},
		Token:             token,
		DocumentServerURL: s.opts.DocumentServerURL,
	}, nil
}
