package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mnemomark/mnemomark/internal/domain"
)

func (s *Server) registerSyncRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "pullTags",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/sync/pull",
		Summary:     "Pull tags",
		Description: "Replaces the local tags with the account's list. No-op unless sharing.",
		Tags:        []string{"Sync"},
		Security:    bearer,
	}, s.handlePull)

	huma.Register(s.api, huma.Operation{
		OperationID: "pushTags",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/sync/push",
		Summary:     "Push tags",
		Description: "Overwrites the account's tag list with the local one. No-op unless sharing.",
		Tags:        []string{"Sync"},
		Security:    bearer,
	}, s.handlePush)
}

// PullResponse reports the outcome of a pull.
type PullResponse struct {
	Pulled bool         `json:"pulled" doc:"False when the account holds no tag list or is not sharing"`
	Tags   []domain.Tag `json:"tags" doc:"Local tags after the pull"`
}

// PullOutput wraps the pull response for Huma.
type PullOutput struct {
	Body PullResponse
}

func (s *Server) handlePull(ctx context.Context, _ *struct{}) (*PullOutput, error) {
	if s.session.Current() == nil {
		return nil, newAPIErrorNotSignedIn()
	}
	pulled, err := s.sync.PullTags(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &PullOutput{Body: PullResponse{Pulled: pulled != nil, Tags: s.tags.List()}}, nil
}

func (s *Server) handlePush(ctx context.Context, _ *struct{}) (*MessageOutput, error) {
	if s.session.Current() == nil {
		return nil, newAPIErrorNotSignedIn()
	}
	if err := s.sync.PushTags(ctx); err != nil {
		return nil, toAPIError(err)
	}
	return &MessageOutput{Body: MessageResponse{Message: "Tags pushed"}}, nil
}
