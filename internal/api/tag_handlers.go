package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/taggraph"
)

func (s *Server) registerTagRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listTags",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/tags",
		Summary:     "List tags",
		Description: "Returns the tag vocabulary in insertion order",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleListTags)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createTag",
		Method:        http.MethodPost,
		Path:          apiPrefix + "/tags",
		Summary:       "Create tag",
		Description:   "Creates a tag. Names are unique ignoring case.",
		Tags:          []string{"Tags"},
		Security:      bearer,
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateTag)

	huma.Register(s.api, huma.Operation{
		OperationID: "getTag",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/tags/{id}",
		Summary:     "Get tag",
		Description: "Returns a tag by ID",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleGetTag)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateTag",
		Method:      http.MethodPatch,
		Path:        apiPrefix + "/tags/{id}",
		Summary:     "Update tag",
		Description: "Redefines a tag's name, color, parents and children",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleUpdateTag)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteTag",
		Method:      http.MethodDelete,
		Path:        apiPrefix + "/tags/{id}",
		Summary:     "Delete tag",
		Description: "Deletes a tag and removes it from every highlight",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleDeleteTag)

	huma.Register(s.api, huma.Operation{
		OperationID: "selectTags",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/tags/select",
		Summary:     "Select tags",
		Description: "Returns the IDs of tags matching a bulk selection mode",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleSelectTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "reparentTags",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/tags/reparent",
		Summary:     "Reparent tags",
		Description: "Files many tags under a single parent, replacing their parents",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleReparentTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteTags",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/tags/delete",
		Summary:     "Delete tags",
		Description: "Deletes many tags and removes them from every highlight",
		Tags:        []string{"Tags"},
		Security:    bearer,
	}, s.handleDeleteTags)
}

// === DTOs ===

// ListTagsResponse contains a list of tags.
type ListTagsResponse struct {
	Tags []domain.Tag `json:"tags" doc:"List of tags"`
}

// ListTagsOutput wraps the list tags response for Huma.
type ListTagsOutput struct {
	Body ListTagsResponse
}

// CreateTagInput wraps the create tag request for Huma.
type CreateTagInput struct {
	Body taggraph.Input
}

// TagOutput wraps the tag response for Huma.
type TagOutput struct {
	Body domain.Tag
}

// TagIDInput contains the tag ID path parameter.
type TagIDInput struct {
	ID string `path:"id" doc:"Tag ID"`
}

// UpdateTagInput wraps the update tag request for Huma.
type UpdateTagInput struct {
	ID   string `path:"id" doc:"Tag ID"`
	Body taggraph.Input
}

// SelectTagsInput wraps the selection criteria for Huma.
type SelectTagsInput struct {
	Body taggraph.Criteria
}

// TagIDsResponse lists tag IDs.
type TagIDsResponse struct {
	TagIDs []string `json:"tagIds" doc:"Matching tag IDs"`
}

// TagIDsOutput wraps a tag ID list for Huma.
type TagIDsOutput struct {
	Body TagIDsResponse
}

// ReparentRequest is the request body for reparenting tags.
type ReparentRequest struct {
	TagIDs   []string `json:"tagIds" minItems:"1" doc:"Tags to move"`
	ParentID string   `json:"parentId,omitempty" doc:"New parent tag ID; empty clears the parents"`
}

// ReparentInput wraps the reparent request for Huma.
type ReparentInput struct {
	Body ReparentRequest
}

// DeleteTagsRequest is the request body for deleting many tags.
type DeleteTagsRequest struct {
	TagIDs []string `json:"tagIds" minItems:"1" doc:"Tags to delete"`
}

// DeleteTagsInput wraps the bulk delete request for Huma.
type DeleteTagsInput struct {
	Body DeleteTagsRequest
}

// === Handlers ===

func (s *Server) handleListTags(_ context.Context, _ *struct{}) (*ListTagsOutput, error) {
	return &ListTagsOutput{Body: ListTagsResponse{Tags: s.tags.List()}}, nil
}

func (s *Server) handleCreateTag(ctx context.Context, input *CreateTagInput) (*TagOutput, error) {
	tag, err := s.tags.Create(ctx, input.Body)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &TagOutput{Body: *tag}, nil
}

func (s *Server) handleGetTag(_ context.Context, input *TagIDInput) (*TagOutput, error) {
	tag, ok := s.tags.Get(input.ID)
	if !ok {
		return nil, toAPIError(taggraph.ErrTagNotFound)
	}
	return &TagOutput{Body: tag}, nil
}

func (s *Server) handleUpdateTag(ctx context.Context, input *UpdateTagInput) (*TagOutput, error) {
	tag, err := s.tags.Update(ctx, input.ID, input.Body)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &TagOutput{Body: *tag}, nil
}

func (s *Server) handleDeleteTag(ctx context.Context, input *TagIDInput) (*MessageOutput, error) {
	if err := s.tags.Delete(ctx, input.ID); err != nil {
		return nil, toAPIError(err)
	}
	return &MessageOutput{Body: MessageResponse{Message: "Tag deleted"}}, nil
}

func (s *Server) handleSelectTags(_ context.Context, input *SelectTagsInput) (*TagIDsOutput, error) {
	ids := s.tags.Select(input.Body)
	if ids == nil {
		ids = []string{}
	}
	return &TagIDsOutput{Body: TagIDsResponse{TagIDs: ids}}, nil
}

func (s *Server) handleReparentTags(ctx context.Context, input *ReparentInput) (*CountOutput, error) {
	n, err := s.tags.Reparent(ctx, input.Body.TagIDs, input.Body.ParentID)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &CountOutput{Body: CountResponse{Count: n}}, nil
}

func (s *Server) handleDeleteTags(ctx context.Context, input *DeleteTagsInput) (*CountOutput, error) {
	n, err := s.tags.DeleteMany(ctx, input.Body.TagIDs)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &CountOutput{Body: CountResponse{Count: n}}, nil
}
