package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mnemomark/mnemomark/internal/annotation"
	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/id"
)

func (s *Server) registerHighlightRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listDocumentHighlights",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/documents/{doc}/highlights",
		Summary:     "List document highlights",
		Description: "Returns the stored highlights of one document in insertion order",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleListDocumentHighlights)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createHighlight",
		Method:        http.MethodPost,
		Path:          apiPrefix + "/documents/{doc}/highlights",
		Summary:       "Create highlight",
		Description:   "Stores a highlight. Selected tags are expanded with their ancestors.",
		Tags:          []string{"Highlights"},
		Security:      bearer,
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateHighlight",
		Method:      http.MethodPatch,
		Path:        apiPrefix + "/documents/{doc}/highlights/{id}",
		Summary:     "Update highlight",
		Description: "Changes the note or colors of a highlight",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleUpdateHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteHighlight",
		Method:      http.MethodDelete,
		Path:        apiPrefix + "/documents/{doc}/highlights/{id}",
		Summary:     "Delete highlight",
		Description: "Deletes a highlight. Unknown ids are not an error.",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleDeleteHighlight)

	huma.Register(s.api, huma.Operation{
		OperationID: "setHighlightTags",
		Method:      http.MethodPut,
		Path:        apiPrefix + "/documents/{doc}/highlights/{id}/tags",
		Summary:     "Set highlight tags",
		Description: "Replaces the tags of a highlight with the selection plus all ancestors",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleSetHighlightTags)

	huma.Register(s.api, huma.Operation{
		OperationID: "selectHighlights",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/highlights",
		Summary:     "Search highlights",
		Description: "Returns highlights across all documents filtered by tag and text",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleSelectHighlights)

	huma.Register(s.api, huma.Operation{
		OperationID: "exportHighlights",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/highlights/export",
		Summary:     "Export highlights",
		Description: "Renders highlights as plain text for the clipboard",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleExportHighlights)

	huma.Register(s.api, huma.Operation{
		OperationID: "tagHighlights",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/highlights/tag",
		Summary:     "Tag highlights",
		Description: "Adds a tag and its ancestors to many highlights",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleTagHighlights)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteHighlights",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/highlights/delete",
		Summary:     "Delete highlights",
		Description: "Deletes many highlights across documents",
		Tags:        []string{"Highlights"},
		Security:    bearer,
	}, s.handleDeleteHighlights)
}

// === DTOs ===

// DocumentInput identifies a document. The id is URL-escaped in the path.
type DocumentInput struct {
	Doc string `path:"doc" doc:"URL-escaped document identifier"`
}

// HighlightInput identifies a highlight within a document.
type HighlightInput struct {
	Doc string `path:"doc" doc:"URL-escaped document identifier"`
	ID  string `path:"id" doc:"Highlight ID"`
}

// HighlightsResponse contains the highlights of one document.
type HighlightsResponse struct {
	DocumentID string             `json:"documentId" doc:"Document identifier"`
	Highlights []domain.Highlight `json:"highlights" doc:"Highlights in insertion order"`
}

// HighlightsOutput wraps the highlight list for Huma.
type HighlightsOutput struct {
	Body HighlightsResponse
}

// CreateHighlightRequest is the request body for storing a highlight.
type CreateHighlightRequest struct {
	PageNumber int                     `json:"pageNumber" minimum:"1" doc:"1-based page number"`
	Rects      []domain.NormalizedRect `json:"rects" minItems:"1" doc:"Rectangles as page fractions"`
	Text       string                  `json:"text" doc:"Selected text"`
	Fill       string                  `json:"fill,omitempty" doc:"Fill color"`
	Stroke     string                  `json:"stroke,omitempty" doc:"Stroke color"`
	Tags       []string                `json:"tags,omitempty" doc:"Selected tag IDs"`
	Note       string                  `json:"note,omitempty" doc:"Free-form note"`
}

// CreateHighlightInput wraps the create request for Huma.
type CreateHighlightInput struct {
	Doc  string `path:"doc" doc:"URL-escaped document identifier"`
	Body CreateHighlightRequest
}

// HighlightOutput wraps one highlight for Huma.
type HighlightOutput struct {
	Body domain.Highlight
}

// UpdateHighlightRequest is the request body for changing a highlight.
type UpdateHighlightRequest struct {
	Note   *string `json:"note,omitempty" doc:"Note; empty removes it"`
	Fill   *string `json:"fill,omitempty" doc:"Fill color"`
	Stroke *string `json:"stroke,omitempty" doc:"Stroke color"`
}

// UpdateHighlightInput wraps the update request for Huma.
type UpdateHighlightInput struct {
	Doc  string `path:"doc" doc:"URL-escaped document identifier"`
	ID   string `path:"id" doc:"Highlight ID"`
	Body UpdateHighlightRequest
}

// SetTagsRequest is the request body for replacing a highlight's tags.
type SetTagsRequest struct {
	TagIDs []string `json:"tagIds" doc:"Selected tag IDs; ancestors are added"`
}

// SetTagsInput wraps the set tags request for Huma.
type SetTagsInput struct {
	Doc  string `path:"doc" doc:"URL-escaped document identifier"`
	ID   string `path:"id" doc:"Highlight ID"`
	Body SetTagsRequest
}

// SelectHighlightsInput filters highlights across documents.
type SelectHighlightsInput struct {
	Tag  string `query:"tag" doc:"Only highlights carrying this tag ID"`
	Text string `query:"text" doc:"Only highlights whose text contains this, ignoring case"`
}

// DocumentHighlightsResponse contains highlights from many documents.
type DocumentHighlightsResponse struct {
	Highlights []domain.DocumentHighlight `json:"highlights" doc:"Matching highlights"`
	Total      int                        `json:"total" doc:"Number of matches"`
}

// DocumentHighlightsOutput wraps the cross-document list for Huma.
type DocumentHighlightsOutput struct {
	Body DocumentHighlightsResponse
}

// ExportRequest selects the highlights to export. Refs win over the filters.
type ExportRequest struct {
	Refs  []annotation.Ref `json:"refs,omitempty" doc:"Explicit highlights to export"`
	TagID string           `json:"tagId,omitempty" doc:"Tag filter when refs are absent"`
	Text  string           `json:"text,omitempty" doc:"Text filter when refs are absent"`
}

// ExportInput wraps the export request for Huma.
type ExportInput struct {
	Body ExportRequest
}

// ExportResponse contains the rendered export.
type ExportResponse struct {
	Text  string `json:"text" doc:"Plain-text export"`
	Count int    `json:"count" doc:"Number of highlights exported"`
}

// ExportOutput wraps the export response for Huma.
type ExportOutput struct {
	Body ExportResponse
}

// TagHighlightsRequest applies a tag to many highlights.
type TagHighlightsRequest struct {
	Refs    []annotation.Ref `json:"refs" minItems:"1" doc:"Highlights to tag"`
	TagName string           `json:"tagName" minLength:"1" doc:"Tag name, matched ignoring case"`
}

// TagHighlightsInput wraps the bulk tag request for Huma.
type TagHighlightsInput struct {
	Body TagHighlightsRequest
}

// RefsRequest names highlights across documents.
type RefsRequest struct {
	Refs []annotation.Ref `json:"refs" minItems:"1" doc:"Highlights to act on"`
}

// RefsInput wraps a refs request for Huma.
type RefsInput struct {
	Body RefsRequest
}

// MessageResponse carries a confirmation message.
type MessageResponse struct {
	Message string `json:"message" doc:"Confirmation message"`
}

// MessageOutput wraps a message for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// CountResponse reports how many items an operation changed.
type CountResponse struct {
	Count int `json:"count" doc:"Number of items changed"`
}

// CountOutput wraps a count for Huma.
type CountOutput struct {
	Body CountResponse
}

// documentID decodes the escaped path segment; ids may contain slashes.
func documentID(raw string) (string, error) {
	doc, err := url.PathUnescape(raw)
	if err != nil {
		return "", huma.Error400BadRequest("Invalid document identifier")
	}
	if strings.TrimSpace(doc) == "" {
		return "", huma.Error400BadRequest("Document identifier is required")
	}
	return doc, nil
}

// === Handlers ===

func (s *Server) handleListDocumentHighlights(ctx context.Context, input *DocumentInput) (*HighlightsOutput, error) {
	doc, err := documentID(input.Doc)
	if err != nil {
		return nil, err
	}
	hs, err := s.highlights.Load(ctx, doc)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &HighlightsOutput{Body: HighlightsResponse{DocumentID: doc, Highlights: hs}}, nil
}

func (s *Server) handleCreateHighlight(ctx context.Context, input *CreateHighlightInput) (*HighlightOutput, error) {
	doc, err := documentID(input.Doc)
	if err != nil {
		return nil, err
	}

	h := domain.Highlight{
		ID:         id.Highlight(),
		PageNumber: input.Body.PageNumber,
		Rects:      input.Body.Rects,
		Text:       input.Body.Text,
		Fill:       input.Body.Fill,
		Stroke:     input.Body.Stroke,
		Tags:       s.tags.ExpandWithAncestors(input.Body.Tags),
		Note:       strings.TrimSpace(input.Body.Note),
	}
	h.Fill, h.Stroke = h.Colors()
	if h.Tags == nil {
		h.Tags = []string{}
	}

	if err := s.highlights.Save(ctx, doc, h); err != nil {
		return nil, toAPIError(err)
	}
	return &HighlightOutput{Body: h}, nil
}

func (s *Server) handleUpdateHighlight(ctx context.Context, input *UpdateHighlightInput) (*HighlightOutput, error) {
	doc, err := documentID(input.Doc)
	if err != nil {
		return nil, err
	}

	patch := annotation.Patch{Fill: input.Body.Fill, Stroke: input.Body.Stroke}
	if input.Body.Note != nil {
		note := strings.TrimSpace(*input.Body.Note)
		patch.Note = &note
	}

	h, err := s.highlights.Update(ctx, doc, input.ID, patch)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &HighlightOutput{Body: *h}, nil
}

func (s *Server) handleDeleteHighlight(ctx context.Context, input *HighlightInput) (*MessageOutput, error) {
	doc, err := documentID(input.Doc)
	if err != nil {
		return nil, err
	}
	if err := s.highlights.Delete(ctx, doc, input.ID); err != nil {
		return nil, toAPIError(err)
	}
	return &MessageOutput{Body: MessageResponse{Message: "Highlight deleted"}}, nil
}

func (s *Server) handleSetHighlightTags(ctx context.Context, input *SetTagsInput) (*HighlightOutput, error) {
	doc, err := documentID(input.Doc)
	if err != nil {
		return nil, err
	}
	h, err := s.tags.SetHighlightTags(ctx, doc, input.ID, input.Body.TagIDs)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &HighlightOutput{Body: *h}, nil
}

func (s *Server) handleSelectHighlights(ctx context.Context, input *SelectHighlightsInput) (*DocumentHighlightsOutput, error) {
	hs, err := s.highlights.Select(ctx, annotation.Criteria{TagID: input.Tag, Text: input.Text})
	if err != nil {
		return nil, toAPIError(err)
	}
	return &DocumentHighlightsOutput{Body: DocumentHighlightsResponse{Highlights: hs, Total: len(hs)}}, nil
}

func (s *Server) handleExportHighlights(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	var (
		hs  []domain.DocumentHighlight
		err error
	)
	if len(input.Body.Refs) > 0 {
		hs, err = s.selectRefs(ctx, input.Body.Refs)
	} else {
		hs, err = s.highlights.Select(ctx, annotation.Criteria{TagID: input.Body.TagID, Text: input.Body.Text})
	}
	if err != nil {
		return nil, toAPIError(err)
	}

	text := annotation.Export(hs, s.tags.Names())
	return &ExportOutput{Body: ExportResponse{Text: text, Count: len(hs)}}, nil
}

// selectRefs returns the referenced highlights in the order given. Unknown refs are skipped.
func (s *Server) selectRefs(ctx context.Context, refs []annotation.Ref) ([]domain.DocumentHighlight, error) {
	byDoc := make(map[string]map[string]domain.Highlight)
	out := make([]domain.DocumentHighlight, 0, len(refs))
	for _, ref := range refs {
		hs, ok := byDoc[ref.DocumentID]
		if !ok {
			loaded, err := s.highlights.Load(ctx, ref.DocumentID)
			if err != nil {
				return nil, err
			}
			hs = make(map[string]domain.Highlight, len(loaded))
			for _, h := range loaded {
				hs[h.ID] = h
			}
			byDoc[ref.DocumentID] = hs
		}
		if h, found := hs[ref.HighlightID]; found {
			out = append(out, domain.DocumentHighlight{DocumentID: ref.DocumentID, Highlight: h})
		}
	}
	return out, nil
}

func (s *Server) handleTagHighlights(ctx context.Context, input *TagHighlightsInput) (*CountOutput, error) {
	n, err := s.tags.ApplyToHighlights(ctx, input.Body.Refs, input.Body.TagName)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &CountOutput{Body: CountResponse{Count: n}}, nil
}

func (s *Server) handleDeleteHighlights(ctx context.Context, input *RefsInput) (*CountOutput, error) {
	n, err := s.highlights.DeleteMany(ctx, input.Body.Refs)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &CountOutput{Body: CountResponse{Count: n}}, nil
}
