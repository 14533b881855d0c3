package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mnemomark/mnemomark/internal/domain"
	domainerrors "github.com/mnemomark/mnemomark/internal/errors"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        apiPrefix + "/session",
		Summary:     "Get session",
		Description: "Returns the signed-in account, its sharing setting and token state",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "signUp",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/session/signup",
		Summary:     "Sign up",
		Description: "Creates an account and signs in. Failures are reported in the result.",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleSignUp)

	huma.Register(s.api, huma.Operation{
		OperationID: "signIn",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/session/signin",
		Summary:     "Sign in",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleSignIn)

	huma.Register(s.api, huma.Operation{
		OperationID: "signOut",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/session/signout",
		Summary:     "Sign out",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleSignOut)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteAccount",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/session/delete-account",
		Summary:     "Delete account",
		Description: "Deletes the account's remote data and the account itself, then signs out",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleDeleteAccount)

	huma.Register(s.api, huma.Operation{
		OperationID: "sendPasswordReset",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/session/password-reset",
		Summary:     "Send password reset email",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handlePasswordReset)

	huma.Register(s.api, huma.Operation{
		OperationID: "reconcileShareTags",
		Method:      http.MethodPost,
		Path:        apiPrefix + "/session/reconcile",
		Summary:     "Reconcile tag sharing",
		Description: "Turns sharing on when the account already holds a tag list",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleReconcile)

	huma.Register(s.api, huma.Operation{
		OperationID: "setShareTags",
		Method:      http.MethodPut,
		Path:        apiPrefix + "/session/share-tags",
		Summary:     "Set tag sharing",
		Tags:        []string{"Session"},
		Security:    bearer,
	}, s.handleSetShareTags)
}

// === DTOs ===

// SessionResponse describes the account session.
type SessionResponse struct {
	Configured bool         `json:"configured" doc:"Whether remote credentials are set"`
	State      string       `json:"state" enum:"signed_out,signed_in,expiring" doc:"Token state"`
	User       *domain.User `json:"user" doc:"Signed-in account, null when signed out"`
	ShareTags  bool         `json:"shareTags" doc:"Whether tags are synced to the account"`
}

// SessionOutput wraps the session response for Huma.
type SessionOutput struct {
	Body SessionResponse
}

// SignUpRequest is the request body for creating an account.
type SignUpRequest struct {
	Email     string `json:"email" format:"email" doc:"Account email"`
	Password  string `json:"password" minLength:"1" doc:"Account password"`
	ShareTags bool   `json:"shareTags,omitempty" doc:"Sync tags to the new account"`
}

// SignUpInput wraps the sign up request for Huma.
type SignUpInput struct {
	Body SignUpRequest
}

// SignInRequest is the request body for signing in.
type SignInRequest struct {
	Email    string `json:"email" format:"email" doc:"Account email"`
	Password string `json:"password" minLength:"1" doc:"Account password"`
}

// SignInInput wraps the sign in request for Huma.
type SignInInput struct {
	Body SignInRequest
}

// PasswordResetRequest is the request body for a reset email.
type PasswordResetRequest struct {
	Email string `json:"email" format:"email" doc:"Account email"`
}

// PasswordResetInput wraps the reset request for Huma.
type PasswordResetInput struct {
	Body PasswordResetRequest
}

// ResultOutput wraps an operation result for Huma. A failed operation is
// still a 200 response; the result carries the message to show.
type ResultOutput struct {
	Body domainerrors.Result
}

// ShareTagsResponse reports the sharing setting.
type ShareTagsResponse struct {
	ShareTags bool `json:"shareTags" doc:"Whether tags are synced to the account"`
}

// ShareTagsOutput wraps the sharing setting for Huma.
type ShareTagsOutput struct {
	Body ShareTagsResponse
}

// ShareTagsInput wraps a sharing change for Huma.
type ShareTagsInput struct {
	Body ShareTagsResponse
}

// === Handlers ===

func (s *Server) handleGetSession(_ context.Context, _ *struct{}) (*SessionOutput, error) {
	resp := SessionResponse{
		Configured: s.session.Configured(),
		State:      s.session.State().String(),
	}
	if cur := s.session.Current(); cur != nil {
		resp.User = cur.User()
		resp.ShareTags = cur.ShareTags
	}
	return &SessionOutput{Body: resp}, nil
}

func (s *Server) handleSignUp(ctx context.Context, input *SignUpInput) (*ResultOutput, error) {
	return &ResultOutput{Body: s.session.SignUp(ctx, input.Body.Email, input.Body.Password, input.Body.ShareTags)}, nil
}

func (s *Server) handleSignIn(ctx context.Context, input *SignInInput) (*ResultOutput, error) {
	return &ResultOutput{Body: s.session.SignIn(ctx, input.Body.Email, input.Body.Password)}, nil
}

func (s *Server) handleSignOut(ctx context.Context, _ *struct{}) (*ResultOutput, error) {
	return &ResultOutput{Body: s.session.SignOut(ctx)}, nil
}

func (s *Server) handleDeleteAccount(ctx context.Context, _ *struct{}) (*ResultOutput, error) {
	return &ResultOutput{Body: s.session.DeleteAccount(ctx)}, nil
}

func (s *Server) handlePasswordReset(ctx context.Context, input *PasswordResetInput) (*ResultOutput, error) {
	return &ResultOutput{Body: s.session.SendPasswordReset(ctx, input.Body.Email)}, nil
}

func (s *Server) handleReconcile(ctx context.Context, _ *struct{}) (*ShareTagsOutput, error) {
	share, err := s.sync.ReconcileShareTags(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &ShareTagsOutput{Body: ShareTagsResponse{ShareTags: share}}, nil
}

func (s *Server) handleSetShareTags(ctx context.Context, input *ShareTagsInput) (*ShareTagsOutput, error) {
	if s.session.Current() == nil {
		return nil, newAPIErrorNotSignedIn()
	}
	if err := s.session.SetShareTags(ctx, input.Body.ShareTags); err != nil {
		return nil, toAPIError(err)
	}
	return &ShareTagsOutput{Body: ShareTagsResponse{ShareTags: input.Body.ShareTags}}, nil
}
