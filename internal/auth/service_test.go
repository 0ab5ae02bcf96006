package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
	"github.com/hitoshi/shelfmate/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
	updateProfileFn      func(ctx context.Context, id, name, picture string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id, name, picture string) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, name, picture)
	}
	return nil, nil
}

func (m *mockUserRepo) UpdateGenres(_ context.Context, _ string, _ []string) error {
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockIdentityRepo struct {
	findUserFn func(ctx context.Context, provider, providerUserID string) (*model.User, error)
}

func (m *mockIdentityRepo) FindUserByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	if m.findUserFn != nil {
		return m.findUserFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

// --- テスト ---

var googleReader = &OAuthUserInfo{
	ProviderUserID: "google-sub-1",
	Email:          "reader42@example.com",
	Name:           "Reader",
	Picture:        "https://lh3.googleusercontent.com/a/new.jpg",
	Provider:       "google",
}

// callbackRecorder はHandleCallbackがリポジトリに書き込んだ内容を記録する。
type callbackRecorder struct {
	user            *model.User
	identity        *model.Identity
	session         *model.Session
	updatedPicture  string
	updateCallCount int
}

func (c *callbackRecorder) service(info *OAuthUserInfo, existing *model.User, repoErr error) *Service {
	provider := &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			if info == nil {
				return nil, errors.New("token exchange failed")
			}
			return info, nil
		},
	}
	users := &mockUserRepo{
		createWithIdentityFn: func(ctx context.Context, user *model.User, identity *model.Identity) error {
			c.user, c.identity = user, identity
			return repoErr
		},
		updateProfileFn: func(ctx context.Context, id, name, picture string) (*model.User, error) {
			c.updateCallCount++
			c.updatedPicture = picture
			return nil, repoErr
		},
	}
	identities := &mockIdentityRepo{
		findUserFn: func(ctx context.Context, provider, providerUserID string) (*model.User, error) {
			return existing, nil
		},
	}
	sessions := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			c.session = session
			return nil
		},
	}
	svc := NewService(provider, users, identities, sessions, ServiceConfig{SessionMaxAge: 86400})
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestGetLoginURL_DelegatesToProvider(t *testing.T) {
	provider := &mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			return "https://accounts.google.com/o/oauth2/auth?state=" + state
		},
	}
	svc := NewService(provider, nil, nil, nil, ServiceConfig{})

	if got, want := svc.GetLoginURL("s1"), "https://accounts.google.com/o/oauth2/auth?state=s1"; got != want {
		t.Errorf("GetLoginURL() = %q, want %q", got, want)
	}
}

func TestHandleCallback_FirstLoginCreatesReader(t *testing.T) {
	rec := &callbackRecorder{}
	svc := rec.service(googleReader, nil, nil)

	session, err := svc.HandleCallback(context.Background(), "code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if rec.user == nil || rec.identity == nil {
		t.Fatal("expected user and identity to be created")
	}
	if rec.user.Name != "Reader" || rec.user.ProfilePicture != googleReader.Picture {
		t.Errorf("created user = %+v", rec.user)
	}
	if len(rec.user.Genres) != 0 {
		t.Errorf("new reader genres = %v, want none until onboarding", rec.user.Genres)
	}
	if rec.identity.UserID != rec.user.ID || rec.identity.ProviderUserID != "google-sub-1" {
		t.Errorf("identity = %+v", rec.identity)
	}
	if session.UserID != rec.user.ID || len(session.ID) != 64 {
		t.Errorf("session = %+v", session)
	}
	if want := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC); !session.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", session.ExpiresAt, want)
	}
	if rec.updateCallCount != 0 {
		t.Errorf("UpdateProfile called %d times for a new reader", rec.updateCallCount)
	}
}

func TestHandleCallback_FirstLoginWithoutName_UsesEmailLocalPart(t *testing.T) {
	info := *googleReader
	info.Name = "  "
	rec := &callbackRecorder{}

	if _, err := rec.service(&info, nil, nil).HandleCallback(context.Background(), "code"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if rec.user == nil || rec.user.Name != "reader42" {
		t.Errorf("created user = %+v, want name reader42", rec.user)
	}
}

func TestHandleCallback_ReturningReader(t *testing.T) {
	tests := []struct {
		name          string
		storedPicture string
		loginPicture  string
		updateErr     error
		wantUpdate    bool
	}{
		{"picture changed", "https://lh3.googleusercontent.com/a/old.jpg", googleReader.Picture, nil, true},
		{"picture unchanged", googleReader.Picture, googleReader.Picture, nil, false},
		{"no picture from google", "https://lh3.googleusercontent.com/a/old.jpg", "", nil, false},
		{"refresh failure does not block login", "", googleReader.Picture, errors.New("db busy"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := *googleReader
			info.Picture = tt.loginPicture
			existing := &model.User{ID: "reader-7", Name: "Reader", ProfilePicture: tt.storedPicture, Genres: []string{"sf"}}

			rec := &callbackRecorder{}
			session, err := rec.service(&info, existing, tt.updateErr).HandleCallback(context.Background(), "code")
			if err != nil {
				t.Fatalf("HandleCallback() error = %v", err)
			}
			if session.UserID != "reader-7" {
				t.Errorf("session user = %q, want reader-7", session.UserID)
			}
			if rec.user != nil {
				t.Error("CreateWithIdentity should not be called for a returning reader")
			}
			if got := rec.updateCallCount == 1; got != tt.wantUpdate {
				t.Errorf("UpdateProfile called %d times, want update=%v", rec.updateCallCount, tt.wantUpdate)
			}
			if tt.wantUpdate && rec.updatedPicture != tt.loginPicture {
				t.Errorf("updated picture = %q, want %q", rec.updatedPicture, tt.loginPicture)
			}
		})
	}
}

func TestHandleCallback_Errors(t *testing.T) {
	lookupErr := errors.New("identities unavailable")

	tests := []struct {
		name     string
		code     string
		svc      func() *Service
		wantCode string
		wantErr  error
	}{
		{
			name:     "empty code",
			code:     "",
			svc:      func() *Service { return NewService(&mockOAuthProvider{}, nil, nil, nil, ServiceConfig{}) },
			wantCode: model.ErrCodeInvalidArgument,
		},
		{
			name: "token exchange",
			code: "bad",
			svc:  func() *Service { return (&callbackRecorder{}).service(nil, nil, nil) },
		},
		{
			name: "identity lookup",
			code: "code",
			svc: func() *Service {
				provider := &mockOAuthProvider{exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
					return googleReader, nil
				}}
				identities := &mockIdentityRepo{findUserFn: func(ctx context.Context, p, id string) (*model.User, error) {
					return nil, lookupErr
				}}
				return NewService(provider, nil, identities, nil, ServiceConfig{})
			},
			wantErr: lookupErr,
		},
		{
			name: "unverified google email",
			code: "code",
			svc: func() *Service {
				provider := &mockOAuthProvider{exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
					return nil, ErrUnverifiedEmail
				}}
				return NewService(provider, nil, nil, nil, ServiceConfig{})
			},
			wantCode: model.ErrCodeForbidden,
		},
		{
			name: "user creation",
			code: "code",
			svc:  func() *Service { return (&callbackRecorder{}).service(googleReader, nil, errors.New("unique violation")) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := tt.svc().HandleCallback(context.Background(), tt.code)
			if err == nil {
				t.Fatalf("HandleCallback() = %+v, want error", session)
			}
			if tt.wantCode != "" && !model.IsCode(err, tt.wantCode) {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapped %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	var deleted string
	sessions := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := NewService(nil, nil, nil, sessions, ServiceConfig{})

	if err := svc.Logout(context.Background(), "bearer-token"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deleted != "bearer-token" {
		t.Errorf("deleted session = %q, want bearer-token", deleted)
	}
	if err := svc.Logout(context.Background(), ""); !model.IsCode(err, model.ErrCodeUnauthorized) {
		t.Errorf("Logout(\"\") error = %v, want UNAUTHORIZED", err)
	}
}

func TestGetCurrentUser(t *testing.T) {
	dbErr := errors.New("connection refused")
	reader := &model.User{ID: "reader-1", Name: "Reader", Genres: []string{"fantasy"}}

	tests := []struct {
		name     string
		token    string
		session  *model.Session
		lookup   error
		user     *model.User
		wantCode string
		wantErr  error
	}{
		{name: "valid bearer token", token: "tok", session: &model.Session{UserID: "reader-1"}, user: reader},
		{name: "empty token", token: "", wantCode: model.ErrCodeUnauthorized},
		{name: "expired session", token: "old", wantCode: model.ErrCodeUnauthorized},
		{name: "withdrawn user", token: "tok", session: &model.Session{UserID: "gone"}, wantCode: model.ErrCodeUnauthorized},
		{name: "session lookup failure", token: "tok", lookup: dbErr, wantErr: dbErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessionRepo{
				findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
					return tt.session, tt.lookup
				},
			}
			users := &mockUserRepo{
				findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
					return tt.user, nil
				},
			}
			svc := NewService(nil, users, nil, sessions, ServiceConfig{})

			got, err := svc.GetCurrentUser(context.Background(), tt.token)
			switch {
			case tt.wantCode != "":
				if !model.IsCode(err, tt.wantCode) {
					t.Errorf("error = %v, want %s", err, tt.wantCode)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want wrapped %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("GetCurrentUser() error = %v", err)
				}
				if got.ID != "reader-1" || len(got.Genres) != 1 {
					t.Errorf("user = %+v", got)
				}
			}
		})
	}
}
