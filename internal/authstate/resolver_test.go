package authstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/jugueteria/tienda/internal/identity"
	"github.com/jugueteria/tienda/internal/model"
	"github.com/jugueteria/tienda/internal/repository"
)

// mockIdentity はidentity.Serviceのモック実装
type mockIdentity struct {
	broadcaster        *identity.Broadcaster
	currentSessionFunc func(ctx context.Context) (*model.Session, error)
	signInFunc         func(ctx context.Context, email, password string) (*model.Session, error)
	signUpFunc         func(ctx context.Context, email, password string) (*identity.SignUpResult, error)
	signOutFunc        func(ctx context.Context) error
}

var _ identity.Service = (*mockIdentity)(nil)

func newMockIdentity() *mockIdentity {
	return &mockIdentity{broadcaster: identity.NewBroadcaster()}
}

func (m *mockIdentity) CurrentSession(ctx context.Context) (*model.Session, error) {
	if m.currentSessionFunc != nil {
		return m.currentSessionFunc(ctx)
	}
	return nil, nil
}

func (m *mockIdentity) OnAuthStateChange(fn func(identity.Event)) func() {
	return m.broadcaster.Subscribe(fn)
}

func (m *mockIdentity) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFunc != nil {
		return m.signInFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentity) SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
	if m.signUpFunc != nil {
		return m.signUpFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIdentity) SignOut(ctx context.Context) error {
	if m.signOutFunc != nil {
		return m.signOutFunc(ctx)
	}
	return nil
}

// mockProfileRepo はrepository.ProfileRepositoryのモック実装
type mockProfileRepo struct {
	mu                 sync.Mutex
	findByIDFunc       func(ctx context.Context, id string) (*model.Profile, error)
	findByEmailFunc    func(ctx context.Context, email string) (*model.Profile, error)
	syncIdentityFunc   func(ctx context.Context, profile *model.Profile, userID, email string) error
	createOnSignupFunc func(ctx context.Context, params repository.SignupProfileParams) (*repository.SignupRPCResult, error)
	syncCalls          int
	createCalls        int
	createParams       []repository.SignupProfileParams
}

var _ repository.ProfileRepository = (*mockProfileRepo)(nil)

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	if m.findByEmailFunc != nil {
		return m.findByEmailFunc(ctx, email)
	}
	return nil, nil
}

func (m *mockProfileRepo) SyncIdentity(ctx context.Context, profile *model.Profile, userID, email string) error {
	m.mu.Lock()
	m.syncCalls++
	m.mu.Unlock()
	if m.syncIdentityFunc != nil {
		return m.syncIdentityFunc(ctx, profile, userID, email)
	}
	return nil
}

func (m *mockProfileRepo) CreateOnSignup(ctx context.Context, params repository.SignupProfileParams) (*repository.SignupRPCResult, error) {
	m.mu.Lock()
	m.createCalls++
	m.createParams = append(m.createParams, params)
	m.mu.Unlock()
	if m.createOnSignupFunc != nil {
		return m.createOnSignupFunc(ctx, params)
	}
	return &repository.SignupRPCResult{Success: true}, nil
}

func (m *mockProfileRepo) syncCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncCalls
}

func (m *mockProfileRepo) createCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// sleepRecorder は待機時間を記録するsleep差し替え
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestResolver(t *testing.T, id *mockIdentity, repo *mockProfileRepo) (*Resolver, *sleepRecorder) {
	t.Helper()
	r := NewResolver(id, repo, discardLogger(), nil, Config{})
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	t.Cleanup(r.Close)
	return r, rec
}

func sessionFor(id, email string) *model.Session {
	return &model.Session{
		AccessToken: "test-token",
		TokenType:   "bearer",
		User:        &model.User{ID: id, Email: email},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was not met before timeout")
}

func TestBootstrapNoSession(t *testing.T) {
	id := newMockIdentity()
	repo := &mockProfileRepo{}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	snap := r.Snapshot()
	if snap.Role != model.RoleGuest {
		t.Errorf("expected guest role, got %q", snap.Role)
	}
	if snap.Loading {
		t.Error("loading should be resolved")
	}
	if snap.Phase != PhaseUnauthenticated {
		t.Errorf("expected phase %q, got %q", PhaseUnauthenticated, snap.Phase)
	}
	if snap.Session != nil {
		t.Error("session should be nil")
	}
}

func TestBootstrapSessionError(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return nil, errors.New("identity service unavailable")
	}
	repo := &mockProfileRepo{}
	r, _ := newTestResolver(t, id, repo)

	err := r.Bootstrap(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	// エラーでもloadingは解消され、guestとして扱われる
	snap := r.Snapshot()
	if snap.Role != model.RoleGuest {
		t.Errorf("expected guest role, got %q", snap.Role)
	}
	if snap.Loading {
		t.Error("loading should be resolved even on bootstrap error")
	}
}

func TestBootstrapNoProfileDefaultsToUser(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("user-1", "ana@example.com"), nil
	}
	repo := &mockProfileRepo{}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	snap := r.Snapshot()
	if snap.Role != model.RoleUser {
		t.Errorf("expected user role for missing profile, got %q", snap.Role)
	}
	if snap.Loading {
		t.Error("loading should be resolved")
	}
	if snap.Phase != PhaseRoleResolved {
		t.Errorf("expected phase %q, got %q", PhaseRoleResolved, snap.Phase)
	}
	if repo.syncCallCount() != 0 {
		t.Errorf("sync should not be called when no profile exists, got %d calls", repo.syncCallCount())
	}
}

func TestBootstrapRoleFromProfile(t *testing.T) {
	tests := []struct {
		name     string
		dbRole   model.Role
		expected model.Role
	}{
		{"admin role", model.RoleAdmin, model.RoleAdmin},
		{"user role", model.RoleUser, model.RoleUser},
		{"unknown role falls back to user", model.Role("superuser"), model.RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := newMockIdentity()
			id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
				return sessionFor("user-1", "ana@example.com"), nil
			}
			repo := &mockProfileRepo{
				findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
					return &model.Profile{ID: userID, Email: "ana@example.com", Role: tt.dbRole}, nil
				},
			}
			r, _ := newTestResolver(t, id, repo)

			if err := r.Bootstrap(context.Background()); err != nil {
				t.Fatalf("Bootstrap failed: %v", err)
			}

			if got := r.Snapshot().Role; got != tt.expected {
				t.Errorf("expected role %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestBootstrapLookupErrorFailsOpen(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("user-1", "ana@example.com"), nil
	}
	repo := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
			return nil, errors.New("connection refused")
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	// 読み取り失敗時はuserをデフォルトとし、締め出さない
	snap := r.Snapshot()
	if snap.Role != model.RoleUser {
		t.Errorf("expected user role on lookup error, got %q", snap.Role)
	}
	if snap.Loading {
		t.Error("loading should be resolved")
	}
}

func TestBootstrapEmailFallbackReconciles(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("new-id", "ana@example.com"), nil
	}

	var syncedUserID, syncedEmail string
	repo := &mockProfileRepo{
		findByEmailFunc: func(ctx context.Context, email string) (*model.Profile, error) {
			return &model.Profile{ID: "stale-id", Email: email, Role: model.RoleAdmin}, nil
		},
		syncIdentityFunc: func(ctx context.Context, profile *model.Profile, userID, email string) error {
			syncedUserID = userID
			syncedEmail = email
			return nil
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if got := r.Snapshot().Role; got != model.RoleAdmin {
		t.Errorf("expected admin role from email fallback, got %q", got)
	}
	if repo.syncCallCount() != 1 {
		t.Errorf("expected exactly 1 reconciliation attempt, got %d", repo.syncCallCount())
	}
	if syncedUserID != "new-id" {
		t.Errorf("expected reconciliation with new id %q, got %q", "new-id", syncedUserID)
	}
	if syncedEmail != "ana@example.com" {
		t.Errorf("unexpected reconciliation email %q", syncedEmail)
	}
}

func TestBootstrapReconciliationFailureStillResolvesRole(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("new-id", "ana@example.com"), nil
	}
	repo := &mockProfileRepo{
		findByEmailFunc: func(ctx context.Context, email string) (*model.Profile, error) {
			return &model.Profile{ID: "stale-id", Email: email, Role: model.RoleAdmin}, nil
		},
		syncIdentityFunc: func(ctx context.Context, profile *model.Profile, userID, email string) error {
			return errors.New("deadlock detected")
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	// 照合更新の失敗は取得済みレコードのロール使用を妨げない
	snap := r.Snapshot()
	if snap.Role != model.RoleAdmin {
		t.Errorf("expected admin role despite reconciliation failure, got %q", snap.Role)
	}
	if snap.Loading {
		t.Error("loading should be resolved")
	}
}

func TestAuthEventResolvesRole(t *testing.T) {
	id := newMockIdentity()
	repo := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{ID: userID, Email: "admin@example.com", Role: model.RoleAdmin}, nil
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if got := r.Snapshot().Role; got != model.RoleGuest {
		t.Fatalf("expected guest before sign-in, got %q", got)
	}

	id.broadcaster.Emit(identity.Event{
		Type:    identity.EventSignedIn,
		Session: sessionFor("admin-1", "admin@example.com"),
	})

	waitFor(t, func() bool {
		snap := r.Snapshot()
		return !snap.Loading && snap.Role == model.RoleAdmin
	})
}

func TestAuthEventSignedOut(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("user-1", "ana@example.com"), nil
	}
	repo := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{ID: userID, Email: "ana@example.com", Role: model.RoleUser}, nil
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	id.broadcaster.Emit(identity.Event{Type: identity.EventSignedOut})

	waitFor(t, func() bool {
		snap := r.Snapshot()
		return snap.Role == model.RoleGuest && snap.Session == nil && !snap.Loading
	})
}

func TestNewestEventWins(t *testing.T) {
	id := newMockIdentity()
	repo := &mockProfileRepo{}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	slowStarted := make(chan struct{})
	slowRelease := make(chan struct{})
	slowDone := make(chan struct{})

	repo.findByIDFunc = func(ctx context.Context, userID string) (*model.Profile, error) {
		if userID == "slow-user" {
			close(slowStarted)
			<-slowRelease
			defer close(slowDone)
			return &model.Profile{ID: userID, Role: model.RoleUser}, nil
		}
		return &model.Profile{ID: userID, Role: model.RoleAdmin}, nil
	}

	// 古いイベントの解決が始まってから新しいイベントを発火する
	id.broadcaster.Emit(identity.Event{
		Type:    identity.EventSignedIn,
		Session: sessionFor("slow-user", "slow@example.com"),
	})
	<-slowStarted

	id.broadcaster.Emit(identity.Event{
		Type:    identity.EventSignedIn,
		Session: sessionFor("fast-user", "fast@example.com"),
	})
	waitFor(t, func() bool {
		snap := r.Snapshot()
		return !snap.Loading && snap.Role == model.RoleAdmin
	})

	// 追い越された解決が完了しても結果は破棄される
	close(slowRelease)
	<-slowDone
	time.Sleep(50 * time.Millisecond)

	if got := r.Snapshot().Role; got != model.RoleAdmin {
		t.Errorf("stale resolution overwrote newer result: got %q", got)
	}
}

func TestSignUpIdentityFailureSkipsRPC(t *testing.T) {
	id := newMockIdentity()
	id.signUpFunc = func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
		return nil, errors.New("password too weak")
	}
	repo := &mockProfileRepo{}
	r, rec := newTestResolver(t, id, repo)

	_, err := r.SignUp(context.Background(), SignUpInput{Email: "ana@example.com", Password: "x"})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeSignupAuthFailed {
		t.Errorf("expected code %s, got %s", model.ErrCodeSignupAuthFailed, apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "password too weak") {
		t.Errorf("expected identity reason in message, got %q", apiErr.Message)
	}
	if repo.createCallCount() != 0 {
		t.Errorf("RPC should not be attempted after identity failure, got %d calls", repo.createCallCount())
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("no waits expected after identity failure, got %v", rec.recorded())
	}
}

func TestSignUpMissingUserID(t *testing.T) {
	id := newMockIdentity()
	id.signUpFunc = func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
		return &identity.SignUpResult{}, nil
	}
	repo := &mockProfileRepo{}
	r, _ := newTestResolver(t, id, repo)

	_, err := r.SignUp(context.Background(), SignUpInput{Email: "ana@example.com", Password: "x"})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeSignupAuthFailed {
		t.Errorf("expected code %s, got %s", model.ErrCodeSignupAuthFailed, apiErr.Code)
	}
	if repo.createCallCount() != 0 {
		t.Errorf("RPC should not be attempted without a user id, got %d calls", repo.createCallCount())
	}
}

func TestSignUpRetriesThenSucceeds(t *testing.T) {
	id := newMockIdentity()
	id.signUpFunc = func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
		return &identity.SignUpResult{User: &model.User{ID: "new-user", Email: email}}, nil
	}

	attempts := 0
	repo := &mockProfileRepo{
		createOnSignupFunc: func(ctx context.Context, params repository.SignupProfileParams) (*repository.SignupRPCResult, error) {
			attempts++
			if attempts < 3 {
				return nil, &pq.Error{Code: "23503"}
			}
			return &repository.SignupRPCResult{Success: true, Message: "created"}, nil
		},
	}
	r, rec := newTestResolver(t, id, repo)

	result, err := r.SignUp(context.Background(), SignUpInput{Email: "ana@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if result.User == nil || result.User.ID != "new-user" {
		t.Errorf("unexpected signup result: %+v", result)
	}
	if repo.createCallCount() != 3 {
		t.Errorf("expected 3 RPC attempts, got %d", repo.createCallCount())
	}

	// 伝搬待ち1000ms + 線形バックオフ 500ms, 1000ms
	want := []time.Duration{1000 * time.Millisecond, 500 * time.Millisecond, 1000 * time.Millisecond}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSignUpExhaustedClassification(t *testing.T) {
	tests := []struct {
		name         string
		rpcResult    *repository.SignupRPCResult
		rpcErr       error
		expectedCode string
		wantInMsg    string
	}{
		{
			name:         "foreign key violation means identity not yet visible",
			rpcErr:       &pq.Error{Code: "23503"},
			expectedCode: model.ErrCodeProfileSyncPending,
		},
		{
			name:         "unique violation means duplicate email",
			rpcErr:       &pq.Error{Code: "23505"},
			expectedCode: model.ErrCodeDuplicateEmail,
		},
		{
			name:         "other call error is surfaced",
			rpcErr:       errors.New("connection reset"),
			expectedCode: model.ErrCodeProfileRPCFailed,
			wantInMsg:    "connection reset",
		},
		{
			name:         "payload rejection uses payload message",
			rpcResult:    &repository.SignupRPCResult{Success: false, Message: "invalid country"},
			expectedCode: model.ErrCodeProfileRPCFailed,
			wantInMsg:    "invalid country",
		},
		{
			name:         "payload rejection without message",
			rpcResult:    &repository.SignupRPCResult{Success: false},
			expectedCode: model.ErrCodeProfileRPCFailed,
			wantInMsg:    "不明なエラー",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := newMockIdentity()
			id.signUpFunc = func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
				return &identity.SignUpResult{User: &model.User{ID: "new-user", Email: email}}, nil
			}
			repo := &mockProfileRepo{
				createOnSignupFunc: func(ctx context.Context, params repository.SignupProfileParams) (*repository.SignupRPCResult, error) {
					return tt.rpcResult, tt.rpcErr
				},
			}
			r, _ := newTestResolver(t, id, repo)

			_, err := r.SignUp(context.Background(), SignUpInput{Email: "ana@example.com", Password: "secret"})
			if err == nil {
				t.Fatal("expected error")
			}
			if repo.createCallCount() != 3 {
				t.Errorf("expected 3 RPC attempts, got %d", repo.createCallCount())
			}

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T: %v", err, err)
			}
			if apiErr.Code != tt.expectedCode {
				t.Errorf("expected code %s, got %s", tt.expectedCode, apiErr.Code)
			}
			if tt.wantInMsg != "" && !strings.Contains(apiErr.Message, tt.wantInMsg) {
				t.Errorf("expected %q in message, got %q", tt.wantInMsg, apiErr.Message)
			}
		})
	}
}

func TestSignUpTrimsFields(t *testing.T) {
	id := newMockIdentity()
	var signUpEmail string
	id.signUpFunc = func(ctx context.Context, email, password string) (*identity.SignUpResult, error) {
		signUpEmail = email
		return &identity.SignUpResult{User: &model.User{ID: "new-user", Email: email}}, nil
	}
	repo := &mockProfileRepo{}
	r, _ := newTestResolver(t, id, repo)

	_, err := r.SignUp(context.Background(), SignUpInput{
		Email:       "  ana@example.com ",
		Password:    "secret",
		DisplayName: " Ana ",
		Surname:     " García ",
		Country:     " AR ",
		City:        " Córdoba ",
		Phone:       " +54 11 1234 ",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if signUpEmail != "ana@example.com" {
		t.Errorf("email not trimmed before identity call: %q", signUpEmail)
	}
	params := repo.createParams[0]
	if params.DisplayName != "Ana" || params.Surname != "García" ||
		params.Country != "AR" || params.City != "Córdoba" || params.Phone != "+54 11 1234" {
		t.Errorf("params not trimmed: %+v", params)
	}
	if params.UserID != "new-user" {
		t.Errorf("expected identity user id, got %q", params.UserID)
	}
}

func TestSignOutImmediatelyGuest(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("admin-1", "admin@example.com"), nil
	}
	repo := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{ID: userID, Role: model.RoleAdmin}, nil
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if got := r.Snapshot().Role; got != model.RoleAdmin {
		t.Fatalf("expected admin before sign-out, got %q", got)
	}

	if err := r.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}

	// 非同期イベントを待たず、戻った時点でguestになっている
	snap := r.Snapshot()
	if snap.Role != model.RoleGuest {
		t.Errorf("expected guest immediately after sign-out, got %q", snap.Role)
	}
	if snap.Session != nil {
		t.Error("session should be cleared")
	}
	if snap.Loading {
		t.Error("loading should be resolved")
	}
	if snap.Phase != PhaseUnauthenticated {
		t.Errorf("expected phase %q, got %q", PhaseUnauthenticated, snap.Phase)
	}
}

func TestSignOutIdentityFailureKeepsState(t *testing.T) {
	id := newMockIdentity()
	id.currentSessionFunc = func(ctx context.Context) (*model.Session, error) {
		return sessionFor("admin-1", "admin@example.com"), nil
	}
	id.signOutFunc = func(ctx context.Context) error {
		return errors.New("identity service unavailable")
	}
	repo := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{ID: userID, Role: model.RoleAdmin}, nil
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if err := r.SignOut(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if got := r.Snapshot().Role; got != model.RoleAdmin {
		t.Errorf("state should be unchanged after failed sign-out, got %q", got)
	}
}

func TestWaitReady(t *testing.T) {
	t.Run("returns after bootstrap resolves", func(t *testing.T) {
		id := newMockIdentity()
		repo := &mockProfileRepo{}
		r, _ := newTestResolver(t, id, repo)

		done := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			done <- r.WaitReady(ctx)
		}()

		if err := r.Bootstrap(context.Background()); err != nil {
			t.Fatalf("Bootstrap failed: %v", err)
		}
		if err := <-done; err != nil {
			t.Errorf("WaitReady failed: %v", err)
		}
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		id := newMockIdentity()
		repo := &mockProfileRepo{}
		r, _ := newTestResolver(t, id, repo)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := r.WaitReady(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestCloseStopsEventHandling(t *testing.T) {
	id := newMockIdentity()
	repo := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{ID: userID, Role: model.RoleAdmin}, nil
		},
	}
	r, _ := newTestResolver(t, id, repo)

	if err := r.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	r.Close()

	id.broadcaster.Emit(identity.Event{
		Type:    identity.EventSignedIn,
		Session: sessionFor("admin-1", "admin@example.com"),
	})
	time.Sleep(50 * time.Millisecond)

	if got := r.Snapshot().Role; got != model.RoleGuest {
		t.Errorf("closed resolver should ignore events, got role %q", got)
	}
}
