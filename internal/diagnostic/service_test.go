package diagnostic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jugueteria/tienda/internal/authstate"
	"github.com/jugueteria/tienda/internal/model"
	"github.com/jugueteria/tienda/internal/repository"
)

type mockProfileRepo struct {
	findByIDFunc    func(ctx context.Context, id string) (*model.Profile, error)
	findByEmailFunc func(ctx context.Context, email string) (*model.Profile, error)
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
	return nil
}

func (m *mockProfileRepo) CreateOnSignup(ctx context.Context, params repository.SignupProfileParams) (*repository.SignupRPCResult, error) {
	return nil, errors.New("not implemented")
}

type mockProductRepo struct {
	listFunc func(ctx context.Context) ([]*model.Product, error)
}

var _ repository.ProductRepository = (*mockProductRepo)(nil)

func (m *mockProductRepo) List(ctx context.Context) ([]*model.Product, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return nil, nil
}

func (m *mockProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) Create(ctx context.Context, product *model.Product) error { return nil }
func (m *mockProductRepo) Update(ctx context.Context, product *model.Product) error { return nil }
func (m *mockProductRepo) Delete(ctx context.Context, id string) error              { return nil }

func adminSnapshot() authstate.Snapshot {
	return authstate.Snapshot{
		Phase: authstate.PhaseRoleResolved,
		Role:  model.RoleAdmin,
		Session: &model.Session{
			AccessToken: "token",
			User:        &model.User{ID: "admin-1", Email: "admin@example.com"},
		},
		User: &model.User{ID: "admin-1", Email: "admin@example.com"},
	}
}

func newTestService(t *testing.T, profiles *mockProfileRepo, products *mockProductRepo, identityStatus int) *Service {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(identityStatus)
	}))
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewService(profiles, products, ts.Client(), ts.URL, logger)
}

func hasProblem(report *Report, substr string) bool {
	for _, p := range report.Problems {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func TestRunHealthyAdmin(t *testing.T) {
	profiles := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Profile, error) {
			return &model.Profile{ID: id, Email: "admin@example.com", Role: model.RoleAdmin}, nil
		},
	}
	svc := newTestService(t, profiles, &mockProductRepo{}, http.StatusOK)

	report := svc.Run(context.Background(), adminSnapshot())

	if !report.Authenticated {
		t.Error("expected authenticated")
	}
	if !report.ProfileFound || report.ProfileRole != model.RoleAdmin {
		t.Errorf("unexpected profile state: %+v", report)
	}
	if !report.ProfileIDMatches {
		t.Error("expected profile id to match")
	}
	if !report.ProductsReadable || !report.ProductsWritable {
		t.Errorf("expected product access, got readable=%v writable=%v",
			report.ProductsReadable, report.ProductsWritable)
	}
	if !report.IdentityReachable {
		t.Error("expected identity to be reachable")
	}
	if len(report.Problems) != 0 {
		t.Errorf("expected no problems, got %v", report.Problems)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("expected generated_at to be set")
	}
}

func TestRunGuest(t *testing.T) {
	svc := newTestService(t, &mockProfileRepo{}, &mockProductRepo{}, http.StatusOK)

	report := svc.Run(context.Background(), authstate.Snapshot{
		Phase: authstate.PhaseUnauthenticated,
		Role:  model.RoleGuest,
	})

	if report.Authenticated {
		t.Error("guest should not be authenticated")
	}
	if !hasProblem(report, "セッションがありません") {
		t.Errorf("expected missing-session problem, got %v", report.Problems)
	}
	if report.ProductsWritable {
		t.Error("guest should not be writable")
	}
}

func TestRunMissingProfile(t *testing.T) {
	svc := newTestService(t, &mockProfileRepo{}, &mockProductRepo{}, http.StatusOK)

	snap := adminSnapshot()
	snap.Role = model.RoleUser
	report := svc.Run(context.Background(), snap)

	if report.ProfileFound {
		t.Error("profile should not be found")
	}
	if !hasProblem(report, "プロフィールレコードが存在しません") {
		t.Errorf("expected missing-profile problem, got %v", report.Problems)
	}
	if !hasProblem(report, "adminではありません") {
		t.Errorf("expected non-admin problem, got %v", report.Problems)
	}
}

func TestRunDetectsProfileDrift(t *testing.T) {
	profiles := &mockProfileRepo{
		findByEmailFunc: func(ctx context.Context, email string) (*model.Profile, error) {
			return &model.Profile{ID: "stale-id", Email: email, Role: model.RoleAdmin}, nil
		},
	}
	svc := newTestService(t, profiles, &mockProductRepo{}, http.StatusOK)

	report := svc.Run(context.Background(), adminSnapshot())

	if !report.ProfileFound {
		t.Error("drifted profile should still be reported as found")
	}
	if report.ProfileIDMatches {
		t.Error("drifted profile id should not match")
	}
	if !hasProblem(report, "一致していません") {
		t.Errorf("expected drift problem, got %v", report.Problems)
	}
}

func TestRunProductReadFailure(t *testing.T) {
	products := &mockProductRepo{
		listFunc: func(ctx context.Context) ([]*model.Product, error) {
			return nil, errors.New("permission denied")
		},
	}
	profiles := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Profile, error) {
			return &model.Profile{ID: id, Role: model.RoleAdmin}, nil
		},
	}
	svc := newTestService(t, profiles, products, http.StatusOK)

	report := svc.Run(context.Background(), adminSnapshot())

	if report.ProductsReadable || report.ProductsWritable {
		t.Error("product access should be reported as unavailable")
	}
	if !hasProblem(report, "商品ストアの読み取りに失敗しました") {
		t.Errorf("expected product read problem, got %v", report.Problems)
	}
}

func TestRunIdentityUnreachable(t *testing.T) {
	profiles := &mockProfileRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Profile, error) {
			return &model.Profile{ID: id, Role: model.RoleAdmin}, nil
		},
	}
	svc := newTestService(t, profiles, &mockProductRepo{}, http.StatusInternalServerError)

	report := svc.Run(context.Background(), adminSnapshot())

	if report.IdentityReachable {
		t.Error("identity should not be reachable")
	}
	if !hasProblem(report, "IDサービス") {
		t.Errorf("expected identity problem, got %v", report.Problems)
	}

	// 診断自体は成功し、他のチェック結果は保持される
	if !report.ProductsReadable {
		t.Error("other checks should still run")
	}
}

func TestRunIdentityTimeoutDoesNotHang(t *testing.T) {
	profiles := &mockProfileRepo{}
	products := &mockProductRepo{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := NewService(profiles, products, ts.Client(), ts.URL, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	report := svc.Run(ctx, authstate.Snapshot{Role: model.RoleGuest})
	if report.IdentityReachable {
		t.Error("timed-out identity check should be reported unreachable")
	}
}
