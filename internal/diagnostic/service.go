// Package diagnostic は管理者向けの権限診断を提供する。
// 「管理画面にアクセスできない」という問い合わせに対して、
// セッション・プロフィール・ロール・ストアの各層のどこで権限が
// 途切れているかを1つのレポートにまとめる。
package diagnostic

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jugueteria/tienda/internal/authstate"
	"github.com/jugueteria/tienda/internal/model"
	"github.com/jugueteria/tienda/internal/repository"
)

// Report は権限診断の結果。
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	// セッション層
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"user_id,omitempty"`
	Email         string     `json:"email,omitempty"`
	ResolvedRole  model.Role `json:"resolved_role"`
	RoleLoading   bool       `json:"role_loading"`

	// プロフィール層
	ProfileFound     bool       `json:"profile_found"`
	ProfileRole      model.Role `json:"profile_role,omitempty"`
	RequestedRole    model.Role `json:"requested_role,omitempty"`
	ProfileIDMatches bool       `json:"profile_id_matches"`

	// ストア層
	ProductsReadable bool `json:"products_readable"`
	ProductsWritable bool `json:"products_writable"`

	// 外部サービス
	IdentityReachable bool `json:"identity_reachable"`

	// 検出された問題の要約。空なら問題なし。
	Problems []string `json:"problems"`
}

// Service は権限診断のサービス層。
type Service struct {
	profiles        repository.ProfileRepository
	products        repository.ProductRepository
	httpClient      *http.Client
	identityBaseURL string
	logger          *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// httpClientにはSSRF防止付きのクライアントを渡すこと。
func NewService(
	profiles repository.ProfileRepository,
	products repository.ProductRepository,
	httpClient *http.Client,
	identityBaseURL string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profiles:        profiles,
		products:        products,
		httpClient:      httpClient,
		identityBaseURL: strings.TrimSuffix(identityBaseURL, "/"),
		logger:          logger,
	}
}

// Run は現在のセッションスナップショットに対する権限診断を実行する。
// 個々のチェックの失敗はレポートに記録し、診断自体は失敗させない。
func (s *Service) Run(ctx context.Context, snap authstate.Snapshot) *Report {
	report := &Report{
		GeneratedAt:  time.Now(),
		ResolvedRole: snap.Role,
		RoleLoading:  snap.Loading,
		Problems:     []string{},
	}

	if snap.Session != nil && snap.Session.User != nil {
		report.Authenticated = true
		report.UserID = snap.Session.User.ID
		report.Email = snap.Session.User.Email
	} else {
		report.Problems = append(report.Problems, "セッションがありません。サインインしてください。")
	}

	s.checkProfile(ctx, snap, report)
	s.checkProducts(ctx, snap, report)
	s.checkIdentity(ctx, report)

	if report.Authenticated && report.ResolvedRole != model.RoleAdmin {
		report.Problems = append(report.Problems,
			"解決されたロールがadminではありません。プロフィールのrole列を確認してください。")
	}

	return report
}

// checkProfile はプロフィールレコードの存在とID整合を確認する。
func (s *Service) checkProfile(ctx context.Context, snap authstate.Snapshot, report *Report) {
	if !report.Authenticated {
		return
	}

	profile, err := s.profiles.FindByID(ctx, report.UserID)
	if err != nil {
		report.Problems = append(report.Problems, "プロフィールの取得に失敗しました。")
		s.logger.Warn("diagnostic profile lookup failed",
			slog.String("user_id", report.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	if profile == nil && report.Email != "" {
		// IDで見つからない場合はemailで確認（プロフィールドリフトの検出）
		profile, err = s.profiles.FindByEmail(ctx, report.Email)
		if err != nil {
			report.Problems = append(report.Problems, "プロフィールの取得に失敗しました。")
			return
		}
		if profile != nil {
			report.Problems = append(report.Problems,
				"プロフィールのIDがセッションのユーザーIDと一致していません。再サインインで自動修復されます。")
		}
	}

	if profile == nil {
		report.Problems = append(report.Problems, "プロフィールレコードが存在しません。")
		return
	}

	report.ProfileFound = true
	report.ProfileRole = profile.Role
	report.RequestedRole = profile.RequestedRole
	report.ProfileIDMatches = profile.ID == report.UserID
}

// checkProducts は商品ストアへのアクセス可否を確認する。
// 書き込み可否は破壊的なプローブを避け、読み取り成功かつadminロールで判定する。
func (s *Service) checkProducts(ctx context.Context, snap authstate.Snapshot, report *Report) {
	if _, err := s.products.List(ctx); err != nil {
		report.Problems = append(report.Problems, "商品ストアの読み取りに失敗しました。")
		s.logger.Warn("diagnostic product read failed",
			slog.String("error", err.Error()),
		)
		return
	}

	report.ProductsReadable = true
	report.ProductsWritable = snap.Role == model.RoleAdmin
}

// checkIdentity はIDサービスのhealthエンドポイントへの到達性を確認する。
func (s *Service) checkIdentity(ctx context.Context, report *Report) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.identityBaseURL+"/health", nil)
	if err != nil {
		report.Problems = append(report.Problems, "IDサービスのURLが不正です。")
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		report.Problems = append(report.Problems, "IDサービスに到達できません。")
		s.logger.Warn("diagnostic identity health check failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		report.Problems = append(report.Problems, "IDサービスがエラーを返しています。")
		return
	}

	report.IdentityReachable = true
}
