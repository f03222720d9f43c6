package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jugueteria/tienda/internal/metrics"
	"github.com/jugueteria/tienda/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Keeper            middleware.ResolverKeeper
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// 認証
	AuthKeeper KeeperInterface
	AuthConfig AuthHandlerConfig

	// サービス
	CatalogService    CatalogServiceInterface
	ContactService    ContactServiceInterface
	DiagnosticService DiagnosticServiceInterface

	// メトリクス
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Logging → Metrics → CSRF → Session → RateLimit(General)
//
// /health と /metrics はチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	authHandler := NewAuthHandler(deps.AuthKeeper, deps.AuthConfig)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	contactHandler := NewContactHandler(deps.ContactService)
	diagnosticHandler := NewDiagnosticHandler(deps.DiagnosticService)

	// --- ミドルウェアチェーン外のルート ---

	// ヘルスチェック（ロードバランサー用、ログ・メトリクス対象外）
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheusメトリクスエンドポイント
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewRecoveryMiddleware())
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
		if deps.Metrics != nil {
			r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.Keeper))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// CSRFトークン取得
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/signup", authHandler.Signup)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		// 商品カタログ（公開）
		r.Route("/api/products", func(r chi.Router) {
			r.Get("/", catalogHandler.ListProducts)
			r.Get("/{id}", catalogHandler.GetProduct)
		})

		// お問い合わせ（公開、専用レート制限）
		r.With(deps.RateLimiter.ContactMiddleware()).
			Post("/api/contact", contactHandler.SubmitContact)

		// 管理者ルート
		r.Route("/api/admin", func(r chi.Router) {
			// 権限診断は認証済みであればadmin以外も実行できる。
			// adminになれない原因を自己診断するためのビューのため。
			r.With(middleware.NewRequireAuthMiddleware()).
				Get("/diagnostic", diagnosticHandler.RunDiagnostic)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewRequireAdminMiddleware())
				r.Route("/products", func(r chi.Router) {
					r.Post("/", catalogHandler.CreateProduct)
					r.Put("/{id}", catalogHandler.UpdateProduct)
					r.Delete("/{id}", catalogHandler.DeleteProduct)
				})
			})
		})
	})

	return r
}
