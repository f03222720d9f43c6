// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jugueteria/tienda/internal/authstate"
	"github.com/jugueteria/tienda/internal/model"
)

// SessionCookieName はセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "tienda_session"

// snapshotWaitTimeout はロール解決待ちの上限時間。
// 解決が長引く場合はloading=trueのままのスナップショットを使用する。
const snapshotWaitTimeout = 3 * time.Second

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// snapshotContextKey はリクエストコンテキストに認証スナップショットを格納するためのキー。
	snapshotContextKey = contextKey("auth_snapshot")
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
)

// ResolverKeeper はセッションIDからResolverを引くためのインターフェース。
// session.Keeperの部分集合として定義する。
type ResolverKeeper interface {
	Lookup(sid string) (*authstate.Resolver, bool)
}

// NewSessionMiddleware はCookieのセッションIDからResolverを検索し、
// 現在の認証スナップショットをリクエストコンテキストに注入するミドルウェアを返す。
// セッションがない・失効している場合もリクエストは通す（guestスナップショット）。
// アクセス制御はRequireAuth / RequireAdminが行う。
func NewSessionMiddleware(keeper ResolverKeeper) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := authstate.Snapshot{
				Phase: authstate.PhaseUnauthenticated,
				Role:  model.RoleGuest,
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err == nil && cookie.Value != "" {
				if resolver, ok := keeper.Lookup(cookie.Value); ok {
					// ロール解決中なら少しだけ待つ
					waitCtx, cancel := context.WithTimeout(r.Context(), snapshotWaitTimeout)
					if err := resolver.WaitReady(waitCtx); err != nil {
						slog.Debug("role resolution still in flight",
							slog.String("path", r.URL.Path),
						)
					}
					cancel()
					snap = resolver.Snapshot()
				}
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey, snap)
			if snap.User != nil {
				ctx = context.WithValue(ctx, userIDContextKey, snap.User.ID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireAuthMiddleware は認証済みセッションを必須とするミドルウェアを返す。
// 未認証リクエストには401を統一エラーフォーマットで返す。
// NewSessionMiddlewareの後に配置すること。
func NewRequireAuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := SnapshotFromContext(r.Context())
			if !ok || snap.Session == nil || snap.Session.User == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequireAdminMiddleware はadminロールを必須とするミドルウェアを返す。
// 未認証は401、認証済みで非adminは403を返す。
// NewSessionMiddlewareの後に配置すること。
func NewRequireAdminMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap, ok := SnapshotFromContext(r.Context())
			if !ok || snap.Session == nil || snap.Session.User == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if snap.Role != model.RoleAdmin {
				slog.Warn("admin access denied",
					slog.String("user_id", snap.User.ID),
					slog.String("role", string(snap.Role)),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(snap.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SnapshotFromContext はリクエストコンテキストから認証スナップショットを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SnapshotFromContext(ctx context.Context) (authstate.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey).(authstate.Snapshot)
	return snap, ok
}

// ContextWithSnapshot はコンテキストに認証スナップショットを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSnapshot(ctx context.Context, snap authstate.Snapshot) context.Context {
	ctx = context.WithValue(ctx, snapshotContextKey, snap)
	if snap.User != nil {
		ctx = context.WithValue(ctx, userIDContextKey, snap.User.ID)
	}
	return ctx
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証済みセッションのあるリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}
