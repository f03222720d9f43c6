// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jugueteria/tienda/internal/authstate"
	"github.com/jugueteria/tienda/internal/middleware"
	"github.com/jugueteria/tienda/internal/model"
)

// roleResolveWait はサインイン・登録直後にロール解決を待つ上限時間。
// 上限を超えた場合はloading=trueのままレスポンスを返す。
const roleResolveWait = 5 * time.Second

// KeeperInterface は認証ハンドラーが必要とするセッション管理のインターフェース。
type KeeperInterface interface {
	Login() (string, *authstate.Resolver)
	Lookup(sid string) (*authstate.Resolver, bool)
	Logout(sid string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインイン・登録・サインアウト関連のHTTPハンドラー。
type AuthHandler struct {
	keeper KeeperInterface
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(keeper KeeperInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		keeper: keeper,
		config: config,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Surname     string `json:"surname"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Phone       string `json:"phone"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// authStateResponse は認証状態のレスポンス。
// loadingがtrueの場合、roleは暫定値でありクライアントは再取得してよい。
type authStateResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *userResponse `json:"user,omitempty"`
	Role          string        `json:"role"`
	Loading       bool          `json:"loading"`
}

type signupResponse struct {
	User           *userResponse `json:"user"`
	SessionCreated bool          `json:"session_created"`
	Role           string        `json:"role"`
	Loading        bool          `json:"loading"`
	Message        string        `json:"message,omitempty"`
}

// Login はパスワード認証でサインインし、セッションCookieを設定する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	sid, resolver := h.keeper.Login()
	if err := resolver.Bootstrap(r.Context()); err != nil {
		// 新規セッションに既存セッションはないため、確認失敗は致命的ではない
		slog.Warn("session bootstrap failed", slog.String("error", err.Error()))
	}

	if _, err := resolver.SignIn(r.Context(), req.Email, req.Password); err != nil {
		h.keeper.Logout(sid)
		handleServiceError(w, model.NewInvalidCredentialsError(err.Error()))
		return
	}

	snap := waitForSnapshot(r.Context(), resolver)
	h.setSessionCookie(w, sid)
	writeJSON(w, http.StatusOK, toAuthStateResponse(snap))
}

// Signup はアカウントを登録する。
// IDサービスでのアカウント作成とプロフィール作成RPCの2段階で行われる。
// IDサービスがセッションを返した場合はそのままサインイン状態になる。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	sid, resolver := h.keeper.Login()
	if err := resolver.Bootstrap(r.Context()); err != nil {
		slog.Warn("session bootstrap failed", slog.String("error", err.Error()))
	}

	result, err := resolver.SignUp(r.Context(), authstate.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Surname:     req.Surname,
		Country:     req.Country,
		City:        req.City,
		Phone:       req.Phone,
	})
	if err != nil {
		h.keeper.Logout(sid)
		handleServiceError(w, err)
		return
	}

	resp := signupResponse{
		User: &userResponse{
			ID:    result.User.ID,
			Email: result.User.Email,
		},
		Role: string(model.RoleGuest),
	}

	if result.Session == nil {
		// メール確認フローが有効な場合、セッションは発行されない
		h.keeper.Logout(sid)
		resp.Message = "確認メールを送信しました。メール内のリンクから登録を完了してください。"
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	snap := waitForSnapshot(r.Context(), resolver)
	resp.SessionCreated = true
	resp.Role = string(snap.Role)
	resp.Loading = snap.Loading
	h.setSessionCookie(w, sid)
	writeJSON(w, http.StatusCreated, resp)
}

// Logout はサインアウトし、セッションCookieを削除する。
// サインアウトは冪等で、セッションがない場合も成功を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if resolver, ok := h.keeper.Lookup(cookie.Value); ok {
			if err := resolver.SignOut(r.Context()); err != nil {
				// IDサービス側の失敗でもローカルセッションは破棄する
				slog.Warn("identity sign-out failed", slog.String("error", err.Error()))
			}
		}
		h.keeper.Logout(cookie.Value)
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証状態を返す。未認証でも200でguest状態を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	snap, ok := middleware.SnapshotFromContext(r.Context())
	if !ok {
		snap = authstate.Snapshot{
			Phase: authstate.PhaseUnauthenticated,
			Role:  model.RoleGuest,
		}
	}
	writeJSON(w, http.StatusOK, toAuthStateResponse(snap))
}

// setSessionCookie はセッションIDをHTTP Only Cookieに設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sid,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// waitForSnapshot はサインイン後のロール解決完了を上限付きで待ち、
// 現在のスナップショットを返す。サインインイベントは非同期に配送されるため、
// 認証済みかつ解決済みのスナップショットが観測できるまでポーリングする。
// 上限に達した場合はその時点のスナップショットをそのまま返す。
func waitForSnapshot(ctx context.Context, resolver *authstate.Resolver) authstate.Snapshot {
	deadline := time.Now().Add(roleResolveWait)
	for {
		snap := resolver.Snapshot()
		if snap.Session != nil && !snap.Loading {
			return snap
		}
		if time.Now().After(deadline) {
			slog.Debug("role resolution still in flight after sign-in")
			return snap
		}
		select {
		case <-ctx.Done():
			return snap
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func toAuthStateResponse(snap authstate.Snapshot) authStateResponse {
	resp := authStateResponse{
		Role:    string(snap.Role),
		Loading: snap.Loading,
	}
	if snap.Session != nil && snap.Session.User != nil {
		resp.Authenticated = true
		resp.User = &userResponse{
			ID:    snap.Session.User.ID,
			Email: snap.Session.User.Email,
		}
	}
	return resp
}
