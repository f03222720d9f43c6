// Package identity は外部IDサービス（GoTrue互換API）のクライアントを提供する。
// クライアントはブラウザセッション1つ分のスコープを持ち、自身を通じた
// サインイン・サインアウトの結果を認証状態変化イベントとして通知する。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jugueteria/tienda/internal/model"
)

// Service は外部IDサービスへの操作インターフェース。
type Service interface {
	// CurrentSession は現在のセッションを返す。セッションがない場合はnilを返す。
	// 期限切れの場合はリフレッシュを試み、成功するとTOKEN_REFRESHEDイベントを発火する。
	CurrentSession(ctx context.Context) (*model.Session, error)

	// OnAuthStateChange は認証状態変化の購読を登録し、解除関数を返す。
	OnAuthStateChange(fn func(Event)) func()

	// SignInWithPassword はパスワード認証でサインインする。
	// 失敗はそのまま返す（リトライなし・変換なし）。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)

	// SignUp はIDサービスにアカウントを作成する。
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)

	// SignOut は現在のセッションを破棄する。
	SignOut(ctx context.Context) error
}

// SignUpResult はSignUpの結果を表す。
// メール確認フローが無効な場合はSessionも返る。
type SignUpResult struct {
	User    *model.User
	Session *model.Session
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	// BaseURL はIDサービスのベースURL（例: "https://xyz.supabase.co/auth/v1"）。
	BaseURL string
	// APIKey はapikeyヘッダーに設定するキー。
	APIKey string
	// HTTPClient は省略時 10秒タイムアウトのクライアントを使用する。
	HTTPClient *http.Client
}

// Client はGoTrue互換APIのHTTPクライアント実装。
// 1インスタンスが1ユーザーセッションのスコープを持つ。
type Client struct {
	config      ClientConfig
	broadcaster *Broadcaster

	mu      sync.Mutex
	session *model.Session
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		config:      config,
		broadcaster: NewBroadcaster(),
	}
}

// OnAuthStateChange は認証状態変化の購読を登録し、解除関数を返す。
func (c *Client) OnAuthStateChange(fn func(Event)) func() {
	return c.broadcaster.Subscribe(fn)
}

// CurrentSession は現在のセッションを返す。セッションがない場合はnilを返す。
func (c *Client) CurrentSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}
	if !session.Expired(time.Now()) {
		return session, nil
	}
	if session.RefreshToken == "" {
		return nil, nil
	}

	refreshed, err := c.refreshSession(ctx, session.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	c.mu.Lock()
	c.session = refreshed
	c.mu.Unlock()
	c.broadcaster.Emit(Event{Type: EventTokenRefreshed, Session: refreshed})

	return refreshed, nil
}

// SignInWithPassword はパスワード認証でサインインする。
// 成功するとセッションを保持し、SIGNED_INイベントを発火する。
// 失敗はそのまま返す。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := c.post(ctx, "/token?grant_type=password", body, "", &resp); err != nil {
		return nil, err
	}

	session := resp.toSession(time.Now())

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.broadcaster.Emit(Event{Type: EventSignedIn, Session: session})

	return session, nil
}

// SignUp はIDサービスにアカウントを作成する。
// 自動確認が有効なサーバーはトークンを即時発行する。その場合はサインインと
// 同様にセッションを保持し、SIGNED_INイベントを発火する。
// メール確認待ちの場合はセッションなしの結果を返す。
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	body := map[string]string{"email": email, "password": password}

	var resp signUpResponse
	if err := c.post(ctx, "/signup", body, "", &resp); err != nil {
		return nil, err
	}

	result := &SignUpResult{User: resp.user()}
	if resp.AccessToken != "" {
		session := resp.tokenResponse.toSession(time.Now())
		result.Session = session

		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
		c.broadcaster.Emit(Event{Type: EventSignedIn, Session: session})
	}
	return result, nil
}

// SignOut は現在のセッションを破棄する。
// 成功するとSIGNED_OUTイベントを発火する。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	accessToken := ""
	if session != nil {
		accessToken = session.AccessToken
	}

	if err := c.post(ctx, "/logout", nil, accessToken, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.broadcaster.Emit(Event{Type: EventSignedOut, Session: nil})

	return nil
}

// refreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) refreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	if err := c.post(ctx, "/token?grant_type=refresh_token", body, "", &resp); err != nil {
		return nil, err
	}
	return resp.toSession(time.Now()), nil
}

// post はJSONボディのPOSTリクエストを送り、成功レスポンスをoutへデコードする。
// 2xx以外のステータスはAPIエラーとしてデコードし、エラーメッセージを返す。
func (c *Client) post(ctx context.Context, path string, body interface{}, bearerToken string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.config.APIKey)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode identity service response: %w", err)
	}
	return nil
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	UserPayload  *userPayload `json:"user"`
}

func (r *tokenResponse) toSession(now time.Time) *model.Session {
	session := &model.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	if r.ExpiresIn > 0 {
		session.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if r.UserPayload != nil {
		session.User = r.UserPayload.toUser()
	}
	return session
}

// signUpResponse はサインアップエンドポイントのレスポンス。
// メール確認フローが有効な場合はユーザーオブジェクトのみ、
// 無効な場合はトークンバンドルとuserフィールドが返る。
type signUpResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (r *signUpResponse) user() *model.User {
	if r.UserPayload != nil {
		return r.UserPayload.toUser()
	}
	if r.ID != "" {
		return &model.User{ID: r.ID, Email: r.Email}
	}
	return nil
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u *userPayload) toUser() *model.User {
	return &model.User{ID: u.ID, Email: u.Email}
}

// apiErrorResponse はGoTrue互換APIのエラーレスポンス。
// バージョンによりフィールド名が異なるため、複数の候補を受け付ける。
type apiErrorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e *apiErrorResponse) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.ErrorField} {
		if s != "" {
			return s
		}
	}
	return ""
}

func decodeAPIError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil {
		if msg := apiErr.text(); msg != "" {
			return fmt.Errorf("identity service error (status %d): %s", resp.StatusCode, msg)
		}
	}
	return fmt.Errorf("identity service returned status %d", resp.StatusCode)
}

// compile-time interface check
var _ Service = (*Client)(nil)
