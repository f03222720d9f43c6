// Package authstate はセッションとロール解決の状態機械を提供する。
// IDサービスのセッションとプロフィールストアのロールレコードを突き合わせ、
// {session, user, role, loading} のスナップショットを周辺コンポーネントへ公開する。
package authstate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jugueteria/tienda/internal/identity"
	"github.com/jugueteria/tienda/internal/model"
	"github.com/jugueteria/tienda/internal/repository"
)

// Phase は状態機械の現在フェーズを表す。
type Phase string

const (
	// PhaseInitializing は起動直後、セッション確認前の状態。
	PhaseInitializing Phase = "initializing"
	// PhaseUnauthenticated はセッションなし（guest）の状態。
	PhaseUnauthenticated Phase = "unauthenticated"
	// PhaseResolvingRole はセッションあり、ロール解決中の状態。
	PhaseResolvingRole Phase = "resolving_role"
	// PhaseRoleResolved はロール解決済みの状態。
	PhaseRoleResolved Phase = "role_resolved"
)

// resolveTimeout は認証イベント起点のロール解決1回あたりの上限時間。
const resolveTimeout = 15 * time.Second

// Snapshot はリゾルバ状態の読み取り専用ビュー。
type Snapshot struct {
	Phase   Phase
	Session *model.Session
	User    *model.User
	Role    model.Role
	Loading bool
}

// SignUpInput はアカウント登録の入力フィールド。
// 各フィールドはリゾルバ側でトリムされる。
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	Surname     string
	Country     string
	City        string
	Phone       string
}

// MetricsRecorder はリゾルバが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordRoleResolution(outcome string)
	RecordReconciliation(success bool)
	RecordSignupAttempt()
	RecordSignupRetry()
	RecordSignupFailure(reason string)
	ObserveResolveLatency(d time.Duration)
}

// Config はリゾルバの動作設定。
type Config struct {
	// SettleDelay はID作成成功からプロフィール作成RPCまでの固定待機時間。
	// 外部ストアの書き込み後読み取りレースを吸収する。デフォルト1000ms。
	SettleDelay time.Duration
	// MaxAttempts はプロフィール作成RPCの最大試行回数。デフォルト3。
	MaxAttempts int
	// RetryUnit は線形バックオフの単位時間（attempt × RetryUnit）。デフォルト500ms。
	RetryUnit time.Duration
}

func (c *Config) applyDefaults() {
	if c.SettleDelay == 0 {
		c.SettleDelay = 1000 * time.Millisecond
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryUnit == 0 {
		c.RetryUnit = 500 * time.Millisecond
	}
}

// Resolver はセッションとロール解決の状態機械。
// 1インスタンスが1ユーザーセッションのスコープを持ち、Closeで購読を解除する。
//
// 新しい認証イベントごとに世代カウンタを進め、解決結果の適用時に世代を
// 照合することで、追い越された解決シーケンスの結果（stale result）を破棄する。
// 最後に完了したものではなく、常に最新イベントの結果が勝つ。
type Resolver struct {
	identity identity.Service
	profiles repository.ProfileRepository
	logger   *slog.Logger
	metrics  MetricsRecorder
	config   Config

	// sleep はテストで差し替え可能な待機関数。
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	phase       Phase
	session     *model.Session
	user        *model.User
	role        model.Role
	loading     bool
	gen         uint64
	ready       chan struct{}
	readyClosed bool
	unsubscribe func()
	closed      bool
}

// NewResolver はResolverを生成する。metricsはnilでもよい。
func NewResolver(identitySvc identity.Service, profiles repository.ProfileRepository, logger *slog.Logger, metrics MetricsRecorder, config Config) *Resolver {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		identity: identitySvc,
		profiles: profiles,
		logger:   logger,
		metrics:  metrics,
		config:   config,
		sleep:    sleepContext,
		phase:    PhaseInitializing,
		role:     model.RoleGuest,
		loading:  true,
		ready:    make(chan struct{}),
	}
}

// Bootstrap は現在のセッションを取得して初期状態を確定し、
// 認証状態変化の購読を開始する。
// セッション取得に失敗した場合はguestとして扱い、エラーを返す（loadingは解決される）。
func (r *Resolver) Bootstrap(ctx context.Context) error {
	// イベントの取りこぼしを防ぐため、セッション取得より先に購読を開始する。
	// 初期化とイベントが前後しても世代カウンタで新しい方が勝つ。
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("resolver is closed")
	}
	r.unsubscribe = r.identity.OnAuthStateChange(r.handleAuthEvent)
	r.mu.Unlock()

	session, err := r.identity.CurrentSession(ctx)
	if err != nil {
		r.logger.Warn("failed to load current session, treating as unauthenticated",
			slog.String("error", err.Error()),
		)
		gen := r.beginCycle(nil)
		r.applyRole(gen, model.RoleGuest)
		return fmt.Errorf("failed to load current session: %w", err)
	}

	gen := r.beginCycle(session)
	if session == nil || session.User == nil {
		r.applyRole(gen, model.RoleGuest)
		return nil
	}

	r.resolveRole(ctx, gen, session.User.ID, session.User.Email)
	return nil
}

// Snapshot は現在の状態の読み取り専用ビューを返す。
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Phase:   r.phase,
		Session: r.session,
		User:    r.user,
		Role:    r.role,
		Loading: r.loading,
	}
}

// WaitReady はloadingが解消されるまでブロックする。
// コンテキストのキャンセルで中断できる。
func (r *Resolver) WaitReady(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn はIDサービスのパスワード認証へ委譲する。
// 失敗はリトライ・変換なしでそのまま返す（ユーザーが対処可能なエラーのため）。
// 状態の更新はIDサービスが発火するSIGNED_INイベント経由で行われる。
func (r *Resolver) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	return r.identity.SignInWithPassword(ctx, email, password)
}

// SignUp はアカウント登録の2段階フローを実行する。
//
//  1. IDサービスでアカウントを作成する。失敗は全体の失敗として中断する。
//  2. IDレコードがプロフィールストアへ伝搬するまで固定時間待機する。
//  3. create_profile_on_signup RPCを最大MaxAttempts回試行する。
//     試行間の待機は attempt × RetryUnit の線形バックオフ。
//
// IDサービスとプロフィールストアは別システムでトランザクションを共有しないため、
// ID作成済み・プロフィール未作成の部分失敗はありうる。その場合はエラーとして
// 呼び出し側へ伝え、ロールバックは行わない。
func (r *Resolver) SignUp(ctx context.Context, input SignUpInput) (*identity.SignUpResult, error) {
	email := strings.TrimSpace(input.Email)

	result, err := r.identity.SignUp(ctx, email, input.Password)
	if err != nil {
		r.recordSignupFailure("identity")
		return nil, model.NewSignupAuthFailedError(err.Error())
	}
	if result.User == nil || result.User.ID == "" {
		// 成功レスポンスにIDがない場合も致命的として扱う
		r.recordSignupFailure("missing_user_id")
		return nil, model.NewSignupAuthFailedError("登録後にユーザーIDを取得できませんでした")
	}
	userID := result.User.ID

	r.logger.Info("identity created, waiting before profile creation",
		slog.String("user_id", userID),
		slog.Duration("settle_delay", r.config.SettleDelay),
	)
	if err := r.sleep(ctx, r.config.SettleDelay); err != nil {
		return nil, fmt.Errorf("signup interrupted: %w", err)
	}

	params := repository.SignupProfileParams{
		UserID:      userID,
		Email:       email,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Surname:     strings.TrimSpace(input.Surname),
		Country:     strings.TrimSpace(input.Country),
		City:        strings.TrimSpace(input.City),
		Phone:       strings.TrimSpace(input.Phone),
	}

	var lastErr error
	var lastResult *repository.SignupRPCResult

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		r.recordSignupAttempt()

		rpcResult, rpcErr := r.profiles.CreateOnSignup(ctx, params)
		if rpcErr == nil && rpcResult != nil && rpcResult.Success {
			r.logger.Info("profile created",
				slog.String("user_id", userID),
				slog.Int("attempt", attempt),
			)
			return result, nil
		}

		lastErr = rpcErr
		lastResult = rpcResult
		r.logger.Warn("profile creation attempt failed",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.config.MaxAttempts),
			slog.Any("error", rpcErr),
		)

		if attempt < r.config.MaxAttempts {
			r.recordSignupRetry()
			wait := time.Duration(attempt) * r.config.RetryUnit
			if err := r.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("signup interrupted: %w", err)
			}
		}
	}

	// 全試行失敗: 呼び出しエラーとRPCペイロードの失敗を区別して分類する
	if lastErr != nil {
		switch {
		case repository.IsForeignKeyViolation(lastErr):
			// IDレコードがまだ可視になっていない
			r.recordSignupFailure("fk_violation")
			return nil, model.NewProfileSyncPendingError()
		case repository.IsUniqueViolation(lastErr):
			r.recordSignupFailure("duplicate_email")
			return nil, model.NewDuplicateEmailError()
		default:
			r.recordSignupFailure("rpc_error")
			return nil, model.NewProfileRPCFailedError(lastErr.Error())
		}
	}

	message := "不明なエラー"
	if lastResult != nil && lastResult.Message != "" {
		message = lastResult.Message
	}
	r.recordSignupFailure("rpc_rejected")
	return nil, model.NewProfileRPCFailedError(message)
}

// SignOut はIDサービスへサインアウトを委譲する。
// 成功すると、非同期のSIGNED_OUTイベントを待たずにローカルで即座に
// guestへ遷移する（表示遅延を避けるため）。進行中のロール解決結果は破棄される。
func (r *Resolver) SignOut(ctx context.Context) error {
	if err := r.identity.SignOut(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.gen++
	r.session = nil
	r.user = nil
	r.role = model.RoleGuest
	r.loading = false
	r.phase = PhaseUnauthenticated
	r.closeReadyLocked()
	r.mu.Unlock()

	return nil
}

// Close は認証状態変化の購読を解除する。冪等。
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	// 待機中の呼び出し側を解放する
	r.closeReadyLocked()
}

// Closed は購読解除済みかどうかを返す。
func (r *Resolver) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// handleAuthEvent は認証状態変化イベントを処理する。
// セッションありなら新しい世代でロール解決を開始し、
// なしなら即座にguestへ遷移する。
// Broadcasterがイベントごとに個別goroutineで呼び出すため、
// 解決シーケンスは並行に走りうる。世代照合により最新イベントが常に勝つ。
func (r *Resolver) handleAuthEvent(ev identity.Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	gen := r.beginCycle(ev.Session)

	if ev.Session == nil || ev.Session.User == nil {
		r.applyRole(gen, model.RoleGuest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	r.resolveRole(ctx, gen, ev.Session.User.ID, ev.Session.User.Email)
}

// resolveRole はプロフィールストアからロールを解決し、世代genの結果として適用する。
//
//  1. IDでプロフィールを検索する。見つかればそのロール（空ならuser）。
//  2. 「行なし」の場合のみemailで二次検索する。見つかればプロフィールドリフトと
//     みなし、IDを現在のユーザーIDへ上書きする照合更新を1回だけ試みる。
//     更新はベストエフォートで、失敗してもログに残すのみ。取得済みレコードの
//     ロールは更新の成否に関わらず使用する。
//  3. どちらの検索も失敗した場合はuserをデフォルトとする。読み取り失敗で
//     ユーザーを締め出さないfail-openだが、adminを暗黙に付与することもない。
//
// いずれの分岐でもloadingはちょうど1回解消される。
func (r *Resolver) resolveRole(ctx context.Context, gen uint64, userID, email string) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveResolveLatency(time.Since(start))
		}
	}()

	profile, err := r.profiles.FindByID(ctx, userID)
	if err != nil {
		r.logger.Warn("profile lookup failed, defaulting to user role",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		r.recordRoleResolution("default")
		r.applyRole(gen, model.RoleUser)
		return
	}

	if profile != nil {
		r.recordRoleResolution("by_id")
		r.applyRole(gen, model.NormalizeRole(string(profile.Role)))
		return
	}

	// 行なし: emailでの二次検索にフォールバック
	if email != "" {
		byEmail, emailErr := r.profiles.FindByEmail(ctx, email)
		if emailErr != nil {
			r.logger.Warn("profile lookup by email failed",
				slog.String("email", email),
				slog.String("error", emailErr.Error()),
			)
		}
		if emailErr == nil && byEmail != nil {
			// プロフィールドリフト: 行は存在するが別IDに紐づいている
			r.logger.Info("profile found by email, reconciling identity",
				slog.String("user_id", userID),
				slog.String("stale_id", byEmail.ID),
			)
			if syncErr := r.profiles.SyncIdentity(ctx, byEmail, userID, email); syncErr != nil {
				// 照合更新の失敗はロール解決を妨げない
				r.logger.Warn("profile reconciliation failed",
					slog.String("user_id", userID),
					slog.String("error", syncErr.Error()),
				)
				r.recordReconciliation(false)
			} else {
				r.recordReconciliation(true)
			}
			r.recordRoleResolution("by_email")
			r.applyRole(gen, model.NormalizeRole(string(byEmail.Role)))
			return
		}
	}

	r.recordRoleResolution("default")
	r.applyRole(gen, model.RoleUser)
}

// beginCycle は新しい世代を開始し、セッションとユーザーを差し替える。
func (r *Resolver) beginCycle(session *model.Session) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	r.session = session
	if session != nil {
		r.user = session.User
	} else {
		r.user = nil
	}
	r.loading = true
	if session != nil && session.User != nil {
		r.phase = PhaseResolvingRole
	}
	r.resetReadyLocked()
	return r.gen
}

// applyRole は世代genの解決結果としてロールを適用する。
// 世代が既に進んでいる場合、結果は破棄される（新しいイベントが勝つ）。
func (r *Resolver) applyRole(gen uint64, role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		r.logger.Debug("discarding stale role resolution result",
			slog.Uint64("result_gen", gen),
			slog.Uint64("current_gen", r.gen),
			slog.String("role", string(role)),
		)
		return
	}

	r.role = role
	r.loading = false
	if r.session == nil || r.session.User == nil {
		r.phase = PhaseUnauthenticated
	} else {
		r.phase = PhaseRoleResolved
	}
	r.closeReadyLocked()
}

func (r *Resolver) closeReadyLocked() {
	if !r.readyClosed {
		close(r.ready)
		r.readyClosed = true
	}
}

func (r *Resolver) resetReadyLocked() {
	if r.readyClosed {
		r.ready = make(chan struct{})
		r.readyClosed = false
	}
}

func (r *Resolver) recordRoleResolution(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRoleResolution(outcome)
	}
}

func (r *Resolver) recordReconciliation(success bool) {
	if r.metrics != nil {
		r.metrics.RecordReconciliation(success)
	}
}

func (r *Resolver) recordSignupAttempt() {
	if r.metrics != nil {
		r.metrics.RecordSignupAttempt()
	}
}

func (r *Resolver) recordSignupRetry() {
	if r.metrics != nil {
		r.metrics.RecordSignupRetry()
	}
}

func (r *Resolver) recordSignupFailure(reason string) {
	if r.metrics != nil {
		r.metrics.RecordSignupFailure(reason)
	}
}

// sleepContext はコンテキストのキャンセルに対応した待機を行う。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
