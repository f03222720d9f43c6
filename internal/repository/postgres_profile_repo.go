package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jugueteria/tienda/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileSelectColumns = `id, email, role, requested_role, display_name, surname, updated_at`

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileSelectColumns+` FROM profiles WHERE id = $1`,
		id,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return profile, nil
}

// FindByEmail はemailでプロフィールを検索する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileSelectColumns+` FROM profiles WHERE email = $1`,
		email,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by email: %w", err)
	}
	return profile, nil
}

// SyncIdentity はemailをキーに、ドリフトしたプロフィール行のIDを
// 現在のユーザーIDへ上書きする。ロール・表示名は取得済みレコードの値を
// そのまま再保存し、updated_atを現在時刻に更新する。
// 共有ストアに対する読み取り後書き込みであり、トランザクションは使用しない。
func (r *PostgresProfileRepo) SyncIdentity(ctx context.Context, profile *model.Profile, userID, email string) error {
	role := model.NormalizeRole(string(profile.Role))
	requested := model.NormalizeRole(string(profile.RequestedRole))

	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET id = $1, email = $2, role = $3, requested_role = $4,
		     display_name = $5, surname = $6, updated_at = now()
		 WHERE email = $7`,
		userID, email, string(role), string(requested),
		nullIfEmpty(profile.DisplayName), nullIfEmpty(profile.Surname), email,
	)
	if err != nil {
		return fmt.Errorf("failed to sync profile identity: %w", err)
	}
	return nil
}

// CreateOnSignup はcreate_profile_on_signup RPCを呼び出してプロフィールを作成する。
// RPCの戻り値はJSONの{success, message}で、呼び出しエラーとは区別して返す。
func (r *PostgresProfileRepo) CreateOnSignup(ctx context.Context, params SignupProfileParams) (*SignupRPCResult, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT create_profile_on_signup($1::uuid, $2, $3, $4, $5, $6, $7)`,
		params.UserID, params.Email,
		nullIfEmpty(params.DisplayName), nullIfEmpty(params.Surname),
		nullIfEmpty(params.Country), nullIfEmpty(params.City), nullIfEmpty(params.Phone),
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to call create_profile_on_signup: %w", err)
	}

	result := &SignupRPCResult{}
	if err := json.Unmarshal(payload, result); err != nil {
		return nil, fmt.Errorf("failed to decode create_profile_on_signup result: %w", err)
	}
	return result, nil
}

// scanProfile は1行分のプロフィールをスキャンする。
// NULL許容カラムは空文字列へ、role系は正規化してデフォルトを適用する。
func scanProfile(row *sql.Row) (*model.Profile, error) {
	var (
		p             model.Profile
		role          sql.NullString
		requestedRole sql.NullString
		displayName   sql.NullString
		surname       sql.NullString
	)
	err := row.Scan(&p.ID, &p.Email, &role, &requestedRole, &displayName, &surname, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Role = model.NormalizeRole(role.String)
	p.RequestedRole = model.NormalizeRole(requestedRole.String)
	p.DisplayName = displayName.String
	p.Surname = surname.String
	return &p, nil
}

// nullIfEmpty は空文字列をNULLとして渡すためのヘルパー。
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
