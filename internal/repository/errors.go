package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLエラーコード。プロフィール作成RPCの失敗分類に使用する。
const (
	pgCodeForeignKeyViolation = "23503"
	pgCodeUniqueViolation     = "23505"
)

// IsForeignKeyViolation は外部キー制約違反(23503)かどうかを判定する。
// サインアップ時、IDレコードがまだプロフィールストアへ伝搬していないことを示す。
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgCodeForeignKeyViolation
	}
	return false
}

// IsUniqueViolation は一意制約違反(23505)かどうかを判定する。
// サインアップ時、emailが既に登録済みであることを示す。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgCodeUniqueViolation
	}
	return false
}
