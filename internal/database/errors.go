package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEコード
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// SQLState はドライバ固有のエラーからSQLSTATEコードを取り出す。
// lib/pq と pgx のどちらのエラーにも対応する。該当しない場合は空文字を返す。
func SQLState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUnavailable はエラーがインフラ起因でトランザクションを完了できなかったものかを判定する。
// 接続断、ロック待ちタイムアウト、デッドロック、シリアライズ失敗などが該当する。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	switch code := SQLState(err); {
	case code == codeSerializationFailure,
		code == codeDeadlockDetected,
		code == codeLockNotAvailable,
		code == codeQueryCanceled,
		code == codeTooManyConnections,
		code == codeAdminShutdown:
		return true
	case strings.HasPrefix(code, "08"):
		// connection exception クラス
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation は一意制約違反かを判定する。
func IsUniqueViolation(err error) bool {
	return SQLState(err) == codeUniqueViolation
}

// IsForeignKeyViolation は外部キー制約違反かを判定する。
func IsForeignKeyViolation(err error) bool {
	return SQLState(err) == codeForeignKeyViolation
}

// ToAPIError はストア操作のエラーを呼び出し元に返す形に変換する。
// *model.APIError はそのまま返し、それ以外はすべて STORE_UNAVAILABLE とする。
// トランザクションはロールバック済みであり、部分的な書き込みは残っていない。
func ToAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewStoreUnavailableError()
}
