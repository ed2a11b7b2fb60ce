// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/lockerclaim/internal/auth"
	"github.com/hitoshi/lockerclaim/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに呼び出し元情報を格納するためのキー。
var identityContextKey = contextKey("identity")

// TokenVerifier はベアラートークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 呼び出し元情報をリクエストコンテキストに注入するミドルウェアを返す。
// requiredがtrueの場合、トークンがない、または不正なリクエストには401を返す。
// requiredがfalseの場合、トークンがなければ匿名のまま通す。不正なトークンは401とする。
func NewAuthMiddleware(verifier TokenVerifier, required bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r)
			if !present {
				if required {
					WriteErrorResponse(w, model.NewUnauthorizedError())
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				slog.Warn("bearer token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, model.NewUnauthorizedError())
				return
			}

			recordMemberID(r.Context(), identity.MemberID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// MemberLookup は会員の現在の権限を確認するためのインターフェース。
type MemberLookup interface {
	FindByID(ctx context.Context, id string) (*model.Member, error)
}

// NewRequireAdmin はADMIN権限を持たない呼び出し元に403を返すミドルウェアを生成する。
// NewAuthMiddlewareの後に配置する。
// トークンの権限は発行時点のものなので、membersが指定された場合は会員テーブルの現在の権限で判定し、
// 後続のハンドラーには現在の権限を持つIdentityを渡す。
func NewRequireAdmin(members MemberLookup) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, model.NewUnauthorizedError())
				return
			}

			if members != nil {
				member, err := members.FindByID(r.Context(), identity.MemberID)
				if err != nil {
					slog.Error("member lookup failed",
						slog.String("member_id", identity.MemberID),
						slog.String("error", err.Error()),
					)
					WriteErrorResponse(w, model.NewStoreUnavailableError())
					return
				}
				if member == nil {
					WriteErrorResponse(w, model.NewUnauthorizedError())
					return
				}
				if member.Role != identity.Role {
					slog.Info("token role differs from current member role",
						slog.String("member_id", identity.MemberID),
						slog.String("token_role", string(identity.Role)),
						slog.String("current_role", string(member.Role)),
					)
				}
				identity.Role = member.Role
			}

			if !identity.IsAdmin() {
				WriteErrorResponse(w, model.NewAdminRequiredError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから呼び出し元情報を取得する。
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	if !ok || identity.MemberID == "" {
		return auth.Identity{}, false
	}
	return identity, true
}

// ContextWithIdentity はコンテキストに呼び出し元情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。
// ヘッダーが存在しない場合はpresent=falseを返す。
func bearerToken(r *http.Request) (token string, present bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", true
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
