package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/lockerclaim/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	MemberLookup      middleware.MemberLookup
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 拾得物
	ObjectService ObjectServiceInterface

	// 受取申請
	ClaimController ClaimControllerInterface
	ClaimLedger     ClaimLedgerInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// /health と /metrics はCORSより内側の認証・レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	objectHandler := NewObjectHandler(deps.ObjectService)
	claimHandler := NewClaimHandler(deps.ClaimController, deps.ClaimLedger)

	// --- 運用エンドポイント ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証任意のルート（公開閲覧、キオスクからの匿名登録） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, false))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/categories", objectHandler.ListCategories)
		r.Get("/api/places", objectHandler.ListPlaces)

		r.Route("/api/objects", func(r chi.Router) {
			r.Get("/", objectHandler.ListObjects)
			r.Post("/", objectHandler.RegisterObject)
			r.Get("/{id}", objectHandler.GetObject)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, true))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// POST /api/claims - 受取申請（申請専用レート制限を追加）
		r.With(deps.RateLimiter.ClaimMiddleware()).Post("/api/claims", claimHandler.SubmitClaim)

		// 審査（ADMINのみ）。権限は会員テーブルの現在の値で判定する
		r.Route("/api/admin/claims", func(r chi.Router) {
			r.Use(middleware.NewRequireAdmin(deps.MemberLookup))
			r.Get("/", claimHandler.ListPendingClaims)
			r.Post("/{id}/process", claimHandler.ProcessClaim)
		})

		// キオスク
		r.Route("/api/kiosk", func(r chi.Router) {
			r.Get("/approved", claimHandler.ListApproved)
			r.Post("/claims/{id}/collect", claimHandler.CollectClaim)
		})
	})

	return r
}
