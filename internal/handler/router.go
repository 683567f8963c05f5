package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/assignman/internal/middleware"
)

// MetricsRecorder はルーターが記録するメトリクスのインターフェース。
// metrics.Collectorが満たす。
type MetricsRecorder interface {
	middleware.HTTPMetricsRecorder
	DenialRecorder
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視（いずれもnil可）
	Metrics        MetricsRecorder
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// ドメインサービス
	AuthService       AuthServiceInterface
	UserService       UserServiceInterface
	AssignmentService AssignmentServiceInterface

	// AllowAdminSignup がfalseの場合、POST /api/usersでisAdmin=trueを受け付けない。
	AllowAdminSignup bool
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Metrics → Logging → Recovery → SecurityHeaders → CORS → (保護ルートのみ) Auth → RateLimit(General)
//
// ログインにはIPアドレス単位のレート制限を個別に適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var recorder DenialRecorder
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
		recorder = deps.Metrics
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, recorder)
	userHandler := NewUserHandler(deps.UserService, deps.AssignmentService, recorder, deps.AllowAdminSignup)
	assignmentHandler := NewAssignmentHandler(deps.AssignmentService, recorder)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/api/auth/login", authHandler.Login)
	r.Post("/api/users", userHandler.CreateUser)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/protected", authHandler.Protected)

		r.Get("/api/users", userHandler.ListUsers)
		r.Route("/api/users/{id}", func(r chi.Router) {
			r.Get("/", userHandler.GetUser)
			r.Post("/", userHandler.CreateAssignment)
		})

		r.Route("/api/assignments", func(r chi.Router) {
			r.Get("/", assignmentHandler.ListAssignments)
			r.Put("/{id}", assignmentHandler.UpdateAssignment)
			r.Delete("/{id}", assignmentHandler.DeleteAssignment)
		})
	})

	return r
}
