package routes

import (
	"time"

	"passvault/api/handler"
	"passvault/api/middleware"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	AuthMiddleware middleware.AuthMiddleware
	AuthRate       *middleware.RateLimiter
	LoginRate      *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, authHandler *handler.AuthHandler, authMiddleware middleware.AuthMiddleware) *Router {
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		AuthMiddleware: authMiddleware,
		AuthRate:       middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		LoginRate:      middleware.NewRateLimiter(rate.Limit(2), 4, 10*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	if e.IPExtractor == nil {
		// Rate limits key on the client IP; forwarded headers are client controlled.
		e.IPExtractor = echo.ExtractIPDirect()
	}
	requireAuth := r.AuthMiddleware.RequireAuth
	self := middleware.RequireSelf("id")

	e.POST("/register", r.Auth.Register, r.AuthRate.Middleware())
	e.POST("/login", r.Auth.Login, r.LoginRate.Middleware())
	e.GET("/verify-email", r.Auth.VerifyEmail, r.AuthRate.Middleware())
	e.GET("/confirm-login", r.Auth.ConfirmLogin, r.AuthRate.Middleware())
	e.POST("/resend-verification-email", r.Auth.ResendVerification, r.LoginRate.Middleware())

	e.POST("/enable-2fa", r.Auth.EnableTwoFA, requireAuth)
	e.POST("/verify-2fa", r.Auth.VerifyTwoFA, requireAuth, r.LoginRate.Middleware())
	e.POST("/disable-2fa", r.Auth.DisableTwoFA, requireAuth, r.LoginRate.Middleware())
	e.POST("/update-security-info", r.Auth.UpdateSecurityInfo, requireAuth)
	e.GET("/security-questions", r.Auth.SecurityQuestions)

	e.POST("/password-reset/start", r.Auth.StartPasswordReset, r.LoginRate.Middleware())
	e.POST("/verify-security-info", r.Auth.VerifySecurityInfo, r.LoginRate.Middleware())
	e.POST("/password-reset/complete", r.Auth.CompletePasswordReset, r.AuthRate.Middleware())

	e.GET("/user/:id", r.Auth.GetUser, requireAuth, self)
	e.PUT("/update/:id", r.Auth.UpdateUser, requireAuth, self)
	e.DELETE("/delete/:id", r.Auth.DeleteUser, requireAuth, self)

	e.GET("/time", r.Auth.ServerTime)
}
