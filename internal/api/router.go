package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/in-nis/school-portal/docs"
	"github.com/in-nis/school-portal/internal/auth"
	"github.com/in-nis/school-portal/internal/calendar"
	"github.com/in-nis/school-portal/internal/config"
)

type Deps struct {
	Registry *auth.Registry
	Calendar calendar.Repository
	School   SchoolAPI
	// Health pings backing stores; nil means always healthy.
	Health func(ctx context.Context) error
}

// @title           School Portal API
// @version         1.0
// @description     Login, school and role selection, and attendance periods for the school portal.
// @host            localhost:8000
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	registerValidators()

	h := &Handler{
		cfg:      cfg,
		registry: deps.Registry,
		calendar: deps.Calendar,
		school:   deps.School,
		health:   deps.Health,
	}

	r := gin.Default()

	// Public routes
	r.GET("/health", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	authGroup.Use(h.portalSession())
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/select-school", h.SelectSchool)
		authGroup.POST("/select-role", h.SelectRole)
		authGroup.POST("/logout", h.Logout)
		authGroup.GET("/session", h.Session)
		authGroup.POST("/otp/send", h.SendOTP)
		authGroup.POST("/otp/verify", h.VerifyOTP)
		authGroup.GET("/me", auth.RequireSession(cfg.JWTSecret), h.Me)
	}

	// Protected
	protected := r.Group("/")
	protected.Use(auth.RequireSession(cfg.JWTSecret))
	{
		protected.GET("/attendance/period", auth.RequireRole(auth.Roles...), h.AttendancePeriod)
		protected.GET("/calendar/terms", h.ListTerms)
		protected.POST("/admin/calendar/reload", auth.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin), h.ReloadCalendar)
	}

	return r
}

// portalSession ties the request to its browser's resolver, issuing a new
// portal-session id when the cookie is missing or malformed.
func (h *Handler) portalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(auth.SessionIDCookie)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
			auth.WriteSessionID(c.Writer, id, h.cookieOpts())
		}

		r, err := h.registry.Get(c.Request.Context(), id)
		if err != nil {
			log.Println("❌ Failed to load session:", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session_unavailable"})
			return
		}
		c.Set(resolverKey, r)
		c.Next()
	}
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := v.RegisterValidation("schoolrole", validSchoolRole); err != nil {
			log.Println("❌ Failed to register schoolrole validation:", err)
		}
	}
}

func validSchoolRole(fl validator.FieldLevel) bool {
	_, err := auth.ParseRole(fl.Field().String())
	return err == nil
}
