package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/handler"
	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	"github.com/noah-isme/academic-records-api/pkg/config"
	"github.com/noah-isme/academic-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academic-records-api/pkg/middleware/cors"
	"github.com/noah-isme/academic-records-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/academic-records-api/pkg/middleware/requestid"
)

const rateLimitJanitorEvery = time.Minute

type routerDeps struct {
	auth    middleware.TokenValidator
	audit   middleware.AuditWriter
	metrics *service.MetricsService

	authH          *handler.AuthHandler
	studentH       *handler.StudentHandler
	courseH        *handler.CourseHandler
	sectionH       *handler.SectionHandler
	enrollmentH    *handler.EnrollmentHandler
	configurationH *handler.ConfigurationHandler
	reportH        *handler.ReportHandler
	exportH        *handler.ExportHandler
	metricsH       *handler.MetricsHandler
}

func newRouter(ctx context.Context, cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))
	if cfg.RateLimit.Enabled {
		store := ratelimit.NewStore(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
		store.StartJanitor(ctx, rateLimitJanitorEvery)
		r.Use(ratelimit.Middleware(store, ratelimit.ClientIP))
	}
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", deps.metricsH.Health)
	r.GET("/ready", deps.metricsH.Ready)
	r.GET("/metrics", deps.metricsH.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/export/:token", deps.exportH.Download)

	auth := api.Group("/auth")
	auth.POST("/login", deps.authH.Login)
	auth.POST("/refresh", deps.authH.Refresh)
	auth.POST("/logout", middleware.JWT(deps.auth), deps.authH.Logout)
	auth.GET("/me", middleware.JWT(deps.auth), deps.authH.Me)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar)
	teaching := middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar, models.RoleProfessor)

	students := secured.Group("/students")
	students.GET("", deps.studentH.List)
	students.GET("/ranking/top/:n", deps.studentH.Ranking)
	students.GET("/:registration", deps.studentH.Get)
	students.GET("/:registration/cr", deps.studentH.CR)
	students.GET("/:registration/history", deps.studentH.History)
	students.GET("/:registration/prerequisites", deps.studentH.Prerequisites)
	students.POST("", staff, deps.studentH.Create)
	students.PATCH("/:registration", staff, deps.studentH.Update)
	students.DELETE("/:registration", staff, middleware.Audit(deps.audit, models.AuditActionStudentDelete, "student", "registration"), deps.studentH.Delete)

	courses := secured.Group("/courses")
	courses.GET("", deps.courseH.List)
	courses.GET("/search", deps.courseH.Search)
	courses.GET("/:code", deps.courseH.Get)
	courses.GET("/:code/prerequisites", deps.courseH.Prerequisites)
	courses.GET("/:code/dependents", deps.courseH.Dependents)
	courses.GET("/:code/validate-enrollment/:registration", deps.courseH.ValidateEnrollment)
	courses.POST("", staff, deps.courseH.Create)
	courses.POST("/prerequisites", staff, deps.courseH.AddPrerequisite)
	courses.PUT("/:code", staff, deps.courseH.Update)
	courses.DELETE("/:code", staff, middleware.Audit(deps.audit, models.AuditActionCourseDelete, "course", "code"), deps.courseH.Delete)
	courses.DELETE("/:code/prerequisites/:prerequisite", staff, deps.courseH.RemovePrerequisite)

	sections := secured.Group("/sections")
	sections.GET("", deps.sectionH.List)
	sections.GET("/periods/:period/stats", deps.sectionH.PeriodStats)
	sections.GET("/:id", deps.sectionH.Get)
	sections.GET("/:id/vacancies", deps.sectionH.Vacancies)
	sections.POST("/:id/schedule-clash", deps.sectionH.ScheduleClash)
	sections.POST("", staff, deps.sectionH.Create)
	sections.PUT("/:id", staff, deps.sectionH.Update)
	sections.DELETE("/:id", staff, middleware.Audit(deps.audit, models.AuditActionSectionDelete, "section", "id"), deps.sectionH.Delete)
	sections.POST("/:id/open", staff, deps.sectionH.Open)
	sections.POST("/:id/close", staff, deps.sectionH.Close)
	sections.PUT("/:id/schedule/:day", staff, deps.sectionH.SetSlot)
	sections.DELETE("/:id/schedule/:day", staff, deps.sectionH.RemoveSlot)

	enrollments := secured.Group("/enrollments")
	enrollments.GET("", deps.enrollmentH.List)
	enrollments.GET("/:id", deps.enrollmentH.Get)
	enrollments.GET("/:id/grades", deps.enrollmentH.ListGrades)
	enrollments.GET("/:id/attendance", deps.enrollmentH.ListAttendance)
	enrollments.POST("/validate", deps.enrollmentH.Validate)
	enrollments.POST("", staff, deps.enrollmentH.Create)
	enrollments.PATCH("/:id", staff, deps.enrollmentH.Patch)
	enrollments.DELETE("/:id", staff, middleware.Audit(deps.audit, models.AuditActionEnrollmentDelete, "enrollment", "id"), deps.enrollmentH.Delete)
	enrollments.POST("/:id/withdraw", staff, deps.enrollmentH.Withdraw)
	enrollments.POST("/:id/evaluation", teaching, deps.enrollmentH.Evaluate)
	enrollments.POST("/:id/finalize", teaching, deps.enrollmentH.Finalize)
	enrollments.POST("/:id/grades", teaching, deps.enrollmentH.AddGrade)
	enrollments.POST("/:id/attendance", teaching, deps.enrollmentH.RecordAttendance)

	configuration := secured.Group("/configuration")
	configuration.GET("", deps.configurationH.View)
	configuration.GET("/items", deps.configurationH.List)
	configuration.GET("/:key", deps.configurationH.Get)
	configuration.PUT("", staff, deps.configurationH.BulkUpdate)
	configuration.PUT("/:key", staff, deps.configurationH.Update)

	reports := secured.Group("/reports")
	reports.GET("/sections/:id", deps.reportH.Section)
	reports.GET("/ranking", deps.reportH.Ranking)
	reports.GET("/at-risk", deps.reportH.AtRisk)
	reports.GET("/enrollments", deps.reportH.Enrollments)
	reports.POST("/exports", staff, deps.exportH.Create)
	reports.GET("/exports/:id", deps.exportH.Status)
	reports.GET("/exports/:id/stream", deps.exportH.Stream)

	return r
}
