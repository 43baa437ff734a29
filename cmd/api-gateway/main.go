package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/academic-records-api/api/swagger"
	"github.com/noah-isme/academic-records-api/internal/handler"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/repository"
	"github.com/noah-isme/academic-records-api/internal/service"
	"github.com/noah-isme/academic-records-api/pkg/cache"
	"github.com/noah-isme/academic-records-api/pkg/config"
	"github.com/noah-isme/academic-records-api/pkg/database"
	"github.com/noah-isme/academic-records-api/pkg/jobs"
	"github.com/noah-isme/academic-records-api/pkg/logger"
	"github.com/noah-isme/academic-records-api/pkg/storage"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

// @title Academic Records API
// @version 1.0.0
// @description Students, courses, class sections, enrollments and academic reports.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Migrations.AutoRun {
		if err := database.Migrate(db, cfg.Migrations.Dir); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, report caching disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validation.New()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	configurationRepo := repository.NewConfigurationRepository(db)
	reportJobRepo := repository.NewReportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	if cfg.Auth.BootstrapEmail != "" {
		created, err := authSvc.EnsureAdmin(ctx, service.BootstrapAdmin{
			Email:    cfg.Auth.BootstrapEmail,
			Password: cfg.Auth.BootstrapPassword,
			FullName: cfg.Auth.BootstrapName,
		})
		if err != nil {
			logr.Fatal("failed to bootstrap admin", zap.Error(err))
		}
		if created {
			logr.Info("bootstrap admin created", zap.String("email", cfg.Auth.BootstrapEmail))
		}
	}

	configurationSvc := service.NewConfigurationService(configurationRepo, auditRepo, cacheSvc, validate, logr, service.ConfigurationServiceConfig{
		Defaults: configurationDefaults(cfg.Academic),
	})
	studentSvc := service.NewStudentService(studentRepo, enrollmentRepo, courseRepo, cacheSvc, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, studentRepo, enrollmentRepo, validate, logr)
	sectionSvc := service.NewSectionService(sectionRepo, courseRepo, cacheSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, service.EnrollmentServiceDeps{
		Students:    studentRepo,
		Sections:    sectionRepo,
		Courses:     courseRepo,
		Assessments: assessmentRepo,
		Settings:    configurationSvc,
		Records:     studentSvc,
		Audit:       auditRepo,
		Cache:       cacheSvc,
		Metrics:     metrics,
	}, validate, logr)
	reportSvc := service.NewReportService(sectionRepo, enrollmentRepo, assessmentRepo, studentRepo, configurationSvc, cacheSvc, metrics, logr)

	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare report storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(reportSvc, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)

	broker := service.NewProgressBroker()
	worker := service.NewReportWorker(reportJobRepo, exportSvc, broker, metrics, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("report-exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})
	queue.Start(ctx)
	defer queue.Stop()

	reportJobSvc := service.NewReportJobService(reportJobRepo, sectionRepo, queue, exportSvc, broker, metrics, validate, logr, service.ReportJobConfig{
		CleanupInterval: cfg.Reports.CleanupInterval,
	})
	reportJobSvc.RecoverPendingJobs(ctx)
	reportJobSvc.StartCleanup(ctx)

	checks := map[string]handler.Pinger{"database": db.PingContext}
	if redisClient != nil {
		checks["cache"] = cacheRepo.Ping
	}

	r := newRouter(ctx, cfg, logr, routerDeps{
		auth:           authSvc,
		audit:          auditRepo,
		metrics:        metrics,
		authH:          handler.NewAuthHandler(authSvc),
		studentH:       handler.NewStudentHandler(studentSvc),
		courseH:        handler.NewCourseHandler(courseSvc),
		sectionH:       handler.NewSectionHandler(sectionSvc),
		enrollmentH:    handler.NewEnrollmentHandler(enrollmentSvc),
		configurationH: handler.NewConfigurationHandler(configurationSvc),
		reportH:        handler.NewReportHandler(reportSvc),
		exportH:        handler.NewExportHandler(reportJobSvc, cfg.CORS.AllowedOrigins, logr),
		metricsH:       handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logr.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown failed", zap.Error(err))
	}
	cancel()
}

// configurationDefaults renders the env fallbacks as raw configuration values.
func configurationDefaults(cfg config.AcademicConfig) map[string]string {
	return map[string]string{
		models.ConfigKeyMinimumGrade:          strconv.FormatFloat(cfg.MinimumGrade, 'f', -1, 64),
		models.ConfigKeyMinimumAttendance:     strconv.FormatFloat(cfg.MinimumAttendance, 'f', -1, 64),
		models.ConfigKeyWithdrawalLimit:       strconv.Itoa(cfg.WithdrawalLimit),
		models.ConfigKeyWithdrawalDeadline:    cfg.WithdrawalDeadline,
		models.ConfigKeyMaxSectionsPerStudent: strconv.Itoa(cfg.MaxSectionsPerStudent),
		models.ConfigKeyRankingTopN:           strconv.Itoa(cfg.RankingTopN),
	}
}
