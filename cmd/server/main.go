package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/approval-flow/internal/application/dispatcher"
	"github.com/garyjia/approval-flow/internal/application/port"
	"github.com/garyjia/approval-flow/internal/application/service"
	"github.com/garyjia/approval-flow/internal/approver"
	"github.com/garyjia/approval-flow/internal/config"
	"github.com/garyjia/approval-flow/internal/domain/entity"
	"github.com/garyjia/approval-flow/internal/domain/event"
	"github.com/garyjia/approval-flow/internal/domain/flow"
	"github.com/garyjia/approval-flow/internal/engine"
	"github.com/garyjia/approval-flow/internal/infrastructure/directory"
	"github.com/garyjia/approval-flow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-flow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-flow/internal/infrastructure/visibility"
	httpadapter "github.com/garyjia/approval-flow/internal/interfaces/http"
	"github.com/garyjia/approval-flow/pkg/database"
	"github.com/garyjia/approval-flow/pkg/utils"
)

func main() {
	// Optional .env for local development; ignored when absent
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting approval flow engine",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Transaction manager and repositories
	txManager := sqlite.NewDB(db.DB, logger)
	templateRepo := repository.NewTemplateRepository(db.DB, logger)
	instanceRepo := repository.NewInstanceRepository(db.DB, logger)
	nodeRepo := repository.NewNodeRepository(db.DB, logger)
	countersignRepo := repository.NewCountersignRepository(db.DB, logger)
	commentRepo := repository.NewCommentRepository(db.DB, logger)
	followRepo := repository.NewFollowRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)

	dir := directory.NewSQLiteDirectory(db.DB, logger)
	vis := visibility.NewParticipantVisibility(db.DB)

	appLogger := &zapLoggerAdapter{logger: logger}

	// Event dispatcher with an audit-trail subscriber
	eventDispatcher := dispatcher.New(dispatcher.WithLogger(appLogger))
	defer eventDispatcher.Close()
	subscribeAuditLog(eventDispatcher, logger)

	// Core engine
	compiler := flow.NewCompiler()
	resolver := approver.NewResolver(dir)
	clock := port.SystemClock{}

	caseEngine := engine.NewEngine(
		compiler,
		resolver,
		instanceRepo,
		nodeRepo,
		countersignRepo,
		historyRepo,
		txManager,
		clock,
		vacuousResult(cfg.Engine.VacuousResult),
		appLogger,
	)

	processor := engine.NewProcessor(
		caseEngine,
		dir,
		vis,
		commentRepo,
		followRepo,
		eventDispatcher,
		appLogger,
	)

	// Application services
	templateService := service.NewTemplateService(templateRepo, compiler, clock, appLogger)
	caseService := service.NewCaseService(
		processor,
		templateService,
		instanceRepo,
		nodeRepo,
		commentRepo,
		followRepo,
		historyRepo,
		appLogger,
	)

	// HTTP server
	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, templateService, caseService, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// vacuousResult maps the configured value to a terminal result
func vacuousResult(configured string) entity.Result {
	if strings.EqualFold(configured, "rejected") {
		return entity.ResultRejected
	}
	return entity.ResultApproved
}

// subscribeAuditLog registers a structured-log subscriber for every event
// type, giving a complete trail of instance activity in the server log.
func subscribeAuditLog(d dispatcher.Dispatcher, logger *zap.Logger) {
	types := []event.Type{
		event.TypeInstanceCreated,
		event.TypeInstanceCompleted,
		event.TypeInstanceWithdrawn,
		event.TypeNodeActivated,
		event.TypeNodeApproved,
		event.TypeNodeRejected,
		event.TypeNodeStalled,
		event.TypeApproverTransferred,
		event.TypeCommentAdded,
		event.TypeFollowAdded,
	}
	for _, t := range types {
		d.Subscribe(t, "audit-log", func(ctx context.Context, evt *event.Event) error {
			fields := []zap.Field{
				zap.String("type", string(evt.Type)),
				zap.String("event_id", evt.ID),
				zap.String("correlation_id", evt.CorrelationID),
				zap.String("instance_id", evt.InstanceID),
				zap.String("template_code", evt.TemplateCode),
				zap.String("actor", evt.Actor),
			}
			if name := evt.GetPayloadString("node_name"); name != "" {
				fields = append(fields,
					zap.String("node_name", name),
					zap.Int("node_sequence", evt.GetPayloadInt("node_sequence")))
			}
			fields = append(fields, zap.Any("payload", evt.Payload))
			logger.Info("Domain event", fields...)
			return nil
		})
	}
}

// zapLoggerAdapter adapts zap.Logger to the narrow logger interfaces used by
// the engine, dispatcher, services, and HTTP adapter.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Infow(msg, keysAndValues...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Errorw(msg, keysAndValues...)
}
