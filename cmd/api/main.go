package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rakhadjo/studygroup-api/internal/config"
	"github.com/rakhadjo/studygroup-api/internal/database"
	"github.com/rakhadjo/studygroup-api/internal/handler"
	"github.com/rakhadjo/studygroup-api/internal/middleware"
	"github.com/rakhadjo/studygroup-api/internal/models"
	"github.com/rakhadjo/studygroup-api/internal/repository"
	"github.com/rakhadjo/studygroup-api/internal/router"
	"github.com/rakhadjo/studygroup-api/internal/service"
	"github.com/rakhadjo/studygroup-api/pkg/ai"
	cloud "github.com/rakhadjo/studygroup-api/pkg/cloudinary"
	"github.com/rakhadjo/studygroup-api/pkg/docker"
	"github.com/rakhadjo/studygroup-api/pkg/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.StudyGroup{},
		&models.GroupMember{},
		&models.Assignment{},
		&models.Question{},
		&models.Answer{},
		&models.ChatMessage{},
		&models.Conversation{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	modelClient, err := ai.NewClient(ai.ClientConfig{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.OpenAIModel,
		EmbeddingModel: cfg.OpenAIEmbeddingModel,
		MinInterval:    cfg.ModelMinInterval,
		RequestTimeout: cfg.ModelRequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("failed to create model client: %v", err)
	}

	store, err := vectorstore.New(db, logger)
	if err != nil {
		log.Fatalf("failed to initialise vector store: %v", err)
	}

	executor, err := docker.NewDockerExecutor(docker.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("failed to create docker executor: %v", err)
	}
	defer executor.Close()

	validate := validator.New(validator.WithRequiredStructEnabled())

	groupRepo := repository.NewGroupRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	chatRepo := repository.NewChatRepository(db)

	runner := service.NewTaskRunner(cfg.PipelineWorkers, cfg.PipelineQueueSize, cfg.PipelineTaskTimeout, logger)
	defer runner.Close()

	detector := service.NewDetectionService(modelClient, logger)
	extractor := service.NewContentExtractor(logger)
	questionService := service.NewQuestionService(questionRepo, modelClient, modelClient, store, logger)
	linker := service.NewLinkerService(questionRepo, answerRepo, assignmentRepo, modelClient, store, logger)
	groupService := service.NewGroupService(groupRepo, validate, logger)
	assignmentService := service.NewAssignmentService(
		assignmentRepo, questionRepo, answerRepo, groupRepo,
		detector, questionService, extractor, uploader, linker, runner, validate, logger,
	)
	chatService := service.NewChatService(
		chatRepo, groupRepo, assignmentService, linker, runner,
		redisClient, cfg.ChatChannelBase, natsConn, validate, logger,
	)
	codeExecService := service.NewCodeExecService(executor, logger)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chatService.Start(rootCtx)

	groupHandler := handler.NewGroupHandler(groupService, logger)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService, logger)
	chatHandler := handler.NewChatHandler(chatService, logger)
	codeExecHandler := handler.NewCodeExecHandler(codeExecService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GroupHandler:      groupHandler,
		AssignmentHandler: assignmentHandler,
		ChatHandler:       chatHandler,
		CodeExecHandler:   codeExecHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, runner)
}

func waitForShutdown(app *fiber.App, runner *service.TaskRunner) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Let queued detection and linking tasks finish before exiting.
	runner.Wait()

	log.Println("server stopped")
}
