package main

import (
	"context"
	"fmt"
	"os"

	"github.com/surveyforge/codeframe-backend/internal/clients/gcp"
	redisclient "github.com/surveyforge/codeframe-backend/internal/clients/redis"
	"github.com/surveyforge/codeframe-backend/internal/db"
	"github.com/surveyforge/codeframe-backend/internal/handlers"
	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/observability"
	"github.com/surveyforge/codeframe-backend/internal/repos"
	"github.com/surveyforge/codeframe-backend/internal/server"
	"github.com/surveyforge/codeframe-backend/internal/services"
	"github.com/surveyforge/codeframe-backend/internal/sse"
	"github.com/surveyforge/codeframe-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "codeframe-backend",
		Environment: logMode,
	})
	if otelShutdown != nil {
		defer otelShutdown(context.Background())
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	categoryRepo := repos.NewCategoryRepo(thePG, log)
	answerRepo := repos.NewAnswerRepo(thePG, log)
	generationRepo := repos.NewGenerationRepo(thePG, log)
	nodeRepo := repos.NewHierarchyNodeRepo(thePG, log)
	embeddingRepo := repos.NewAnswerEmbeddingRepo(thePG, log)
	usageLogRepo := repos.NewUsageLogRepo(thePG, log)
	codeRepo := repos.NewCodeRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewSSEHub(log)

	// Clients
	log.Info("Setting up clients from main...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	embeddingCache, err := redisclient.NewEmbeddingCache(log)
	if err != nil {
		log.Warn("Redis unavailable; embedding hot cache disabled", "error", err)
		embeddingCache = nil
	}

	// Brand evidence tiers are optional: each needs its own credentials and a
	// deployment without one simply runs with fewer tiers.
	var tiers []services.EvidenceTier
	if tier, err := gcp.NewSearchTier(log); err != nil {
		log.Warn("Search tier disabled", "error", err)
	} else {
		tiers = append(tiers, tier)
	}
	if tier, err := gcp.NewKnowledgeTier(log); err != nil {
		log.Warn("Knowledge graph tier disabled", "error", err)
	} else {
		tiers = append(tiers, tier)
	}
	if tier, err := gcp.NewVisionTier(log); err != nil {
		log.Warn("Vision tier disabled", "error", err)
	} else {
		tiers = append(tiers, tier)
	}
	if tier, err := gcp.NewTranslationTier(log); err != nil {
		log.Warn("Translation tier disabled", "error", err)
	} else {
		tiers = append(tiers, tier)
	}

	// Services
	log.Info("Setting up Services from main...")
	algorithmDefaults := services.DefaultAlgorithmConfig(log)
	validationConfig := services.DefaultValidationConfig(log)
	pricing := services.PricingFromEnv(log)

	usageLedger := services.NewUsageLedger(thePG, log, usageLogRepo, pricing)
	embeddingService := services.NewEmbeddingService(thePG, log, embeddingRepo, openaiClient, usageLedger, embeddingCache)
	clusteringEngine := services.NewClusteringEngine(log)
	hierarchyBuilder := services.NewHierarchyBuilder(log, openaiClient, usageLedger)
	meceValidator := services.NewMeceValidator(log)

	var brandService services.BrandValidationService
	if len(tiers) > 0 {
		brandService = services.NewBrandValidationService(log, openaiClient, usageLedger, tiers, validationConfig)
	} else {
		log.Warn("No evidence tiers configured; brand validation disabled")
	}

	generationService := services.NewGenerationService(
		thePG,
		log,
		sseHub,
		categoryRepo,
		answerRepo,
		generationRepo,
		nodeRepo,
		codeRepo,
		embeddingService,
		clusteringEngine,
		hierarchyBuilder,
		meceValidator,
		brandService,
		usageLedger,
		openaiClient.Model(),
		algorithmDefaults,
	)
	generationService.StartWorker(context.Background())
	statusService := services.NewGenerationStatusService(thePG, log, generationRepo, nodeRepo)
	reviewService := services.NewNodeReviewService(thePG, log, nodeRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	generationHandler := handlers.NewGenerationHandler(log, generationService, statusService)
	reviewHandler := handlers.NewReviewHandler(log, reviewService)
	usageHandler := handlers.NewUsageHandler(log, usageLedger)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		Log:               log,
		GenerationHandler: generationHandler,
		ReviewHandler:     reviewHandler,
		UsageHandler:      usageHandler,
		SSEHandler:        sseHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
