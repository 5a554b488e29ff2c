package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/archive"
	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/extract"
	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/pipeline"
	"github.com/marcobitx/foxdoc/internal/queue"
	"github.com/marcobitx/foxdoc/internal/shared/config"
	"github.com/marcobitx/foxdoc/internal/shared/server"
	"github.com/marcobitx/foxdoc/internal/shared/storage/db"
	"github.com/marcobitx/foxdoc/internal/shared/storage/object"
	localstore "github.com/marcobitx/foxdoc/internal/shared/storage/object/local"
	miniostore "github.com/marcobitx/foxdoc/internal/shared/storage/object/minio"
	s3store "github.com/marcobitx/foxdoc/internal/shared/storage/object/s3"
	"github.com/marcobitx/foxdoc/internal/stages"
)

// App holds the wired process dependencies.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	AnalysesRepo     analyses.Repo
	DocumentsRepo    documents.Repo
	DocumentsService *documents.Service
	LLM              *llm.Client
	Pipeline         *pipeline.Pipeline
	Runner           *pipeline.Service
	AnalysesService  *analyses.Service
	AnalysisHandler  *analyses.Handler
	DocumentsHandler *documents.Handler
}

// Build wires storage, the LLM gateway, the pipeline and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}
	if err := buildServices(ctx, app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		AnalysisHandler: app.AnalysisHandler,
		DocumentHandler: app.DocumentsHandler,
		Health:          app.health,
	})
	return app, nil
}

// Close waits for in-process runs and releases pooled connections.
func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Wait()
	}
	if a.LLM != nil {
		a.LLM.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func (a *App) health() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Ping()
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if db.IsLambdaRuntime() {
		defaults = db.DefaultLambdaOptions()
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "minio":
		return miniostore.New(ctx, cfg.MinioEndpoint, cfg.AWSRegion, cfg.MinioBucket, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildDispatcher(ctx context.Context, cfg config.Config, inline *pipeline.Service) (analyses.Dispatcher, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return inline, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client, err := queue.NewSQSClient(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL)
	if err != nil {
		return nil, err
	}
	return &queue.Dispatcher{Client: client}, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(ctx context.Context, app *App) error {
	cfg := app.Config

	var analysisRepo analyses.Repo
	var docRepo documents.Repo
	if app.DB != nil {
		analysisRepo = &analyses.PGRepo{DB: app.DB}
		docRepo = &documents.PGRepo{DB: app.DB}
	} else {
		analysisRepo = analyses.NewMemoryRepo()
		docRepo = documents.NewMemoryRepo()
	}

	docSvc := &documents.Service{Store: app.Store, Repo: docRepo}

	registry := providers.NewRegistry()
	llmOpts := llm.Options{
		APIKey:       cfg.OpenRouterAPIKey,
		BaseURL:      cfg.OpenRouterURL,
		DefaultModel: cfg.DefaultModel,
		MaxTokens:    cfg.LLMMaxTokens,
		PDFEngine:    cfg.PDFOCREngine,
		Providers:    registry,
	}
	client, err := llm.NewClient(llmOpts)
	if err != nil {
		return err
	}

	known, err := config.LoadModelOverrides(cfg.ModelsFile)
	if err != nil {
		return err
	}

	tempRoot := filepath.Join(os.TempDir(), "foxdoc")
	if err := os.MkdirAll(tempRoot, 0o700); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}

	p := &pipeline.Pipeline{
		Analyses:  analysisRepo,
		Documents: docRepo,
		Uploads:   docSvc,
		Unpack:    archive.Extractor{TempRoot: tempRoot},
		Parse:     extract.ParseDocument,
		Extract:   stages.ExtractAll,
		Aggregate: stages.Aggregate,
		Evaluate:  stages.Evaluate,
		LLM:       client,
		// The evaluation outlives its request, so it gets its own connections.
		NewLLM: func() (stages.LLM, func(), error) {
			c, err := llm.NewClient(llmOpts)
			if err != nil {
				return nil, nil, err
			}
			return c, c.Close, nil
		},
		Catalog:       client,
		KnownContext:  known,
		MaxConcurrent: pipeline.MaxConcurrentExtractions,
		TempRoot:      tempRoot,
	}
	runner := pipeline.NewService(p)

	dispatcher, err := buildDispatcher(ctx, cfg, runner)
	if err != nil {
		return err
	}

	analysisSvc := &analyses.Service{
		Repo:         analysisRepo,
		Docs:         docSvc,
		Dispatch:     dispatcher,
		Live:         runner,
		DefaultModel: cfg.DefaultModel,
	}

	app.AnalysesRepo = analysisRepo
	app.DocumentsRepo = docRepo
	app.DocumentsService = docSvc
	app.LLM = client
	app.Pipeline = p
	app.Runner = runner
	app.AnalysesService = analysisSvc
	app.AnalysisHandler = analyses.NewHandler(analysisSvc, client, cfg.MaxUploadMB)
	app.DocumentsHandler = documents.NewHandler(docSvc)

	if app.AnalysisHandler == nil || app.DocumentsHandler == nil {
		return errors.New("failed to initialize handlers")
	}
	return nil
}
