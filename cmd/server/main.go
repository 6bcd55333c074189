package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/contaflow/invoice-pipeline/api"
	"github.com/contaflow/invoice-pipeline/internal/advisor"
	"github.com/contaflow/invoice-pipeline/internal/auth"
	"github.com/contaflow/invoice-pipeline/internal/cache"
	"github.com/contaflow/invoice-pipeline/internal/export"
	"github.com/contaflow/invoice-pipeline/internal/health"
	"github.com/contaflow/invoice-pipeline/internal/models"
	"github.com/contaflow/invoice-pipeline/internal/monitor"
	"github.com/contaflow/invoice-pipeline/internal/ocr"
	"github.com/contaflow/invoice-pipeline/internal/pipeline"
	"github.com/contaflow/invoice-pipeline/internal/policy"
	"github.com/contaflow/invoice-pipeline/internal/ratelimit"
	"github.com/contaflow/invoice-pipeline/internal/rules"
	"github.com/contaflow/invoice-pipeline/internal/storage"
	"github.com/contaflow/invoice-pipeline/internal/store"
)

func main() {
	// Initialize JWT
	if err := auth.Init(); err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}
	log.Println("JWT authentication initialized")

	// Load configuration
	config, err := loadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.Normalize()

	ctx := context.Background()

	// Document store: Postgres when configured, in-memory otherwise
	var st store.Store
	if config.Store.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, config.Store.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Database not available: %v", err)
			log.Println("Running on the in-memory store (no persistence)")
			st = store.NewMemory()
		} else {
			st = pg
			log.Println("Database connection pool initialized")
		}
	} else {
		st = store.NewMemory()
		log.Println("No database configured, running on the in-memory store")
	}
	defer st.Close()

	// MinIO object storage
	var objects *storage.Storage
	if config.Storage.Endpoint != "" {
		objects, err = storage.New(storage.Config{
			Endpoint:     config.Storage.Endpoint,
			AccessKey:    config.Storage.AccessKey,
			SecretKey:    config.Storage.SecretKey,
			Bucket:       config.Storage.Bucket,
			ExportBucket: config.Storage.ExportBucket,
			UseSSL:       config.Storage.UseSSL,
		})
		if err != nil {
			log.Printf("Warning: MinIO storage not available: %v", err)
			log.Println("Documents will not be stored")
			objects = nil
		} else {
			log.Println("MinIO storage initialized")
		}
	}

	// Resilience stack shared by the provider gateways
	hr := health.NewRegistry(map[string]int{
		"ocr": config.Thresholds.BreakerOCR,
		"llm": config.Thresholds.BreakerLLM,
	}, config.Thresholds.BreakerDefault)
	stats := monitor.New()

	// OCR gateway
	var backend ocr.Backend
	switch config.OCR.Provider {
	case "docintel":
		backend = ocr.NewDocIntelBackend(config.OCR.Endpoint, config.OCR.APIKey)
	default:
		backend = ocr.DummyBackend{}
		log.Println("No OCR provider configured, using the dummy backend")
	}
	gateway := ocr.NewGateway(backend,
		ratelimit.NewBucket(config.OCR.RPS),
		semaphore.NewWeighted(config.OCR.Concurrency),
		cache.New(), hr, stats,
		ocr.GatewayConfig{
			Attempts:     config.OCR.Attempts,
			MaxSleep:     time.Duration(config.OCR.MaxSleepSeconds * float64(time.Second)),
			ReadTimeout:  time.Duration(config.OCR.ReadTimeoutSeconds * float64(time.Second)),
			CacheEnabled: config.OCR.CacheOn(),
		})

	// LLM mapping advisor
	var provider advisor.Provider
	switch config.LLM.DefaultProvider {
	case "openai":
		provider = advisor.NewOpenAIProvider(config.LLM.OpenAI.APIKey, config.LLM.OpenAI.BaseURL, config.LLM.OpenAI.Model)
	case "gemini":
		provider, err = advisor.NewGeminiProvider(ctx, config.LLM.Gemini.APIKey, config.LLM.Gemini.Model)
		if err != nil {
			log.Printf("Warning: Gemini not available: %v", err)
			provider = advisor.DummyProvider{}
		}
	default:
		provider = advisor.DummyProvider{}
	}
	adv := advisor.NewService(provider, hr, config.LLM.SecondOpinion)

	// Accounting rules
	vendorRules, err := rules.LoadVendorRules(config.VendorRules)
	if err != nil {
		log.Fatalf("Failed to load vendor rules: %v", err)
	}
	log.Printf("Loaded %d vendor rules", len(vendorRules))
	engine := rules.NewEngine(st, adv, vendorRules, rules.EngineConfig{
		PremiumGross: decimal.NewFromFloat(config.Thresholds.RiskPremiumGross),
	})

	// ERP export adapter, disabled without object storage
	var exporter pipeline.Exporter
	if objects != nil {
		adapter, err := export.NewAdapter(config.Export.Format, objects)
		if err != nil {
			log.Fatalf("Failed to configure export adapter: %v", err)
		}
		exporter = adapter
		log.Printf("Export adapter: %s", adapter.Name())
	} else {
		log.Println("Export disabled (no object storage)")
	}

	policies := policy.NewLoader(config.PolicyDir)

	var objectStore pipeline.ObjectStore
	if objects != nil {
		objectStore = objects
	}
	p := pipeline.New(st, gateway, engine, policies, objectStore, exporter, pipeline.Config{
		MinConfEntry:    config.Thresholds.MinConfEntry,
		ConfidenceMinOK: config.Thresholds.ConfidenceMinOK,
	})

	// HTTP surface
	handler := api.NewHandler(config, p, st, objects, hr, stats)
	router := handler.SetupRoutes()
	router.HandleFunc("/api/login", auth.LoginHandler).Methods("POST")
	protectedRouter := auth.JWTMiddleware(router)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	log.Printf("Starting Invoice Pipeline Service v%s on %s", api.Version, addr)
	log.Printf("OCR Provider: %s", gateway.Provider())
	log.Printf("LLM Provider: %s", provider.Name())
	log.Printf("Endpoints:")
	log.Printf("  POST http://%s/api/login                     - Authenticate", addr)
	log.Printf("  POST http://%s/api/process-invoice           - Process document (requires JWT)", addr)
	log.Printf("  POST http://%s/api/documents/{id}/reprocess  - Reprocess from stored OCR (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/documents                 - List documents by status (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/documents/{id}            - Get document (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/documents/{id}/entry      - Get proposed entry (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/documents/{id}/audit      - Get audit trail (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/reviews                   - Review queue (requires JWT)", addr)
	log.Printf("  GET  http://%s/api/retries                   - Retry queue (requires JWT)", addr)
	log.Printf("  GET  http://%s/health                        - Health check", addr)

	if err := http.ListenAndServe(addr, protectedRouter); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func loadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &config.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Store.DatabaseURL = url
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
	}
	if key := os.Getenv("MINIO_ACCESS_KEY"); key != "" {
		config.Storage.AccessKey = key
	}
	if key := os.Getenv("MINIO_SECRET_KEY"); key != "" {
		config.Storage.SecretKey = key
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if endpoint := os.Getenv("OCR_ENDPOINT"); endpoint != "" {
		config.OCR.Endpoint = endpoint
	}
	if key := os.Getenv("OCR_API_KEY"); key != "" {
		config.OCR.APIKey = key
	}
	if provider := os.Getenv("OCR_PROVIDER"); provider != "" {
		config.OCR.Provider = provider
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.LLM.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.LLM.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.LLM.Gemini.Model = model
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = provider
	}

	return &config, nil
}
