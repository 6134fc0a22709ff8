package config

//nolint:gosec,revive // Environment variable keys are not credentials and do not need per-const comments.
const (
	// Server
	EnvPort            = "ADVISOR_PORT"
	EnvLogLevel        = "ADVISOR_LOG_LEVEL"
	EnvShutdownTimeout = "ADVISOR_SHUTDOWN_TIMEOUT"
	EnvServerName      = "ADVISOR_SERVER_NAME"
	EnvAdminToken      = "ADVISOR_ADMIN_TOKEN"

	// Data
	EnvDataDir      = "ADVISOR_DATA_DIR"
	EnvCatalogPath  = "ADVISOR_CATALOG_PATH"
	EnvTaxonomyPath = "ADVISOR_TAXONOMY_PATH"

	// Profile rubric
	EnvRubricThreshold = "ADVISOR_RUBRIC_THRESHOLD"
	EnvRubricWeights   = "ADVISOR_RUBRIC_WEIGHTS"

	// Matcher
	EnvTopK             = "ADVISOR_TOP_K"
	EnvPresentK         = "ADVISOR_PRESENT_K"
	EnvContextThreshold = "ADVISOR_CONTEXT_THRESHOLD"
	EnvContextWindow    = "ADVISOR_CONTEXT_WINDOW"
	EnvHybridBM25Weight = "ADVISOR_HYBRID_BM25_WEIGHT"
	EnvEmbedBatchSize   = "ADVISOR_EMBED_BATCH_SIZE"
	EnvEmbedConcurrency = "ADVISOR_EMBED_CONCURRENCY"

	// Rate limits
	EnvTurnBurst            = "ADVISOR_TURN_BURST"
	EnvTurnRatePerMinute    = "ADVISOR_TURN_RATE_PER_MINUTE"
	EnvSessionBurst         = "ADVISOR_SESSION_BURST"
	EnvSessionRatePerMinute = "ADVISOR_SESSION_RATE_PER_MINUTE"
	EnvSessionHourlyLimit   = "ADVISOR_SESSION_HOURLY_LIMIT"
	EnvGenerationRPM        = "ADVISOR_GENERATION_RPM"

	// Scraper
	EnvScraperTimeout    = "ADVISOR_SCRAPER_TIMEOUT"
	EnvScraperMaxRetries = "ADVISOR_SCRAPER_MAX_RETRIES"

	// LLM
	EnvLLMProviders        = "ADVISOR_LLM_PROVIDERS"
	EnvEmbeddingProvider   = "ADVISOR_EMBEDDING_PROVIDER"
	EnvGeminiAPIKey        = "ADVISOR_GEMINI_API_KEY"
	EnvMistralAPIKey       = "ADVISOR_MISTRAL_API_KEY"
	EnvGroqAPIKey          = "ADVISOR_GROQ_API_KEY"
	EnvCerebrasAPIKey      = "ADVISOR_CEREBRAS_API_KEY"
	EnvGeminiModels        = "ADVISOR_GEMINI_MODELS"
	EnvMistralModels       = "ADVISOR_MISTRAL_MODELS"
	EnvGroqModels          = "ADVISOR_GROQ_MODELS"
	EnvCerebrasModels      = "ADVISOR_CEREBRAS_MODELS"
	EnvGenerationTemp      = "ADVISOR_GENERATION_TEMPERATURE"
	EnvGenerationMaxTokens = "ADVISOR_GENERATION_MAX_TOKENS"

	// R2 snapshot
	EnvR2Enabled         = "ADVISOR_R2_ENABLED"
	EnvR2AccountID       = "ADVISOR_R2_ACCOUNT_ID"
	EnvR2AccessKeyID     = "ADVISOR_R2_ACCESS_KEY_ID"
	EnvR2SecretAccessKey = "ADVISOR_R2_SECRET_ACCESS_KEY"
	EnvR2BucketName      = "ADVISOR_R2_BUCKET_NAME"
	EnvR2SnapshotPrefix  = "ADVISOR_R2_SNAPSHOT_PREFIX"
	EnvR2DeltaPrefix     = "ADVISOR_R2_DELTA_PREFIX"
	EnvR2PollInterval    = "ADVISOR_R2_POLL_INTERVAL"

	// Sentry
	EnvSentryToken       = "ADVISOR_SENTRY_TOKEN"
	EnvSentryHost        = "ADVISOR_SENTRY_HOST"
	EnvSentryEnvironment = "ADVISOR_SENTRY_ENVIRONMENT"
	EnvSentryRelease     = "ADVISOR_SENTRY_RELEASE"
	EnvSentrySampleRate  = "ADVISOR_SENTRY_SAMPLE_RATE"

	// Better Stack
	EnvBetterStackToken    = "ADVISOR_BETTERSTACK_TOKEN"
	EnvBetterStackEndpoint = "ADVISOR_BETTERSTACK_ENDPOINT"

	// Metrics auth
	EnvMetricsUsername = "ADVISOR_METRICS_USERNAME"
	EnvMetricsPassword = "ADVISOR_METRICS_PASSWORD"
)
