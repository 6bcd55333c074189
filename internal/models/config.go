package models

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Store   StoreConfig   `yaml:"store"`
	Storage StorageConfig `yaml:"storage"`

	OCR OCRConfig `yaml:"ocr"`
	LLM LLMConfig `yaml:"llm"`

	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Directory with one <tenant>.yaml policy file per tenant
	PolicyDir string `yaml:"policy_dir"`

	// CSV with the per-tenant vendor→account map
	VendorRules string `yaml:"vendor_rules"`

	Export ExportConfig `yaml:"export"`
}

// StoreConfig for PostgreSQL persistence. Empty URL runs the service
// on the in-memory store (no durable persistence).
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// StorageConfig for the MinIO object store.
type StorageConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	ExportBucket string `yaml:"export_bucket"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// OCRConfig tunes the OCR gateway and its provider.
type OCRConfig struct {
	Provider string `yaml:"provider"` // "docintel" or "dummy"
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`

	RPS                float64 `yaml:"rps"`                  // tokens per second, default 2
	Concurrency        int64   `yaml:"concurrency"`          // in-flight cap, default 1
	Attempts           int     `yaml:"attempts"`             // default 5
	MaxSleepSeconds    float64 `yaml:"max_sleep_seconds"`    // Retry-After cap, default 45
	ReadTimeoutSeconds float64 `yaml:"read_timeout_seconds"` // per-call timeout, default 60
	CacheEnabled       *bool   `yaml:"cache_enabled"`        // default true
}

// LLMConfig for the mapping advisors.
type LLMConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`

	DefaultProvider string `yaml:"default_provider"` // "openai", "gemini", "dummy"
	SecondOpinion   bool   `yaml:"second_opinion"`
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// ThresholdsConfig groups the decision knobs.
type ThresholdsConfig struct {
	MinConfEntry     float64 `yaml:"min_conf_entry"`     // default 0.85
	ConfidenceMinOK  float64 `yaml:"confidence_min_ok"`  // default 0.80
	BreakerOCR       int     `yaml:"breaker_ocr"`        // default 3
	BreakerLLM       int     `yaml:"breaker_llm"`        // default 3
	BreakerDefault   int     `yaml:"breaker_default"`    // default 3
	RiskPremiumGross float64 `yaml:"risk_premium_gross"` // default 10000
}

// ExportConfig selects the ERP adapter.
type ExportConfig struct {
	Format string `yaml:"format"` // "a3csv"
}

// Normalize fills in defaults for zero-valued tuning knobs.
func (c *Config) Normalize() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.OCR.RPS <= 0 {
		c.OCR.RPS = 2
	}
	if c.OCR.Concurrency <= 0 {
		c.OCR.Concurrency = 1
	}
	if c.OCR.Attempts <= 0 {
		c.OCR.Attempts = 5
	}
	if c.OCR.MaxSleepSeconds <= 0 {
		c.OCR.MaxSleepSeconds = 45
	}
	if c.OCR.ReadTimeoutSeconds <= 0 {
		c.OCR.ReadTimeoutSeconds = 60
	}
	if c.Thresholds.MinConfEntry <= 0 {
		c.Thresholds.MinConfEntry = 0.85
	}
	if c.Thresholds.ConfidenceMinOK <= 0 {
		c.Thresholds.ConfidenceMinOK = 0.80
	}
	if c.Thresholds.BreakerDefault <= 0 {
		c.Thresholds.BreakerDefault = 3
	}
	if c.Thresholds.BreakerOCR <= 0 {
		c.Thresholds.BreakerOCR = c.Thresholds.BreakerDefault
	}
	if c.Thresholds.BreakerLLM <= 0 {
		c.Thresholds.BreakerLLM = c.Thresholds.BreakerDefault
	}
	if c.Thresholds.RiskPremiumGross <= 0 {
		c.Thresholds.RiskPremiumGross = 10000
	}
	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = "dummy"
	}
	if c.Export.Format == "" {
		c.Export.Format = "a3csv"
	}
}

// CacheOn reports whether the extraction cache is enabled.
func (c *OCRConfig) CacheOn() bool {
	return c.CacheEnabled == nil || *c.CacheEnabled
}
