package model

// Config is the complete Doxa configuration
type Config struct {
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Kalshi      KalshiConfig      `yaml:"kalshi" mapstructure:"kalshi"`
	Exa         ExaConfig         `yaml:"exa" mapstructure:"exa"`
	Graph       GraphConfig       `yaml:"graph" mapstructure:"graph"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
}

// OpenAIConfig configures the LLM and embedding clients
type OpenAIConfig struct {
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	Model             string `yaml:"model" mapstructure:"model"`                         // Derivative generation and suggestions
	VerificationModel string `yaml:"verification_model" mapstructure:"verification_model"`
	EmbeddingModel    string `yaml:"embedding_model" mapstructure:"embedding_model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// KalshiConfig configures the prediction-market search client
type KalshiConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ExaConfig configures the web evidence search client
type ExaConfig struct {
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// GraphConfig holds the default build parameters
type GraphConfig struct {
	K                 int     `yaml:"k" mapstructure:"k"`                                     // Market results per search
	NumDerivativeSets int     `yaml:"num_derivative_sets" mapstructure:"num_derivative_sets"` // 3-5
	MaxClaims         int     `yaml:"max_claims" mapstructure:"max_claims"`
	MaxHops           int     `yaml:"max_hops" mapstructure:"max_hops"`
	Threshold         float64 `yaml:"threshold" mapstructure:"threshold"`
	TopN              int     `yaml:"top_n" mapstructure:"top_n"`
}

// ConcurrencyConfig bounds per-stage parallelism
type ConcurrencyConfig struct {
	VerifyWorkers int `yaml:"verify_workers" mapstructure:"verify_workers"`
	SearchWorkers int `yaml:"search_workers" mapstructure:"search_workers"`
}

// HTTPConfig controls outbound HTTP behavior for page fetching
type HTTPConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the built-in defaults. Values are overridden by
// the config file, DOXA_* environment variables, and CLI flags in that
// order of increasing priority.
func DefaultConfig() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			Model:             "gpt-4.1-mini",
			VerificationModel: "gpt-4o",
			EmbeddingModel:    "text-embedding-3-large",
			TimeoutSeconds:    60,
		},
		Kalshi: KalshiConfig{
			BaseURL:        "https://api.elections.kalshi.com",
			TimeoutSeconds: 12,
		},
		Exa: ExaConfig{
			BaseURL:        "https://api.exa.ai",
			TimeoutSeconds: 15,
		},
		Graph: GraphConfig{
			K:                 200,
			NumDerivativeSets: 4,
			MaxClaims:         40,
			MaxHops:           3,
			Threshold:         0.78,
			TopN:              15,
		},
		Concurrency: ConcurrencyConfig{
			VerifyWorkers: 8,
			SearchWorkers: 8,
		},
		HTTP: HTTPConfig{
			UserAgent:         "Doxa/0.1 (+https://github.com/doxa-graph/doxa)",
			MaxBodyBytes:      2 * 1024 * 1024,
			RequestsPerSecond: 2.0,
			Burst:             5,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
