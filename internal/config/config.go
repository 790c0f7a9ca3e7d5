package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           App           `mapstructure:"app"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Redis         Redis         `mapstructure:"redis"`
	Similarity    Similarity    `mapstructure:"similarity"`
	API           API           `mapstructure:"api"`
}

// App holds general application configuration
type App struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Elasticsearch holds document store configuration
type Elasticsearch struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	IndexPrefix   string `mapstructure:"index_prefix"`
	ArticlesIndex string `mapstructure:"articles_index"`
	ClustersIndex string `mapstructure:"clusters_index"`
}

// URL returns the full Elasticsearch URL including credentials when set.
func (e Elasticsearch) URL() string {
	if e.Username != "" && e.Password != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", e.Username, e.Password, e.Host, e.Port)
	}
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// ArticlesIndexFull returns the prefixed articles index name.
func (e Elasticsearch) ArticlesIndexFull() string {
	return fmt.Sprintf("%s_%s", e.IndexPrefix, e.ArticlesIndex)
}

// ClustersIndexFull returns the prefixed clusters index name.
func (e Elasticsearch) ClustersIndexFull() string {
	return fmt.Sprintf("%s_%s", e.IndexPrefix, e.ClustersIndex)
}

// Redis holds queue substrate configuration
type Redis struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	QueueName string `mapstructure:"queue_name"`
}

// Addr returns the host:port address for the Redis client.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Similarity holds the clustering algorithm parameters
type Similarity struct {
	SimHashBitSize      int     `mapstructure:"simhash_bit_size"`
	MinHashPermutations int     `mapstructure:"minhash_permutations"`
	MinHashBands        int     `mapstructure:"minhash_bands"`
	MinHashRowsPerBand  int     `mapstructure:"minhash_rows_per_band"`
	ShingleSize         int     `mapstructure:"shingle_size"`
	Threshold           float64 `mapstructure:"threshold"`
}

// API holds HTTP surface configuration
type API struct {
	V1Prefix    string   `mapstructure:"v1_prefix"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

var globalConfig *Config

// Load loads the configuration from the optional config file, environment
// variables and a .env file if one exists next to the binary.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	setDefaults()
	bindEnvVars()
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// Get returns the loaded configuration, loading defaults if Load was never called.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.name", "sim-doc-cluster")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.host", "0.0.0.0")
	viper.SetDefault("app.port", 8000)

	viper.SetDefault("elasticsearch.host", "localhost")
	viper.SetDefault("elasticsearch.port", 9200)
	viper.SetDefault("elasticsearch.username", "")
	viper.SetDefault("elasticsearch.password", "")
	viper.SetDefault("elasticsearch.index_prefix", "sim_doc")
	viper.SetDefault("elasticsearch.articles_index", "articles")
	viper.SetDefault("elasticsearch.clusters_index", "clusters")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.queue_name", "similarity_jobs")

	viper.SetDefault("similarity.simhash_bit_size", 64)
	viper.SetDefault("similarity.minhash_permutations", 128)
	viper.SetDefault("similarity.minhash_bands", 20)
	viper.SetDefault("similarity.minhash_rows_per_band", 6)
	viper.SetDefault("similarity.shingle_size", 5)
	viper.SetDefault("similarity.threshold", 0.8)

	viper.SetDefault("api.v1_prefix", "/api/v1")
	viper.SetDefault("api.cors_origins", []string{"*"})
}

// bindEnvVars maps the flat environment variable names onto the nested keys.
func bindEnvVars() {
	bindings := map[string]string{
		"app.name":    "APP_NAME",
		"app.version": "APP_VERSION",
		"app.debug":   "DEBUG",
		"app.host":    "HOST",
		"app.port":    "PORT",

		"elasticsearch.host":           "ES_HOST",
		"elasticsearch.port":           "ES_PORT",
		"elasticsearch.username":       "ES_USERNAME",
		"elasticsearch.password":       "ES_PASSWORD",
		"elasticsearch.index_prefix":   "ES_INDEX_PREFIX",
		"elasticsearch.articles_index": "ES_ARTICLES_INDEX",
		"elasticsearch.clusters_index": "ES_CLUSTERS_INDEX",

		"redis.host":       "REDIS_HOST",
		"redis.port":       "REDIS_PORT",
		"redis.db":         "REDIS_DB",
		"redis.password":   "REDIS_PASSWORD",
		"redis.queue_name": "REDIS_QUEUE_NAME",

		"similarity.simhash_bit_size":      "SIMHASH_BIT_SIZE",
		"similarity.minhash_permutations":  "MINHASH_PERMUTATIONS",
		"similarity.minhash_bands":         "MINHASH_BANDS",
		"similarity.minhash_rows_per_band": "MINHASH_ROWS_PER_BAND",
		"similarity.shingle_size":          "SHINGLE_SIZE",
		"similarity.threshold":             "SIMILARITY_THRESHOLD",

		"api.v1_prefix":    "API_V1_PREFIX",
		"api.cors_origins": "CORS_ORIGINS",
	}
	for key, env := range bindings {
		_ = viper.BindEnv(key, env)
	}
}

// Summary returns the effective configuration as printable key/value lines
// with credentials masked. Used by the config command.
func (c *Config) Summary() []string {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	return []string{
		fmt.Sprintf("app.name = %s", c.App.Name),
		fmt.Sprintf("app.version = %s", c.App.Version),
		fmt.Sprintf("app.debug = %t", c.App.Debug),
		fmt.Sprintf("app.host = %s", c.App.Host),
		fmt.Sprintf("app.port = %d", c.App.Port),
		fmt.Sprintf("elasticsearch.url = http://%s:%d", c.Elasticsearch.Host, c.Elasticsearch.Port),
		fmt.Sprintf("elasticsearch.username = %s", c.Elasticsearch.Username),
		fmt.Sprintf("elasticsearch.password = %s", mask(c.Elasticsearch.Password)),
		fmt.Sprintf("elasticsearch.articles_index = %s", c.Elasticsearch.ArticlesIndexFull()),
		fmt.Sprintf("elasticsearch.clusters_index = %s", c.Elasticsearch.ClustersIndexFull()),
		fmt.Sprintf("redis.addr = %s", c.Redis.Addr()),
		fmt.Sprintf("redis.db = %d", c.Redis.DB),
		fmt.Sprintf("redis.password = %s", mask(c.Redis.Password)),
		fmt.Sprintf("redis.queue_name = %s", c.Redis.QueueName),
		fmt.Sprintf("similarity.simhash_bit_size = %d", c.Similarity.SimHashBitSize),
		fmt.Sprintf("similarity.minhash_permutations = %d", c.Similarity.MinHashPermutations),
		fmt.Sprintf("similarity.minhash_bands = %d", c.Similarity.MinHashBands),
		fmt.Sprintf("similarity.minhash_rows_per_band = %d", c.Similarity.MinHashRowsPerBand),
		fmt.Sprintf("similarity.shingle_size = %d", c.Similarity.ShingleSize),
		fmt.Sprintf("similarity.threshold = %g", c.Similarity.Threshold),
		fmt.Sprintf("api.v1_prefix = %s", c.API.V1Prefix),
		fmt.Sprintf("api.cors_origins = %s", strings.Join(c.API.CORSOrigins, ",")),
	}
}
