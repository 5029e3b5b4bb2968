package cmd

import (
	"errors"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/logger"
	"github.com/spigell/fiscal-sentinel/internal/market"
	"github.com/spigell/fiscal-sentinel/internal/payroll"
	"github.com/spigell/fiscal-sentinel/internal/price"
	"github.com/spigell/fiscal-sentinel/internal/server"
	"github.com/spigell/fiscal-sentinel/internal/tender"
	"github.com/spigell/fiscal-sentinel/internal/welfare"
)

const (
	app = "fiscal-sentinel"

	defaultListen   = "127.0.0.1:8000"
	defaultDatabase = app + ".db"
)

type Config struct {
	Server    server.Config    `mapstructure:"server"`
	Database  string           `mapstructure:"database"`
	Tender    tender.Config    `mapstructure:"tender"`
	Price     price.Config     `mapstructure:"price"`
	Payroll   payroll.Config   `mapstructure:"payroll"`
	Welfare   welfare.Config   `mapstructure:"welfare"`
	Integrity integrity.Config `mapstructure:"integrity"`
	Market    MarketConfig     `mapstructure:"market"`
	AI        *AIConfig        `mapstructure:"ai"`
}

type MarketConfig struct {
	CatalogFile   string           `mapstructure:"catalog-file"`
	Watch         bool             `mapstructure:"watch"`
	MinSimilarity float64          `mapstructure:"min-similarity"`
	EditCosts     market.EditCosts `mapstructure:"edit-costs"`
	Remote        *RemoteCatalog   `mapstructure:"remote"`
}

type RemoteCatalog struct {
	URL       string `mapstructure:"url"`
	TokenFile string `mapstructure:"token-file"`
	Query     string `mapstructure:"query"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api-key" json:"-"`
	APIKeyFile     string `mapstructure:"api-key-file"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding-model"`
	MaxRetries     int    `mapstructure:"max-retries"`
	MaxLogLength   int    `mapstructure:"max-log-length"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "fiscal-sentinel screens tenders, invoices, payrolls and pension rolls for fraud signals",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"ai.gemini.api-key-file": "GEMINI_API_KEY_FILE",
		"server.listen":          "SENTINEL_LISTEN",
		"database":               "SENTINEL_DB",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is fiscal-sentinel.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	// Without an explicit --config the built-in defaults are enough.
	if err != nil && (cfgFile != "" || !errors.As(err, &notFound)) {
		log.Fatal(err)
	}
}

func defaultConfig() *Config {
	return &Config{
		Server: server.Config{
			Listen:         defaultListen,
			MaxUploadBytes: 32 << 20,
		},
		Database:  defaultDatabase,
		Tender:    tender.DefaultConfig(),
		Price:     price.DefaultConfig(),
		Payroll:   payroll.DefaultConfig(),
		Welfare:   welfare.DefaultConfig(),
		Integrity: integrity.DefaultConfig(),
		Market: MarketConfig{
			MinSimilarity: 0.80,
			EditCosts:     market.DefaultEditCosts,
		},
	}
}

func newLogger() (*zap.Logger, error) {
	return logger.New(logger.Options{JSON: viper.GetBool("json"), Debug: viper.GetBool("debug")})
}

// getConfig decodes the configuration on top of the defaults.
func getConfig() (*Config, error) {
	config := defaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}
