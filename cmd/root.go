package cmd

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/career-agent/internal/server"
)

const (
	app = "career-agent"
)

type Config struct {
	Persona   *PersonaConfig   `mapstructure:"persona"`
	LLM       *LLMConfig       `mapstructure:"llm"`
	Evaluator *EvaluatorConfig `mapstructure:"evaluator"`
	Agent     *AgentConfig     `mapstructure:"agent"`
	Pushover  *PushoverConfig  `mapstructure:"pushover"`
	Server    *server.Config   `mapstructure:"server"`
}

type PersonaConfig struct {
	Name         string `mapstructure:"name"`
	SummaryFile  string `mapstructure:"summary-file"`
	LinkedInFile string `mapstructure:"linkedin-file"`
	CVFile       string `mapstructure:"cv-file"`
}

type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	BaseURL      string `mapstructure:"base-url"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

// EvaluatorConfig falls back to the llm section for anything left empty.
// The llm key file is only inherited when both run on the same provider.
type EvaluatorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type AgentConfig struct {
	MaxToolRounds int `mapstructure:"max-tool-rounds"`
}

type PushoverConfig struct {
	UserFile  string `mapstructure:"user-file"`
	TokenFile string `mapstructure:"token-file"`
	URL       string `mapstructure:"url"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "career-agent answers questions about a person's career on their behalf",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	for key, env := range map[string]string{
		"llm.api-key-file":       "LLM_API_KEY_FILE",
		"evaluator.api-key-file": "EVALUATOR_API_KEY_FILE",
		"pushover.user-file":     "PUSHOVER_USER_FILE",
		"pushover.token-file":    "PUSHOVER_TOKEN_FILE",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	viper.SetDefault("llm.provider", providerOpenRouter)
	viper.SetDefault("llm.max-retries", 1)
	viper.SetDefault("llm.max-log-length", 200)
	viper.SetDefault("evaluator.enabled", true)
	viper.SetDefault("agent.max-tool-rounds", 10)
	viper.SetDefault("server.listen", ":7860")
	viper.SetDefault("server.serialize-turns", true)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is career-agent.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Only the commands that talk to a model need a config.
	if serveCmd.CalledAs() == "" && chatCmd.CalledAs() == "" {
		return
	}

	// Secrets are commonly kept in .env next to the config.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
