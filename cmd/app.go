package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/agent"
	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/ai/gemini"
	"github.com/spigell/career-agent/internal/ai/openrouter"
	"github.com/spigell/career-agent/internal/logger"
	"github.com/spigell/career-agent/internal/persona"
	"github.com/spigell/career-agent/internal/pushover"
	"github.com/spigell/career-agent/internal/secrets"
	"github.com/spigell/career-agent/internal/tools"
)

const (
	providerGemini     = "gemini"
	providerOpenRouter = "openrouter"

	roleAgent     = "agent"
	roleEvaluator = "evaluator"
)

// setup builds everything a chat surface needs. Any failure here is fatal.
func setup(ctx context.Context) (*zap.Logger, *Config, *agent.Agent) {
	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		stdlog.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	if config == nil {
		log.Fatal("config is required")
	}

	log.Info("starting the career-agent", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	a, err := newAgent(ctx, config, log)
	if err != nil {
		log.Fatal("preparing the agent",
			zap.Error(err),
			zap.String("hint", "check the persona, llm, evaluator and pushover sections of the configuration file"),
		)
	}

	return log, config, a
}

func newAgent(ctx context.Context, config *Config, log *zap.Logger) (*agent.Agent, error) {
	if config.Persona == nil {
		return nil, errors.New("persona section is required")
	}

	llm := config.LLM
	if llm == nil {
		llm = &LLMConfig{}
	}

	p, err := persona.Load(persona.Sources{
		Name:         config.Persona.Name,
		SummaryFile:  config.Persona.SummaryFile,
		LinkedInFile: config.Persona.LinkedInFile,
		CVFile:       config.Persona.CVFile,
	}, persona.FileExtractor{})
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}

	log.Info("persona loaded",
		zap.String("name", p.Name),
		zap.Int("summary_length", len(p.Summary)),
		zap.Int("linkedin_length", len(p.LinkedIn)),
		zap.Int("cv_length", len(p.CV)),
	)

	model, err := newModel(ctx, roleAgent, modelTarget{
		provider:   llm.Provider,
		model:      llm.Model,
		apiKeyFile: llm.APIKeyFile,
	}, llm, log)
	if err != nil {
		return nil, err
	}

	var evaluator *agent.Evaluator
	if config.Evaluator != nil && config.Evaluator.Enabled {
		target := evaluatorTarget(llm, config.Evaluator)

		judge, err := newModel(ctx, roleEvaluator, target, llm, log)
		if err != nil {
			return nil, err
		}

		evaluator = agent.NewEvaluator(judge, p, llm.MaxLogLength, logger.ForModel(log, roleEvaluator, target.provider, judge.Model()))
	} else {
		log.Warn("reply evaluation is disabled")
	}

	notifier, err := newNotifier(config.Pushover, log)
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewRegistry(log, tools.Defaults(notifier)...)
	if err != nil {
		return nil, err
	}

	cfg := agent.Config{}
	if config.Agent != nil {
		cfg.MaxToolRounds = config.Agent.MaxToolRounds
	}

	return agent.New(p, model, registry, evaluator, cfg, logger.ForModel(log, roleAgent, normalizeProvider(llm.Provider), model.Model()))
}

// modelTarget names one model and the key file it authenticates with.
type modelTarget struct {
	provider   string
	model      string
	apiKeyFile string
}

// evaluatorTarget resolves the evaluator model. The agent's model name and
// key file are reused only when both run on the same provider, so a
// different provider falls back to its own environment variable.
func evaluatorTarget(llm *LLMConfig, cfg *EvaluatorConfig) modelTarget {
	provider := normalizeProvider(cfg.Provider)
	if provider == "" {
		provider = normalizeProvider(llm.Provider)
	}
	sameProvider := provider == normalizeProvider(llm.Provider)

	target := modelTarget{
		provider:   provider,
		model:      strings.TrimSpace(cfg.Model),
		apiKeyFile: strings.TrimSpace(cfg.APIKeyFile),
	}

	if target.model == "" && sameProvider {
		target.model = llm.Model
	}
	if target.apiKeyFile == "" && sameProvider {
		target.apiKeyFile = llm.APIKeyFile
	}

	return target
}

func normalizeProvider(provider string) string {
	return strings.TrimSpace(strings.ToLower(provider))
}

// newModel builds a provider client. cfg supplies the shared retry, logging
// and base URL settings.
func newModel(ctx context.Context, role string, target modelTarget, cfg *LLMConfig, log *zap.Logger) (ai.Model, error) {
	provider := normalizeProvider(target.provider)
	model := target.model
	modelLogger := logger.ForModel(log, role, provider, model)

	switch provider {
	case providerGemini:
		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: target.apiKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, err
		}

		return gemini.NewGenerator(ctx, apiKey, model, cfg.MaxRetries, cfg.MaxLogLength, modelLogger)
	case providerOpenRouter:
		apiKey, err := secrets.Load(secrets.Source{
			Name: "openrouter api key",
			File: target.apiKeyFile,
			Env:  "OPENROUTER_API_KEY",
		})
		if err != nil {
			return nil, err
		}

		return openrouter.NewClient(apiKey, model, cfg.BaseURL, cfg.MaxRetries, cfg.MaxLogLength, modelLogger)
	default:
		return nil, fmt.Errorf("unsupported %s provider: %q", role, provider)
	}
}

func newNotifier(cfg *PushoverConfig, log *zap.Logger) (*pushover.Client, error) {
	if cfg == nil {
		cfg = &PushoverConfig{}
	}

	user, err := secrets.Load(secrets.Source{
		Name: "pushover user",
		File: cfg.UserFile,
		Env:  "PUSHOVER_USER",
	})
	if err != nil {
		return nil, err
	}

	token, err := secrets.Load(secrets.Source{
		Name: "pushover token",
		File: cfg.TokenFile,
		Env:  "PUSHOVER_TOKEN",
	})
	if err != nil {
		return nil, err
	}

	client := pushover.New(log, user, token)
	if cfg.URL != "" {
		client.APIURL = cfg.URL
	}

	return client, nil
}
