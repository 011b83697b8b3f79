package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/adapter"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/policy"
	"github.com/m-mizutani/strata/pkg/repository"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Workspace
	agentDir    string
	sessionsDir string

	// Logging
	logLevel  string
	logFormat string

	// IdentifierMap
	mapBackend        string
	firestoreProject  string
	firestoreDatabase string

	// Router
	catalogPath string
	policyDir   string

	// Completion endpoint
	llmProvider    string
	llmBaseURL     string
	llmAPIKey      string
	llmModel       string
	llmTimeout     time.Duration
	llmRetries     int64
	geminiProject  string
	geminiLocation string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "agent-dir",
			Aliases:     []string{"a"},
			Usage:       "Agent directory; history files live in <agent-dir>/history",
			Sources:     cli.EnvVars("STRATA_AGENT_DIR"),
			Destination: &cfg.agentDir,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "sessions-dir",
			Usage:       "Directory of <session-id>.jsonl transcripts (default: sessions next to agent-dir)",
			Sources:     cli.EnvVars("STRATA_SESSIONS_DIR"),
			Destination: &cfg.sessionsDir,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("STRATA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("STRATA_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "map-backend",
			Usage:       "Where tsid to session bindings are stored (file, firestore)",
			Value:       "file",
			Sources:     cli.EnvVars("STRATA_MAP_BACKEND"),
			Destination: &cfg.mapBackend,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID for the firestore map backend",
			Sources:     cli.EnvVars("STRATA_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("STRATA_FIRESTORE_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.firestoreDatabase,
		},
	}
}

// routerFlags returns flags for the resource router
func routerFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "catalog",
			Usage:       "YAML catalog of core tools, packs and file descriptions (default: built-in)",
			Sources:     cli.EnvVars("STRATA_CATALOG"),
			Destination: &cfg.catalogPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files evaluated as data.route after routing",
			Sources:     cli.EnvVars("STRATA_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// llmFlags returns flags for the completion endpoint with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Completion provider (openai, gemini)",
			Value:       "openai",
			Sources:     cli.EnvVars("STRATA_LLM_PROVIDER"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "llm-base-url",
			Usage:       "Base URL of the OpenAI-compatible endpoint",
			Value:       adapter.DefaultOpenAIBaseURL,
			Sources:     cli.EnvVars("STRATA_LLM_BASE_URL"),
			Destination: &cfg.llmBaseURL,
		},
		&cli.StringFlag{
			Name:        "llm-api-key",
			Usage:       "API key of the endpoint; summaries fall back to the prompt head without it",
			Sources:     cli.EnvVars("STRATA_LLM_API_KEY", "DASHSCOPE_API_KEY"),
			Destination: &cfg.llmAPIKey,
		},
		&cli.StringFlag{
			Name:        "llm-model",
			Usage:       "Model name",
			Value:       adapter.DefaultOpenAIModel,
			Sources:     cli.EnvVars("STRATA_LLM_MODEL"),
			Destination: &cfg.llmModel,
		},
		&cli.DurationFlag{
			Name:        "llm-timeout",
			Usage:       "Timeout of one completion attempt",
			Value:       adapter.DefaultTimeout,
			Sources:     cli.EnvVars("STRATA_LLM_TIMEOUT"),
			Destination: &cfg.llmTimeout,
		},
		&cli.IntFlag{
			Name:        "llm-retries",
			Usage:       "Retries of a completion after a transient failure",
			Value:       adapter.DefaultRetries,
			Sources:     cli.EnvVars("STRATA_LLM_RETRIES"),
			Destination: &cfg.llmRetries,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// withLogger installs the configured logger into ctx
func (cfg *config) withLogger(ctx context.Context, w io.Writer) context.Context {
	var logger *slog.Logger
	if cfg.logFormat == "json" {
		logger = logging.NewJSON(cfg.logLevel, w)
	} else {
		logger = logging.New(cfg.logLevel, w)
	}
	return logging.With(ctx, logger)
}

func (cfg *config) layout() history.Layout {
	return history.NewLayout(cfg.agentDir, cfg.sessionsDir)
}

// newSessionMap creates the IdentifierMap. The returned function releases it.
func (cfg *config) newSessionMap(ctx context.Context, layout history.Layout) (repository.SessionMap, func(), error) {
	switch cfg.mapBackend {
	case "", "file":
		m, err := repository.NewFileMap(layout.MapPath())
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil

	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, nil, goerr.New("firestore-project is required for the firestore map backend")
		}
		m, err := repository.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create firestore map")
		}
		return m, func() {
			if err := m.Close(); err != nil {
				logging.From(ctx).Warn("failed to close firestore client", "error", err)
			}
		}, nil

	default:
		return nil, nil, goerr.New("unsupported map backend",
			goerr.V("backend", cfg.mapBackend),
			goerr.V("supported", []string{"file", "firestore"}))
	}
}

// newCompleter creates the completion client wrapped with timeout, retry and
// rate limiting.
func (cfg *config) newCompleter(ctx context.Context) (adapter.Completer, error) {
	var base adapter.Completer

	switch cfg.llmProvider {
	case "", "openai":
		client, err := adapter.NewOpenAI(
			adapter.WithOpenAIBaseURL(cfg.llmBaseURL),
			adapter.WithOpenAIModel(cfg.llmModel),
			adapter.WithOpenAIToken(cfg.llmAPIKey),
		)
		if err != nil {
			return nil, err
		}
		base = client

	case "gemini":
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		var opts []adapter.GeminiOption
		if cfg.llmModel != "" && cfg.llmModel != adapter.DefaultOpenAIModel {
			opts = append(opts, adapter.WithGenerativeModel(cfg.llmModel))
		}
		client, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
		if err != nil {
			return nil, err
		}
		base = client

	default:
		return nil, goerr.New("unsupported llm provider",
			goerr.V("provider", cfg.llmProvider),
			goerr.V("supported", []string{"openai", "gemini"}))
	}

	return adapter.NewGuarded(base,
		adapter.WithTimeout(cfg.llmTimeout),
		adapter.WithRetries(int(cfg.llmRetries)),
	), nil
}

// hasCredential reports whether summaries can be generated. Gemini authenticates
// with application default credentials, the OpenAI endpoint with the API key.
func (cfg *config) hasCredential() bool {
	if cfg.llmProvider == "gemini" {
		return cfg.geminiProject != ""
	}
	return cfg.llmAPIKey != ""
}

func (cfg *config) loadCatalog() (*model.Catalog, error) {
	if cfg.catalogPath == "" {
		return model.DefaultCatalog(), nil
	}
	return model.LoadCatalog(cfg.catalogPath)
}

func (cfg *config) loadPolicy(ctx context.Context) (*policy.Engine, error) {
	if cfg.policyDir == "" {
		return nil, nil
	}
	return policy.Load(ctx, cfg.policyDir)
}
