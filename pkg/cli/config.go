package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/policy"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	backend           string
	dataDir           string
	bucket            string
	prefix            string
	project           string
	database          string
	reindexOnMismatch bool

	// Embedder
	embedder       string
	geminiProject  string
	geminiLocation string
	geminiAPIKey   string
	embeddingModel string
	dimensions     int64
	cacheSize      int64
	embedTimeout   time.Duration

	// Admission
	policyDir string
}

// globalFlags returns logging and repository flags used across commands
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MNEMO_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("MNEMO_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Storage backend (file, gcs, firestore, badger, memory)",
			Value:       "file",
			Sources:     cli.EnvVars("MNEMO_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory of the file and badger backends",
			Value:       ".mnemo",
			Sources:     cli.EnvVars("MNEMO_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket of the gcs backend",
			Sources:     cli.EnvVars("MNEMO_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object prefix (gcs) or collection prefix (firestore)",
			Value:       "mnemo",
			Sources:     cli.EnvVars("MNEMO_PREFIX"),
			Destination: &cfg.prefix,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.BoolFlag{
			Name:        "reindex-on-mismatch",
			Usage:       "Re-embed every memory when stored vectors do not match the embedder dimensions",
			Sources:     cli.EnvVars("MNEMO_REINDEX_ON_MISMATCH"),
			Destination: &cfg.reindexOnMismatch,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego admission policies",
			Sources:     cli.EnvVars("MNEMO_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// embedderFlags returns flags of the embedding provider
func embedderFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Aliases:     []string{"e"},
			Usage:       "Embedding provider (gemini, hash, none)",
			Value:       "gemini",
			Sources:     cli.EnvVars("MNEMO_EMBEDDER"),
			Destination: &cfg.embedder,
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
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key, used instead of Vertex AI when set",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("MNEMO_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "dimensions",
			Usage:       "Dimensions of embedding vectors",
			Value:       768,
			Sources:     cli.EnvVars("MNEMO_DIMENSIONS"),
			Destination: &cfg.dimensions,
		},
		&cli.IntFlag{
			Name:        "embed-cache-size",
			Usage:       "Bytes of embeddings kept in memory, 0 disables the cache",
			Value:       32 << 20,
			Sources:     cli.EnvVars("MNEMO_EMBED_CACHE_SIZE"),
			Destination: &cfg.cacheSize,
		},
		&cli.DurationFlag{
			Name:        "embed-timeout",
			Usage:       "Timeout of one embedding request",
			Value:       memory.DefaultEmbedTimeout,
			Sources:     cli.EnvVars("MNEMO_EMBED_TIMEOUT"),
			Destination: &cfg.embedTimeout,
		},
	}
}

// withLogger installs the configured logger as default and into ctx
func (cfg *config) withLogger(ctx context.Context) context.Context {
	if _, ok := logging.ParseLevel(cfg.logLevel); !ok {
		logging.Default().Warn("unknown log level, using info", "level", cfg.logLevel)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.logLevel,
		Format: logging.Format(cfg.logFormat),
	})
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// showSpinner reports whether slow provider calls get a spinner
func (cfg *config) showSpinner() bool {
	return cfg.embedder == "gemini" && cfg.logFormat != string(logging.FormatJSON)
}

// newRepository creates a repository of the configured backend. nil means memories are
// not persisted.
func (cfg *config) newRepository(ctx context.Context) (interfaces.Repository, error) {
	switch cfg.backend {
	case "file":
		repo, err := repository.NewFile(cfg.dataDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create file repository", goerr.V("dir", cfg.dataDir))
		}
		return repo, nil

	case "badger":
		repo, err := repository.NewBadger(filepath.Join(cfg.dataDir, "badger"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create badger repository", goerr.V("dir", cfg.dataDir))
		}
		return repo, nil

	case "gcs":
		if cfg.bucket == "" {
			return nil, goerr.New("bucket is required for gcs backend")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return repository.NewBlob(storage, cfg.prefix), nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for firestore backend")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database, cfg.prefix)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore repository")
		}
		return repo, nil

	case "memory":
		return nil, nil

	default:
		return nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{"file", "gcs", "firestore", "badger", "memory"}))
	}
}

// newEmbedder creates the configured embedding provider. nil means memories are stored
// without vectors and searches return nothing.
func (cfg *config) newEmbedder(ctx context.Context) (interfaces.Embedder, error) {
	var base interfaces.Embedder

	switch cfg.embedder {
	case "none":
		return nil, nil

	case "hash":
		base = adapter.NewHashEmbedder(int(cfg.dimensions))

	case "gemini":
		opts := []adapter.GeminiOption{
			adapter.WithEmbeddingModel(cfg.embeddingModel),
			adapter.WithDimensions(int(cfg.dimensions)),
		}
		switch {
		case cfg.geminiAPIKey != "":
			opts = append(opts, adapter.WithAPIKey(cfg.geminiAPIKey))
		case cfg.geminiProject != "":
			opts = append(opts, adapter.WithVertexAI(cfg.geminiProject, cfg.geminiLocation))
		default:
			return nil, goerr.New("gemini-project or gemini-api-key is required")
		}

		gemini, err := adapter.NewGemini(ctx, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create gemini embedder")
		}
		base = gemini

	default:
		return nil, goerr.New("unsupported embedder",
			goerr.V("embedder", cfg.embedder),
			goerr.V("supported", []string{"gemini", "hash", "none"}))
	}

	if cfg.cacheSize <= 0 {
		return base, nil
	}
	cached, err := adapter.NewCachedEmbedder(base, cfg.cacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// newUseCase wires repository, embedder and admission policy into the memory service.
// The returned cleanup retries saves that failed and closes the repository.
func (cfg *config) newUseCase(ctx context.Context) (*memory.UseCase, func(), error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeRepo := func() {
		if repo == nil {
			return
		}
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", logging.ErrAttr(err))
		}
	}

	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}

	opts := []memory.Option{
		memory.WithEmbedTimeout(cfg.embedTimeout),
		memory.WithReindexOnMismatch(cfg.reindexOnMismatch),
	}
	if cfg.policyDir != "" {
		admission, err := policy.Load(ctx, cfg.policyDir)
		if err != nil {
			closeRepo()
			return nil, nil, err
		}
		opts = append(opts, memory.WithAdmission(admission))
	}

	uc, err := memory.New(ctx, repo, embedder, opts...)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}

	cleanup := func() {
		if err := uc.Flush(ctx); err != nil {
			logging.From(ctx).Error("failed to save memories", logging.ErrAttr(err))
		}
		if cached, ok := embedder.(*adapter.CachedEmbedder); ok {
			cached.Close()
		}
		closeRepo()
	}
	return uc, cleanup, nil
}
