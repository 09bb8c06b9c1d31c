package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/embeddings"

	"document-rag/internal/apperr"
	"document-rag/internal/chromemdb"
	"document-rag/internal/config"
	"document-rag/internal/db"
	"document-rag/internal/embedding"
	"document-rag/internal/helper"
	"document-rag/internal/indexer"
	"document-rag/internal/llmservice"
	"document-rag/internal/rag"
	"document-rag/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func main() {
	if err := helper.SetupLogger(os.Stderr, "info", "console"); err != nil {
		log.Error().Err(err).Msg("Failed to set up logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(apperr.ExitCode(err))
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "document-rag",
		Short:         "Answer questions over a directory of PDF documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", configFilePath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with environment overrides")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(indexCmd(flags), askCmd(flags))
	return root
}

func indexCmd(flags *globalFlags) *cobra.Command {
	var (
		dir   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the vector index, or reuse an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			var res indexer.Result
			if force {
				res, err = app.indexer.Rebuild(cmd.Context(), dir)
			} else {
				res, err = app.indexer.BuildOrLoad(cmd.Context(), dir)
			}
			if err != nil {
				return err
			}
			helper.PrettyPrint(cmd.OutOrStdout(), summarize(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding the documents")
	cmd.Flags().BoolVar(&force, "force", false, "drop an existing index and rebuild it")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func askCmd(flags *globalFlags) *cobra.Command {
	var (
		dir string
		k   int
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			llm, err := llmservice.NewClient(&cfg.ChatLLM)
			if err != nil {
				return err
			}

			res, err := app.indexer.BuildOrLoad(cmd.Context(), dir)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			responder := rag.NewRAG(app.embedder, llm, cfg.EmbedLLM.Model, cfg.RAG.TopK)
			response, err := responder.Query(cmd.Context(), res.Index, query, k)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", response.Query)

			log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", strings.Join(response.Sources(), "\n"))

			log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Fprintf(out, "%s\n\n", response.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory holding the documents")
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

// loadConfig reads the config file and reconfigures logging from it. An
// explicitly passed --config must exist.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: flags.configFile,
		Required:   cmd.Flags().Changed("config"),
		EnvFile:    flags.envFile,
	})
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := helper.SetupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, apperr.Config("setup logger", err)
	}
	log.Debug().Str("backend", cfg.Index.Backend).Str("embedding_model", cfg.EmbedLLM.Model).
		Str("llm_model", cfg.ChatLLM.Model).Msg("Loaded config")
	return cfg, nil
}

type app struct {
	embedder embeddings.Embedder
	indexer  *indexer.Indexer
	closers  []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	a := &app{embedder: embedder}

	backend, err := a.newBackend(cfg)
	if err != nil {
		return nil, err
	}
	ix, err := indexer.NewFromConfig(cfg, backend, embedder)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.indexer = ix
	return a, nil
}

func (a *app) newBackend(cfg *config.Config) (vectorstore.Backend, error) {
	switch cfg.Index.Backend {
	case config.BackendPGVector:
		dbInstance := db.NewDB(db.ConnectDB(&cfg.Database), cfg.Database.Debug)
		a.closers = append(a.closers, dbInstance.Close)
		return db.NewPGVectorStore(dbInstance, cfg.Index.Collection), nil
	case config.BackendChromem:
		return chromemdb.NewVectorDBManager(cfg.Index.Path, cfg.Index.Collection, cfg.Index.Compress, a.embedder.EmbedQuery), nil
	default:
		return nil, apperr.Config("new backend", fmt.Errorf("unknown index backend %q", cfg.Index.Backend))
	}
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

type indexSummary struct {
	Status         string  `json:"status"`
	Collection     string  `json:"collection"`
	EmbeddingModel string  `json:"embedding_model"`
	Documents      int     `json:"documents"`
	Chunks         int     `json:"chunks"`
	Seconds        float64 `json:"seconds"`
	CreatedAt      string  `json:"created_at"`
}

func summarize(res indexer.Result) indexSummary {
	m := res.Index.Manifest()
	return indexSummary{
		Status:         res.Status.String(),
		Collection:     m.Collection,
		EmbeddingModel: m.EmbeddingModel,
		Documents:      res.Documents,
		Chunks:         res.Chunks,
		Seconds:        res.Duration.Seconds(),
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
}
