package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sqlweave/internal/config"
	"sqlweave/internal/diag"
	"sqlweave/internal/generate"
	"sqlweave/internal/pipeline"
	"sqlweave/internal/plan"
	"sqlweave/internal/schema"
	"sqlweave/internal/verify"
)

var version = "0.1.0"

var (
	// Global flags
	verbose    bool
	configPath string
	schemaPath string
	dataPath   string
	jsonOut    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sqlweave",
	Short: "sqlweave - verified natural-language to SQL",
	Long: `sqlweave turns a natural-language question and a database schema into a
verified SQL statement.

The question is decomposed into a dependency graph of semantic operations.
Each operation's fragment passes through three verification stages (syntax,
schema, execution against sample data) inside a bounded verify-repair loop
before the verified fragments are composed into the final statement.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with a verified SQL statement",
	Long: `Runs the full pipeline: decomposes the question into a plan graph, drives
each node through the verify-repair loop and prints the composed statement.

With --json the complete run report is printed instead, including every
node's fragment, attempts and issue history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		sc, rows, err := loadSchemaAndData()
		if err != nil {
			return err
		}
		p, closeFn, err := buildPipeline(ctx, sc, rows)
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := p.Run(ctx, question, sc)
		if report != nil {
			if printErr := printReport(cmd, report); printErr != nil {
				return printErr
			}
		}
		if err != nil {
			return err
		}
		if report.Status != plan.RunVerified {
			os.Exit(1)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <sql>",
	Short: "Run a SQL statement or fragment through the verification stages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fragment := strings.Join(args, " ")
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		sc, rows, err := loadSchemaAndData()
		if err != nil {
			return err
		}
		verifiers, closeFn, err := buildVerifiers(ctx, sc, rows)
		if err != nil {
			return err
		}
		defer closeFn()

		vctx := verify.Context{Schema: sc}
		allValid := true
		current := fragment
		for _, v := range verifiers {
			res := v.Verify(ctx, current, vctx)
			printStage(cmd, res)
			if !res.Valid {
				allValid = false
				break
			}
			if res.Formatted != "" {
				current = res.Formatted
			}
		}
		if !allValid {
			os.Exit(1)
		}
		cmd.Println("verified")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sqlweave version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("sqlweave %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "sqlweave.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "", "Schema YAML file (required)")
	rootCmd.PersistentFlags().StringVarP(&dataPath, "data", "d", "", "Sample rows YAML file")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print the full run report as JSON")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Logging.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func loadSchemaAndData() (*schema.Schema, schema.SampleRows, error) {
	if schemaPath == "" {
		return nil, nil, fmt.Errorf("--schema is required")
	}
	sc, err := schema.Load(schemaPath)
	if err != nil {
		return nil, nil, err
	}
	var rows schema.SampleRows
	if dataPath != "" {
		rows, err = schema.LoadSampleRows(dataPath)
		if err != nil {
			return nil, nil, err
		}
	}
	return sc, rows, nil
}

// buildVerifiers assembles the three stages, seeding the execution stage's
// sample database from the schema and sample rows.
func buildVerifiers(ctx context.Context, sc *schema.Schema, rows schema.SampleRows) ([]verify.Verifier, func(), error) {
	db, err := verify.OpenSampleDB()
	if err != nil {
		return nil, nil, err
	}
	if err := db.Setup(ctx, sc, rows); err != nil {
		db.Close()
		return nil, nil, err
	}
	exec := verify.NewExecutionVerifier(db, logger)
	exec.Timeout = cfg.ExecutionTimeout()
	exec.MaxRows = cfg.Execution.MaxRows
	exec.SlowThreshold = cfg.SlowThreshold()

	verifiers := []verify.Verifier{
		verify.NewSyntaxVerifier(logger),
		verify.NewSchemaVerifier(logger),
		exec,
	}
	return verifiers, func() { db.Close() }, nil
}

// buildPipeline wires the decomposer, generator and composer. Without an
// API key everything runs on the offline template path.
func buildPipeline(ctx context.Context, sc *schema.Schema, rows schema.SampleRows) (*pipeline.Pipeline, func(), error) {
	verifiers, closeFn, err := buildVerifiers(ctx, sc, rows)
	if err != nil {
		return nil, nil, err
	}

	var gen generate.Generator = generate.TemplateGenerator{}
	var dec generate.Decomposer = generate.HeuristicDecomposer{}
	composer := pipeline.SlotComposer{Log: logger}

	if cfg.LLM.APIKey != "" {
		gemini, err := generate.NewGemini(ctx, cfg.LLM.APIKey, cfg.LLM.Model, logger)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		gen = generate.TemplateFirst{LLM: gemini}
		dec = generate.FallbackDecomposer{
			Primary:  gemini,
			Fallback: generate.HeuristicDecomposer{},
			Log:      logger,
		}
		composer.Fallback = gemini
	} else {
		logger.Info("no API key configured, using offline template generation")
	}

	loop := pipeline.NewLoop(gen, verifiers, logger)
	if cfg.Pipeline.MaxAttempts > 0 {
		loop.MaxAttempts = cfg.Pipeline.MaxAttempts
	}
	p := pipeline.New(dec, loop, composer, logger)
	if cfg.Pipeline.Workers > 0 {
		p.Workers = cfg.Pipeline.Workers
	}
	return p, closeFn, nil
}

func printReport(cmd *cobra.Command, report *plan.RunReport) error {
	if jsonOut {
		data, err := report.MarshalIndent()
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	switch report.Status {
	case plan.RunVerified:
		cmd.Println(report.FinalSQL)
	default:
		cmd.Printf("run %s: %s\n", report.RunID, report.Status)
		if report.Error != "" {
			cmd.Println(report.Error)
		}
		for _, stage := range []diag.Stage{diag.StageSyntax, diag.StageSchema, diag.StageExecution} {
			if tally, ok := report.Stages[stage]; ok {
				cmd.Printf("  %s: %d passed, %d failed\n", stage, tally.Passed, tally.Failed)
			}
		}
		for _, nr := range report.Nodes {
			cmd.Printf("  %s [%s] %s (%d attempts)\n", nr.ID, nr.Kind, nr.State, nr.Attempts)
			for _, iss := range nr.Issues {
				cmd.Printf("    attempt %d %s/%s: %s\n", iss.Attempt, iss.Stage, iss.Kind, iss.Message)
			}
		}
	}
	return nil
}

func printStage(cmd *cobra.Command, res verify.Result) {
	status := "pass"
	if !res.Valid {
		status = "fail"
	}
	cmd.Printf("%s: %s\n", res.Stage, status)
	for _, iss := range res.Issues {
		cmd.Printf("  [%s/%s] %s", iss.Severity, iss.Kind, iss.Message)
		if iss.Suggestion != "" {
			cmd.Printf(" (%s)", iss.Suggestion)
		}
		cmd.Println()
	}
}
