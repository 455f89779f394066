// Package main provides the mend headless task runner. It loads task
// definitions from a YAML file, runs them through the self-healing engine
// against pooled browser sessions, and writes a structured JSON report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/entrhq/mend/pkg/config"
	"github.com/entrhq/mend/pkg/driver"
	"github.com/entrhq/mend/pkg/healing"
	"github.com/entrhq/mend/pkg/llm"
	"github.com/entrhq/mend/pkg/llm/openai"
	"github.com/entrhq/mend/pkg/outcome"
	"github.com/entrhq/mend/pkg/task"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	TaskFile    string
	ConfigFile  string
	APIKey      string
	BaseURL     string
	Model       string
	Headed      bool
	Timeout     time.Duration
	OutputFile  string
	NoLLM       bool
	ShowVersion bool
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("mend v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, config); err != nil {
		cancel()
		log.Printf("Run failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.StringVar(&config.TaskFile, "tasks", "", "Path to the YAML task file (required)")
	flag.StringVar(&config.ConfigFile, "config", "", "Path to the configuration file (defaults to ~/.mend/config.json)")
	flag.StringVar(&config.APIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key for model-backed recovery")
	flag.StringVar(&config.BaseURL, "base-url", os.Getenv("OPENAI_BASE_URL"), "OpenAI API base URL")
	flag.StringVar(&config.Model, "model", "", "Model to use (overrides configuration)")
	flag.BoolVar(&config.Headed, "headed", false, "Run browsers with a visible window")
	flag.DurationVar(&config.Timeout, "timeout", 0, "Overall run timeout (0 for none)")
	flag.StringVar(&config.OutputFile, "output", "mend-report.json", "Output file for the run report")
	flag.BoolVar(&config.NoLLM, "no-llm", false, "Disable model-backed recovery tiers")
	flag.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mend - Self-Healing Browser Automation\n\n")
		fmt.Fprintf(os.Stderr, "Usage: mend [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run a task file\n")
		fmt.Fprintf(os.Stderr, "  mend -tasks checkout.yaml\n\n")
		fmt.Fprintf(os.Stderr, "  # Run without model-backed recovery\n")
		fmt.Fprintf(os.Stderr, "  mend -tasks checkout.yaml -no-llm\n\n")
	}

	flag.Parse()
	return config
}

// run wires the engine from configuration and executes the task file.
func run(ctx context.Context, cliConfig *CLIConfig) error {
	if cliConfig.TaskFile == "" {
		return fmt.Errorf("a task file is required (-tasks)")
	}

	tasks, err := task.LoadFile(cliConfig.TaskFile)
	if err != nil {
		return err
	}

	if err := appconfig.Initialize(cliConfig.ConfigFile); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	browserCfg := appconfig.GetBrowser()

	pool := driver.NewPool()
	pool.SetMaxSessions(browserCfg.MaxSessions())
	pool.SetIdleTimeout(browserCfg.IdleTimeout())
	if err := pool.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize browser runtime: %w", err)
	}
	defer func() {
		if err := pool.Shutdown(); err != nil {
			log.Printf("Pool shutdown: %v", err)
		}
	}()

	sessionOpts := browserCfg.SessionOptions()
	if cliConfig.Headed {
		sessionOpts.Headless = false
	}

	opts := []task.Option{
		task.WithScorerConfig(appconfig.GetScorer().Config()),
		task.WithBudget(appconfig.GetHealing().Budget()),
		task.WithConcurrency(browserCfg.Concurrency()),
	}

	recorder, err := buildRecorder()
	if err != nil {
		return err
	}
	if recorder != nil {
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Printf("Recorder close: %v", err)
			}
		}()
		opts = append(opts, task.WithRecorder(recorder))
	}

	serviceOpts, err := buildServiceOptions(cliConfig)
	if err != nil {
		return err
	}
	opts = append(opts, serviceOpts...)

	engine := task.NewEngine(task.NewPoolSource(pool, sessionOpts), opts...)

	if cliConfig.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cliConfig.Timeout)
		defer cancel()
	}

	log.Printf("Running %d tasks from %s", len(tasks), cliConfig.TaskFile)
	results, err := engine.RunAll(ctx, tasks)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if err := writeReport(cliConfig.OutputFile, results); err != nil {
		return err
	}
	printSummary(results)

	for _, res := range results {
		if res.Status != task.StatusSucceeded {
			return fmt.Errorf("%d of %d tasks did not succeed", countFailed(results), len(results))
		}
	}
	return nil
}

// buildRecorder creates the outcome recorder from configuration, backed by
// SQLite when a database path is set.
func buildRecorder() (*outcome.Recorder, error) {
	outcomeCfg := appconfig.GetOutcome()
	if !outcomeCfg.Enabled() {
		return nil, nil
	}

	var store outcome.Store
	if path := outcomeCfg.DatabasePath(); path != "" {
		sqliteStore, err := outcome.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open outcome database: %w", err)
		}
		store = sqliteStore
	}

	recorder, err := outcome.NewRecorder(store, outcomeCfg.SitePatterns())
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome recorder: %w", err)
	}
	return recorder, nil
}

// buildServiceOptions wires the model service and page context builder,
// unless disabled by flag or configuration.
func buildServiceOptions(cliConfig *CLIConfig) ([]task.Option, error) {
	llmCfg := appconfig.GetLLM()
	if cliConfig.NoLLM || !llmCfg.Enabled() {
		return nil, nil
	}
	if cliConfig.APIKey == "" {
		// No key, no model tiers; the engine still heals structurally
		log.Printf("No API key configured; model-backed recovery tiers disabled")
		return nil, nil
	}

	// CLI flags take precedence over the config file
	model := llmCfg.Model()
	if cliConfig.Model != "" {
		model = cliConfig.Model
	}
	baseURL := llmCfg.BaseURL()
	if cliConfig.BaseURL != "" {
		baseURL = cliConfig.BaseURL
	}

	clientOpts := []openai.Option{
		openai.WithModel(model),
		openai.WithTimeout(llmCfg.Timeout()),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.NewClient(cliConfig.APIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	opts := []task.Option{task.WithService(client)}
	builder, err := llm.NewContextBuilder(model, llmCfg.ContextTokens())
	if err != nil {
		log.Printf("Page context disabled: %v", err)
	} else {
		opts = append(opts, task.WithContextBuilder(builder))
	}
	return opts, nil
}

// writeReport writes the structured run report as indented JSON.
func writeReport(path string, results []*task.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// printSummary logs one line per task.
func printSummary(results []*task.Result) {
	for _, res := range results {
		healed := 0
		for _, sr := range res.Steps {
			if sr.Healing != nil && sr.Healing.Tier != "" && sr.Healing.Tier != healing.TierAttemptPrimary {
				healed++
			}
		}
		log.Printf("task %s (%s): %s, %d steps, %d healed, %s",
			res.TaskID, res.Name, res.Status, len(res.Steps), healed,
			res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	}
}

// countFailed counts tasks that did not succeed.
func countFailed(results []*task.Result) int {
	failed := 0
	for _, res := range results {
		if res.Status != task.StatusSucceeded {
			failed++
		}
	}
	return failed
}
