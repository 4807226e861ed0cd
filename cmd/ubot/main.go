package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/ubot/internal/config"
	"github.com/TobiSchelling/ubot/internal/database"
	"github.com/TobiSchelling/ubot/internal/messages"
	"github.com/TobiSchelling/ubot/internal/pipeline"
	"github.com/TobiSchelling/ubot/internal/server"
	"github.com/TobiSchelling/ubot/internal/summarize"
	"github.com/TobiSchelling/ubot/internal/telegram"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ubot",
	Short:   "Community contribution tracker and knowledge assistant",
	Long:    "ubot logs community contributions from chat, posts daily summaries, and answers questions from configured knowledge sources.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal; credentials may come from the environment.
		_ = godotenv.Load()

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setLogFlags(verbose)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setLogFlags(verbose || cfg.IsDebug())
		return nil
	},
}

func setLogFlags(debug bool) {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(countAnswersCmd)
	rootCmd.AddCommand(countMessagesCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ubot", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/ubot/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure knowledge sources, channels, API keys, and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Messages:")
		fmt.Printf("  Groups: %d\n", stats.Groups)
		fmt.Printf("  Stored: %d\n", stats.Messages)
		fmt.Printf("  Backfilled groups: %d\n", stats.BackfilledGroups)
		fmt.Println("\nContributions:")
		fmt.Printf("  Logged: %d\n", stats.Contributions)
		fmt.Printf("  Contributors: %d\n", stats.Contributors)
		fmt.Println("\nOutput:")
		fmt.Printf("  Summaries: %d\n", stats.Summaries)
		fmt.Printf("\nLLM provider: %s\n", cfg.Oracle.Provider)
		return nil
	},
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the knowledge sources questions are routed to",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db, nil)
		if err != nil {
			return err
		}

		sources := pipe.Registry().Sources()
		if len(sources) == 0 {
			fmt.Println("No knowledge sources configured.")
			return nil
		}
		fmt.Println("Knowledge sources:")
		for _, s := range sources {
			lookup := ""
			if s.EntityLookup {
				lookup = " (entity lookup)"
			}
			fmt.Printf("  %-16s %-10s %s%s\n", s.Name, s.Kind, s.Label, lookup)
			fmt.Printf("  %-16s triggers: %s\n", "", strings.Join(s.Keywords, ", "))
		}
		return nil
	},
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import [export.json]",
	Short: "Import a chat history export into the message store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := messages.ImportFile(db, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Imported group %s:\n", result.GroupID)
		fmt.Printf("  Channels: %d\n", result.Channels)
		fmt.Printf("  New messages: %d\n", result.Imported)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)
		return nil
	},
}

// --- ask command ---

var askGroup string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the knowledge sources",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, db, err := openPipeline(nil)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println(pipe.Ask(cmd.Context(), askGroup, strings.Join(args, " ")))
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askGroup, "group", "g", "", "Group whose stored history serves as live chat")
}

// --- summary command ---

var (
	summaryGroup string
	summaryHours int
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize a group's recent messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, db, err := openPipeline(nil)
		if err != nil {
			return err
		}
		defer db.Close()

		if !pipe.IsConfigured() {
			fmt.Println("Warning: LLM provider is not configured; the summary will be the fallback text.")
		}

		since := time.Now().Add(-time.Duration(summaryHours) * time.Hour)
		rec, err := pipe.Summarize(cmd.Context(), summaryGroup, since, database.TriggerManual)
		if errors.Is(err, summarize.ErrNoMessages) {
			fmt.Println("No messages found to summarize.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Summary #%d for %s (%s):\n\n%s\n", rec.ID, rec.GroupID, rec.Timestamp, rec.Text)
		return nil
	},
}

func init() {
	summaryCmd.Flags().StringVarP(&summaryGroup, "group", "g", "", "Group to summarize")
	summaryCmd.Flags().IntVar(&summaryHours, "hours", 24, "Look back this many hours")
	summaryCmd.MarkFlagRequired("group")
}

// --- backfill command ---

var (
	backfillGroup string
	backfillReset bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Classify stored history once per group",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, db, err := openPipeline(nil)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if backfillGroup == "" {
			if backfillReset {
				return fmt.Errorf("--reset requires --group")
			}
			results, err := pipe.BackfillAll(ctx)
			for _, r := range results {
				printBackfill(r.GroupID, r.Skipped, r.Channels, r.Messages, r.Batches, r.Contributions)
			}
			return err
		}

		if backfillReset {
			if err := pipe.ResetBackfill(backfillGroup); err != nil {
				return fmt.Errorf("resetting marker: %w", err)
			}
			fmt.Printf("Cleared backfill marker for %s\n", backfillGroup)
		}
		r, err := pipe.Backfill(ctx, backfillGroup)
		if err != nil {
			return err
		}
		printBackfill(r.GroupID, r.Skipped, r.Channels, r.Messages, r.Batches, r.Contributions)
		return nil
	},
}

func printBackfill(group string, skipped bool, channels, msgs, batches, contributions int) {
	if skipped {
		fmt.Printf("%s: already backfilled (use --reset to run again)\n", group)
		return
	}
	fmt.Printf("%s: %d channels, %d messages, %d batches, %d contributions logged\n",
		group, channels, msgs, batches, contributions)
}

func init() {
	backfillCmd.Flags().StringVarP(&backfillGroup, "group", "g", "", "Only backfill this group")
	backfillCmd.Flags().BoolVar(&backfillReset, "reset", false, "Clear the group's marker first")
}

// --- counting commands ---

var (
	countGroup   string
	countChannel string
)

var countAnswersCmd = &cobra.Command{
	Use:   "count-answers",
	Short: "Count meaningful answers in a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, db, err := openPipeline(nil)
		if err != nil {
			return err
		}
		defer db.Close()

		channel := countTarget()
		n, err := pipe.CountAnswers(cmd.Context(), countGroup, channel)
		if err != nil {
			return countFailure(channel, err)
		}
		fmt.Printf("Found %d meaningful answers in #%s.\n", n, channel)
		return nil
	},
}

var countMessagesCmd = &cobra.Command{
	Use:   "count-messages",
	Short: "Count messages in a channel, excluding ignored users",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, db, err := openPipeline(nil)
		if err != nil {
			return err
		}
		defer db.Close()

		channel := countTarget()
		n, err := pipe.CountMessages(countGroup, channel)
		if err != nil {
			return countFailure(channel, err)
		}
		fmt.Printf("Total messages in #%s (excluding ignored users): %d\n", channel, n)
		return nil
	},
}

func countTarget() string {
	if countChannel != "" {
		return countChannel
	}
	return cfg.Channels.CountDefault
}

func countFailure(channel string, err error) error {
	if errors.Is(err, pipeline.ErrUnknownChannel) {
		return fmt.Errorf("channel #%s not found", channel)
	}
	return err
}

func init() {
	for _, c := range []*cobra.Command{countAnswersCmd, countMessagesCmd} {
		c.Flags().StringVarP(&countGroup, "group", "g", "", "Group the channel belongs to")
		c.Flags().StringVar(&countChannel, "channel", "", "Channel to count (default from config)")
		c.MarkFlagRequired("group")
	}
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot: chat intake, startup backfill and the daily summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var adapter *telegram.Adapter
		var sink summarize.Sink
		if cfg.Telegram.Enabled {
			a, err := telegram.New(cfg.Telegram, cfg.Channels.CountDefault)
			if err != nil {
				return err
			}
			adapter, sink = a, a
		}

		pipe, db, err := openPipeline(sink)
		if err != nil {
			return err
		}
		defer db.Close()

		if !pipe.IsConfigured() {
			log.Printf("Warning: LLM provider %q is not configured", cfg.Oracle.Provider)
		}

		if adapter != nil {
			if err := adapter.Start(ctx, pipe); err != nil {
				return err
			}
			defer adapter.Stop()
		}

		var wg sync.WaitGroup
		if cfg.Backfill.OnStartup {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := pipe.BackfillAll(ctx); err != nil {
					log.Printf("[backfill] startup backfill incomplete: %v", err)
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipe.RunScheduler(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[scheduler] stopped: %v", err)
			}
		}()

		log.Printf("ubot running. Press Ctrl+C to stop")

		<-ctx.Done()
		wg.Wait()
		log.Printf("Shutting down")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "ubot.db")
	return database.Open(dbPath)
}

func openPipeline(sink summarize.Sink) (*pipeline.Pipeline, *database.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	pipe, err := pipeline.New(cfg, db, sink)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return pipe, db, nil
}
