// Command lectern is the command-line entry point for the Lectern reading
// assistant: live voice conversations, document ingestion, one-shot speech
// synthesis, image description and reading-history management.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hexaphone/lectern/internal/app"
	"github.com/hexaphone/lectern/internal/config"
	"github.com/hexaphone/lectern/internal/history"
	"github.com/hexaphone/lectern/internal/observe"
)

const usage = `usage: lectern [-config FILE] COMMAND [args]

Commands:
  live                      run a live voice session (type "mute", "unmute" or "quit")
  ingest FILE...            extract document text into the reading history
  speak [-o OUT.pcm] TEXT   synthesise TEXT as speech; play it, or write the clip to OUT.pcm
  describe IMAGE            print a read-aloud description of IMAGE
  history list              list the reading history
  history show ID           print a document's text
  history rm ID             delete a document
  history mark ID SECONDS [LABEL]
                            bookmark a position in a document's audio

The API key is read from LECTERN_API_KEY or GEMINI_API_KEY.`

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// A missing config file is fine: run with defaults.
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "lectern: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// ── API key ───────────────────────────────────────────────────────────
	apiKey := os.Getenv("LECTERN_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "lectern: no API key — set LECTERN_API_KEY or GEMINI_API_KEY")
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lectern"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, apiKey, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	// ── Dispatch ──────────────────────────────────────────────────────────
	if err := dispatch(ctx, stop, application, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "lectern: %v\n", err)
		return 1
	}
	return 0
}

// dispatch routes the positional arguments to one application operation.
func dispatch(ctx context.Context, cancel context.CancelFunc, application *app.App, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "live":
		return runLive(ctx, cancel, application)

	case "ingest":
		if len(rest) == 0 {
			return errors.New("ingest: no files given")
		}
		docs, err := application.Ingest(ctx, rest)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s  %s  (%s, %d chars)\n", doc.ID, doc.Filename, doc.Language, len(doc.Text))
		}
		return nil

	case "speak":
		fs := flag.NewFlagSet("speak", flag.ContinueOnError)
		out := fs.String("o", "", "write the clip to this file instead of playing it")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		text := strings.Join(fs.Args(), " ")
		if text == "" {
			return errors.New("speak: no text given")
		}
		return application.Speak(ctx, text, *out)

	case "describe":
		if len(rest) != 1 {
			return errors.New("describe: expected exactly one image path")
		}
		desc, err := application.Describe(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Println(desc)
		return nil

	case "history":
		return runHistory(ctx, application, rest)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// runLive starts the voice session and reads interactive commands from stdin
// until the session ends or the user quits.
func runLive(ctx context.Context, cancel context.CancelFunc, application *app.App) error {
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "mute":
				application.SetMuted(true)
				fmt.Println("microphone muted")
			case "unmute":
				application.SetMuted(false)
				fmt.Println("microphone live")
			case "quit", "stop", "exit":
				cancel()
				return
			case "":
			default:
				fmt.Println(`commands: "mute", "unmute", "quit"`)
			}
		}
	}()

	fmt.Println("session starting — type \"quit\" or press Ctrl+C to stop")
	err := application.Live(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runHistory handles the history subcommands against the document store.
func runHistory(ctx context.Context, application *app.App, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	store := application.History()

	switch sub, rest := args[0], args[1:]; sub {
	case "list":
		docs, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("history is empty")
			return nil
		}
		for _, doc := range docs {
			fmt.Printf("%s  %-30s  %s  %d bookmark(s)\n",
				doc.ID, doc.Filename, doc.UploadedAt.Format(time.DateTime), len(doc.Bookmarks))
		}
		return nil

	case "show":
		if len(rest) != 1 {
			return errors.New("history show: expected exactly one document id")
		}
		doc, err := store.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Println(doc.Text)
		return nil

	case "rm":
		if len(rest) != 1 {
			return errors.New("history rm: expected exactly one document id")
		}
		return store.Delete(ctx, rest[0])

	case "mark":
		if len(rest) < 2 {
			return errors.New("history mark: expected a document id and a position in seconds")
		}
		seconds, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return fmt.Errorf("history mark: bad position %q: %w", rest[1], err)
		}
		var label string
		if len(rest) > 2 {
			label = strings.Join(rest[2:], " ")
		}
		bm, err := store.AddBookmark(ctx, rest[0], history.Bookmark{Seconds: seconds, Label: label})
		if err != nil {
			return err
		}
		fmt.Printf("bookmark %s at %.1fs\n", bm.ID, bm.Seconds)
		return nil

	default:
		return fmt.Errorf("unknown history subcommand %q", sub)
	}
}

// newLogger builds the process-wide slog logger from the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
