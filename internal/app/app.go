// Package app wires all Lectern subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, the operation methods (Live, Ingest, Speak, Describe) execute
// one mode each, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithHistory, WithGenerator, WithVoice). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hexaphone/lectern/internal/config"
	"github.com/hexaphone/lectern/internal/history"
	"github.com/hexaphone/lectern/internal/playback"
	"github.com/hexaphone/lectern/internal/voice"
	"github.com/hexaphone/lectern/pkg/audio/pcm"
	"github.com/hexaphone/lectern/pkg/gen"
	"github.com/hexaphone/lectern/pkg/live"
)

// ingestConcurrency caps how many documents are extracted in parallel.
const ingestConcurrency = 4

// Generator is the slice of [gen.Client] the app depends on. It is an
// interface so that tests can run without API access.
type Generator interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (gen.Extraction, error)
	Synthesize(ctx context.Context, text, voiceName string) (gen.Audio, error)
	Describe(ctx context.Context, image []byte, mimeType string) (string, error)
	Imagine(ctx context.Context, prompt string) (gen.Image, error)
}

// VoiceSession is the slice of [voice.Controller] the app depends on.
type VoiceSession interface {
	Start(ctx context.Context) error
	Stop()
	SetMuted(muted bool)
	Muted() bool
	OnStatus(fn func(voice.Status))
}

// PlaybackOpener opens an output device that pulls audio through sched.
// The default opens the real output device; tests inject a virtual one.
type PlaybackOpener func(sched *playback.Scheduler) (io.Closer, error)

// App owns all subsystem lifetimes.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	store        history.Store
	gener        Generator
	voice        VoiceSession
	openPlayback PlaybackOpener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistory injects a history store instead of creating one from config.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithGenerator injects a generation client instead of creating one.
func WithGenerator(g Generator) Option {
	return func(a *App) { a.gener = g }
}

// WithVoice injects a voice session instead of creating a controller.
func WithVoice(v VoiceSession) Option {
	return func(a *App) { a.voice = v }
}

// WithPlaybackOpener injects the output device opener used by Speak.
func WithPlaybackOpener(open PlaybackOpener) Option {
	return func(a *App) { a.openPlayback = open }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// New creates an App by wiring all subsystems together. apiKey authenticates
// both the live session and the one-shot generation client; it comes from the
// environment, never from the config file.
func New(ctx context.Context, cfg *config.Config, apiKey string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.openPlayback == nil {
		a.openPlayback = func(sched *playback.Scheduler) (io.Closer, error) {
			return playback.OpenDevice(sched, a.logger)
		}
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Generation client ─────────────────────────────────────────────
	if a.gener == nil {
		var genOpts []gen.Option
		if m := cfg.Generate.TextModel; m != "" {
			genOpts = append(genOpts, gen.WithTextModel(m))
		}
		if m := cfg.Generate.SpeechModel; m != "" {
			genOpts = append(genOpts, gen.WithSpeechModel(m))
		}
		if m := cfg.Generate.ImageModel; m != "" {
			genOpts = append(genOpts, gen.WithImageModel(m))
		}
		genOpts = append(genOpts, gen.WithLogger(a.logger))

		client, err := gen.New(ctx, apiKey, genOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: init generation client: %w", err)
		}
		a.gener = client
	}

	// ── 3. Voice controller ──────────────────────────────────────────────
	if a.voice == nil {
		a.voice = voice.New(live.Config{
			APIKey:       apiKey,
			Model:        cfg.Live.Model,
			BaseURL:      cfg.Live.BaseURL,
			Voice:        cfg.Live.Voice,
			Instructions: cfg.Live.Instructions,
		}, voice.WithLogger(a.logger))
	}

	return a, nil
}

// initHistory sets up the PostgreSQL history store, or the in-memory store
// when no DSN is configured.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		a.logger.Info("no postgres dsn configured, history is in-memory only")
		a.store = history.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	store := history.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}

	a.store = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// History exposes the document store for the CLI's history subcommand.
func (a *App) History() history.Store { return a.store }

// ─── Live ────────────────────────────────────────────────────────────────────

// Live runs a voice session until ctx is cancelled. Status transitions are
// logged; the caller can toggle the microphone via [App.SetMuted] while the
// session runs.
func (a *App) Live(ctx context.Context) error {
	a.voice.OnStatus(func(st voice.Status) {
		if st.Err != nil {
			a.logger.Error("session status", "state", st.State, "err", st.Err)
			return
		}
		a.logger.Info("session status", "state", st.State)
	})

	if err := a.voice.Start(ctx); err != nil {
		if voice.IsPermissionDenied(err) {
			return fmt.Errorf("app: microphone access denied — check input device permissions: %w", err)
		}
		return fmt.Errorf("app: start voice session: %w", err)
	}

	<-ctx.Done()
	a.voice.Stop()
	return ctx.Err()
}

// SetMuted toggles the live session's microphone gate.
func (a *App) SetMuted(muted bool) { a.voice.SetMuted(muted) }

// Muted reports the live session's microphone gate.
func (a *App) Muted() bool { return a.voice.Muted() }

// ─── Ingest ──────────────────────────────────────────────────────────────────

// Ingest extracts the text of each file and stores it in the reading history.
// Files are processed in parallel, a few at a time; the first failure cancels
// the remaining work. The stored documents are returned in input order.
func (a *App) Ingest(ctx context.Context, paths []string) ([]history.Document, error) {
	docs := make([]history.Document, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)

	for i, path := range paths {
		g.Go(func() error {
			doc, err := a.ingestFile(ctx, path)
			if err != nil {
				return fmt.Errorf("app: ingest %q: %w", path, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// ingestFile extracts and stores a single document.
func (a *App) ingestFile(ctx context.Context, path string) (history.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return history.Document{}, err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	ex, err := a.gener.ExtractText(ctx, data, mimeType)
	if err != nil {
		return history.Document{}, err
	}

	doc, err := a.store.Put(ctx, history.Document{
		Filename: filepath.Base(path),
		Text:     ex.Text,
		Language: ex.Language,
	})
	if err != nil {
		return history.Document{}, err
	}

	a.logger.Info("document ingested",
		"id", doc.ID,
		"filename", doc.Filename,
		"language", doc.Language,
		"chars", len(doc.Text),
	)
	return doc, nil
}

// ─── Speak ───────────────────────────────────────────────────────────────────

// Speak synthesises text with the configured voice. When outPath is set the
// raw clip is written there; otherwise it plays through the output device.
func (a *App) Speak(ctx context.Context, text, outPath string) error {
	voiceName := a.cfg.Live.Voice
	if voiceName == "" {
		voiceName = live.DefaultVoice
	}

	clip, err := a.gener.Synthesize(ctx, text, voiceName)
	if err != nil {
		return fmt.Errorf("app: speak: %w", err)
	}

	if outPath == "" {
		return a.play(ctx, clip)
	}

	if err := os.WriteFile(outPath, clip.Data, 0o644); err != nil {
		return fmt.Errorf("app: speak: write %q: %w", outPath, err)
	}

	a.logger.Info("speech written",
		"path", outPath,
		"mime_type", clip.MIMEType,
		"bytes", len(clip.Data),
	)
	return nil
}

// play schedules clip on a fresh playback timeline and blocks until the
// output device has rendered it or ctx is cancelled.
func (a *App) play(ctx context.Context, clip gen.Audio) error {
	samples, err := pcm.DecodeBytes(clip.Data)
	if err != nil {
		return fmt.Errorf("app: speak: decode clip: %w", err)
	}

	sched := playback.NewScheduler(pcm.Rate(clip.MIMEType))
	dev, err := a.openPlayback(sched)
	if err != nil {
		return fmt.Errorf("app: speak: open output device: %w", err)
	}
	defer dev.Close()

	sched.Schedule(samples)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for sched.Active() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ─── Describe ────────────────────────────────────────────────────────────────

// Describe returns a read-aloud description of the image at path.
func (a *App) Describe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("app: describe: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	desc, err := a.gener.Describe(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("app: describe %q: %w", path, err)
	}
	return desc, nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.voice.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}
