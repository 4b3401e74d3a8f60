package app_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hexaphone/lectern/internal/app"
	"github.com/hexaphone/lectern/internal/config"
	"github.com/hexaphone/lectern/internal/history"
	"github.com/hexaphone/lectern/internal/playback"
	"github.com/hexaphone/lectern/internal/voice"
	"github.com/hexaphone/lectern/pkg/gen"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

// fakeGenerator returns canned results and records call arguments.
type fakeGenerator struct {
	mu         sync.Mutex
	extractErr error
	extracted  []string // mime types seen by ExtractText
	spoken     []string // text seen by Synthesize
	voices     []string
}

func (f *fakeGenerator) ExtractText(ctx context.Context, data []byte, mimeType string) (gen.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extractErr != nil {
		return gen.Extraction{}, f.extractErr
	}
	f.extracted = append(f.extracted, mimeType)
	return gen.Extraction{Text: "extracted: " + string(data), Language: "en"}, nil
}

func (f *fakeGenerator) Synthesize(ctx context.Context, text, voiceName string) (gen.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	f.voices = append(f.voices, voiceName)
	return gen.Audio{Data: []byte{0x01, 0x02}, MIMEType: "audio/pcm;rate=24000"}, nil
}

func (f *fakeGenerator) Describe(ctx context.Context, image []byte, mimeType string) (string, error) {
	return "a quiet library", nil
}

func (f *fakeGenerator) Imagine(ctx context.Context, prompt string) (gen.Image, error) {
	return gen.Image{Data: []byte{0xFF}, MIMEType: "image/png"}, nil
}

// fakeVoice is a VoiceSession that records lifecycle calls.
type fakeVoice struct {
	mu       sync.Mutex
	started  int
	stopped  int
	muted    bool
	startErr error
}

func (f *fakeVoice) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeVoice) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeVoice) SetMuted(m bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = m
}

func (f *fakeVoice) Muted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

func (f *fakeVoice) OnStatus(fn func(voice.Status)) {}

// newTestApp builds an App with all subsystems faked.
func newTestApp(t *testing.T, cfg *config.Config) (*app.App, *fakeGenerator, *fakeVoice, *history.MemStore) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	g := &fakeGenerator{}
	v := &fakeVoice{}
	store := history.NewMemStore()

	a, err := app.New(context.Background(), cfg, "test-key",
		app.WithGenerator(g),
		app.WithVoice(v),
		app.WithHistory(store),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, g, v, store
}

// writeTemp writes content to a file in a test temp dir and returns its path.
func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ── Ingest ────────────────────────────────────────────────────────────────────

func TestIngest_StoresExtractedDocuments(t *testing.T) {
	t.Parallel()

	a, _, _, store := newTestApp(t, nil)

	p1 := writeTemp(t, "one.txt", "first")
	p2 := writeTemp(t, "two.txt", "second")

	docs, err := a.Ingest(context.Background(), []string{p1, p2})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("docs = %d; want 2", len(docs))
	}
	if docs[0].Filename != "one.txt" || docs[1].Filename != "two.txt" {
		t.Errorf("input order not preserved: %s, %s", docs[0].Filename, docs[1].Filename)
	}
	if docs[0].Text != "extracted: first" {
		t.Errorf("Text = %q", docs[0].Text)
	}
	if docs[0].Language != "en" {
		t.Errorf("Language = %q; want en", docs[0].Language)
	}

	stored, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored = %d; want 2", len(stored))
	}
}

func TestIngest_MissingFile(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestApp(t, nil)

	_, err := a.Ingest(context.Background(), []string{filepath.Join(t.TempDir(), "nope.txt")})
	if err == nil {
		t.Fatal("Ingest of a missing file should fail")
	}
}

func TestIngest_ExtractionFailure(t *testing.T) {
	t.Parallel()

	a, g, _, store := newTestApp(t, nil)
	g.extractErr = errors.New("model unavailable")

	path := writeTemp(t, "doc.txt", "content")
	if _, err := a.Ingest(context.Background(), []string{path}); err == nil {
		t.Fatal("Ingest should surface extraction failures")
	}

	stored, _ := store.List(context.Background())
	if len(stored) != 0 {
		t.Errorf("stored = %d; a failed extraction must not be stored", len(stored))
	}
}

// ── Speak ─────────────────────────────────────────────────────────────────────

func TestSpeak_WritesClip(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Live.Voice = "Kore"
	a, g, _, _ := newTestApp(t, cfg)

	out := filepath.Join(t.TempDir(), "clip.pcm")
	if err := a.Speak(context.Background(), "hello there", out); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if len(data) != 2 {
		t.Errorf("clip bytes = %d; want 2", len(data))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.voices) != 1 || g.voices[0] != "Kore" {
		t.Errorf("voices = %v; want the configured voice", g.voices)
	}
}

func TestSpeak_PlaysThroughOutputDevice(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{}
	v := &fakeVoice{}

	// A virtual output device: renders frames in the background until closed,
	// so the scheduler's clock advances and Speak's wait loop terminates.
	var opened int
	opener := func(sched *playback.Scheduler) (io.Closer, error) {
		opened++
		p := &fakePlayer{stop: make(chan struct{}), done: make(chan struct{})}
		go func() {
			defer close(p.done)
			buf := make([]float32, 256)
			for {
				select {
				case <-p.stop:
					return
				default:
					sched.Render(buf)
					time.Sleep(time.Millisecond)
				}
			}
		}()
		return p, nil
	}

	a, err := app.New(context.Background(), config.Default(), "test-key",
		app.WithGenerator(g),
		app.WithVoice(v),
		app.WithHistory(history.NewMemStore()),
		app.WithPlaybackOpener(opener),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Empty outPath selects playback over file output.
	if err := a.Speak(context.Background(), "hello", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if opened != 1 {
		t.Errorf("output device opened %d times; want 1", opened)
	}
}

type fakePlayer struct {
	stop chan struct{}
	done chan struct{}
}

func (p *fakePlayer) Close() error {
	close(p.stop)
	<-p.done
	return nil
}

func TestSpeak_DefaultVoiceWhenUnconfigured(t *testing.T) {
	t.Parallel()

	a, g, _, _ := newTestApp(t, nil)

	out := filepath.Join(t.TempDir(), "clip.pcm")
	if err := a.Speak(context.Background(), "hi", out); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.voices) != 1 || g.voices[0] == "" {
		t.Errorf("voices = %v; want a non-empty default voice", g.voices)
	}
}

// ── Describe ──────────────────────────────────────────────────────────────────

func TestDescribe_ReturnsDescription(t *testing.T) {
	t.Parallel()

	a, _, _, _ := newTestApp(t, nil)

	path := writeTemp(t, "pic.png", "not really a png")
	desc, err := a.Describe(context.Background(), path)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc != "a quiet library" {
		t.Errorf("desc = %q", desc)
	}
}

// ── Live ──────────────────────────────────────────────────────────────────────

func TestLive_RunsUntilCancelled(t *testing.T) {
	t.Parallel()

	a, _, v, _ := newTestApp(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Live(ctx) }()

	// The session must be running before we cancel.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v.mu.Lock()
		started := v.started
		v.mu.Unlock()
		if started == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Live = %v; want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Live to return")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped == 0 {
		t.Error("Live did not stop the voice session on cancellation")
	}
}

func TestLive_StartFailure(t *testing.T) {
	t.Parallel()

	a, _, v, _ := newTestApp(t, nil)
	v.startErr = errors.New("device busy")

	if err := a.Live(context.Background()); err == nil {
		t.Fatal("Live should surface Start failures")
	}
}

func TestSetMuted_Forwarded(t *testing.T) {
	t.Parallel()

	a, _, v, _ := newTestApp(t, nil)

	a.SetMuted(true)
	if !v.Muted() {
		t.Error("mute not forwarded to the voice session")
	}
	if !a.Muted() {
		t.Error("Muted() should reflect the voice session state")
	}
}

// ── Shutdown ──────────────────────────────────────────────────────────────────

func TestShutdown_StopsVoiceAndIsIdempotent(t *testing.T) {
	t.Parallel()

	a, _, v, _ := newTestApp(t, nil)

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped != 1 {
		t.Errorf("voice stopped %d times; want exactly 1", v.stopped)
	}
}
