package workflow_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/aria/internal/action"
	"github.com/MrWong99/aria/internal/component"
	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/intent"
	"github.com/MrWong99/aria/internal/intent/handlers"
	"github.com/MrWong99/aria/internal/workflow"
	"github.com/MrWong99/aria/pkg/provider"
	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/provider/nlu"
	"github.com/MrWong99/aria/pkg/provider/nlu/keyword"
	"github.com/MrWong99/aria/pkg/provider/playback"
	playbackconsole "github.com/MrWong99/aria/pkg/provider/playback/console"
	"github.com/MrWong99/aria/pkg/provider/trigger"
	"github.com/MrWong99/aria/pkg/provider/tts"
	ttsconsole "github.com/MrWong99/aria/pkg/provider/tts/console"
	"github.com/MrWong99/aria/pkg/types"
)

const engineYAML = `
components:
  voice_trigger: true
  asr: true
  nlu: true
  tts: true
  audio: true
voice_trigger:
  default_provider: energy
  providers:
    energy:
      enabled: true
asr:
  default_provider: whispercpp
  providers:
    whispercpp:
      enabled: true
nlu:
  default_provider: keyword
  providers:
    keyword:
      enabled: true
      patterns:
        - name: timer.set
          keywords: [timer, set]
        - name: clock.time
          keywords: [time, clock]
tts:
  default_provider: coqui
  fallback_providers: [console]
  providers:
    coqui:
      enabled: true
    console:
      enabled: true
audio:
  default_provider: console
  providers:
    console:
      enabled: true
tracing:
  enabled: true
`

// flakyTTS fails synthesis while broken is set; used for fallback tests.
type flakyTTS struct {
	broken atomic.Bool
	calls  atomic.Int32
}

func (f *flakyTTS) Name() string                       { return "coqui" }
func (f *flakyTTS) Available(ctx context.Context) bool { return true }
func (f *flakyTTS) Capabilities() map[string]any       { return map[string]any{} }
func (f *flakyTTS) Voices(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *flakyTTS) SynthesizeToFile(ctx context.Context, text, outPath string, opts types.SynthesisOptions) error {
	f.calls.Add(1)
	if f.broken.Load() {
		return fmt.Errorf("coqui: %w", provider.ErrUnavailable)
	}
	return os.WriteFile(outPath, []byte(text), 0o600)
}

// fakeTrigger reports an activation after consuming one frame.
type fakeTrigger struct {
	triggered bool
	preRoll   []types.AudioFrame
}

func (f *fakeTrigger) Name() string                       { return "energy" }
func (f *fakeTrigger) Available(ctx context.Context) bool { return true }
func (f *fakeTrigger) Capabilities() map[string]any       { return map[string]any{} }
func (f *fakeTrigger) WakeWords() []string                { return []string{"aria"} }

func (f *fakeTrigger) Detect(ctx context.Context, frames <-chan types.AudioFrame) (types.TriggerEvent, error) {
	select {
	case <-ctx.Done():
		return types.TriggerEvent{}, ctx.Err()
	case _, ok := <-frames:
		if !ok || !f.triggered {
			return types.TriggerEvent{Triggered: false}, nil
		}
		return types.TriggerEvent{
			Triggered:  true,
			WakeWord:   "aria",
			Confidence: 0.9,
			PreRoll:    f.preRoll,
		}, nil
	}
}

// fakeASR drains the stream and returns a canned transcript, counting the
// frames it saw.
type fakeASR struct {
	text   string
	frames atomic.Int32
}

func (f *fakeASR) Name() string                       { return "whispercpp" }
func (f *fakeASR) Available(ctx context.Context) bool { return true }
func (f *fakeASR) Capabilities() map[string]any       { return map[string]any{} }

func (f *fakeASR) Transcribe(ctx context.Context, frames <-chan types.AudioFrame, opts asr.Options) (types.Transcript, error) {
	for range frames {
		f.frames.Add(1)
	}
	return types.Transcript{Text: f.text, IsFinal: true, Confidence: 0.92}, nil
}

type testEnv struct {
	cfg      *config.Config
	engine   *workflow.Engine
	sessions *conversation.Store
	coord    *action.Coordinator
	tts      *flakyTTS
	asr      *fakeASR
	trigger  *fakeTrigger
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg, err := config.LoadFromReader(strings.NewReader(engineYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.System.TempAudioDir = t.TempDir()

	env := &testEnv{
		cfg:     cfg,
		tts:     &flakyTTS{},
		asr:     &fakeASR{text: "what time is it"},
		trigger: &fakeTrigger{triggered: true},
	}

	reg := config.NewRegistry()
	reg.RegisterTTS("coqui", func(*config.Config) (tts.Provider, error) { return env.tts, nil })
	reg.RegisterTTS("console", func(*config.Config) (tts.Provider, error) { return ttsconsole.New(), nil })
	reg.RegisterPlayback("console", func(*config.Config) (playback.Provider, error) {
		return playbackconsole.New(), nil
	})
	reg.RegisterASR("whispercpp", func(*config.Config) (asr.Provider, error) { return env.asr, nil })
	reg.RegisterTrigger("energy", func(*config.Config) (trigger.Provider, error) { return env.trigger, nil })
	reg.RegisterNLU("keyword", func(*config.Config) (nlu.Provider, error) {
		return keyword.New([]keyword.IntentPattern{
			{
				Name:     "timer.set",
				Keywords: []string{"timer", "set"},
				Slots: map[string][]string{
					"unit":   {"seconds", "minutes", "hours"},
					"number": nil,
				},
			},
			{Name: "clock.time", Keywords: []string{"time", "clock"}},
		}), nil
	})

	core := &component.Core{Cfg: cfg, Registry: reg}

	triggerComp := component.NewVoiceTrigger()
	asrComp := component.NewASR()
	nluComp := component.NewNLU()
	ttsComp := component.NewTTS()
	audioComp := component.NewAudio()
	for _, c := range []component.Component{triggerComp, asrComp, nluComp, ttsComp, audioComp} {
		if err := c.Initialize(context.Background(), core); err != nil {
			t.Fatalf("Initialize %s: %v", c.Name(), err)
		}
	}

	env.sessions = conversation.NewStore(cfg.Conversation, nil)
	t.Cleanup(func() { env.sessions.Close(context.Background()) })

	env.coord = action.NewCoordinator(nil, map[string]action.Policy{"timer": action.PolicyReject})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.coord.Shutdown(ctx)
	})

	registry := intent.NewRegistry(nil, cfg.IntentSystem.HandlerDeadline, "conversation")
	for _, h := range []intent.Handler{
		handlers.NewTimer(env.coord),
		handlers.NewClock(),
		handlers.NewConversation(nil),
	} {
		if err := registry.Register(h); err != nil {
			t.Fatalf("Register %s: %v", h.Name(), err)
		}
	}

	env.engine = workflow.NewEngine(cfg, env.sessions, registry, nil, workflow.Components{
		Trigger: triggerComp,
		ASR:     asrComp,
		NLU:     nluComp,
		TTS:     ttsComp,
		Audio:   audioComp,
	})
	return env
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func audioFrames(n int) <-chan types.AudioFrame {
	ch := make(chan types.AudioFrame, n)
	for i := 0; i < n; i++ {
		ch <- types.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1}
	}
	close(ch)
	return ch
}

func TestEngine_TextRequestTextOnlyReply(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	resp := env.engine.ProcessTextInput(context.Background(), "what time is it", workflow.Request{
		SessionID: "s1",
		Source:    "cli",
	})
	if !resp.Result.Success {
		t.Fatalf("result = %+v, want success", resp.Result)
	}
	if resp.Result.Text == "" {
		t.Error("reply text should not be empty")
	}
	if resp.Intent.Name != "clock.time" {
		t.Errorf("intent = %q, want clock.time", resp.Intent.Name)
	}
	if env.tts.calls.Load() != 0 {
		t.Error("TTS must not be called without wants_audio")
	}
	if files := tempFiles(t, env.cfg.System.TempAudioDir); len(files) != 0 {
		t.Errorf("temp files = %v, want none", files)
	}

	session := env.sessions.Get("s1")
	if got := len(session.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestEngine_VoiceRequestWithTrigger(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.asr.text = "set a timer for 5 minutes"
	env.trigger.preRoll = []types.AudioFrame{{Data: make([]byte, 320)}, {Data: make([]byte, 320)}}

	resp := env.engine.ProcessAudioStream(context.Background(), audioFrames(4), workflow.Request{
		SessionID: "s1",
		Source:    "microphone",
	})
	if !resp.Result.Success {
		t.Fatalf("result = %+v, want success", resp.Result)
	}
	if !strings.Contains(resp.Transcript.Text, "timer") {
		t.Errorf("transcript = %q, should contain timer", resp.Transcript.Text)
	}
	if resp.Intent.Name != "timer.set" {
		t.Errorf("intent = %q, want timer.set", resp.Intent.Name)
	}

	// Pre-roll is replayed ahead of the live remainder: 2 pre-roll frames
	// plus the 3 frames the trigger did not consume.
	if got := env.asr.frames.Load(); got != 5 {
		t.Errorf("asr saw %d frames, want 5", got)
	}

	// The background action is active immediately after the request.
	session := env.sessions.Get("s1")
	if _, ok := session.ActiveAction("timer"); !ok {
		t.Error("timer action should be active after the request")
	}
}

func TestEngine_NotTriggeredStopsPipeline(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.trigger.triggered = false

	resp := env.engine.ProcessAudioStream(context.Background(), audioFrames(2), workflow.Request{
		SessionID: "s1",
	})
	if !resp.Result.Success {
		t.Fatalf("result = %+v, silence should not be an error", resp.Result)
	}
	if resp.Result.Metadata["triggered"] != false {
		t.Errorf("metadata = %v, want triggered=false", resp.Result.Metadata)
	}
	if env.asr.frames.Load() != 0 {
		t.Error("ASR must not run without an activation")
	}
}

func TestEngine_SkipWakeWord(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.trigger.triggered = false // would stop the pipeline if consulted

	resp := env.engine.ProcessAudioStream(context.Background(), audioFrames(3), workflow.Request{
		SessionID:    "s1",
		SkipWakeWord: true,
		Trace:        true,
	})
	if !resp.Result.Success {
		t.Fatalf("result = %+v, want success", resp.Result)
	}
	var sawSkippedTrigger bool
	for _, s := range resp.Trace.Stages {
		if s.Stage == "trigger" && s.Skipped {
			sawSkippedTrigger = true
		}
	}
	if !sawSkippedTrigger {
		t.Error("trace should record the trigger stage as skipped")
	}
}

func TestEngine_DuplicateTimerRejectPolicy(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	first := env.engine.ProcessTextInput(context.Background(), "set a timer for 9 minutes", workflow.Request{SessionID: "s1"})
	if !first.Result.Success {
		t.Fatalf("first = %+v, want success", first.Result)
	}

	second := env.engine.ProcessTextInput(context.Background(), "set a timer for 3 minutes", workflow.Request{SessionID: "s1"})
	if second.Result.Success {
		t.Fatalf("second = %+v, want a refusal", second.Result)
	}
	if second.Result.Text == "" {
		t.Error("refusal should carry an explanatory text")
	}

	session := env.sessions.Get("s1")
	if got := session.ErrorCount("timer"); got != 0 {
		t.Errorf("ErrorCount = %d, policy refusal is not an action error", got)
	}
	if _, ok := session.ActiveAction("timer"); !ok {
		t.Error("the first timer must stay active")
	}
}

func TestEngine_TTSProviderFallback(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.tts.broken.Store(true)

	resp := env.engine.ProcessTextInput(context.Background(), "what time is it", workflow.Request{
		SessionID:  "s1",
		WantsAudio: true,
		Trace:      true,
	})
	if !resp.Result.Success {
		t.Fatalf("result = %+v, fallback should keep the request alive", resp.Result)
	}
	if env.tts.calls.Load() == 0 {
		t.Error("default provider should have been tried first")
	}
	if _, ok := resp.Result.Metadata["speech_error"]; ok {
		t.Errorf("metadata = %v, the console fallback should have produced audio", resp.Result.Metadata)
	}

	// The synthesised temp file is removed on the way out.
	if files := tempFiles(t, env.cfg.System.TempAudioDir); len(files) != 0 {
		t.Errorf("temp files = %v, want none after the request", files)
	}

	var sawAudio bool
	for _, s := range resp.Trace.Stages {
		if s.Stage == "audio" && !s.Skipped {
			sawAudio = true
		}
	}
	if !sawAudio {
		t.Error("trace should show the playback stage ran")
	}
}

func TestEngine_LowConfidenceReroutesToFallbackIntent(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	env.cfg.Workflow.ConfidenceThreshold = 0.99
	env.cfg.Workflow.FallbackIntent = "conversation.chat"

	resp := env.engine.ProcessTextInput(context.Background(), "set a timer for 5 minutes", workflow.Request{SessionID: "s1"})
	if resp.Intent.Name != "conversation.chat" {
		t.Errorf("intent = %q, want the fallback intent", resp.Intent.Name)
	}
	if !resp.Result.Success {
		t.Errorf("result = %+v, the fallback handler should answer", resp.Result)
	}
	if resp.Intent.RawText == "" {
		t.Error("the original text must be preserved on the rerouted intent")
	}
}

func TestEngine_TraceRecordsStages(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	resp := env.engine.ProcessTextInput(context.Background(), "what time is it", workflow.Request{
		SessionID: "s1",
		Trace:     true,
	})
	if resp.Trace == nil {
		t.Fatal("trace should be present when the request opts in")
	}

	stages := make(map[string]bool) // stage -> skipped
	for _, s := range resp.Trace.Stages {
		stages[s.Stage] = s.Skipped
	}
	for _, want := range []string{"trigger", "asr"} {
		if skipped, ok := stages[want]; !ok || !skipped {
			t.Errorf("stage %q should be recorded as skipped on text input", want)
		}
	}
	for _, want := range []string{"nlu", "dispatch"} {
		if skipped, ok := stages[want]; !ok || skipped {
			t.Errorf("stage %q should be recorded as run", want)
		}
	}
	if resp.Trace.Before == nil || resp.Trace.After == nil {
		t.Error("trace should carry before/after context snapshots")
	}
}

func TestEngine_NoTraceWithoutOptIn(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	resp := env.engine.ProcessTextInput(context.Background(), "what time is it", workflow.Request{SessionID: "s1"})
	if resp.Trace != nil && len(resp.Trace.Stages) != 0 {
		t.Errorf("trace = %+v, want none without opt-in", resp.Trace)
	}
}
