// Package workflow drives the request pipeline: trigger, transcription,
// normalisation, understanding, dispatch, enrichment, synthesis, playback.
// ProcessTextInput and ProcessAudioStream are the only entry points; errors
// never cross the boundary as panics, they become apology results.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/aria/internal/component"
	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/intent"
	"github.com/MrWong99/aria/internal/observe"
	"github.com/MrWong99/aria/internal/trace"
	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/provider/llm"
	"github.com/MrWong99/aria/pkg/types"
)

// Error kinds the engine stamps on apology results.
const (
	errKindStageTimeout = "StageTimeout"
	errKindStageError   = "StageError"
)

// Request carries the per-call parameters of one pipeline run.
type Request struct {
	// SessionID keys the conversation context. Empty gets a fresh ID.
	SessionID string

	// Source tags where the request came from: microphone, web, cli, api.
	Source string

	// WantsAudio asks for synthesis and playback of the reply.
	WantsAudio bool

	// SkipWakeWord bypasses the voice-trigger stage on audio input.
	SkipWakeWord bool

	// Trace opts this request into stage recording.
	Trace bool

	// Language overrides the session language for this request.
	Language string

	// ClientMetadata seeds the conversation context on first contact.
	ClientMetadata map[string]string

	// Synthesis and Playback tune the output stages.
	Synthesis types.SynthesisOptions
	Playback  types.PlaybackOptions
}

// Response is the pipeline's reply.
type Response struct {
	RequestID  string
	Result     types.IntentResult
	Intent     types.Intent
	Transcript types.Transcript

	// Trace is the sealed stage record, nil unless the request opted in
	// and tracing is enabled.
	Trace *trace.Record
}

// Components bundles the capability components the engine drives. Disabled
// components are nil; the engine skips their stages.
type Components struct {
	Trigger  *component.VoiceTrigger
	ASR      *component.ASR
	TextProc *component.TextProcessor
	NLU      *component.NLU
	LLM      *component.LLM
	TTS      *component.TTS
	Audio    *component.Audio
	Analysis *component.NLUAnalysis
}

// Engine is the request pipeline.
type Engine struct {
	cfg      *config.Config
	sessions *conversation.Store
	registry *intent.Registry
	metrics  *observe.Metrics
	comps    Components
}

// NewEngine assembles the pipeline. metrics may be nil in tests.
func NewEngine(cfg *config.Config, sessions *conversation.Store, registry *intent.Registry, metrics *observe.Metrics, comps Components) *Engine {
	return &Engine{
		cfg:      cfg,
		sessions: sessions,
		registry: registry,
		metrics:  metrics,
		comps:    comps,
	}
}

func (e *Engine) requestBudget() time.Duration {
	if d := e.cfg.Workflow.RequestTimeout; d > 0 {
		return d
	}
	return 60 * time.Second
}

func stageTimeout(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

// ProcessTextInput runs the pipeline for a typed or transcribed utterance.
func (e *Engine) ProcessTextInput(ctx context.Context, text string, req Request) (resp Response) {
	ctx, cancel := context.WithTimeout(ctx, e.requestBudget())
	defer cancel()

	start := time.Now()
	resp.RequestID = uuid.NewString()
	rec := trace.New(resp.RequestID, e.cfg.Tracing, req.Trace)
	defer e.seal(rec, &resp, start)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("pipeline panic", "request", resp.RequestID, "panic", p)
			resp.Result = intent.Apology(e.language(nil, req), errKindStageError, 0)
		}
	}()

	session := e.session(req)
	rec.RecordContextBefore(session.Snapshot())
	rec.RecordSkipped("trigger")
	rec.RecordSkipped("asr")

	resp.Result, resp.Intent = e.processText(ctx, text, req, session, rec)
	rec.RecordContextAfter(session.Snapshot())
	return resp
}

// ProcessAudioStream runs the full voice pipeline over an incoming frame
// stream: wake-word gate, transcription, then the shared text path.
func (e *Engine) ProcessAudioStream(ctx context.Context, frames <-chan types.AudioFrame, req Request) (resp Response) {
	ctx, cancel := context.WithTimeout(ctx, e.requestBudget())
	defer cancel()

	start := time.Now()
	resp.RequestID = uuid.NewString()
	rec := trace.New(resp.RequestID, e.cfg.Tracing, req.Trace)
	defer e.seal(rec, &resp, start)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("pipeline panic", "request", resp.RequestID, "panic", p)
			resp.Result = intent.Apology(e.language(nil, req), errKindStageError, 0)
		}
	}()

	session := e.session(req)
	language := e.language(session, req)
	rec.RecordContextBefore(session.Snapshot())
	defer rec.RecordContextAfter(session.Snapshot())

	// ── Voice trigger ──
	asrInput := frames
	if req.SkipWakeWord || e.comps.Trigger == nil {
		rec.RecordSkipped("trigger")
	} else {
		stageStart := time.Now()
		tctx, tcancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.VoiceTrigger, 10*time.Second))
		event, err := e.comps.Trigger.Detect(tctx, frames)
		tcancel()
		e.recordStage(ctx, rec, "trigger", req.Source, event.WakeWord, map[string]any{
			"triggered":  event.Triggered,
			"confidence": event.Confidence,
			"pre_roll":   len(event.PreRoll),
		}, time.Since(stageStart))
		if err != nil {
			resp.Result = e.apologyFor(err, language)
			return resp
		}
		if !event.Triggered {
			resp.Result = types.IntentResult{
				Success:  true,
				Metadata: map[string]any{"triggered": false},
			}
			return resp
		}
		// The trigger consumed the stream up to the activation point; the
		// pre-roll tail is replayed ahead of the live remainder.
		asrInput = prepend(ctx, event.PreRoll, frames)
	}

	// ── ASR ──
	if e.comps.ASR == nil {
		resp.Result = e.apologyFor(component.ErrDisabled, language)
		rec.RecordSkipped("asr")
		return resp
	}
	stageStart := time.Now()
	actx, acancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.ASR, 30*time.Second))
	transcript, err := e.comps.ASR.Transcribe(actx, asrInput, asr.Options{Language: language})
	acancel()
	e.recordStage(ctx, rec, "asr", req.Source, transcript.Text, map[string]any{
		"confidence": transcript.Confidence,
		"final":      transcript.IsFinal,
	}, time.Since(stageStart))
	if err != nil {
		resp.Result = e.apologyFor(err, language)
		return resp
	}
	resp.Transcript = transcript
	if transcript.Language != "" {
		language = transcript.Language
	}

	req.Language = language
	resp.Result, resp.Intent = e.processText(ctx, transcript.Text, req, session, rec)
	return resp
}

// processText is the shared tail of both entry points: normalise, parse,
// dispatch, enhance, speak.
func (e *Engine) processText(ctx context.Context, text string, req Request, session *conversation.Context, rec *trace.Recorder) (types.IntentResult, types.Intent) {
	language := e.language(session, req)

	// ── Normalisation (asr_output) ──
	normalized := e.normalize(ctx, rec, text, types.StageASROutput, language)

	// ── NLU ──
	if e.comps.NLU == nil {
		rec.RecordSkipped("nlu")
		rec.RecordSkipped("dispatch")
		return e.apologyFor(component.ErrDisabled, language), types.Intent{}
	}
	stageStart := time.Now()
	nctx, ncancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.NLU, 5*time.Second))
	in, err := e.comps.NLU.Parse(nctx, normalized, language, session.Snapshot())
	ncancel()
	e.recordStage(ctx, rec, "nlu", normalized, in.Name, map[string]any{
		"confidence": in.Confidence,
		"slots":      in.Slots,
	}, time.Since(stageStart))
	if err != nil {
		return e.apologyFor(err, language), types.Intent{}
	}
	if e.comps.Analysis != nil {
		e.comps.Analysis.RecordParse(in)
	}

	// Low-confidence parses are rerouted to the fallback intent with the
	// original text preserved.
	if in.Confidence < e.cfg.Workflow.ConfidenceThreshold {
		fallback := e.cfg.Workflow.FallbackIntent
		if fallback == "" {
			fallback = "conversation.chat"
		}
		slog.Debug("low-confidence parse rerouted",
			"intent", in.Name, "confidence", in.Confidence, "fallback", fallback)
		in = types.Intent{
			Name:       fallback,
			Confidence: in.Confidence,
			Slots:      in.Slots,
			RawText:    normalized,
			Language:   language,
		}
	}
	if in.RawText == "" {
		in.RawText = normalized
	}
	if in.Language == "" {
		in.Language = language
	}

	// ── Dispatch ──
	stageStart = time.Now()
	dctx, dcancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.Dispatch, 30*time.Second))
	result := e.registry.Dispatch(dctx, in, session)
	dcancel()
	e.recordStage(ctx, rec, "dispatch", in.Name, result.Text, map[string]any{
		"success": result.Success,
		"error":   result.Error,
	}, time.Since(stageStart))

	// ── LLM enhancement (best effort) ──
	result.Text = e.enhance(ctx, rec, result, in, language)

	session.AppendHistory(types.ExchangeEntry{
		Role:       "user",
		Text:       normalized,
		RawText:    text,
		IntentName: in.Name,
	})

	// ── Synthesis and playback ──
	if req.WantsAudio && result.ShouldSpeak && result.Text != "" {
		e.speak(ctx, rec, &result, req, language)
	} else {
		rec.RecordSkipped("tts")
		rec.RecordSkipped("audio")
	}
	return result, in
}

// normalize chains the text processors of one stage; on any failure the
// input passes through unchanged.
func (e *Engine) normalize(ctx context.Context, rec *trace.Recorder, text string, stage types.NormalizerStage, language string) string {
	if e.comps.TextProc == nil {
		rec.RecordSkipped("textproc:" + string(stage))
		return text
	}
	stageStart := time.Now()
	out, err := e.comps.TextProc.Process(ctx, text, stage, language)
	if err != nil || out == "" {
		out = text
	}
	e.recordStage(ctx, rec, "textproc:"+string(stage), text, out, nil, time.Since(stageStart))
	return out
}

// enhance runs the optional LLM pass over the reply. Failures fall back to
// the unenhanced text silently.
func (e *Engine) enhance(ctx context.Context, rec *trace.Recorder, result types.IntentResult, in types.Intent, language string) string {
	wants := result.Metadata != nil && result.Metadata["enhance"] == true
	if !wants {
		wants = slices.Contains(e.cfg.Workflow.EnhanceIntents, in.Name)
	}
	if !wants || e.comps.LLM == nil || result.Text == "" {
		rec.RecordSkipped("llm")
		return result.Text
	}

	stageStart := time.Now()
	lctx, lcancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.LLM, 30*time.Second))
	enhanced, err := e.comps.LLM.EnhanceText(lctx, result.Text, llm.TaskRephrase, llm.Options{Language: language})
	lcancel()
	if err != nil {
		slog.Debug("llm enhancement skipped", "intent", in.Name, "err", err)
		e.recordStage(ctx, rec, "llm", result.Text, result.Text, map[string]any{"enhanced": false}, time.Since(stageStart))
		return result.Text
	}
	e.recordStage(ctx, rec, "llm", result.Text, enhanced, map[string]any{"enhanced": true}, time.Since(stageStart))
	return enhanced
}

// speak synthesises the reply into a unique temp file, plays it, and removes
// the file on every exit path. Failures degrade the result to text-only.
func (e *Engine) speak(ctx context.Context, rec *trace.Recorder, result *types.IntentResult, req Request, language string) {
	if e.comps.TTS == nil || e.comps.Audio == nil {
		rec.RecordSkipped("tts")
		rec.RecordSkipped("audio")
		return
	}

	text := e.normalize(ctx, rec, result.Text, types.StageTTSInput, language)

	dir := e.cfg.System.TempAudioDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "aria")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("temp audio dir unavailable", "dir", dir, "err", err)
		rec.RecordSkipped("tts")
		rec.RecordSkipped("audio")
		return
	}
	outPath := filepath.Join(dir, uuid.NewString()+".wav")
	defer os.Remove(outPath)

	opts := req.Synthesis
	if opts.Language == "" {
		opts.Language = language
	}

	stageStart := time.Now()
	tctx, tcancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.TTS, 30*time.Second))
	err := e.comps.TTS.SynthesizeToFile(tctx, text, outPath, opts)
	tcancel()
	e.recordStage(ctx, rec, "tts", text, trace.AudioPath(outPath), map[string]any{
		"ok": err == nil,
	}, time.Since(stageStart))
	if err != nil {
		slog.Warn("synthesis failed, replying text-only", "err", err)
		result.Metadata = withMeta(result.Metadata, "speech_error", errKindStageError)
		rec.RecordSkipped("audio")
		return
	}

	stageStart = time.Now()
	actx, acancel := context.WithTimeout(ctx, stageTimeout(e.cfg.Workflow.StageTimeouts.Audio, 60*time.Second))
	err = e.comps.Audio.PlayFile(actx, outPath, req.Playback)
	acancel()
	e.recordStage(ctx, rec, "audio", outPath, nil, map[string]any{"ok": err == nil}, time.Since(stageStart))
	if err != nil {
		slog.Warn("playback failed", "err", err)
		result.Metadata = withMeta(result.Metadata, "speech_error", errKindStageError)
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) session(req Request) *conversation.Context {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	session, _ := e.sessions.GetOrCreate(id, req.ClientMetadata)
	return session
}

// language resolves the conversation language: request override, then
// session, then system default.
func (e *Engine) language(session *conversation.Context, req Request) string {
	if req.Language != "" {
		return req.Language
	}
	if session != nil {
		if lang := session.Language(); lang != "" {
			return lang
		}
	}
	if e.cfg.System.Language != "" {
		return e.cfg.System.Language
	}
	return "en"
}

func (e *Engine) apologyFor(err error, language string) types.IntentResult {
	kind := errKindStageError
	if errors.Is(err, context.DeadlineExceeded) {
		kind = errKindStageTimeout
	}
	slog.Error("pipeline stage failed", "kind", kind, "err", err)
	res := intent.Apology(language, kind, 0)
	res.Metadata["cause"] = err.Error()
	return res
}

func (e *Engine) recordStage(ctx context.Context, rec *trace.Recorder, stage string, input, output any, metadata map[string]any, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordStageDuration(ctx, stage, d.Seconds())
	}
	rec.RecordStage(stage, input, output, metadata, d)
}

// seal finishes metrics and the trace for one request.
func (e *Engine) seal(rec *trace.Recorder, resp *Response, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordRequestDuration(context.Background(), resp.Result.Success, time.Since(start).Seconds())
	}
	if rec != nil {
		r := rec.Finish()
		resp.Trace = &r
	}
}

// prepend replays buffered pre-roll frames ahead of the live remainder. The
// forwarding goroutine exits with the request context, so an abandoned
// stream does not leak it.
func prepend(ctx context.Context, preRoll []types.AudioFrame, live <-chan types.AudioFrame) <-chan types.AudioFrame {
	out := make(chan types.AudioFrame)
	go func() {
		defer close(out)
		for _, f := range preRoll {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case f, ok := <-live:
				if !ok {
					return
				}
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func withMeta(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any, 1)
	}
	m[key] = value
	return m
}
