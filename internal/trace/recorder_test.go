package trace_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/trace"
	"github.com/MrWong99/aria/pkg/types"
)

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:        true,
		MaxStages:      100,
		MaxTotalBytes:  10 << 20,
		MaxStringLen:   2000,
		MaxBinaryBytes: 1 << 20,
	}
}

func TestRecorder_DisabledIsNilSafe(t *testing.T) {
	t.Parallel()
	var r *trace.Recorder
	// Every call on the disabled path must be a no-op.
	r.RecordStage("asr", "in", "out", nil, time.Millisecond)
	r.RecordSkipped("trigger")
	r.RecordContextBefore(types.ConversationSnapshot{})
	r.RecordContextAfter(types.ConversationSnapshot{})
	if got := r.Finish(); len(got.Stages) != 0 {
		t.Errorf("Finish on nil recorder = %+v, want zero record", got)
	}

	if trace.New("req", config.TracingConfig{Enabled: false}, true) != nil {
		t.Error("New should return nil when tracing is disabled")
	}
	if trace.New("req", enabledConfig(), false) != nil {
		t.Error("New should return nil when the request did not opt in")
	}
}

func TestRecorder_RecordsStagesInOrder(t *testing.T) {
	t.Parallel()
	r := trace.New("req-1", enabledConfig(), true)

	r.RecordSkipped("trigger")
	r.RecordStage("asr", "audio", "what time is it", map[string]any{"provider_used": "whispercpp"}, 120*time.Millisecond)
	r.RecordStage("nlu", "what time is it", "clock.time", nil, 3*time.Millisecond)

	rec := r.Finish()
	if rec.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", rec.RequestID)
	}
	if len(rec.Stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(rec.Stages))
	}
	if !rec.Stages[0].Skipped || rec.Stages[0].Stage != "trigger" {
		t.Errorf("stage 0 = %+v, want skipped trigger", rec.Stages[0])
	}
	if rec.Stages[1].Metadata["provider_used"] != "whispercpp" {
		t.Errorf("metadata = %v, want provider_used", rec.Stages[1].Metadata)
	}
	if rec.Overflow {
		t.Error("no overflow expected")
	}
}

func TestRecorder_DropsSensitiveKeys(t *testing.T) {
	t.Parallel()
	r := trace.New("req", enabledConfig(), true)

	r.RecordStage("llm", map[string]any{
		"prompt":  "hello",
		"api_key": "sk-secret",
		"Token":   "abc",
		"nested":  map[string]any{"password": "hunter2", "model": "gpt"},
	}, nil, nil, 0)

	in := r.Finish().Stages[0].Input.(map[string]any)
	if _, ok := in["api_key"]; ok {
		t.Error("api_key should be dropped")
	}
	if _, ok := in["Token"]; ok {
		t.Error("sensitive keys are matched case-insensitively")
	}
	nested := in["nested"].(map[string]any)
	if _, ok := nested["password"]; ok {
		t.Error("nested password should be dropped")
	}
	if nested["model"] != "gpt" {
		t.Errorf("nested = %v, benign keys should survive", nested)
	}
}

func TestRecorder_TruncatesLongStrings(t *testing.T) {
	t.Parallel()
	cfg := enabledConfig()
	cfg.MaxStringLen = 10
	r := trace.New("req", cfg, true)

	r.RecordStage("asr", strings.Repeat("x", 25), "short", nil, 0)

	in := r.Finish().Stages[0].Input.(map[string]any)
	if in["truncated"] != true {
		t.Fatalf("input = %v, want a truncation record", in)
	}
	if in["original_length"] != 25 {
		t.Errorf("original_length = %v, want 25", in["original_length"])
	}
	if in["prefix"] != strings.Repeat("x", 10) {
		t.Errorf("prefix = %v, want the first 10 characters", in["prefix"])
	}
}

func TestRecorder_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()
	cfg := enabledConfig()
	cfg.MaxStringLen = 10
	r := trace.New("req", cfg, true)

	// Three-byte runes; a byte-offset cut at 10 would land mid-rune.
	r.RecordStage("asr", strings.Repeat("世", 8), nil, nil, 0)

	in := r.Finish().Stages[0].Input.(map[string]any)
	if in["truncated"] != true {
		t.Fatalf("input = %v, want a truncation record", in)
	}
	prefix := in["prefix"].(string)
	if !utf8.ValidString(prefix) {
		t.Errorf("prefix %q is not valid UTF-8", prefix)
	}
	if prefix != strings.Repeat("世", 3) {
		t.Errorf("prefix = %q, want the first three runes", prefix)
	}
}

func TestRecorder_BinaryPayloads(t *testing.T) {
	t.Parallel()
	cfg := enabledConfig()
	cfg.MaxBinaryBytes = 64
	r := trace.New("req", cfg, true)

	small := []byte("tiny pcm")
	big := make([]byte, 5000)
	r.RecordStage("audio", small, big, nil, 0)

	stage := r.Finish().Stages[0]
	in := stage.Input.(map[string]any)
	if in["base64"] != base64.StdEncoding.EncodeToString(small) {
		t.Errorf("small payload should be inlined, got %v", in)
	}

	out := stage.Output.(map[string]any)
	if out["too_large"] != true {
		t.Fatalf("output = %v, want a too_large record", out)
	}
	if out["bytes"] != 5000 {
		t.Errorf("bytes = %v, want 5000", out["bytes"])
	}
	sample, _ := base64.StdEncoding.DecodeString(out["sample"].(string))
	if len(sample) != 1024 {
		t.Errorf("sample length = %d, want 1024", len(sample))
	}
}

func TestRecorder_AudioPathInlining(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "reply.wav")
	if err := os.WriteFile(path, []byte("RIFFdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := trace.New("req", enabledConfig(), true)
	r.RecordStage("tts", nil, trace.AudioPath(path), nil, 0)

	out := r.Finish().Stages[0].Output.(map[string]any)
	if out["audio_path"] != path {
		t.Errorf("output = %v, want the audio path", out)
	}
	if out["base64"] != base64.StdEncoding.EncodeToString([]byte("RIFFdata")) {
		t.Errorf("output = %v, small audio files should be inlined", out)
	}

	// Oversized files keep metadata only.
	cfg := enabledConfig()
	cfg.MaxBinaryBytes = 4
	r2 := trace.New("req", cfg, true)
	r2.RecordStage("tts", nil, trace.AudioPath(path), nil, 0)
	out2 := r2.Finish().Stages[0].Output.(map[string]any)
	if _, ok := out2["base64"]; ok {
		t.Errorf("output = %v, oversized audio should not be inlined", out2)
	}
	if out2["too_large"] != true {
		t.Errorf("output = %v, want too_large", out2)
	}
}

func TestRecorder_StageCapOverflow(t *testing.T) {
	t.Parallel()
	cfg := enabledConfig()
	cfg.MaxStages = 3
	r := trace.New("req", cfg, true)

	for i := 0; i < 10; i++ {
		r.RecordStage("stage", "in", "out", nil, 0)
	}

	rec := r.Finish()
	if len(rec.Stages) != 3 {
		t.Errorf("stages = %d, want 3 (capped)", len(rec.Stages))
	}
	if !rec.Overflow {
		t.Error("overflow should be flagged in the summary")
	}
}

func TestRecorder_ByteCapOverflow(t *testing.T) {
	t.Parallel()
	cfg := enabledConfig()
	cfg.MaxTotalBytes = 600
	r := trace.New("req", cfg, true)

	for i := 0; i < 10; i++ {
		r.RecordStage("stage", strings.Repeat("a", 200), nil, nil, 0)
	}

	rec := r.Finish()
	if len(rec.Stages) >= 10 {
		t.Errorf("stages = %d, byte cap should have dropped records", len(rec.Stages))
	}
	if !rec.Overflow {
		t.Error("overflow should be flagged")
	}
}

func TestRecorder_ContextSnapshots(t *testing.T) {
	t.Parallel()
	r := trace.New("req", enabledConfig(), true)

	snap := types.ConversationSnapshot{
		SessionID:     "s1",
		Language:      "en",
		HistoryLen:    7,
		ActiveDomains: []string{"timer"},
		RecentHistory: []types.ExchangeEntry{
			{Role: "user", Text: "one"},
			{Role: "assistant", Text: "two"},
			{Role: "user", Text: "three"},
			{Role: "assistant", Text: "four"},
		},
	}
	r.RecordContextBefore(snap)
	r.RecordContextAfter(snap)

	rec := r.Finish()
	if rec.Before["session_id"] != "s1" || rec.Before["history_len"] != 7 {
		t.Errorf("before = %v, want session counts", rec.Before)
	}
	tail := rec.Before["history_tail"].([]map[string]any)
	if len(tail) != 3 {
		t.Fatalf("history tail = %d entries, want 3", len(tail))
	}
	if tail[0]["text"] != "two" || tail[2]["text"] != "four" {
		t.Errorf("tail = %v, want the last three entries", tail)
	}
	if rec.After == nil {
		t.Error("after snapshot missing")
	}
}
