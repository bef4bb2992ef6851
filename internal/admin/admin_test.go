package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/aria/internal/action"
	"github.com/MrWong99/aria/internal/admin"
	"github.com/MrWong99/aria/internal/component"
	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/pkg/types"
)

const seedConfig = `# aria admin test config
system:
  log_level: info
  language: en
conversation:
  history_limit: 10
  archive:
    enabled: false
    postgres_dsn: ${ARIA_ARCHIVE_DSN}
workflow:
  confidence_threshold: 0.4
`

func newServer(t *testing.T) (*admin.Server, *http.ServeMux, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(seedConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := &admin.Server{Store: config.NewStore(path)}
	mux := http.NewServeMux()
	srv.Register(mux)
	return srv, mux, path
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	return rec
}

func TestGetConfig_ReturnsRawFile(t *testing.T) {
	t.Parallel()
	_, mux, _ := newServer(t)

	rec := do(t, mux, "GET", "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "${ARIA_ARCHIVE_DSN}") {
		t.Error("env placeholders must survive a read")
	}
	if !strings.Contains(body, "# aria admin test config") {
		t.Error("comments must survive a read")
	}
}

func TestPutConfig_RejectsInvalidWithoutTouchingFile(t *testing.T) {
	t.Parallel()
	_, mux, path := newServer(t)

	rec := do(t, mux, "PUT", "/api/config", "system:\n  log_level: loud\n")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(body["error"], "log_level") {
		t.Errorf("error = %q, want the failing field named", body["error"])
	}

	after, _ := os.ReadFile(path)
	if string(after) != seedConfig {
		t.Error("a rejected write must leave the file untouched")
	}
}

func TestPutConfig_ReplacesFile(t *testing.T) {
	t.Parallel()
	_, mux, path := newServer(t)

	rec := do(t, mux, "PUT", "/api/config", "system:\n  log_level: debug\n")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	after, _ := os.ReadFile(path)
	if !strings.Contains(string(after), "log_level: debug") {
		t.Errorf("file = %q, want the new content", after)
	}
}

func TestPutSection_EditsOneSectionOnly(t *testing.T) {
	t.Parallel()
	_, mux, path := newServer(t)

	rec := do(t, mux, "PUT", "/api/config/sections/workflow", "confidence_threshold: 0.7\nfallback_intent: conversation.chat\n")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	after, _ := os.ReadFile(path)
	if !strings.Contains(string(after), "confidence_threshold: 0.7") {
		t.Errorf("file = %q, want the edited section", after)
	}
	if !strings.Contains(string(after), "# aria admin test config") {
		t.Error("comments outside the section must survive")
	}
	if !strings.Contains(string(after), "history_limit: 10") {
		t.Error("other sections must survive")
	}
}

func TestPutSection_UnknownSectionIs404(t *testing.T) {
	t.Parallel()
	_, mux, _ := newServer(t)

	rec := do(t, mux, "PUT", "/api/config/sections/nonsense", "a: 1\n")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPutSection_InvalidResultIsRejected(t *testing.T) {
	t.Parallel()
	_, mux, path := newServer(t)

	// A threshold outside [0, 1] fails whole-document validation.
	rec := do(t, mux, "PUT", "/api/config/sections/workflow", "confidence_threshold: 3.0\n")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	after, _ := os.ReadFile(path)
	if string(after) != seedConfig {
		t.Error("a rejected section edit must leave the file untouched")
	}
}

func TestGetSchema_ListsSections(t *testing.T) {
	t.Parallel()
	_, mux, _ := newServer(t)

	rec := do(t, mux, "GET", "/api/config/schema", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, section := range []string{"name: tts", "name: workflow", "name: conversation"} {
		if !strings.Contains(body, section) {
			t.Errorf("schema body missing %q", section)
		}
	}
}

func TestGetProviderSchema(t *testing.T) {
	t.Parallel()
	_, mux, _ := newServer(t)

	rec := do(t, mux, "GET", "/api/config/schema/tts/coqui", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "server_url") {
		t.Errorf("schema = %q, want coqui parameters", rec.Body.String())
	}

	rec = do(t, mux, "GET", "/api/config/schema/tts/bogus", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown provider", rec.Code)
	}
}

func TestDiagnostics_ReportsRuntimeState(t *testing.T) {
	t.Parallel()
	srv, mux, _ := newServer(t)

	sessions := conversation.NewStore(config.ConversationConfig{HistoryLimit: 5, SessionExpiry: time.Minute}, nil)
	t.Cleanup(func() { sessions.Close(context.Background()) })
	session, _ := sessions.GetOrCreate("diag-1", nil)
	session.AppendHistory(types.ExchangeEntry{Role: "user", Text: "hello"})

	actions := action.NewCoordinator(nil, nil)
	t.Cleanup(func() { actions.Shutdown(context.Background()) })
	started := make(chan struct{})
	if _, err := actions.Start(session, "timer", "kitchen", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	analysis := component.NewNLUAnalysis()
	if err := analysis.Initialize(context.Background(), &component.Core{Cfg: &config.Config{}}); err != nil {
		t.Fatal(err)
	}
	analysis.RecordParse(types.Intent{Name: "timer.set", Confidence: 0.2, RawText: "mumble"})

	srv.Sessions = sessions
	srv.Actions = actions
	srv.Analysis = analysis

	rec := do(t, mux, "GET", "/api/diagnostics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var diag map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &diag); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}

	sess := diag["sessions"].(map[string]any)
	if sess["count"].(float64) != 1 {
		t.Errorf("sessions.count = %v, want 1", sess["count"])
	}
	acts := diag["actions"].([]any)
	if len(acts) != 1 {
		t.Fatalf("actions = %d entries, want 1", len(acts))
	}
	if acts[0].(map[string]any)["domain"] != "timer" {
		t.Errorf("actions[0] = %v, want the timer action", acts[0])
	}
	nlu := diag["nlu"].(map[string]any)
	if nlu["parses"].(float64) != 1 || nlu["low_confidence"].(float64) != 1 {
		t.Errorf("nlu = %v, want one low-confidence parse", nlu)
	}
	samples := nlu["samples"].([]any)
	if len(samples) != 1 || samples[0].(map[string]any)["text"] != "mumble" {
		t.Errorf("samples = %v, want the flagged utterance", samples)
	}
}
