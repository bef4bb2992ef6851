package config_test

import (
	"testing"

	"github.com/MrWong99/aria/internal/config"
)

func TestValidateCoverage(t *testing.T) {
	t.Parallel()
	if err := config.ValidateCoverage(); err != nil {
		t.Errorf("ValidateCoverage: %v", err)
	}
}

func TestSchemas_ContainsAllSections(t *testing.T) {
	t.Parallel()
	want := []string{
		"system", "components", "voice_trigger", "asr", "text_processor",
		"nlu", "intent_system", "llm", "tts", "audio", "monitoring",
		"nlu_analysis", "configuration", "conversation", "workflow", "tracing",
	}

	got := make(map[string]bool)
	for _, s := range config.Schemas() {
		got[s.Name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("section %q missing from Schemas()", name)
		}
	}
}

func TestSectionSchemaFor(t *testing.T) {
	t.Parallel()
	s, err := config.SectionSchemaFor("workflow")
	if err != nil {
		t.Fatalf("SectionSchemaFor: %v", err)
	}
	if s.Component != "" {
		t.Errorf("workflow should not be gated by a component toggle, got %q", s.Component)
	}

	var threshold *config.ParameterSchema
	for i := range s.Parameters {
		if s.Parameters[i].Name == "confidence_threshold" {
			threshold = &s.Parameters[i]
		}
	}
	if threshold == nil {
		t.Fatal("confidence_threshold parameter not found")
	}
	if threshold.Type != "float" {
		t.Errorf("type = %q, want float", threshold.Type)
	}
	if threshold.Default != "0.4" {
		t.Errorf("default = %q, want 0.4", threshold.Default)
	}
	if threshold.Min == nil || *threshold.Min != 0 {
		t.Errorf("min = %v, want 0", threshold.Min)
	}
	if threshold.Max == nil || *threshold.Max != 1 {
		t.Errorf("max = %v, want 1", threshold.Max)
	}

	if _, err := config.SectionSchemaFor("no_such_section"); err == nil {
		t.Error("expected error for unknown section")
	}
}

func TestSectionSchemaFor_GatedComponent(t *testing.T) {
	t.Parallel()
	s, err := config.SectionSchemaFor("tts")
	if err != nil {
		t.Fatalf("SectionSchemaFor: %v", err)
	}
	if s.Component != "tts" {
		t.Errorf("tts section should be gated by the tts toggle, got %q", s.Component)
	}
}

func TestProviderNames(t *testing.T) {
	t.Parallel()
	names, err := config.ProviderNames("asr")
	if err != nil {
		t.Fatalf("ProviderNames: %v", err)
	}
	want := []string{"voskws", "whispercpp"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if _, err := config.ProviderNames("bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestProviderKinds(t *testing.T) {
	t.Parallel()
	kinds := config.ProviderKinds()
	want := map[string]bool{
		"tts": true, "audio": true, "asr": true, "llm": true,
		"voice_trigger": true, "nlu": true, "text_processor": true,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %d entries", kinds, len(want))
	}
	for _, k := range kinds {
		if !want[k] {
			t.Errorf("unexpected kind %q", k)
		}
	}
}

func TestProviderParameterSchema(t *testing.T) {
	t.Parallel()
	params, err := config.ProviderParameterSchema("tts", "coqui")
	if err != nil {
		t.Fatalf("ProviderParameterSchema: %v", err)
	}

	byName := make(map[string]config.ParameterSchema)
	for _, p := range params {
		byName[p.Name] = p
	}

	if _, ok := byName["enabled"]; ok {
		t.Error("enabled must not appear in the parameter schema")
	}

	mode, ok := byName["api_mode"]
	if !ok {
		t.Fatal("api_mode parameter not found")
	}
	if len(mode.Options) != 2 || mode.Options[0] != "standard" || mode.Options[1] != "xtts" {
		t.Errorf("api_mode options = %v, want [standard xtts]", mode.Options)
	}
	if mode.Path != "tts.providers.coqui.api_mode" {
		t.Errorf("api_mode path = %q", mode.Path)
	}

	if _, err := config.ProviderParameterSchema("tts", "bogus"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestProviderParameterSchema_NestedObjects(t *testing.T) {
	t.Parallel()
	params, err := config.ProviderParameterSchema("nlu", "keyword")
	if err != nil {
		t.Fatalf("ProviderParameterSchema: %v", err)
	}

	var patterns *config.ParameterSchema
	for i := range params {
		if params[i].Name == "patterns" {
			patterns = &params[i]
		}
	}
	if patterns == nil {
		t.Fatal("patterns parameter not found")
	}
	if patterns.Type != "list" {
		t.Errorf("patterns type = %q, want list", patterns.Type)
	}
	if len(patterns.Parameters) == 0 {
		t.Fatal("patterns should describe its element fields")
	}

	var hasName bool
	for _, p := range patterns.Parameters {
		if p.Name == "name" {
			hasName = true
		}
	}
	if !hasName {
		t.Error("pattern element schema should include name")
	}
}

func TestMissingFromDocument(t *testing.T) {
	t.Parallel()
	doc := []byte(`
system:
  log_level: info
`)
	missing, err := config.MissingFromDocument(doc)
	if err != nil {
		t.Fatalf("MissingFromDocument: %v", err)
	}
	if len(missing) == 0 {
		t.Fatal("a near-empty document should report missing paths")
	}

	found := map[string]bool{}
	for _, path := range missing {
		found[path] = true
	}
	if !found["system.language"] {
		t.Errorf("system.language should be reported missing, got %v", missing[:min(10, len(missing))])
	}
	if !found["workflow"] {
		t.Error("the absent workflow section should be reported missing")
	}
	if found["system.log_level"] {
		t.Error("present system.log_level must not be reported")
	}
}

func TestCoverageOfDocument_ReportsOrphans(t *testing.T) {
	t.Parallel()
	doc := []byte(`
system:
  log_level: info
  loudness: 11
leftovers:
  anything: true
`)
	cov, err := config.CoverageOfDocument(doc)
	if err != nil {
		t.Fatalf("CoverageOfDocument: %v", err)
	}

	orphaned := map[string]bool{}
	for _, path := range cov.Orphaned {
		orphaned[path] = true
	}
	if !orphaned["system.loudness"] {
		t.Errorf("stale system.loudness key should be orphaned, got %v", cov.Orphaned)
	}
	if !orphaned["leftovers"] {
		t.Errorf("unknown leftovers section should be orphaned, got %v", cov.Orphaned)
	}
	if orphaned["system.log_level"] {
		t.Error("schema-known system.log_level must not be orphaned")
	}

	if cov.Percent <= 0 || cov.Percent >= 100 {
		t.Errorf("Percent = %v, want between 0 and 100 for a partial document", cov.Percent)
	}
}
