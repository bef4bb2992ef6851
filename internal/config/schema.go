package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ParameterSchema describes one configurable parameter, derived from the
// struct tags on the typed config sections. Web frontends and the CLI use it
// to render editors without hard-coding the config layout.
type ParameterSchema struct {
	// Name is the YAML key of the parameter.
	Name string `yaml:"name"`

	// Path is the dotted path from the config root.
	Path string `yaml:"path"`

	// Type is one of: string, bool, int, float, duration, list, map, object.
	Type string `yaml:"type"`

	// Description comes from the desc struct tag.
	Description string `yaml:"description,omitempty"`

	// Default is the declared default value, verbatim from the tag.
	Default string `yaml:"default,omitempty"`

	// Options enumerates the allowed values, when the parameter is closed.
	Options []string `yaml:"options,omitempty"`

	// Min and Max bound numeric parameters. Nil means unbounded.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Parameters describes the fields of object-typed parameters and the
	// element schema of lists of objects.
	Parameters []ParameterSchema `yaml:"parameters,omitempty"`
}

// SectionSchema describes one top-level config section.
type SectionSchema struct {
	// Name is the section's YAML key.
	Name string `yaml:"name"`

	// Component is the components toggle gating this section, or empty for
	// sections that are always active.
	Component string `yaml:"component,omitempty"`

	// Parameters are the section's fields.
	Parameters []ParameterSchema `yaml:"parameters"`
}

// componentSections pairs each ComponentsConfig toggle with its section.
// Derived once by name convention: the toggle field TTS pairs with the Config
// field of type TTSConfig.
var componentSections = map[string]string{
	"tts":            "tts",
	"audio":          "audio",
	"asr":            "asr",
	"llm":            "llm",
	"voice_trigger":  "voice_trigger",
	"nlu":            "nlu",
	"text_processor": "text_processor",
	"intent_system":  "intent_system",
	"monitoring":     "monitoring",
	"nlu_analysis":   "nlu_analysis",
	"configuration":  "configuration",
}

// providerKinds maps each provider-backed component kind to its providers
// struct. New providers become visible to the schema API by appearing here.
var providerKinds = map[string]reflect.Type{
	"tts":            reflect.TypeOf(TTSProviders{}),
	"audio":          reflect.TypeOf(AudioProviders{}),
	"asr":            reflect.TypeOf(ASRProviders{}),
	"llm":            reflect.TypeOf(LLMProviders{}),
	"voice_trigger":  reflect.TypeOf(VoiceTriggerProviders{}),
	"nlu":            reflect.TypeOf(NLUProviders{}),
	"text_processor": reflect.TypeOf(TextProcessorProviders{}),
}

// Schemas returns the schema of every top-level config section, in YAML key
// order.
func Schemas() []SectionSchema {
	root := reflect.TypeOf(Config{})
	sections := make([]SectionSchema, 0, root.NumField())

	// Invert componentSections so sections know their gating toggle.
	gates := make(map[string]string, len(componentSections))
	for toggle, section := range componentSections {
		gates[section] = toggle
	}

	for i := 0; i < root.NumField(); i++ {
		field := root.Field(i)
		name := yamlKey(field)
		if name == "" {
			continue
		}
		sections = append(sections, SectionSchema{
			Name:       name,
			Component:  gates[name],
			Parameters: structSchema(field.Type, name),
		})
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })
	return sections
}

// SectionSchemaFor returns the schema of the named section.
func SectionSchemaFor(name string) (SectionSchema, error) {
	for _, s := range Schemas() {
		if s.Name == name {
			return s, nil
		}
	}
	return SectionSchema{}, fmt.Errorf("config: unknown section %q", name)
}

// ProviderKinds lists the provider-backed component kinds, sorted.
func ProviderKinds() []string {
	kinds := make([]string, 0, len(providerKinds))
	for kind := range providerKinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// ProviderNames lists the known provider names of kind, sorted. Unknown kinds
// yield an error.
func ProviderNames(kind string) ([]string, error) {
	t, ok := providerKinds[kind]
	if !ok {
		return nil, fmt.Errorf("config: unknown provider kind %q", kind)
	}
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if name := yamlKey(t.Field(i)); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ProviderParameterSchema returns the parameter schema of one provider. The
// "enabled" toggle is part of the enablement model, not a parameter, and is
// excluded.
func ProviderParameterSchema(kind, provider string) ([]ParameterSchema, error) {
	t, ok := providerKinds[kind]
	if !ok {
		return nil, fmt.Errorf("config: unknown provider kind %q", kind)
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if yamlKey(field) != provider {
			continue
		}
		prefix := fmt.Sprintf("%s.providers.%s", kind, provider)
		params := structSchema(field.Type, prefix)
		filtered := params[:0]
		for _, p := range params {
			if p.Name != "enabled" {
				filtered = append(filtered, p)
			}
		}
		return filtered, nil
	}
	return nil, fmt.Errorf("config: unknown provider %s/%q", kind, provider)
}

// ValidateCoverage checks that every component toggle pairs with a known
// section and every provider kind resolves. It guards the name convention at
// startup so a toggle without a section fails fast instead of silently doing
// nothing.
func ValidateCoverage() error {
	var errs []error

	sections := make(map[string]bool)
	for _, s := range Schemas() {
		sections[s.Name] = true
	}

	toggles := reflect.TypeOf(ComponentsConfig{})
	for i := 0; i < toggles.NumField(); i++ {
		toggle := yamlKey(toggles.Field(i))
		section, ok := componentSections[toggle]
		if !ok {
			errs = append(errs, fmt.Errorf("component toggle %q has no section mapping", toggle))
			continue
		}
		if !sections[section] {
			errs = append(errs, fmt.Errorf("component toggle %q maps to unknown section %q", toggle, section))
		}
	}

	for kind := range providerKinds {
		if !sections[kind] {
			errs = append(errs, fmt.Errorf("provider kind %q has no config section", kind))
		}
	}

	return errors.Join(errs...)
}

// DocumentCoverage is the result of comparing one YAML document against the
// schema catalogue.
type DocumentCoverage struct {
	// Missing are dotted schema paths the document does not contain.
	Missing []string

	// Orphaned are dotted document paths no schema covers, typically keys
	// left behind after a parameter was renamed or removed.
	Orphaned []string

	// Percent is the share of schema paths the document covers, 0 to 100.
	Percent float64
}

// CoverageOfDocument parses a YAML document and compares it against the
// schema in both directions. Used to keep the annotated master config
// complete and free of stale keys as sections grow.
func CoverageOfDocument(doc []byte) (DocumentCoverage, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return DocumentCoverage{}, fmt.Errorf("config: parse document: %w", err)
	}
	if len(root.Content) == 0 {
		return DocumentCoverage{}, errors.New("config: empty document")
	}
	docRoot := root.Content[0]

	var cov DocumentCoverage
	total := 0
	sections := make(map[string]SectionSchema)
	for _, section := range Schemas() {
		sections[section.Name] = section
		total++
		node := findMapValue(docRoot, section.Name)
		if node == nil {
			cov.Missing = append(cov.Missing, section.Name)
			continue
		}
		missing, checked := missingParams(node, section.Parameters)
		cov.Missing = append(cov.Missing, missing...)
		total += checked
	}

	if docRoot.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(docRoot.Content); i += 2 {
			key := docRoot.Content[i].Value
			section, ok := sections[key]
			if !ok {
				cov.Orphaned = append(cov.Orphaned, key)
				continue
			}
			cov.Orphaned = append(cov.Orphaned, orphanedParams(docRoot.Content[i+1], section.Parameters, key)...)
		}
	}

	sort.Strings(cov.Missing)
	sort.Strings(cov.Orphaned)
	if total > 0 {
		cov.Percent = float64(total-len(cov.Missing)) / float64(total) * 100
	}
	return cov, nil
}

// MissingFromDocument returns the dotted paths the schema declares that the
// document does not contain.
func MissingFromDocument(doc []byte) ([]string, error) {
	cov, err := CoverageOfDocument(doc)
	if err != nil {
		return nil, err
	}
	return cov.Missing, nil
}

// missingParams walks params against a YAML mapping node, collecting absent
// dotted paths and the number of paths checked. List elements are not
// descended into; a present list key counts as covered.
func missingParams(node *yaml.Node, params []ParameterSchema) (missing []string, total int) {
	for _, p := range params {
		total++
		child := findMapValue(node, p.Name)
		if child == nil {
			missing = append(missing, p.Path)
			continue
		}
		if p.Type == "object" {
			m, t := missingParams(child, p.Parameters)
			missing = append(missing, m...)
			total += t
		}
	}
	return missing, total
}

// orphanedParams walks a YAML mapping node against params, collecting dotted
// paths of document keys the schema does not know. Map- and list-typed
// parameters own their content, so their insides are not inspected.
func orphanedParams(node *yaml.Node, params []ParameterSchema, prefix string) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	known := make(map[string]ParameterSchema, len(params))
	for _, p := range params {
		known[p.Name] = p
	}
	var orphans []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		p, ok := known[key]
		if !ok {
			orphans = append(orphans, prefix+"."+key)
			continue
		}
		if p.Type == "object" {
			orphans = append(orphans, orphanedParams(node.Content[i+1], p.Parameters, p.Path)...)
		}
	}
	return orphans
}

// findMapValue returns the value node for key in a YAML mapping node.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// ── Reflection helpers ─────────────────────────────────────────────────────

var durationType = reflect.TypeOf(time.Duration(0))

// structSchema derives the parameter schemas of a struct type. Inlined
// embedded structs contribute their fields at the same level.
func structSchema(t reflect.Type, prefix string) []ParameterSchema {
	var params []ParameterSchema
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if isInline(field) {
			params = append(params, structSchema(field.Type, prefix)...)
			continue
		}
		name := yamlKey(field)
		if name == "" {
			continue
		}
		params = append(params, fieldSchema(field, prefix+"."+name, name))
	}
	return params
}

// fieldSchema derives the schema of one struct field.
func fieldSchema(field reflect.StructField, path, name string) ParameterSchema {
	p := ParameterSchema{
		Name:        name,
		Path:        path,
		Type:        typeName(field.Type),
		Description: field.Tag.Get("desc"),
		Default:     field.Tag.Get("default"),
	}
	if opts := field.Tag.Get("options"); opts != "" {
		p.Options = strings.Split(opts, ",")
	}
	p.Min = tagFloat(field, "min")
	p.Max = tagFloat(field, "max")

	switch {
	case p.Type == "object":
		p.Parameters = structSchema(field.Type, path)
	case p.Type == "list" && field.Type.Elem().Kind() == reflect.Struct:
		p.Parameters = structSchema(field.Type.Elem(), path+"[]")
	}
	return p
}

// typeName maps a Go type to its schema type name.
func typeName(t reflect.Type) string {
	if t == durationType {
		return "duration"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map:
		return "map"
	case reflect.Struct:
		return "object"
	default:
		return t.Kind().String()
	}
}

// yamlKey extracts the YAML key of a struct field, or "" when the field is
// skipped or inlined.
func yamlKey(field reflect.StructField) string {
	tag := field.Tag.Get("yaml")
	if tag == "" {
		return strings.ToLower(field.Name)
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" || name == "" {
		return ""
	}
	return name
}

// isInline reports whether a field carries yaml:",inline".
func isInline(field reflect.StructField) bool {
	tag := field.Tag.Get("yaml")
	_, opts, _ := strings.Cut(tag, ",")
	for _, opt := range strings.Split(opts, ",") {
		if opt == "inline" {
			return true
		}
	}
	return false
}

// tagFloat parses a numeric struct tag into a *float64.
func tagFloat(field reflect.StructField, key string) *float64 {
	raw, ok := field.Tag.Lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
