package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// backupKeep is how many timestamped backups Save retains.
const backupKeep = 10

// Store owns the on-disk config file: reads, validated writes, and
// timestamped backups. Writes go through a temp file and rename so a crash
// never leaves a half-written config. Store is safe for concurrent use.
type Store struct {
	path string

	mu sync.Mutex
}

// NewStore returns a Store for the config file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path.
func (s *Store) Path() string { return s.path }

// Raw returns the config file's bytes as written, without env expansion.
func (s *Store) Raw() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.ReadFile(s.path)
}

// Load parses and validates the current file contents.
func (s *Store) Load() (*Config, error) {
	return Load(s.path)
}

// SaveRaw validates data and writes it to the config file, backing up the
// previous contents first. Invalid data is rejected without touching the file.
func (s *Store) SaveRaw(data []byte) error {
	if _, err := LoadFromReader(bytes.NewReader(ExpandEnv(data))); err != nil {
		return fmt.Errorf("config: refusing to save invalid config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backup(); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: replace config file: %w", err)
	}
	return nil
}

// ApplySection replaces one top-level section of the config file with the
// YAML encoding of value and saves the result. Comments outside the replaced
// section survive; comments inside it are rewritten.
func (s *Store) ApplySection(section string, value any) error {
	raw, err := s.Raw()
	if err != nil {
		return fmt.Errorf("config: read current config: %w", err)
	}

	updated, err := ApplySectionToRaw(raw, section, value)
	if err != nil {
		return err
	}
	return s.SaveRaw(updated)
}

// ApplySectionToRaw returns raw with the named top-level section replaced by
// the YAML encoding of value. The document's node tree is edited in place so
// everything outside the section, including comments, is preserved.
func ApplySectionToRaw(raw []byte, section string, value any) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("config: parse current config: %w", err)
	}
	if len(root.Content) == 0 {
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("config: document root is not a mapping")
	}

	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return nil, fmt.Errorf("config: encode section %q: %w", section, err)
	}

	replaced := false
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == section {
			doc.Content[i+1] = &valueNode
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: section},
			&valueNode,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, fmt.Errorf("config: encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// backup copies the current file into a backups/ directory next to it, named
// with a UTC timestamp, and prunes old backups beyond backupKeep. A missing
// config file is not an error; there is nothing to back up.
func (s *Store) backup() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read for backup: %w", err)
	}

	dir := filepath.Join(filepath.Dir(s.path), "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create backup dir: %w", err)
	}

	base := filepath.Base(s.path)
	name := fmt.Sprintf("%s.%s", base, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("config: write backup: %w", err)
	}

	s.pruneBackups(dir, base)
	return nil
}

// pruneBackups removes the oldest backups of base beyond backupKeep. Prune
// failures are ignored; a stale backup is harmless.
func (s *Store) pruneBackups(dir, base string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base+".") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= backupKeep {
		return
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-backupKeep] {
		os.Remove(filepath.Join(dir, name))
	}
}

// Resolve returns the value at a dotted path in cfg, e.g.
// "tts.providers.coqui.server_url". Map segments index by key; list segments
// are not supported. A path that does not exist resolves to nil, not an
// error: absence is an answer, not a failure.
func Resolve(cfg *Config, path string) any {
	v := reflect.ValueOf(cfg).Elem()
	for _, segment := range strings.Split(path, ".") {
		var ok bool
		v, ok = resolveSegment(v, segment)
		if !ok {
			return nil
		}
	}
	return v.Interface()
}

// resolveSegment descends one path segment into a struct or map value.
func resolveSegment(v reflect.Value, segment string) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if isInline(field) {
				if inner, ok := resolveSegment(v.Field(i), segment); ok {
					return inner, true
				}
				continue
			}
			if yamlKey(field) == segment {
				return v.Field(i), true
			}
		}
		return reflect.Value{}, false
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		elem := v.MapIndex(reflect.ValueOf(segment))
		if !elem.IsValid() {
			return reflect.Value{}, false
		}
		return elem, true
	default:
		return reflect.Value{}, false
	}
}
