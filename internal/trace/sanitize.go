package trace

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// sensitiveKeys is the case-insensitive drop list applied to every map that
// enters a trace.
var sensitiveKeys = map[string]struct{}{
	"password": {}, "token": {}, "api_key": {}, "secret": {}, "auth": {},
	"credential": {}, "authorisation": {}, "authorization": {}, "bearer": {},
	"private": {}, "cookie": {}, "jwt": {}, "access_token": {}, "refresh_token": {},
	"certificate": {},
}

// audioExtensions marks file paths whose bytes may be inlined into a trace.
var audioExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".ogg": {}, ".opus": {}, ".flac": {}, ".pcm": {},
}

const binarySampleBytes = 1024

func isSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// sanitize converts an arbitrary stage payload into a form that is safe to
// keep: sensitive keys dropped, long strings truncated, binary bounded. A
// panic inside sanitisation is caught by the recorder and becomes a
// sanitization_error record.
func (r *Recorder) sanitize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return r.sanitizeString(val)
	case []byte:
		return r.sanitizeBinary(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if isSensitiveKey(k) {
				continue
			}
			out[k] = r.sanitize(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if isSensitiveKey(k) {
				continue
			}
			out[k] = r.sanitizeString(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.sanitize(item)
		}
		return out
	case bool, int, int32, int64, float32, float64:
		return val
	case fmt.Stringer:
		return r.sanitizeString(val.String())
	default:
		return r.sanitizeString(fmt.Sprintf("%v", val))
	}
}

func (r *Recorder) sanitizeString(s string) any {
	if len(s) <= r.maxStringLen {
		return s
	}
	// Back up to a rune start so the prefix stays valid UTF-8.
	cut := r.maxStringLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return map[string]any{
		"truncated":       true,
		"original_length": len(s),
		"prefix":          s[:cut],
	}
}

func (r *Recorder) sanitizeBinary(b []byte) any {
	if len(b) <= r.maxBinaryBytes {
		return map[string]any{
			"binary": true,
			"bytes":  len(b),
			"base64": base64.StdEncoding.EncodeToString(b),
		}
	}
	sample := b
	if len(sample) > binarySampleBytes {
		sample = sample[:binarySampleBytes]
	}
	return map[string]any{
		"binary":    true,
		"too_large": true,
		"bytes":     len(b),
		"sample":    base64.StdEncoding.EncodeToString(sample),
	}
}

// sanitizeAudioPath inlines a small audio file referenced by path; larger or
// unreadable files keep metadata only.
func (r *Recorder) sanitizeAudioPath(path string) any {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := audioExtensions[ext]; !ok {
		return r.sanitizeString(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return map[string]any{"audio_path": path, "stat_error": err.Error()}
	}
	if info.Size() > int64(r.maxBinaryBytes) {
		return map[string]any{"audio_path": path, "bytes": info.Size(), "too_large": true}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{"audio_path": path, "read_error": err.Error()}
	}
	return map[string]any{
		"audio_path": path,
		"bytes":      len(data),
		"base64":     base64.StdEncoding.EncodeToString(data),
	}
}
