package agentrun

import (
	"encoding/json"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/schema/validate"
)

// schemaCache compiles each case's expected_output as a JSON Schema
// document at most once, even across repeated attempts.
type schemaCache struct {
	mu    sync.Mutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	schema   *jsonschema.Schema
	isSchema bool
}

func newSchemaCache() *schemaCache {
	return &schemaCache{cache: make(map[string]*cacheEntry)}
}

// get reports whether the case declares a schema and, if so, returns
// the compiled schema (nil schema with isSchema=true means the
// document looked like a schema but failed to compile — callers treat
// that the same as an invoker returning unparseable JSON).
func (s *schemaCache) get(c casefile.Case) (*jsonschema.Schema, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.cache[c.CaseID]; ok {
		return entry.schema, entry.isSchema
	}

	isSchema := looksLikeSchema(c.ExpectedOutput)
	var schema *jsonschema.Schema
	if isSchema {
		schema, _ = validate.CompileSchema([]byte(c.ExpectedOutput))
	}
	s.cache[c.CaseID] = &cacheEntry{schema: schema, isSchema: isSchema}
	return schema, isSchema
}

func looksLikeSchema(expected string) bool {
	if expected == "" {
		return false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(expected), &doc); err != nil {
		return false
	}
	for _, key := range []string{"type", "properties", "$schema"} {
		if _, ok := doc[key]; ok {
			return true
		}
	}
	return false
}
