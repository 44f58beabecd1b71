package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
	"github.com/xeipuuv/gojsonschema"
)

// Guardrails enforces the tool allowlist, argument schemas and output hygiene.
type Guardrails struct {
	allowlist     map[string]bool
	outputFilters []*regexp.Regexp
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails that allow only the given tools.
func NewGuardrails(allowed ...string) *Guardrails {
	g := &Guardrails{
		allowlist: make(map[string]bool),
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret[:=]\s*\S+`),
			regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`),
		},
		jsonValidator: NewJSONValidator(),
	}
	for _, name := range allowed {
		g.AddAllowedTool(name)
	}
	return g
}

// AddAllowedTool adds a tool to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

// ValidateToolCall checks that call names an allowed tool and that its
// arguments satisfy schema.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall, schema []byte) error {
	if call.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !g.allowlist[call.Name] {
		return fmt.Errorf("tool %s is not in allowlist", call.Name)
	}
	if !json.Valid(call.Args) {
		return fmt.Errorf("tool arguments are not valid JSON")
	}
	if err := g.jsonValidator.Validate(call.Args, schema); err != nil {
		return fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return nil
}

// SanitizeOutput masks credentials that leaked into model output.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// JSONValidator handles JSON schema validation. Compiled schemas are cached
// by their source text.
type JSONValidator struct {
	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Validate checks if JSON data conforms to a schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil // no schema to validate against
	}
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return err
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (v *JSONValidator) compile(schema []byte) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[string(schema)]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	v.schemas[string(schema)] = s
	return s, nil
}

// PolicyValidator enforces output limits.
type PolicyValidator struct {
	maxOutputSize int
}

// NewPolicyValidator creates a policy validator. maxOutputSize <= 0 uses 10KB.
func NewPolicyValidator(maxOutputSize int) *PolicyValidator {
	if maxOutputSize <= 0 {
		maxOutputSize = 10000
	}
	return &PolicyValidator{maxOutputSize: maxOutputSize}
}

// ValidateOutputSize checks if output size is within limits.
func (v *PolicyValidator) ValidateOutputSize(output string) error {
	if len(output) > v.maxOutputSize {
		return fmt.Errorf("output size %d exceeds maximum %d", len(output), v.maxOutputSize)
	}
	return nil
}
