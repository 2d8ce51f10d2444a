package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/hpcomplexio/mission-control/internal/model"
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`)

// Result is the outcome of a validation. Errors is empty when Valid.
type Result struct {
	Errors []string `json:"errors"`
	Valid  bool     `json:"valid"`
}

// Validate checks a decoded envelope. Keys the contract does not name are
// ignored at every level.
func (c *Contract) Validate(doc map[string]any) Result {
	var errs []string

	for _, key := range c.required {
		if _, ok := doc[key]; !ok {
			errs = append(errs, "missing "+key)
		}
	}

	if !nonEmptyString(doc["id"]) {
		errs = append(errs, "id must be a non-empty string")
	}
	if !c.versionMatches(doc["schemaVersion"]) {
		errs = append(errs, fmt.Sprintf("schemaVersion must be %s", c.version.Original()))
	}
	if v, ok := integral(doc["eventVersion"]); !ok || v < 1 {
		errs = append(errs, "eventVersion must be integer >= 1")
	}
	if !member(c.sources, doc["source"]) {
		errs = append(errs, "source is invalid")
	}
	if !member(c.types, doc["type"]) {
		errs = append(errs, "type is invalid")
	}
	if !member(c.severities, doc["severity"]) {
		errs = append(errs, "severity is invalid")
	}
	if !validTimestamp(doc["timestamp"]) {
		errs = append(errs, "timestamp must be ISO-8601 UTC")
	}
	if !nonEmptyString(doc["correlationId"]) {
		errs = append(errs, "correlationId must be a non-empty string")
	}
	if agentID, ok := doc["agentId"]; ok && agentID != nil {
		if _, isString := agentID.(string); !isString {
			errs = append(errs, "agentId must be a string when provided")
		}
	}
	if _, ok := doc["payload"].(map[string]any); !ok {
		errs = append(errs, "payload must be an object")
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ValidateJSON decodes data with json.Number semantics and validates it.
// The decoded document is returned so callers do not decode twice. A body
// that is not a JSON object yields ErrMalformed.
func (c *Contract) ValidateJSON(data []byte) (Result, map[string]any, error) {
	doc, err := Decode(data)
	if err != nil {
		return Result{}, nil, err
	}
	return c.Validate(doc), doc, nil
}

// ValidateEnvelope validates an in-memory envelope through its wire form.
func (c *Contract) ValidateEnvelope(env model.Envelope) Result {
	data, err := json.Marshal(env)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	res, _, err := c.ValidateJSON(data)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}
	return res
}

// Decode parses a JSON object keeping numbers as json.Number.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: expected an object", ErrMalformed)
	}
	return doc, nil
}

// versionMatches compares by semver precedence, so build metadata on an
// otherwise equal version is accepted.
func (c *Contract) versionMatches(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	got, err := semver.StrictNewVersion(s)
	if err != nil {
		return false
	}
	return got.Equal(c.version)
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

func member(set map[string]struct{}, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, ok = set[s]
	return ok
}

func integral(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatIntegral(f)
	case float64:
		return floatIntegral(n)
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func floatIntegral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func validTimestamp(v any) bool {
	s, ok := v.(string)
	if !ok || !timestampPattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}
