package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/invopop/jsonschema"
)

// SchemaVersion is the envelope contract version every envelope must carry.
const SchemaVersion = "1.0.0"

// TimestampLayout is the UTC millisecond layout of envelope timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Source string

const (
	SourceMissionControl     Source = "mission-control"
	SourceSelfHealingSystems Source = "self-healing-systems"
	SourceImmaculateVibes    Source = "immaculate-vibes"
)

var Sources = []Source{SourceMissionControl, SourceSelfHealingSystems, SourceImmaculateVibes}

type EventType string

const (
	EventAgentSpawned     EventType = "agent.spawned"
	EventAgentProgress    EventType = "agent.progress"
	EventAgentCompleted   EventType = "agent.completed"
	EventBuildFailed      EventType = "build.failed"
	EventBuildPassed      EventType = "build.passed"
	EventHealAttempted    EventType = "heal.attempted"
	EventHealCompleted    EventType = "heal.completed"
	EventHealEscalated    EventType = "heal.escalated"
	EventDecisionRequired EventType = "decision.required"
	EventDecisionResolved EventType = "decision.resolved"
)

var EventTypes = []EventType{
	EventAgentSpawned,
	EventAgentProgress,
	EventAgentCompleted,
	EventBuildFailed,
	EventBuildPassed,
	EventHealAttempted,
	EventHealCompleted,
	EventHealEscalated,
	EventDecisionRequired,
	EventDecisionResolved,
}

func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityInfo, SeverityWarn, SeverityCritical}

func (s Severity) Valid() bool {
	for _, v := range Severities {
		if v == s {
			return true
		}
	}
	return false
}

// Envelope is the wire and log unit of the event stream. Top-level keys the
// struct does not know are kept in Extra and written back on marshal, and
// Payload is decoded with json.Number so numbers survive a round trip.
type Envelope struct {
	ID            string                     `json:"id"`
	SchemaVersion string                     `json:"schemaVersion"`
	EventVersion  int                        `json:"eventVersion"`
	Source        Source                     `json:"source"`
	Type          EventType                  `json:"type"`
	Severity      Severity                   `json:"severity"`
	Timestamp     string                     `json:"timestamp"`
	CorrelationID string                     `json:"correlationId"`
	AgentID       *string                    `json:"agentId,omitempty"`
	Payload       map[string]any             `json:"payload"`
	Extra         map[string]json.RawMessage `json:"-"`
}

type envelopeFields Envelope

var knownEnvelopeKeys = map[string]struct{}{
	"id": {}, "schemaVersion": {}, "eventVersion": {}, "source": {}, "type": {},
	"severity": {}, "timestamp": {}, "correlationId": {}, "agentId": {}, "payload": {},
}

// FormatTimestamp renders t in the envelope timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// AgentIDValue returns the agent id or "" when the envelope has none.
func (e Envelope) AgentIDValue() string {
	if e.AgentID == nil {
		return ""
	}
	return *e.AgentID
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	f := envelopeFields(e)
	if f.Payload == nil {
		f.Payload = map[string]any{}
	}
	base, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		if _, known := knownEnvelopeKeys[k]; !known {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(e.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Envelope
	for key, value := range raw {
		var err error
		switch key {
		case "id":
			err = json.Unmarshal(value, &out.ID)
		case "schemaVersion":
			err = json.Unmarshal(value, &out.SchemaVersion)
		case "eventVersion":
			out.EventVersion, err = decodeEventVersion(value)
		case "source":
			err = json.Unmarshal(value, &out.Source)
		case "type":
			err = json.Unmarshal(value, &out.Type)
		case "severity":
			err = json.Unmarshal(value, &out.Severity)
		case "timestamp":
			err = json.Unmarshal(value, &out.Timestamp)
		case "correlationId":
			err = json.Unmarshal(value, &out.CorrelationID)
		case "agentId":
			err = json.Unmarshal(value, &out.AgentID)
		case "payload":
			dec := json.NewDecoder(bytes.NewReader(value))
			dec.UseNumber()
			err = dec.Decode(&out.Payload)
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = append(json.RawMessage(nil), value...)
		}
		if err != nil {
			return fmt.Errorf("decoding envelope field %s: %w", key, err)
		}
	}

	*e = out
	return nil
}

// decodeEventVersion accepts integral numbers written with a zero fraction
// ("1.0") as well as plain integers.
func decodeEventVersion(value json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("eventVersion %s is not an integer", n)
	}
	return int(f), nil
}

// JSONSchemaExtend adds the enum sets and the additive-schema rule to the
// reflected envelope schema.
func (Envelope) JSONSchemaExtend(s *jsonschema.Schema) {
	s.AdditionalProperties = jsonschema.TrueSchema
	s.Title = "Mission Control event envelope"

	if p, ok := s.Properties.Get("schemaVersion"); ok {
		p.Const = SchemaVersion
		p.Default = SchemaVersion
	}
	if p, ok := s.Properties.Get("eventVersion"); ok {
		p.Minimum = json.Number("1")
	}
	if p, ok := s.Properties.Get("source"); ok {
		p.Enum = toAny(Sources)
	}
	if p, ok := s.Properties.Get("type"); ok {
		p.Enum = toAny(EventTypes)
	}
	if p, ok := s.Properties.Get("severity"); ok {
		p.Enum = toAny(Severities)
	}
	if p, ok := s.Properties.Get("timestamp"); ok {
		p.Pattern = `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`
	}
	if p, ok := s.Properties.Get("payload"); ok {
		p.AdditionalProperties = jsonschema.TrueSchema
	}
}

func toAny[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
