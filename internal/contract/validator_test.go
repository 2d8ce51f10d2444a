package contract_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/model"
)

func validDoc() map[string]any {
	return map[string]any{
		"id":            "0192f0c1-7a55-7c3e-9b1f-6d1e2a3b4c5d",
		"schemaVersion": "1.0.0",
		"eventVersion":  json.Number("1"),
		"source":        "mission-control",
		"type":          "build.failed",
		"severity":      "critical",
		"timestamp":     "2026-01-02T03:04:05.678Z",
		"correlationId": "0192f0c1-7a55-7c3e-9b1f-6d1e2a3b4c5e",
		"payload":       map[string]any{"phase": "build"},
	}
}

var _ = Describe("Contract", func() {
	var c *contract.Contract

	BeforeEach(func() {
		c = contract.Default()
	})

	Describe("Default", func() {
		It("requires the core envelope fields but not agentId", func() {
			Expect(c.Schema().Required).To(ConsistOf(
				"id", "schemaVersion", "eventVersion", "source", "type",
				"severity", "timestamp", "correlationId", "payload",
			))
		})

		It("pins schema version 1.0.0", func() {
			Expect(c.Version().String()).To(Equal("1.0.0"))
		})
	})

	Describe("Validate", func() {
		It("accepts a valid envelope", func() {
			res := c.Validate(validDoc())
			Expect(res.Valid).To(BeTrue())
			Expect(res.Errors).To(BeEmpty())
		})

		It("accepts unknown keys at top level and inside payload", func() {
			doc := validDoc()
			doc["futureField"] = map[string]any{"nested": true}
			doc["payload"] = map[string]any{"unknownKey": []any{json.Number("1")}}
			Expect(c.Validate(doc).Valid).To(BeTrue())
		})

		It("accepts a null agentId", func() {
			doc := validDoc()
			doc["agentId"] = nil
			Expect(c.Validate(doc).Valid).To(BeTrue())
		})

		It("accepts timestamps without fractional seconds", func() {
			doc := validDoc()
			doc["timestamp"] = "2026-01-02T03:04:05Z"
			Expect(c.Validate(doc).Valid).To(BeTrue())
		})

		It("accepts an integral eventVersion written with a fraction", func() {
			doc := validDoc()
			doc["eventVersion"] = json.Number("2.0")
			Expect(c.Validate(doc).Valid).To(BeTrue())
		})

		DescribeTable("rejects invalid envelopes",
			func(mutate func(map[string]any), want string) {
				doc := validDoc()
				mutate(doc)
				res := c.Validate(doc)
				Expect(res.Valid).To(BeFalse())
				Expect(res.Errors).To(ContainElement(want))
			},
			Entry("missing id", func(d map[string]any) { delete(d, "id") }, "missing id"),
			Entry("missing payload", func(d map[string]any) { delete(d, "payload") }, "missing payload"),
			Entry("empty id", func(d map[string]any) { d["id"] = "" }, "id must be a non-empty string"),
			Entry("wrong schema version", func(d map[string]any) { d["schemaVersion"] = "2.0.0" }, "schemaVersion must be 1.0.0"),
			Entry("non-semver schema version", func(d map[string]any) { d["schemaVersion"] = "v1" }, "schemaVersion must be 1.0.0"),
			Entry("zero eventVersion", func(d map[string]any) { d["eventVersion"] = json.Number("0") }, "eventVersion must be integer >= 1"),
			Entry("fractional eventVersion", func(d map[string]any) { d["eventVersion"] = json.Number("1.5") }, "eventVersion must be integer >= 1"),
			Entry("string eventVersion", func(d map[string]any) { d["eventVersion"] = "1" }, "eventVersion must be integer >= 1"),
			Entry("unknown source", func(d map[string]any) { d["source"] = "elsewhere" }, "source is invalid"),
			Entry("unknown type", func(d map[string]any) { d["type"] = "build.exploded" }, "type is invalid"),
			Entry("unknown severity", func(d map[string]any) { d["severity"] = "fatal" }, "severity is invalid"),
			Entry("local timestamp", func(d map[string]any) { d["timestamp"] = "2026-01-02T03:04:05+02:00" }, "timestamp must be ISO-8601 UTC"),
			Entry("impossible month", func(d map[string]any) { d["timestamp"] = "2026-13-02T03:04:05Z" }, "timestamp must be ISO-8601 UTC"),
			Entry("empty correlationId", func(d map[string]any) { d["correlationId"] = "" }, "correlationId must be a non-empty string"),
			Entry("numeric agentId", func(d map[string]any) { d["agentId"] = json.Number("7") }, "agentId must be a string when provided"),
			Entry("array payload", func(d map[string]any) { d["payload"] = []any{} }, "payload must be an object"),
			Entry("null payload", func(d map[string]any) { d["payload"] = nil }, "payload must be an object"),
		)
	})

	Describe("ValidateJSON", func() {
		It("returns ErrMalformed for broken JSON", func() {
			_, _, err := c.ValidateJSON([]byte(`{"id":`))
			Expect(err).To(MatchError(contract.ErrMalformed))
		})

		It("returns ErrMalformed for a non-object body", func() {
			_, _, err := c.ValidateJSON([]byte(`[1,2]`))
			Expect(err).To(MatchError(contract.ErrMalformed))
		})

		It("keeps numbers as json.Number", func() {
			_, doc, err := c.ValidateJSON([]byte(`{"payload":{"big":12345678901234567890}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(doc["payload"].(map[string]any)["big"]).To(Equal(json.Number("12345678901234567890")))
		})
	})

	Describe("ValidateEnvelope", func() {
		It("accepts an internally built envelope", func() {
			agentID := "agent_1"
			env := model.Envelope{
				ID:            "e-1",
				SchemaVersion: model.SchemaVersion,
				EventVersion:  1,
				Source:        model.SourceMissionControl,
				Type:          model.EventAgentSpawned,
				Severity:      model.SeverityInfo,
				Timestamp:     "2026-01-02T03:04:05.000Z",
				CorrelationID: "c-1",
				AgentID:       &agentID,
			}
			Expect(c.ValidateEnvelope(env).Valid).To(BeTrue())
		})
	})

	Describe("Load", func() {
		It("round-trips the default schema through a file", func() {
			data, err := json.Marshal(c.Schema())
			Expect(err).NotTo(HaveOccurred())

			path := filepath.Join(GinkgoT().TempDir(), "event.schema.json")
			Expect(os.WriteFile(path, data, 0o644)).To(Succeed())

			loaded, err := contract.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Validate(validDoc()).Valid).To(BeTrue())
		})

		It("honours a custom enum set", func() {
			schema := `{
				"type": "object",
				"required": ["id"],
				"properties": {
					"schemaVersion": {"type": "string", "default": "1.0.0"},
					"source": {"enum": ["only-me"]},
					"type": {"enum": ["build.failed"]},
					"severity": {"enum": ["info", "warn", "critical"]}
				}
			}`
			path := filepath.Join(GinkgoT().TempDir(), "custom.json")
			Expect(os.WriteFile(path, []byte(schema), 0o644)).To(Succeed())

			loaded, err := contract.Load(path)
			Expect(err).NotTo(HaveOccurred())

			res := loaded.Validate(validDoc())
			Expect(res.Valid).To(BeFalse())
			Expect(res.Errors).To(ConsistOf("source is invalid"))
		})

		It("fails when an enum is missing", func() {
			path := filepath.Join(GinkgoT().TempDir(), "bad.json")
			Expect(os.WriteFile(path, []byte(`{"properties":{"source":{"type":"string"}}}`), 0o644)).To(Succeed())

			_, err := contract.Load(path)
			Expect(err).To(HaveOccurred())
		})

		It("fails for a missing file", func() {
			_, err := contract.Load(filepath.Join(GinkgoT().TempDir(), "nope.json"))
			Expect(err).To(HaveOccurred())
		})
	})
})
