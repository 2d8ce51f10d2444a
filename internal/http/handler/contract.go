package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"
)

type ContractHandler struct {
	schema *jsonschema.Schema
}

func NewContractHandler(schema *jsonschema.Schema) *ContractHandler {
	return &ContractHandler{schema: schema}
}

// Get serves the envelope JSON Schema the ingestion endpoint validates
// against.
func (h *ContractHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.schema)
}
