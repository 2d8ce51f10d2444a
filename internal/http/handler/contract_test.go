package handler_test

import (
	"net/http"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/http/handler"
)

var _ = Describe("ContractHandler", func() {
	It("serves the envelope schema", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.GET("/contract", handler.NewContractHandler(contract.Default().Schema()).Get)

		w := doJSON(router, http.MethodGet, "/contract", ``)
		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp).To(HaveKey("properties"))
		Expect(resp["required"]).To(ContainElement("correlationId"))
	})
})
