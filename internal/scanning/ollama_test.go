package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
		data    *ReceiptData
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		scanner, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		data, err = scanner.ScanReceipt(context.Background(), testPNG(), "image/png")
	})

	When("the model returns a receipt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Format).To(Equal("json"))
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `{"merchant": "Corner Deli", "date": "2024-05-01", "totalAmount": 12.40, "items": [{"name": "Sandwich", "quantity": 1, "price": 12.40}]}`,
					},
					Done: true,
				}),
			))
		})

		It("should return the parsed receipt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Merchant).To(Equal("Corner Deli"))
			Expect(data.TotalAmount.StringFixed(2)).To(Equal("12.40"))
			Expect(data.Items).To(HaveLen(1))
		})
	})

	When("the model returns something that is not a receipt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: `{"note": "blurry"}`},
				Done:    true,
			}))
		})

		It("returns a validation error", func() {
			var verr *ValidationError
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing receipt data"))
			Expect(errors.As(err, &verr)).To(BeTrue())
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error with the status", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 500"))
			Expect(err.Error()).To(ContainSubstring("model not loaded"))
		})
	})
})
