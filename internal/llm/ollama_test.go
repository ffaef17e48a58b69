package llm

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		client *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewOllama(server.URL()+"/", "llama3.1")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	When("the server answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.VerifyJSON(`{
					"model": "llama3.1",
					"stream": false,
					"format": "json",
					"messages": [
						{"role": "system", "content": "You are an expert at reading billing documents. You answer only with JSON."},
						{"role": "user", "content": "hello"}
					]
				}`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]string{"role": "assistant", "content": `{"valid": true}`},
					"done":    true,
				}),
			))
		})

		It("returns the message content", func() {
			text, err := client.Generate(context.Background(), "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`{"valid": true}`))
		})
	})

	When("the server returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns an error with the body", func() {
			_, err := client.Generate(context.Background(), "hello")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("model not loaded"))
		})
	})

	It("applies defaults", func() {
		o, err := NewOllama("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(o.Model()).To(Equal("llama3.1"))
		Expect(o.baseURL).To(Equal("http://localhost:11434"))
	})
})
