package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/amount-detector/internal/amounts"
	"github.com/zombor/amount-detector/internal/ocr"
)

var _ = Describe("Server", func() {
	var (
		detector    *amounts.Detector
		recognizer  *mockRecognizer
		cfg         Config
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(detector, cfg, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	postJSON := func(path string, body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postUpload := func(path, filename string, data []byte, fields map[string]string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			Expect(mw.WriteField(k, v)).To(Succeed())
		}
		if filename != "" {
			part, err := mw.CreateFormFile("image", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(mw.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+path, mw.FormDataContentType(), &buf)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		recognizer = &mockRecognizer{text: "Total: $150, Paid: $100, Due: $50"}
		detector = amounts.NewDetector(nil, recognizer)
		cfg = Config{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("POST /api/ocr", func() {
		When("text is posted as JSON", func() {
			It("returns extracted tokens", func() {
				resp := postJSON("/api/ocr", `{"text": "Total: Rs 1,200, Paid: 1000, Due: 200"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["raw_tokens"]).To(Equal([]any{"1,200", "1000", "200"}))
				Expect(body["currency_hint"]).To(Equal("INR"))
				Expect(body["confidence"]).To(Equal(0.9))
				Expect(body["method"]).To(Equal("regex"))
				Expect(body["mode_used"]).To(Equal("fast"))
				Expect(body["text"]).To(Equal("Total: Rs 1,200, Paid: 1000, Due: 200"))
			})
		})

		When("text is posted as a form", func() {
			It("returns extracted tokens", func() {
				resp, err := http.PostForm(ghttpServer.URL()+"/api/ocr", url.Values{"text": {"Total 450"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp)["raw_tokens"]).To(Equal([]any{"450"}))
			})
		})

		When("nothing is posted", func() {
			It("returns bad request", func() {
				resp := postJSON("/api/ocr", `{}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("No text or image provided"))
			})
		})

		When("an image is uploaded", func() {
			It("extracts tokens from the recognized text", func() {
				resp := postUpload("/api/ocr", "bill.png", []byte("fake png"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["raw_tokens"]).To(Equal([]any{"150", "100", "50"}))
				Expect(body["currency_hint"]).To(Equal("USD"))
				Expect(recognizer.contentType).To(Equal("image/png"))
			})
		})

		When("the upload is not an image", func() {
			It("returns bad request", func() {
				resp := postUpload("/api/ocr", "notes.txt", []byte("Total 100"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("Only image or PDF files are allowed"))
			})
		})

		When("the upload is too large", func() {
			BeforeEach(func() {
				cfg.MaxUploadBytes = 1024
			})

			It("returns request entity too large", func() {
				resp := postUpload("/api/ocr", "bill.jpg", bytes.Repeat([]byte("x"), 2048), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(decode(resp)["error"]).To(Equal("File is too large. Maximum size is 1024 bytes."))
			})
		})

		When("no OCR engine is configured", func() {
			BeforeEach(func() {
				detector = amounts.NewDetector(nil, nil)
			})

			It("returns service unavailable", func() {
				resp := postUpload("/api/ocr", "bill.png", []byte("fake png"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("tesseract crashed")
			})

			It("returns internal server error", func() {
				resp := postUpload("/api/ocr", "bill.png", []byte("fake png"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decode(resp)["error"]).To(ContainSubstring("tesseract crashed"))
			})
		})
	})

	Describe("POST /api/normalize", func() {
		When("tokens are given as strings and numbers", func() {
			It("returns normalized amounts", func() {
				resp := postJSON("/api/normalize", `{"tokens": ["1,200", 1000, "200", "10%"]}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["normalized_amounts"]).To(Equal([]any{1200.0, 1000.0, 200.0}))
				Expect(body["normalization_confidence"]).To(Equal(0.86))
				Expect(body["input_tokens_count"]).To(Equal(4.0))
				Expect(body["mode_used"]).To(Equal("fast"))
			})
		})

		When("an unknown mode is requested", func() {
			It("runs fast", func() {
				resp := postJSON("/api/normalize?mode=turbo", `{"tokens": ["100"]}`)
				Expect(decode(resp)["mode_used"]).To(Equal("fast"))
			})
		})

		When("no tokens are given", func() {
			It("returns bad request", func() {
				resp := postJSON("/api/normalize", `{"tokens": []}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("No tokens provided"))
			})
		})

		When("the body is not JSON", func() {
			It("returns bad request", func() {
				resp := postJSON("/api/normalize", `tokens=1`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("Invalid JSON body"))
			})
		})
	})

	Describe("POST /api/classify", func() {
		When("amounts and text are given", func() {
			It("returns classified amounts", func() {
				resp := postJSON("/api/classify", `{"normalizedAmounts": [1200, 1000, 200], "text": "Total: 1200, Paid: 1000, Due: 200"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["amounts"]).To(Equal([]any{
					map[string]any{"type": "total_bill", "value": 1200.0, "confidence": 0.9},
					map[string]any{"type": "paid", "value": 1000.0, "confidence": 0.9},
					map[string]any{"type": "due", "value": 200.0, "confidence": 0.9},
				}))
				Expect(body["confidence"]).To(Equal(0.8))
				Expect(body["input_amounts_count"]).To(Equal(3.0))
				Expect(body["input_text_preview"]).To(Equal("Total: 1200, Paid: 1000, Due: 200"))
			})
		})

		When("no text is given", func() {
			It("ranks the amounts and omits the preview", func() {
				resp := postJSON("/api/classify", `{"normalizedAmounts": [50, 500]}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["input_text_preview"]).To(BeNil())
				Expect(body["amounts"]).To(HaveLen(2))
			})
		})

		When("amounts are not an array", func() {
			It("returns bad request", func() {
				resp := postJSON("/api/classify", `{"normalizedAmounts": "1200"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("normalizedAmounts must be an array of numbers"))
			})
		})

		When("amounts are missing", func() {
			It("returns bad request", func() {
				resp := postJSON("/api/classify", `{"text": "Total 100"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("No normalized amounts provided"))
			})
		})
	})

	Describe("POST /api/final", func() {
		When("classified amounts are given", func() {
			It("returns labelled amounts", func() {
				resp := postJSON("/api/final", `{"amounts": [{"type": "total_bill", "value": 1200, "confidence": 0.9}], "currency": "USD"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["currency"]).To(Equal("USD"))
				Expect(body["status"]).To(Equal("ok"))
				Expect(body["mode_used"]).To(Equal("final"))
				Expect(body["amounts"]).To(Equal([]any{
					map[string]any{"type": "total_bill", "value": 1200.0, "source": "text: 'Total: $ 1200'"},
				}))
			})
		})

		When("no currency is given", func() {
			It("defaults to INR", func() {
				resp := postJSON("/api/final", `{"amounts": [{"type": "due", "value": 200, "confidence": 0.9}]}`)
				body := decode(resp)
				Expect(body["currency"]).To(Equal("INR"))
			})
		})

		When("no amounts are given", func() {
			It("returns bad request", func() {
				resp := postJSON("/api/final", `{"amounts": []}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal("No classified amounts provided"))
			})
		})
	})

	Describe("POST /api/detect-amounts", func() {
		When("text is posted", func() {
			It("runs the full pipeline", func() {
				resp := postJSON("/api/detect-amounts", `{"text": "Total: Rs 1200, Paid: 1000, Due: 200"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["status"]).To(Equal("ok"))
				Expect(body["currency"]).To(Equal("INR"))
				Expect(body["mode_used"]).To(Equal("fast"))
				Expect(body["pipeline_confidence"]).To(Equal(0.85))
				Expect(body["amounts"]).To(HaveLen(3))
				steps := body["pipeline_steps"].(map[string]any)
				Expect(steps["ocr"]).To(Equal(map[string]any{"tokens_found": 3.0, "confidence": 0.9}))
			})
		})

		When("an image is uploaded with text", func() {
			It("prefers the image", func() {
				resp := postUpload("/api/detect-amounts", "bill.heic", []byte("fake heic"), map[string]string{"text": "Total 999"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["currency"]).To(Equal("USD"))
				Expect(recognizer.contentType).To(Equal("image/heic"))
			})
		})

		When("the text has no amounts", func() {
			It("returns no_amounts_found", func() {
				resp := postJSON("/api/detect-amounts", `{"text": "nothing to see"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["status"]).To(Equal("no_amounts_found"))
				Expect(body["raw_text"]).To(Equal("nothing to see"))
			})
		})

		When("enhanced mode runs against a failing assistant", func() {
			var assistant *mockAssistant

			BeforeEach(func() {
				assistant = &mockAssistant{err: errors.New("quota exceeded")}
				detector = amounts.NewDetector(assistant, recognizer)
			})

			It("still succeeds", func() {
				resp := postJSON("/api/detect-amounts?mode=aiEnhanced", `{"text": "Total: Rs 1200, Paid: 1000, Due: 200"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body := decode(resp)
				Expect(body["status"]).To(Equal("ok"))
				Expect(body["mode_used"]).To(Equal("aiEnhanced"))
				Expect(body["pipeline_confidence"]).To(Equal(0.8))
				Expect(assistant.calls).To(Equal(4))
			})
		})

		When("nothing is posted", func() {
			It("returns bad request with context", func() {
				resp := postJSON("/api/detect-amounts", ``)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				body := decode(resp)
				Expect(body["error"]).To(Equal("No text or image provided"))
				Expect(body["hasFile"]).To(BeFalse())
				Expect(body["hasText"]).To(BeFalse())
			})
		})
	})

	Describe("GET /healthz", func() {
		It("reports ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)).To(Equal(map[string]any{"status": "ok", "assisted": false}))
		})
	})

	Describe("GET /metrics", func() {
		It("exposes Prometheus metrics", func() {
			resp, err := http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})
	})

	Describe("unknown routes", func() {
		It("returns a JSON 404", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decode(resp)).To(Equal(map[string]any{"error": "Endpoint not found", "path": "/api/nope"}))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			cfg.BasicAuth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp := postJSON("/api/normalize", `{"tokens": ["100"]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/normalize", strings.NewReader(`{"tokens": ["100"]}`))
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("rejects a wrong password", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/normalize", strings.NewReader(`{"tokens": ["100"]}`))
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("leaves health checks open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("rate limiting", func() {
		BeforeEach(func() {
			cfg.RateLimit = 0.001
			cfg.RateBurst = 1
		})

		It("rejects requests beyond the burst", func() {
			ghttpServer.AppendHandlers(server.ServeHTTP)

			first := postJSON("/api/normalize", `{"tokens": ["100"]}`)
			Expect(first.StatusCode).To(Equal(http.StatusOK))
			first.Body.Close()

			second := postJSON("/api/normalize", `{"tokens": ["100"]}`)
			Expect(second.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(decode(second)["error"]).To(Equal("Too many requests"))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/detect-amounts", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "http://localhost:5173")
			req.Header.Set("Access-Control-Request-Method", "POST")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("sets the allow-origin header on responses", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/healthz", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "http://localhost:5173")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})

var _ = Describe("errorStatus", func() {
	DescribeTable("maps pipeline errors to HTTP statuses",
		func(err error, code int) {
			Expect(errorStatus(err)).To(Equal(code))
		},
		Entry("empty text", amounts.ErrEmptyText, http.StatusBadRequest),
		Entry("no tokens", amounts.ErrNoTokens, http.StatusBadRequest),
		Entry("no amounts", amounts.ErrNoAmounts, http.StatusBadRequest),
		Entry("unsupported upload", fmt.Errorf("preparing: %w", ocr.ErrUnsupportedFormat), http.StatusBadRequest),
		Entry("no OCR engine", amounts.ErrOCRUnavailable, http.StatusServiceUnavailable),
		Entry("malformed classification", amounts.ErrInvalidClassification, http.StatusInternalServerError),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
	)
})
