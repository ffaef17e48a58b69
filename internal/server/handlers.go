package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/amount-detector/internal/amounts"
	"github.com/zombor/amount-detector/internal/llm"
	"github.com/zombor/amount-detector/internal/ocr"
)

// Response text previews
const (
	ocrTextPreview      = 500
	classifyTextPreview = 100
)

// maxJSONBody caps request bodies that carry no upload
const maxJSONBody = 1 << 20

// errorStatus maps a pipeline error to an HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, amounts.ErrEmptyText),
		errors.Is(err, amounts.ErrNoTokens),
		errors.Is(err, amounts.ErrNoAmounts),
		errors.Is(err, ocr.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, amounts.ErrOCRUnavailable), errors.Is(err, llm.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError logs err and writes it with the status errorStatus picks
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		slog.Info("Request rejected", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// badRequest writes a 400 with the given message
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

// textInput is the text or image a request carries
type textInput struct {
	Text        string
	Image       []byte
	ContentType string
	Filename    string
}

// HasImage reports whether an image was uploaded
func (in textInput) HasImage() bool {
	return len(in.Image) > 0
}

// inputError is a client-side problem with the request body
type inputError struct {
	code    int
	message string
}

func (e *inputError) Error() string {
	return e.message
}

// readInput reads text and an optional "image" upload from a multipart, form or JSON body
func (s *Server) readInput(w http.ResponseWriter, r *http.Request) (textInput, error) {
	var in textInput

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		// Leave room for the other form parts
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+maxJSONBody)
		if err := r.ParseMultipartForm(s.maxUpload); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return in, s.tooLarge()
			}
			return in, &inputError{http.StatusBadRequest, "Error parsing form"}
		}
		in.Text = r.FormValue("text")

		f, header, err := r.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return in, nil
		}
		if err != nil {
			return in, &inputError{http.StatusBadRequest, "Error reading uploaded image"}
		}
		defer f.Close()

		if header.Size > s.maxUpload {
			return in, s.tooLarge()
		}

		data, err := io.ReadAll(f)
		if err != nil {
			return in, fmt.Errorf("reading upload: %w", err)
		}

		contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)
		if !ocr.Supported(data, contentType) {
			return in, &inputError{http.StatusBadRequest, "Only image or PDF files are allowed"}
		}
		in.Image = data
		in.ContentType = contentType
		in.Filename = header.Filename

	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			return in, &inputError{http.StatusBadRequest, "Error parsing form"}
		}
		in.Text = r.PostFormValue("text")

	default:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			return in, err
		}
		in.Text = body.Text
	}
	return in, nil
}

func (s *Server) tooLarge() error {
	return &inputError{
		http.StatusRequestEntityTooLarge,
		fmt.Sprintf("File is too large. Maximum size is %s.", sizeLabel(s.maxUpload)),
	}
}

// sizeLabel renders a byte count in whole megabytes when it divides evenly
func sizeLabel(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

// decodeJSON decodes a JSON body into v; an empty body leaves v untouched
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &inputError{http.StatusBadRequest, "Invalid JSON body"}
}

// uploadContentType prefers the part's Content-Type and falls back to the file extension
func uploadContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// writeInputError writes a readInput failure
func writeInputError(w http.ResponseWriter, r *http.Request, err error) {
	var in *inputError
	if errors.As(err, &in) {
		slog.Info("Request rejected", "path", r.URL.Path, "error", in.message)
		writeJSON(w, in.code, errorResponse{Error: in.message})
		return
	}
	writeError(w, r, err)
}

// ocrResponse is the body of POST /api/ocr
type ocrResponse struct {
	*amounts.Extraction
	ModeUsed amounts.Mode `json:"mode_used"`
	Text     string       `json:"text"`
}

// handleOCR recognizes an upload (if any) and extracts amount tokens
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	mode := amounts.ParseMode(r.URL.Query().Get("mode"))

	in, err := s.readInput(w, r)
	if err != nil {
		writeInputError(w, r, err)
		return
	}

	text := in.Text
	if in.HasImage() {
		text, _, err = s.detector.Recognize(r.Context(), in.Image, in.ContentType)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	ext, err := s.detector.Extract(r.Context(), text, mode)
	if errors.Is(err, amounts.ErrEmptyText) {
		badRequest(w, "No text or image provided")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ocrResponse{
		Extraction: ext,
		ModeUsed:   mode,
		Text:       amounts.Preview(text, ocrTextPreview),
	})
}

// tokenList accepts tokens given as JSON strings or numbers
type tokenList []string

func (t *tokenList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("token %s is neither a string nor a number", item)
		}
		out = append(out, n.String())
	}
	*t = out
	return nil
}

// normalizeResponse is the body of POST /api/normalize
type normalizeResponse struct {
	*amounts.Normalization
	ModeUsed         amounts.Mode `json:"mode_used"`
	InputTokensCount int          `json:"input_tokens_count"`
}

// handleNormalize converts raw tokens into amounts
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	mode := amounts.ParseMode(r.URL.Query().Get("mode"))

	var body struct {
		Tokens tokenList `json:"tokens"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeInputError(w, r, err)
		return
	}
	if len(body.Tokens) == 0 {
		badRequest(w, "No tokens provided")
		return
	}

	norm, err := s.detector.Normalize(r.Context(), body.Tokens, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, normalizeResponse{
		Normalization:    norm,
		ModeUsed:         mode,
		InputTokensCount: len(body.Tokens),
	})
}

// classifyResponse is the body of POST /api/classify
type classifyResponse struct {
	*amounts.Classification
	ModeUsed          amounts.Mode `json:"mode_used"`
	InputAmountsCount int          `json:"input_amounts_count"`
	InputTextPreview  *string      `json:"input_text_preview"`
}

// handleClassify assigns a type to each normalized amount
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	mode := amounts.ParseMode(r.URL.Query().Get("mode"))

	var body struct {
		NormalizedAmounts json.RawMessage `json:"normalizedAmounts"`
		Text              string          `json:"text"`
		RawTokens         tokenList       `json:"rawTokens"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeInputError(w, r, err)
		return
	}

	var values []float64
	if len(body.NormalizedAmounts) > 0 && string(body.NormalizedAmounts) != "null" {
		if err := json.Unmarshal(body.NormalizedAmounts, &values); err != nil {
			badRequest(w, "normalizedAmounts must be an array of numbers")
			return
		}
	}
	if len(values) == 0 {
		badRequest(w, "No normalized amounts provided")
		return
	}

	cls, err := s.detector.Classify(r.Context(), values, body.Text, mode, body.RawTokens)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var preview *string
	if body.Text != "" {
		p := amounts.Preview(body.Text, classifyTextPreview)
		preview = &p
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Classification:    cls,
		ModeUsed:          mode,
		InputAmountsCount: len(values),
		InputTextPreview:  preview,
	})
}

// finalResponse is the body of POST /api/final
type finalResponse struct {
	*amounts.Final
	ModeUsed string `json:"mode_used"`
}

// handleFinal assembles labelled records from classified amounts
func (s *Server) handleFinal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amounts  []amounts.ClassifiedAmount `json:"amounts"`
		Currency string                     `json:"currency"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeInputError(w, r, err)
		return
	}
	if len(body.Amounts) == 0 {
		badRequest(w, "No classified amounts provided")
		return
	}

	final, err := s.detector.Assemble(body.Amounts, body.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, finalResponse{Final: final, ModeUsed: "final"})
}

// handleDetectAmounts runs the full pipeline
func (s *Server) handleDetectAmounts(w http.ResponseWriter, r *http.Request) {
	mode := amounts.ParseMode(r.URL.Query().Get("mode"))

	in, err := s.readInput(w, r)
	if err != nil {
		writeInputError(w, r, err)
		return
	}

	if in.HasImage() {
		slog.Info("Processing uploaded file", "filename", in.Filename, "content_type", in.ContentType, "size", len(in.Image))
	}

	res, err := s.detector.Run(r.Context(), amounts.Request{
		Text:        in.Text,
		Image:       in.Image,
		ContentType: in.ContentType,
		Mode:        mode,
	})
	if errors.Is(err, amounts.ErrEmptyText) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "No text or image provided",
			"hasFile": in.HasImage(),
			"hasText": in.Text != "",
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleHealth reports liveness and whether an assistant is configured
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"assisted": s.detector.Assisted(),
	})
}

// handleNotFound answers every unknown route
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "Endpoint not found",
		"path":  r.URL.Path,
	})
}
