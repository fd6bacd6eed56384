package httpadapter

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const defaultMaxUploadBytes = 64 << 20

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	maxBytes := rt.cfg.APIMaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read uploaded file")
		return
	}

	req, err := buildIngestRequest(r, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), content)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if wantsStream(r) {
		rt.streamIngest(w, r, req)
		return
	}

	env := rt.orchestrator.Ingest(r.Context(), req, nil)
	status := envelopeStatus(env)
	if env.Success {
		status = http.StatusAccepted
	}
	writeJSON(w, status, env)
}

func (rt *Router) streamIngest(w http.ResponseWriter, r *http.Request, req domain.IngestRequest) {
	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported by response writer")
		return
	}

	env := rt.orchestrator.Ingest(r.Context(), req, func(event domain.ProgressEvent) {
		_ = stream.send("progress", event)
	})
	_ = stream.send("result", env)
}

func buildIngestRequest(r *http.Request, filename, contentType string, content []byte) (domain.IngestRequest, error) {
	form := r.MultipartForm.Value
	value := func(key string) string {
		if values := form[key]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}

	// an omitted title falls back to the file name; a blank one is an error
	title := value("title")
	if _, sent := form["title"]; sent && title == "" {
		return domain.IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "parse upload", errors.New("title must not be blank"))
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	year := 0
	if raw := value("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return domain.IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "parse upload", errors.New("year must be an integer"))
		}
		year = parsed
	}
	chunkSize, err := optionalInt(value("chunk_size"), "chunk_size")
	if err != nil {
		return domain.IngestRequest{}, err
	}
	chunkOverlap, err := optionalInt(value("chunk_overlap"), "chunk_overlap")
	if err != nil {
		return domain.IngestRequest{}, err
	}

	return domain.IngestRequest{
		Content: content,
		Metadata: domain.DocumentMetadata{
			Title:    title,
			Author:   value("author"),
			ISBN:     value("isbn"),
			Year:     year,
			Tags:     splitList(form["tags"]),
			Domains:  splitList(form["domains"]),
			UserID:   value("user_id"),
			Filename: filepath.Base(filename),
			MimeType: uploadMime(filename, contentType),
		},
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}, nil
}

func optionalInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse upload", errors.New(field+" must be an integer"))
	}
	return n, nil
}

// splitList accepts both repeated fields and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func uploadMime(filename, contentType string) string {
	if contentType != "" && contentType != "application/octet-stream" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			return parsed
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
			return parsed
		}
	}
	return contentType
}

func wantsStream(r *http.Request) bool {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("stream")); ok {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	doc, err := rt.documents.GetDocument(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jobs, err := rt.documents.ListJobs(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.ProcessingJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"jobs":     jobs,
	})
}

func (rt *Router) downloadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}
	doc, err := rt.documents.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	url, err := rt.storage.SignedURL(r.Context(), doc.StoragePath, rt.cfg.SignedURLTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(rt.cfg.SignedURLTTL.Seconds()),
	})
}

func (rt *Router) extractDocument(w http.ResponseWriter, r *http.Request) {
	env := rt.orchestrator.Extract(r.Context(), chi.URLParam(r, "documentID"))
	status := envelopeStatus(env)
	if env.Success {
		status = http.StatusAccepted
	}
	writeJSON(w, status, env)
}
