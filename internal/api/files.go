package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/widgetbase/server/internal/auth"
	"github.com/widgetbase/server/internal/models"
	"go.uber.org/zap"
)

const (
	maxUploadBytes = 32 << 20
	chunkSize      = 500
)

// Upload ingests one extracted-text document for the caller's tenant.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	result, err := h.ingestFile(r, user.ClientID, file, header)
	if err != nil {
		h.logger.Error("upload failed",
			zap.String("client_id", user.ClientID),
			zap.String("filename", header.Filename),
			zap.Error(err))
		http.Error(w, "File processing failed", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// UploadMultiple ingests several documents in one request, reporting per-file
// outcomes.
func (h *Handler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, "No files provided", http.StatusBadRequest)
		return
	}

	results := make([]map[string]interface{}, 0, len(headers))
	totalChunks := 0
	successful := 0

	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			results = append(results, uploadFailure(header.Filename, "Failed to open file"))
			continue
		}

		result, err := h.ingestFile(r, user.ClientID, file, header)
		file.Close()
		if err != nil {
			results = append(results, uploadFailure(header.Filename, "Processing failed"))
			continue
		}

		successful++
		totalChunks += result["chunks_count"].(int)
		result["status"] = "success"
		results = append(results, result)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":            "Upload processed",
		"total_files":        len(headers),
		"successful":         successful,
		"failed":             len(headers) - successful,
		"total_chunks_added": totalChunks,
		"results":            results,
	})
}

func (h *Handler) ingestFile(r *http.Request, clientID string, file multipart.File, header *multipart.FileHeader) (map[string]interface{}, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	chunks := chunkText(string(content), chunkSize)
	if len(chunks) == 0 {
		return nil, &models.ValidationError{Field: "file", Reason: "no text content"}
	}

	fileID, err := h.store.StoreChunks(r.Context(), clientID, chunks, models.FileMeta{
		Filename: header.Filename,
		Size:     int64(len(content)),
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"message":      "File processed successfully",
		"filename":     header.Filename,
		"file_id":      fileID,
		"chunks_count": len(chunks),
		"file_size":    len(content),
	}, nil
}

func uploadFailure(filename, reason string) map[string]interface{} {
	return map[string]interface{}{
		"filename": filename,
		"status":   "error",
		"message":  reason,
	}
}

// chunkText splits text into trimmed pieces of at most size bytes, dropping
// empty pieces. Splits never land inside a multi-byte rune.
func chunkText(text string, size int) []string {
	var chunks []string
	for start := 0; start < len(text); {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				// A single rune wider than size still advances.
				_, n := utf8.DecodeRuneInString(text[start:])
				end = start + n
			}
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		start = end
	}
	return chunks
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	files, err := h.store.GetClientFiles(r.Context(), user.ClientID)
	if err != nil {
		http.Error(w, "Failed to list files", http.StatusInternalServerError)
		return
	}

	totalChunks := 0
	for _, f := range files {
		totalChunks += f.ChunkCount
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files":        files,
		"total_files":  len(files),
		"total_chunks": totalChunks,
	})
}

func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filename := mux.Vars(r)["filename"]

	deleted, err := h.store.DeleteFileChunks(r.Context(), user.ClientID, filename)
	if err != nil {
		http.Error(w, "Failed to delete file", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "File '" + filename + "' deleted successfully",
	})
}
