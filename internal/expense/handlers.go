package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// maxUploadSize bounds receipt uploads; high-resolution phone photos can be
// large.
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// writeJSON encodes a JSON response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError writes an error payload with CORS headers set
func writeJSONError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// handleScanReceipt accepts a receipt image and returns an unconfirmed
// draft with the extracted field candidates.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSONError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeJSONError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	draft, err := s.service.DraftFromImage(header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, draft)
}

// contentTypeFromExt guesses a MIME type from the file extension
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleGetImage serves a locally stored receipt image
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if ref == "" {
		corsError(w, "Image reference required", http.StatusBadRequest)
		return
	}
	data, err := s.service.GetImage(ref)
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentTypeFromExt(ref))
	w.Write(data)
}

// handleListExpenses returns the active records, newest date first
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListActive()
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// handleCreateExpense persists a confirmed record
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.service.Create(r.Context(), rec)
	if err != nil {
		if IsValidation(err) {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("Error creating expense", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Error saving expense")
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

// handleGetExpense returns a single record
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.service.GetRecord(id)
	if err != nil {
		corsError(w, "Expense not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateExpense applies edits to a record
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	rec.ID = r.PathValue("id")

	saved, err := s.service.Update(r.Context(), rec)
	if err != nil {
		if IsValidation(err) {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("Error updating expense", "id", rec.ID, "error", err)
		writeJSONError(w, http.StatusNotFound, "Error updating expense")
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

// handleDeleteExpense tombstones a record
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.Delete(r.Context(), id); err != nil {
		corsError(w, "Error deleting expense", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns the month and overall totals
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.ComputeStats()
	if err != nil {
		slog.Error("Error computing stats", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleExportCSV streams the active records as a BOM-prefixed CSV file
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="expenses_%s.csv"`, time.Now().Format("2006-01-02")))

	if err := s.service.ExportCSV(w); err != nil {
		slog.Error("Error exporting CSV", "error", err)
	}
}

// handleSync triggers a manual sync cycle. A cycle already in flight is
// reported, not queued.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncFn == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	if err := s.syncFn(r.Context()); err != nil {
		if errors.Is(err, ErrSyncBusy) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "busy"})
			return
		}
		slog.Error("Manual sync failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
