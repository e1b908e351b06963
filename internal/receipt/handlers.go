package receipt

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/zombor/fintrack/internal/auth"
)

const (
	msgProcessingFailed = "Error processing image"
	msgSubmitFailed     = "Failed to add receipt"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// currentUser returns the user placed in the context by requirePage or requireAPI
func currentUser(r *http.Request) *auth.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

// handleAPIScan analyses an uploaded image and returns the candidate receipt without saving it
func (s *Server) handleAPIScan(w http.ResponseWriter, r *http.Request) {
	if uerr := parseUploadForm(w, r); uerr != nil {
		writeJSONError(w, uerr.status, uerr.message)
		return
	}
	img, uerr := formImage(r, "file")
	if uerr != nil {
		writeJSONError(w, uerr.status, uerr.message)
		return
	}

	candidate, err := s.service.Scan(r.Context(), img)
	if err != nil {
		slog.Error("Error processing receipt", "filename", img.Filename, "error", err)
		writeJSONError(w, http.StatusUnprocessableEntity, msgProcessingFailed)
		return
	}
	warnings := s.service.Warnings(candidate)
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": candidate, "warnings": warnings})
}

// handleAPICreateReceipt stores a confirmed receipt. The receipt arrives as
// JSON in the "receipt" form field with an optional image in "file".
func (s *Server) handleAPICreateReceipt(w http.ResponseWriter, r *http.Request) {
	if uerr := parseUploadForm(w, r); uerr != nil {
		writeJSONError(w, uerr.status, uerr.message)
		return
	}

	var rec Receipt
	if err := json.Unmarshal([]byte(r.FormValue("receipt")), &rec); err != nil {
		slog.Warn("Invalid receipt JSON", "error", err)
		writeJSONError(w, http.StatusBadRequest, "Invalid receipt data")
		return
	}

	var img *Image
	if hasFile(r, "file") {
		var uerr *uploadError
		if img, uerr = formImage(r, "file"); uerr != nil {
			writeJSONError(w, uerr.status, uerr.message)
			return
		}
	}

	user := currentUser(r)
	saved, err := s.service.Submit(r.Context(), user.ID, &rec, img)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":    verr.Error(),
				"problems": verr.Problems,
			})
			return
		}
		slog.Error("Error adding receipt", "owner", user.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, msgSubmitFailed)
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

// handleAPIListReceipts returns all of the user's receipts
func (s *Server) handleAPIListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts(r.Context(), currentUser(r).ID)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// always an array, never null
	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleAPIDashboard returns the dashboard summary
func (s *Server) handleAPIDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Dashboard(r.Context(), currentUser(r).ID)
	if err != nil {
		slog.Error("Error loading dashboard", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, summary)
}

// handleReceiptImage serves the stored image of one of the user's receipts
func (s *Server) handleReceiptImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, contentType, err := s.service.GetReceiptImage(r.Context(), currentUser(r).ID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting receipt image", "id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", servedContentType(contentType, data))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Write(data)
}

// servedContentType limits stored images to raster image and PDF types so an
// upload declared as HTML or SVG is never rendered by the browser.
func servedContentType(declared string, data []byte) string {
	if declared == "" {
		declared = http.DetectContentType(data)
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "application/octet-stream"
	}
	if mediaType == "image/svg+xml" {
		return "application/octet-stream"
	}
	if strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf" {
		return declared
	}
	return "application/octet-stream"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStaticCSS serves the stylesheet
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Write(appCSS)
}
