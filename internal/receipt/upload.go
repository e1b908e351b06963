package receipt

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// maxUploadSize is generous so high-resolution phone photos fit
const maxUploadSize = int64(50 << 20)

const fileTooLarge = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// uploadError is a user-facing upload failure
type uploadError struct {
	status  int
	message string
}

// parseUploadForm parses a multipart body no larger than maxUploadSize plus form overhead
func parseUploadForm(w http.ResponseWriter, r *http.Request) *uploadError {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &uploadError{status: http.StatusRequestEntityTooLarge, message: fileTooLarge}
		}
		return &uploadError{status: http.StatusBadRequest, message: "Error parsing form"}
	}
	return nil
}

// hasFile reports whether the parsed form carries a file under field
func hasFile(r *http.Request, field string) bool {
	return r.MultipartForm != nil && len(r.MultipartForm.File[field]) > 0
}

// formImage reads the uploaded file under field from an already parsed form
func formImage(r *http.Request, field string) (*Image, *uploadError) {
	f, header, err := r.FormFile(field)
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		if errors.Is(err, http.ErrMissingFile) {
			return nil, &uploadError{status: http.StatusBadRequest, message: "No file was selected. Please choose a file to upload."}
		}
		return nil, &uploadError{status: http.StatusBadRequest, message: "No file provided"}
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		return nil, &uploadError{status: http.StatusRequestEntityTooLarge, message: fileTooLarge}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		return nil, &uploadError{status: http.StatusInternalServerError, message: "Error reading file. Please try again."}
	}
	if len(data) == 0 {
		return nil, &uploadError{status: http.StatusBadRequest, message: "The selected file is empty."}
	}

	return &Image{
		Data:        data,
		Filename:    header.Filename,
		ContentType: uploadContentType(header),
	}, nil
}

// uploadContentType uses the declared type, falling back to the file extension
func uploadContentType(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
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
