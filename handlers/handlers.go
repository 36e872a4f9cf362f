package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meshconv/config"
	"meshconv/converters"
	"meshconv/models"
)

// ConversionHandler owns the HTTP surface of the service. It is explicitly
// constructed with its configuration so tests can instantiate it in
// isolation.
type ConversionHandler struct {
	cfg       config.Config
	converter *converters.GmshConverter
	logger    *logrus.Logger
}

func NewConversionHandler(cfg config.Config, converter *converters.GmshConverter, logger *logrus.Logger) *ConversionHandler {
	return &ConversionHandler{cfg: cfg, converter: converter, logger: logger}
}

// Routes returns the route table for the service.
func (h *ConversionHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HandleIndex)
	mux.HandleFunc("/convert", h.HandleConvert)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

// HandleIndex serves the upload page.
func (h *ConversionHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := os.ReadFile(filepath.Join(h.cfg.StaticDir, "index.html"))
	if err != nil {
		h.writeError(w, models.WrapError(models.KindUnexpected, "index.html not found", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// HandleConvert accepts one uploaded IGES file, converts it, and streams
// the resulting OBJ back as an attachment.
func (h *ConversionHandler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	reqID := uuid.New().String()
	log := h.logger.WithField("request_id", reqID)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, models.WrapError(models.KindValidation, "invalid multipart form", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, models.NewError(models.KindValidation, "no file provided"))
		return
	}
	defer file.Close()

	// Extension check happens before any filesystem or subprocess work.
	if !validExtension(header.Filename) {
		h.writeError(w, models.NewError(models.KindValidation, "invalid file type: please upload an .igs or .iges file"))
		return
	}

	stagingDir := filepath.Join(h.cfg.StagingRoot, "mesh-"+reqID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		h.writeError(w, models.WrapError(models.KindUnexpected, "failed to create staging directory", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(stagingDir); err != nil {
			log.WithError(err).Warn("failed to remove staging directory")
		}
	}()

	log.WithField("filename", header.Filename).Info("starting conversion")
	start := time.Now()

	outputPath, err := h.converter.Convert(r.Context(), stagingDir, file)
	if err != nil {
		cerr := models.AsError(err)
		log.WithField("kind", cerr.Kind).WithError(cerr).Error("conversion failed")
		h.writeError(w, cerr)
		return
	}
	log.WithField("duration", time.Since(start)).Info("conversion finished")

	out, err := os.Open(outputPath)
	if err != nil {
		h.writeError(w, models.WrapError(models.KindUnexpected, "failed to open conversion result", err))
		return
	}
	defer out.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(header.Filename)))
	_, _ = io.Copy(w, out)
}

// HandleHealth returns a liveness check.
func (h *ConversionHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"ts":     time.Now().Format(time.RFC3339),
	})
}

// validExtension reports whether the uploaded filename carries an IGES
// suffix. The match is case-sensitive.
func validExtension(name string) bool {
	return strings.HasSuffix(name, ".igs") || strings.HasSuffix(name, ".iges")
}

// downloadName derives the suggested attachment name from the upload's
// filename stem, e.g. "my_model.igs" becomes "my_model.obj".
func downloadName(original string) string {
	base := filepath.Base(original)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".obj"
}

func (h *ConversionHandler) writeError(w http.ResponseWriter, err *models.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: err.Error(),
		Kind:  string(err.Kind),
	})
}
