package handlers

import (
	"io/fs"
	"log/slog"
	"net/http"
)

// Home serves the single chat page.
type Home struct {
	page   []byte
	logger *slog.Logger
}

// NewHome reads index.html from static.
func NewHome(static fs.FS, logger *slog.Logger) (Home, error) {
	page, err := fs.ReadFile(static, "index.html")
	if err != nil {
		return Home{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Home{page: page, logger: logger.With(slog.String("module", "home"))}, nil
}

func (h Home) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(h.page); err != nil {
		h.logger.Error("Failed to write page", slog.String(errLoggerKey, err.Error()))
	}
}
