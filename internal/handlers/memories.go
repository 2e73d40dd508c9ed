package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/jarvis-web/internal/models"
)

// HandleMemories lists the memory bank on GET, filtered by the "q" query parameter when present, and
// stores a new memory from a JSON body on POST.
func (m Main) HandleMemories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var (
			memories []models.MemoryEntry
			err      error
		)
		if q := r.URL.Query().Get("q"); q != "" {
			memories, err = m.memories.Search(r.Context(), q)
		} else {
			memories, err = m.memories.Memories(r.Context())
		}
		if err != nil {
			m.logger.Error("Failed to get memories", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, memories, m.logger)
	case http.MethodPost:
		var memory models.MemoryEntry
		if err := json.NewDecoder(r.Body).Decode(&memory); err != nil {
			http.Error(w, "Invalid memory: "+err.Error(), http.StatusBadRequest)
			return
		}
		id, err := m.memories.AddMemory(r.Context(), memory)
		if err != nil {
			m.handleMemoryError(w, err)
			return
		}
		memory, err = m.memories.Memory(r.Context(), id)
		if err != nil {
			m.handleMemoryError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, memory, m.logger)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMemory returns the memory named by the "id" path value on GET and removes it on DELETE.
func (m Main) HandleMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		memory, err := m.memories.Memory(r.Context(), id)
		if err != nil {
			m.handleMemoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, memory, m.logger)
	case http.MethodDelete:
		if err := m.memories.DeleteMemory(r.Context(), id); err != nil {
			m.handleMemoryError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMemoryStats returns the summary numbers of the memory bank.
func (m Main) HandleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := m.memories.Stats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get memory stats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats, m.logger)
}

func (m Main) handleMemoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrMemoryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidMemory):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		m.logger.Error("Memory bank failed", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
