package handler

import (
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// StatusSource reports the live bot state.
type StatusSource interface {
	Status() domain.BotStatus
}

// StatusHandler serves the bot status summary.
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// GetStatus responds with mode, feed state, queue depth and position count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status())
}
