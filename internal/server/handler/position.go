package handler

import (
	"net/http"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// PositionSource lists pending positions. *position.Book satisfies it.
type PositionSource interface {
	Snapshot() []domain.PendingPosition
	Get(assetID string) (domain.PendingPosition, bool)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionSource
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionSource) *PositionHandler {
	return &PositionHandler{positions: positions}
}

type listPositionsResponse struct {
	Positions []domain.PendingPosition `json:"positions"`
}

// ListPositions returns every position awaiting liquidation.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: h.positions.Snapshot()})
}

// GetPosition returns one position by asset.
// GET /api/positions/{asset}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	p, ok := h.positions.Get(asset)
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
