package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/mapview"
)

// CatalogResponse is the label catalog plus the fixed legend rows.
type CatalogResponse struct {
	*catalog.Catalog
	Legend []mapview.LegendRow `json:"legend"`
}

// CatalogHandler serves the label and classification enumerations.
type CatalogHandler struct {
	catalog *catalog.Catalog
	builder *mapview.Builder
	logger  *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(cat *catalog.Catalog, builder *mapview.Builder, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: cat, builder: builder, logger: logger}
}

// RegisterRoutes registers the catalog handler's routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/catalog", h.Get)
}

// Get handles GET /api/catalog
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeSuccess(w, http.StatusOK, CatalogResponse{
		Catalog: h.catalog,
		Legend:  h.builder.Legend(nil),
	}, h.logger)
}
