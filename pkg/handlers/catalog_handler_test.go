package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/mapview"
)

func TestCatalogHandler_Get(t *testing.T) {
	cat := catalog.Default()
	h := NewCatalogHandler(cat, mapview.NewBuilder(cat, mapview.DefaultOptions()), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    CatalogResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Len(t, resp.Data.Components, len(cat.Components))
	assert.Equal(t, cat.Classifications, resp.Data.Classifications)
	require.Len(t, resp.Data.Legend, 3)
	assert.Equal(t, mapview.LegendNewlyDrawn, resp.Data.Legend[0].Label)
	assert.Equal(t, mapview.LegendBoundary, resp.Data.Legend[2].Label)
}
