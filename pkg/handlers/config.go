package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/config"
)

// ClientConfig is the public configuration exposed to browser clients.
type ClientConfig struct {
	BaseURL    string           `json:"base_url"`
	ChatWidget ChatWidgetConfig `json:"chat_widget"`
}

// ChatWidgetConfig mirrors config.ChatWidgetConfig for clients.
type ChatWidgetConfig struct {
	Enabled   bool   `json:"enabled"`
	ScriptURL string `json:"script_url"`
	ProjectID string `json:"project_id"`
	VersionID string `json:"version_id"`
}

// ConfigHandler handles configuration requests.
type ConfigHandler struct {
	config *config.Config
	logger *zap.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		logger: logger,
	}
}

// RegisterRoutes registers the config handler's routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.Get)
	mux.HandleFunc("GET /config.js", h.Script)
}

func (h *ConfigHandler) clientConfig() ClientConfig {
	cw := h.config.ChatWidget
	return ClientConfig{
		BaseURL: h.config.BaseURL,
		ChatWidget: ChatWidgetConfig{
			Enabled:   cw.Enabled,
			ScriptURL: cw.ScriptURL,
			ProjectID: cw.ProjectID,
			VersionID: cw.VersionID,
		},
	}
}

// Get returns public configuration for the frontend.
// GET /api/config
// This endpoint is public (no authentication required).
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := WriteJSON(w, http.StatusOK, h.clientConfig()); err != nil {
		h.logger.Error("Failed to encode config response", zap.Error(err))
	}
}

// Script returns the same configuration as a JavaScript assignment so a page
// can load it with a script tag.
// GET /config.js
func (h *ConfigHandler) Script(w http.ResponseWriter, r *http.Request) {
	body, err := json.Marshal(h.clientConfig())
	if err != nil {
		h.logger.Error("Failed to encode client config", zap.Error(err))
		http.Error(w, "failed to encode config", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if _, err := fmt.Fprintf(w, "window.LABELER_CONFIG = %s;\n", body); err != nil {
		h.logger.Error("Failed to write config script", zap.Error(err))
	}
}
