package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/typelark/fontdex/models"
)

type searcher interface {
	Search(ctx context.Context, message string, history []models.ChatMessage) (models.SearchResponse, error)
}

// SearchHandler exposes the font search pipeline.
type SearchHandler struct {
	Orch searcher
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
}

func (h *SearchHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	resp, err := h.Orch.Search(c.Request().Context(), req.Message, req.History)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}
