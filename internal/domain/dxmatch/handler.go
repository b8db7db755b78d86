package dxmatch

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/dxmatch/internal/platform/auth"
	"github.com/ehr/dxmatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Query endpoints – clinician, admin
	readGroup := api.Group("", auth.RequireRole("clinician"))
	readGroup.POST("/similarity", h.Similarity)
	readGroup.POST("/rankings", h.Rankings)
	readGroup.POST("/matches", h.Matches)
	readGroup.POST("/diagnostic-counts", h.DiagnosticCounts)
	readGroup.POST("/diagnoses", h.Diagnose)
	readGroup.GET("/population", h.GetPopulation)

	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/population/reload", h.ReloadPopulation)
}

type similarityRequest struct {
	A SymptomProfile `json:"a"`
	B SymptomProfile `json:"b"`
}

type queryRequest struct {
	Query SymptomProfile `json:"query"`
	N     *int           `json:"n,omitempty"`
}

type countRequest struct {
	PatientIDs []PatientID `json:"patient_ids"`
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrPopulationNotLoaded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrUnknownPatient):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrEmptyPatientSet), errors.Is(err, ErrNegativeTopN):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) topN(req queryRequest) int {
	if req.N == nil {
		return h.svc.DefaultTopN()
	}
	return *req.N
}

func (h *Handler) Similarity(c echo.Context) error {
	var req similarityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"score": h.svc.Similarity(req.A, req.B)})
}

func (h *Handler) Rankings(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ranked, err := h.svc.Rank(req.Query)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Window(ranked, pg), len(ranked), pg))
}

func (h *Handler) Matches(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ids, err := h.svc.TopMatches(req.Query, h.topN(req))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string][]PatientID{"patient_ids": ids})
}

func (h *Handler) DiagnosticCounts(c echo.Context) error {
	var req countRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	freq, err := h.svc.CountDiagnoses(req.PatientIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]DiagnosisFrequency{"frequencies": freq})
}

func (h *Handler) Diagnose(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Diagnose(req.Query, h.topN(req))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetPopulation(c echo.Context) error {
	st, err := h.svc.Stats()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ReloadPopulation(c echo.Context) error {
	st, err := h.svc.Reload(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}
