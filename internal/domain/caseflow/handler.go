package caseflow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jrl/collapse-gateway/internal/domain/accesscode"
	"github.com/jrl/collapse-gateway/internal/domain/featurerecord"
	"github.com/jrl/collapse-gateway/internal/domain/label"
	"github.com/jrl/collapse-gateway/internal/platform/backend"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.DropSession)
	api.PUT("/sessions/:id/fields/:key", h.SetField)
	api.PUT("/sessions/:id/label", h.EditLabel)
	api.POST("/sessions/:id/predict", h.Predict)
	api.POST("/sessions/:id/submit", h.ConfirmSubmit)
	api.POST("/sessions/:id/reset", h.Reset)

	api.POST("/codes/request", h.RequestCode)
	api.POST("/excel", h.SubmitExcel)
}

func (h *Handler) CreateSession(c echo.Context) error {
	sess, remembered, err := h.svc.CreateSession(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"session_id":      sess.ID.String(),
		"remembered_code": remembered,
	})
}

func (h *Handler) GetSession(c echo.Context) error {
	view, err := h.svc.Snapshot(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) DropSession(c echo.Context) error {
	h.svc.DropSession(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

type valueBody struct {
	Value string `json:"value"`
}

func (h *Handler) SetField(c echo.Context) error {
	var body valueBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetField(c.Param("id"), c.Param("key"), body.Value); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EditLabel(c echo.Context) error {
	var body valueBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.EditLabel(c.Param("id"), body.Value); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Predict(c echo.Context) error {
	view, err := h.svc.Predict(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view)
}

type submitBody struct {
	Code string `json:"code"`
}

func (h *Handler) ConfirmSubmit(c echo.Context) error {
	var body submitBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ConfirmSubmit(c.Request().Context(), c.Param("id"), body.Code); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "submitted"})
}

func (h *Handler) Reset(c echo.Context) error {
	if err := h.svc.Reset(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RequestCode(c echo.Context) error {
	var identity accesscode.IdentityRequest
	if err := c.Bind(&identity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RequestCode(c.Request().Context(), identity); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "codes_sent"})
}

func (h *Handler) SubmitExcel(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	stored, err := h.svc.SubmitExcel(
		c.Request().Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		f,
	)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"file": stored})
}

// httpError maps domain and upstream errors onto HTTP statuses. Validation
// failures are 422s the operator can fix in place; workflow-order violations
// are 409s; upstream trouble is reported as a bad gateway with the upstream
// message attached.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, featurerecord.ErrUnknownKey):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, featurerecord.ErrInvalidBinaryValue),
		errors.Is(err, label.ErrInvalidLabelValue),
		errors.Is(err, accesscode.ErrInvalidCodeFormat),
		errors.Is(err, accesscode.ErrMissingIdentityField),
		errors.Is(err, accesscode.ErrInvalidEmail),
		errors.Is(err, ErrUnsupportedFileType):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, label.ErrManualEntryRequired),
		errors.Is(err, ErrBusy),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrPredictionRequired),
		errors.Is(err, ErrSuperseded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	var be *backend.BackendError
	if errors.As(err, &be) {
		return echo.NewHTTPError(http.StatusBadGateway, be.Error())
	}
	var ne *backend.NetworkError
	if errors.As(err, &ne) {
		return echo.NewHTTPError(http.StatusBadGateway, ne.Error())
	}

	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
