package caseflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo, *fakeUpstream) {
	svc, up, _ := newTestService()
	return NewHandler(svc), echo.New(), up
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_CreateSession(t *testing.T) {
	h, e, _ := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/sessions", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["session_id"] == "" {
		t.Error("expected a session_id")
	}
}

func TestHandler_SetField(t *testing.T) {
	h, e, _ := newTestHandler()
	id := openSession(t, h.svc)

	req := jsonRequest(http.MethodPut, "/", `{"value":"45"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "key")
	c.SetParamValues(id, "shaftangle")

	if err := h.SetField(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_SetField_BinaryRejected(t *testing.T) {
	h, e, _ := newTestHandler()
	id := openSession(t, h.svc)

	req := jsonRequest(http.MethodPut, "/", `{"value":"2"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "key")
	c.SetParamValues(id, "male")

	err := h.SetField(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 HTTPError, got %v", err)
	}
}

func TestHandler_SetField_UnknownKey(t *testing.T) {
	h, e, _ := newTestHandler()
	id := openSession(t, h.svc)

	req := jsonRequest(http.MethodPut, "/", `{"value":"1"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "key")
	c.SetParamValues(id, "femur")

	err := h.SetField(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 HTTPError, got %v", err)
	}
}

func TestHandler_Predict(t *testing.T) {
	h, e, _ := newTestHandler()
	id := openSession(t, h.svc)

	req := jsonRequest(http.MethodPost, "/", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.Predict(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var view PredictionView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.Prediction != 1 || view.RiskLabel != "High Risk" {
		t.Errorf("view = %+v", view)
	}
}

func TestHandler_Predict_UnknownSession(t *testing.T) {
	h, e, _ := newTestHandler()

	req := jsonRequest(http.MethodPost, "/", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.Predict(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 HTTPError, got %v", err)
	}
}

func TestHandler_SubmitFlow(t *testing.T) {
	h, e, up := newTestHandler()
	id := openSession(t, h.svc)
	ctx := context.Background()

	h.svc.Predict(ctx, id)

	// Unedited label: submission conflicts and the field clears.
	req := jsonRequest(http.MethodPost, "/", `{"code":"PERM-AB12CD"}`)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	err := h.ConfirmSubmit(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 HTTPError, got %v", err)
	}

	// Typed label: submission goes through.
	req = jsonRequest(http.MethodPut, "/", `{"value":"1"}`)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.EditLabel(c); err != nil {
		t.Fatalf("EditLabel: %v", err)
	}

	req = jsonRequest(http.MethodPost, "/", `{"code":"PERM-AB12CD"}`)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.ConfirmSubmit(c); err != nil {
		t.Fatalf("ConfirmSubmit: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(up.submitted) != 1 {
		t.Errorf("expected 1 upstream submission, got %d", len(up.submitted))
	}
}

func TestHandler_GetSession(t *testing.T) {
	h, e, _ := newTestHandler()
	id := openSession(t, h.svc)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.GetSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var view SessionView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.SessionID != id || view.Phase != PhaseIdle {
		t.Errorf("view = %+v", view)
	}
	if len(view.Features) != 18 {
		t.Errorf("snapshot has %d features, want 18", len(view.Features))
	}
}

func TestHandler_RequestCode(t *testing.T) {
	h, e, _ := newTestHandler()

	body := `{"email":"dr@clinic.org","institution":"Clinic","first":"Ada","last":"Smith"}`
	req := jsonRequest(http.MethodPost, "/api/v1/codes/request", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RequestCode(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
}

func TestHandler_RequestCode_BadEmail(t *testing.T) {
	h, e, _ := newTestHandler()

	body := `{"email":"not-an-email","institution":"Clinic","first":"Ada","last":"Smith"}`
	req := jsonRequest(http.MethodPost, "/api/v1/codes/request", body)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.RequestCode(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 HTTPError, got %v", err)
	}
}

func excelRequest(t *testing.T, filename, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("sheet-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/excel", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}

func TestHandler_SubmitExcel(t *testing.T) {
	h, e, up := newTestHandler()
	up.excelFile = "labraltearForModel.xlsx"

	req := excelRequest(t, "cohort.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SubmitExcel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["file"] != "labraltearForModel.xlsx" {
		t.Errorf("file = %q", body["file"])
	}
}

func TestHandler_SubmitExcel_WrongMIME(t *testing.T) {
	h, e, up := newTestHandler()

	req := excelRequest(t, "rows.csv", "text/csv")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.SubmitExcel(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 HTTPError, got %v", err)
	}
	if up.excelCalls != 0 {
		t.Error("rejected file reached upstream")
	}
}

func TestHandler_SubmitExcel_MissingFile(t *testing.T) {
	h, e, _ := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/v1/excel", "{}")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.SubmitExcel(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 HTTPError, got %v", err)
	}
}

func TestHandler_DropSession(t *testing.T) {
	h, e, _ := newTestHandler()
	id := openSession(t, h.svc)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	if err := h.DropSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, err := h.svc.Snapshot(id); err == nil {
		t.Error("session still present after delete")
	}
}
