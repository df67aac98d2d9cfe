package appointment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medsched/medsched/internal/platform/auth"
	"github.com/medsched/medsched/internal/platform/middleware"
	"github.com/medsched/medsched/pkg/pagination"
)

func newTestContext(method, target, body string, actor Actor) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = middleware.NewValidator()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor.ID != uuid.Nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), actor.ID.String(), actor.Roles))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError with %d, got %T (%v)", code, err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func TestHandler_Book(t *testing.T) {
	f := newFixture(t, 1)
	h := NewHandler(f.svc)
	body := fmt.Sprintf(`{"doctorId":%q,"date":"2024-06-01","startTime":"09:00","reason":"checkup"}`, f.doctor)

	c, rec := newTestContext(http.MethodPost, "/appointments", body, f.patientActor())
	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PatientID != f.patient {
		t.Errorf("expected patient %s, got %s", f.patient, got.PatientID)
	}
	if got.Reason == nil || *got.Reason != "checkup" {
		t.Errorf("expected reason checkup, got %v", got.Reason)
	}

	c, _ = newTestContext(http.MethodPost, "/appointments", body, f.patientActor())
	expectHTTPStatus(t, h.Book(c), http.StatusConflict)
}

func TestHandler_BookBadInput(t *testing.T) {
	f := newFixture(t, 1)
	h := NewHandler(f.svc)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{"doctorId":`, http.StatusBadRequest},
		{"bad time", fmt.Sprintf(`{"doctorId":%q,"date":"2024-06-01","startTime":"9am"}`, f.doctor), http.StatusBadRequest},
		{"reason too long", fmt.Sprintf(`{"doctorId":%q,"date":"2024-06-01","startTime":"09:00","reason":%q}`, f.doctor, strings.Repeat("x", 501)), http.StatusBadRequest},
		{"missing doctor", `{"date":"2024-06-01","startTime":"09:00"}`, http.StatusBadRequest},
		{"missing start time", fmt.Sprintf(`{"doctorId":%q,"date":"2024-06-01"}`, f.doctor), http.StatusBadRequest},
		{"null start time", fmt.Sprintf(`{"doctorId":%q,"date":"2024-06-01","startTime":null}`, f.doctor), http.StatusBadRequest},
		{"no slot", fmt.Sprintf(`{"doctorId":%q,"date":"2024-06-01","startTime":"13:00"}`, f.doctor), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodPost, "/appointments", tt.body, f.patientActor())
			expectHTTPStatus(t, h.Book(c), tt.code)
		})
	}
}

func TestHandler_GetAndChangeStatus(t *testing.T) {
	f := newFixture(t, 1)
	h := NewHandler(f.svc)
	appt := f.book(t)

	c, rec := newTestContext(http.MethodGet, "/appointments/"+appt.ID.String(), "", f.doctorActor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	stranger := Actor{ID: uuid.New(), Roles: []string{auth.RolePatient}}
	c, _ = newTestContext(http.MethodGet, "/appointments/"+appt.ID.String(), "", stranger)
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	expectHTTPStatus(t, h.Get(c), http.StatusNotFound)

	c, _ = newTestContext(http.MethodPatch, "/", `{"status":"confirmed"}`, f.patientActor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	expectHTTPStatus(t, h.ChangeStatus(c), http.StatusForbidden)

	c, rec = newTestContext(http.MethodPatch, "/", `{"status":"cancelled","reason":"travel"}`, f.patientActor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	if err := h.ChangeStatus(c); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if n := f.booked(t); n != 0 {
		t.Errorf("expected slot released, got %d bookings", n)
	}

	c, _ = newTestContext(http.MethodPatch, "/", `{"status":"confirmed"}`, f.doctorActor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	expectHTTPStatus(t, h.ChangeStatus(c), http.StatusConflict)

	c, _ = newTestContext(http.MethodPatch, "/", `{}`, f.doctorActor())
	c.SetParamNames("id")
	c.SetParamValues(appt.ID.String())
	expectHTTPStatus(t, h.ChangeStatus(c), http.StatusBadRequest)

	c, _ = newTestContext(http.MethodPatch, "/", `{"status":"cancelled"}`, f.doctorActor())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPStatus(t, h.ChangeStatus(c), http.StatusBadRequest)
}

func TestHandler_List(t *testing.T) {
	f := newFixture(t, 3)
	h := NewHandler(f.svc)
	f.book(t)
	f.book(t)

	c, rec := newTestContext(http.MethodGet, "/appointments?limit=1&status=scheduled&from=2024-06-01&to=2024-06-30", "", f.doctorActor())
	if err := h.List(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("expected first page of 1 out of 2 with more, got %d/%d more=%v", len(resp.Data), resp.Total, resp.HasMore)
	}

	for _, q := range []string{"?limit=x", "?doctor_id=nope", "?from=06-01-2024", "?status=unknown", "?from=2024-06-02&to=2024-06-01"} {
		c, _ := newTestContext(http.MethodGet, "/appointments"+q, "", f.doctorActor())
		expectHTTPStatus(t, h.List(c), http.StatusBadRequest)
	}

	c, rec = newTestContext(http.MethodGet, fmt.Sprintf("/appointments?limit=%d", pagination.MaxLimit+50), "", f.doctorActor())
	if err := h.List(c); err != nil {
		t.Fatalf("list with large limit: %v", err)
	}
	if !strings.Contains(rec.Body.String(), fmt.Sprintf(`"limit":%d`, pagination.MaxLimit)) {
		t.Errorf("expected limit capped at %d, got %s", pagination.MaxLimit, rec.Body.String())
	}
}

func TestHandler_RequiresIdentity(t *testing.T) {
	f := newFixture(t, 1)
	h := NewHandler(f.svc)
	c, _ := newTestContext(http.MethodGet, "/appointments", "", Actor{})
	expectHTTPStatus(t, h.List(c), http.StatusUnauthorized)
}
