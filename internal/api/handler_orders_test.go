package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-booking-backend/internal/model"
)

var shirts = gin.H{"items": []gin.H{{"service": "wash-fold", "quantity": 3}}}

func createOrder(t *testing.T, c *client) model.Order {
	t.Helper()
	rec := c.do(http.MethodPost, "/api/orders", shirts)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[model.Order](t, rec)
}

func TestOrderRoleBoundaries(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "stu@example.com", model.RoleStudent)
	s.createUser(t, "staff@example.com", model.RoleLaundry)
	student := s.login(t, "stu@example.com")
	staff := s.login(t, "staff@example.com")
	o := createOrder(t, student)

	tests := []struct {
		name   string
		client *client
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"anonymous create", s.anonymous(), http.MethodPost, "/api/orders", shirts, http.StatusUnauthorized, "unauthorized"},
		{"anonymous list", s.anonymous(), http.MethodGet, "/api/orders", nil, http.StatusUnauthorized, "unauthorized"},
		{"anonymous advance", s.anonymous(), http.MethodPost, "/api/orders/" + o.ID + "/advance", nil, http.StatusUnauthorized, "unauthorized"},
		{"student advance", student, http.MethodPost, "/api/orders/" + o.ID + "/advance", nil, http.StatusForbidden, "forbidden"},
		{"student delete", student, http.MethodDelete, "/api/orders/" + o.ID, nil, http.StatusForbidden, "forbidden"},
		{"staff create", staff, http.MethodPost, "/api/orders", shirts, http.StatusForbidden, "forbidden"},
		{"staff edits items", staff, http.MethodPut, "/api/orders/" + o.ID + "/items", shirts, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.client.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestOrderRequiresCSRF(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "stu@example.com", model.RoleStudent)
	student := s.login(t, "stu@example.com")

	token := student.csrf
	student.csrf = ""
	rec := student.do(http.MethodPost, "/api/orders", shirts)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "csrf_invalid", errorCode(t, rec))

	student.csrf = "0000"
	rec = student.do(http.MethodPost, "/api/orders", shirts)
	assert.Equal(t, "csrf_invalid", errorCode(t, rec))

	student.csrf = token
	createOrder(t, student)

	// Reads never need the token.
	student.csrf = ""
	assert.Equal(t, http.StatusOK, student.do(http.MethodGet, "/api/orders", nil).Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "stu@example.com", model.RoleStudent)
	s.createUser(t, "staff@example.com", model.RoleLaundry)
	student := s.login(t, "stu@example.com")
	staff := s.login(t, "staff@example.com")

	o := createOrder(t, student)
	assert.Equal(t, model.StatusReceived, o.Status)

	skip := staff.do(http.MethodPost, "/api/orders/"+o.ID+"/advance", gin.H{"target": "drying"})
	assert.Equal(t, http.StatusConflict, skip.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, skip))

	rec := staff.do(http.MethodPost, "/api/orders/"+o.ID+"/advance", gin.H{"target": "washing", "note": "machine 3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "washing", decodeBody[map[string]any](t, rec)["status"])

	locked := student.do(http.MethodPut, "/api/orders/"+o.ID+"/items", shirts)
	assert.Equal(t, http.StatusConflict, locked.Code)
	assert.Equal(t, "order_locked", errorCode(t, locked))

	for _, want := range []string{"drying", "folding", "ready-for-pickup", "completed"} {
		rec := staff.do(http.MethodPost, "/api/orders/"+o.ID+"/advance", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, want, decodeBody[map[string]any](t, rec)["status"])
	}
	terminal := staff.do(http.MethodPost, "/api/orders/"+o.ID+"/advance", nil)
	assert.Equal(t, "invalid_transition", errorCode(t, terminal))

	s.notified.mu.Lock()
	assert.Equal(t, []string{o.ID}, s.notified.ids)
	s.notified.mu.Unlock()

	history := student.do(http.MethodGet, "/api/orders/"+o.ID+"/history", nil)
	require.Equal(t, http.StatusOK, history.Code)
	records := decodeBody[[]model.TrackingRecord](t, history)
	require.Len(t, records, 5)
	assert.Equal(t, model.StatusWashing, records[0].Status)
	assert.Equal(t, "machine 3", records[0].Note)
	assert.Equal(t, model.StatusCompleted, records[4].Status)
}

func TestOrderVisibility(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "one@example.com", model.RoleStudent)
	s.createUser(t, "two@example.com", model.RoleStudent)
	s.createUser(t, "admin@example.com", model.RoleAdmin)
	one := s.login(t, "one@example.com")
	two := s.login(t, "two@example.com")
	admin := s.login(t, "admin@example.com")

	mine := createOrder(t, one)
	createOrder(t, two)

	assert.Equal(t, http.StatusNotFound, two.do(http.MethodGet, "/api/orders/"+mine.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, two.do(http.MethodGet, "/api/orders/"+mine.ID+"/history", nil).Code)
	assert.Equal(t, http.StatusNotFound, two.do(http.MethodPut, "/api/orders/"+mine.ID+"/items", shirts).Code)
	assert.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/orders/"+mine.ID, nil).Code)

	ownList := decodeBody[[]model.Order](t, one.do(http.MethodGet, "/api/orders", nil))
	require.Len(t, ownList, 1)
	assert.Equal(t, mine.ID, ownList[0].ID)

	all := decodeBody[[]model.Order](t, admin.do(http.MethodGet, "/api/orders?status=received", nil))
	assert.Len(t, all, 2)
	assert.Equal(t, http.StatusBadRequest, admin.do(http.MethodGet, "/api/orders?status=lost", nil).Code)
}

func TestOrderEditAndDelete(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "stu@example.com", model.RoleStudent)
	s.createUser(t, "staff@example.com", model.RoleLaundry)
	student := s.login(t, "stu@example.com")
	staff := s.login(t, "staff@example.com")
	o := createOrder(t, student)

	rec := student.do(http.MethodPut, "/api/orders/"+o.ID+"/items", gin.H{"items": []gin.H{{"service": "dry-clean", "quantity": 1}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "dry-clean", decodeBody[model.Order](t, rec).Items[0].Service)

	empty := student.do(http.MethodPost, "/api/orders", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	assert.Equal(t, http.StatusNoContent, staff.do(http.MethodDelete, "/api/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, staff.do(http.MethodDelete, "/api/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, staff.do(http.MethodPost, "/api/orders/"+o.ID+"/advance", nil).Code)
}

func TestBoardIsPublicAndInvalidated(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "stu@example.com", model.RoleStudent)
	s.createUser(t, "staff@example.com", model.RoleLaundry)

	type board struct {
		Counts   map[string]int `json:"counts"`
		Statuses []string       `json:"statuses"`
	}
	anon := s.anonymous()
	first := anon.do(http.MethodGet, "/api/board", nil)
	require.Equal(t, http.StatusOK, first.Code)
	b := decodeBody[board](t, first)
	assert.Equal(t, 0, b.Counts["received"])
	assert.Len(t, b.Statuses, 6)

	hit := anon.do(http.MethodGet, "/api/board", nil)
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))

	student := s.login(t, "stu@example.com")
	o := createOrder(t, student)
	fresh := anon.do(http.MethodGet, "/api/board", nil)
	assert.Empty(t, fresh.Header().Get("X-Cache"))
	assert.Equal(t, 1, decodeBody[board](t, fresh).Counts["received"])

	staff := s.login(t, "staff@example.com")
	require.Equal(t, http.StatusOK, staff.do(http.MethodPost, "/api/orders/"+o.ID+"/advance", nil).Code)
	after := decodeBody[board](t, anon.do(http.MethodGet, "/api/board", nil))
	assert.Equal(t, 0, after.Counts["received"])
	assert.Equal(t, 1, after.Counts["washing"])
}
