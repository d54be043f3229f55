package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/users"
)

type fakeBootstrapService struct {
	admin *models.User
	err   error

	lastParams users.RegisterParams
}

func (f *fakeBootstrapService) BootstrapAdmin(_ context.Context, params users.RegisterParams) (*models.User, error) {
	f.lastParams = params
	return f.admin, f.err
}

func newBootstrapTestRouter(bs *fakeBootstrapService, ss *fakeSessionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewBootstrapHandlers(bs, ss)

	r := gin.New()
	r.POST("/bootstrap/admin", h.CreateAdminHandler())
	return r
}

func TestBootstrapAdmin_CreatesAdminAndSession(t *testing.T) {
	admin := testUser("admin-1")
	admin.IsAdmin = true
	bs := &fakeBootstrapService{admin: admin}
	ss := &fakeSessionService{created: testSession("s1", "admin-1", "tok-boot")}
	r := newBootstrapTestRouter(bs, ss)

	w := doJSON(r, http.MethodPost, "/bootstrap/admin",
		`{"employee_id":"emp-0001","password":"correcthorsebattery"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "emp-0001", bs.lastParams.EmployeeID)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok-boot", resp["token"])
	user := resp["user"].(map[string]interface{})
	assert.Equal(t, true, user["is_admin"])
}

func TestBootstrapAdmin_MissingFields(t *testing.T) {
	r := newBootstrapTestRouter(&fakeBootstrapService{}, &fakeSessionService{})

	w := doJSON(r, http.MethodPost, "/bootstrap/admin", `{"employee_id":"emp-0001"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBootstrapAdmin_InvalidInput(t *testing.T) {
	bs := &fakeBootstrapService{err: users.ErrInvalidInput}
	r := newBootstrapTestRouter(bs, &fakeSessionService{})

	w := doJSON(r, http.MethodPost, "/bootstrap/admin",
		`{"employee_id":"x","password":"short"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
