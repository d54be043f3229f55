package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/users"
)

// ---- fakes -------------------------------------------------------------------

type fakeUserService struct {
	registerUser *models.User
	registerErr  error
	authUser     *models.User
	authErr      error
	byID         map[string]*models.User

	lastRegister users.RegisterParams
}

func (f *fakeUserService) Register(_ context.Context, params users.RegisterParams) (*models.User, error) {
	f.lastRegister = params
	return f.registerUser, f.registerErr
}

func (f *fakeUserService) Authenticate(_ context.Context, _, _, _ string) (*models.User, error) {
	return f.authUser, f.authErr
}

func (f *fakeUserService) GetByID(_ context.Context, id string) (*models.User, error) {
	return f.byID[id], nil
}

type fakeSessionService struct {
	created    *models.Session
	createErr  error
	refreshed  *models.Session
	refreshErr error
	destroyErr error
	list       []*models.Session
	listErr    error
	destroyed  int

	destroyedToken string
	keptToken      string
}

func (f *fakeSessionService) Create(_ context.Context, _, _, _ string) (*models.Session, error) {
	return f.created, f.createErr
}

func (f *fakeSessionService) Refresh(_ context.Context, _ string) (*models.Session, error) {
	return f.refreshed, f.refreshErr
}

func (f *fakeSessionService) Destroy(_ context.Context, token string) error {
	f.destroyedToken = token
	return f.destroyErr
}

func (f *fakeSessionService) DestroyAllForUser(_ context.Context, _, keepToken string) (int, error) {
	f.keptToken = keepToken
	return f.destroyed, nil
}

func (f *fakeSessionService) ListForUser(_ context.Context, _ string) ([]*models.Session, error) {
	return f.list, f.listErr
}

// ---- test data ---------------------------------------------------------------

func testUser(id string) *models.User {
	name := "Test User"
	return &models.User{
		ID:          id,
		EmployeeID:  "emp-" + id,
		DisplayName: &name,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func testSession(id, userID, token string) *models.Session {
	return &models.Session{
		ID:             id,
		UserID:         userID,
		Token:          token,
		IsActive:       true,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
		ExpiresAt:      time.Now().Add(8 * time.Hour),
	}
}

// seedIdentity mimics AuthMiddleware populating the request context.
func seedIdentity(user *models.User, sess *models.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Set("user", user)
			c.Set("user_id", user.ID)
		}
		if sess != nil {
			c.Set("session", sess)
			c.Set("auth_method", "session")
		} else if user != nil {
			c.Set("auth_method", "jwt")
		}
		c.Next()
	}
}

func newAuthTestRouter(us *fakeUserService, ss *fakeSessionService, user *models.User, sess *models.Session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandlers(us, ss)

	r := gin.New()
	r.POST("/auth/register", h.RegisterHandler())
	r.POST("/auth/login", h.LoginHandler())

	authed := r.Group("/", seedIdentity(user, sess))
	authed.POST("/auth/logout", h.LogoutHandler())
	authed.POST("/auth/refresh", h.RefreshHandler())
	authed.POST("/auth/token", h.TokenHandler())
	authed.GET("/auth/me", h.MeHandler())
	authed.GET("/auth/sessions", h.ListSessionsHandler())
	authed.DELETE("/auth/sessions", h.DestroySessionsHandler())
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---- register ----------------------------------------------------------------

func TestRegister_Success(t *testing.T) {
	us := &fakeUserService{registerUser: testUser("u1")}
	r := newAuthTestRouter(us, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/register",
		`{"employee_id":"emp-1001","password":"hunter2hunter2","display_name":"Ada"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "emp-1001", us.lastRegister.EmployeeID)
	require.NotNil(t, us.lastRegister.DisplayName)
	assert.Equal(t, "Ada", *us.lastRegister.DisplayName)

	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp["user"]["id"])
	assert.NotContains(t, resp["user"], "password_hash")
}

func TestRegister_MissingFields(t *testing.T) {
	r := newAuthTestRouter(&fakeUserService{}, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/register", `{"employee_id":"emp-1001"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_NotOnAllowList(t *testing.T) {
	us := &fakeUserService{registerErr: users.ErrNotOnAllowList}
	r := newAuthTestRouter(us, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/register",
		`{"employee_id":"emp-1001","password":"hunter2hunter2"}`)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegister_DuplicateEmployeeID(t *testing.T) {
	us := &fakeUserService{registerErr: users.ErrEmployeeIDTaken}
	r := newAuthTestRouter(us, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/register",
		`{"employee_id":"emp-1001","password":"hunter2hunter2"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

// ---- login -------------------------------------------------------------------

func TestLogin_Success(t *testing.T) {
	user := testUser("u1")
	sess := testSession("s1", "u1", "tok-abc")
	us := &fakeUserService{authUser: user}
	ss := &fakeSessionService{created: sess}
	r := newAuthTestRouter(us, ss, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/login",
		`{"employee_id":"emp-u1","password":"hunter2hunter2"}`)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok-abc", resp["token"])
	assert.NotEmpty(t, resp["expires_at"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	us := &fakeUserService{authErr: users.ErrInvalidCredentials}
	r := newAuthTestRouter(us, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/login",
		`{"employee_id":"emp-u1","password":"wrong"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_InactiveUser(t *testing.T) {
	us := &fakeUserService{authErr: users.ErrUserInactive}
	r := newAuthTestRouter(us, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/login",
		`{"employee_id":"emp-u1","password":"hunter2hunter2"}`)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ---- logout & refresh ----------------------------------------------------------

func TestLogout_DestroysCurrentSession(t *testing.T) {
	user := testUser("u1")
	sess := testSession("s1", "u1", "tok-abc")
	ss := &fakeSessionService{}
	r := newAuthTestRouter(&fakeUserService{}, ss, user, sess)

	w := doJSON(r, http.MethodPost, "/auth/logout", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "tok-abc", ss.destroyedToken)
}

func TestLogout_JWTCaller(t *testing.T) {
	r := newAuthTestRouter(&fakeUserService{}, &fakeSessionService{}, testUser("u1"), nil)

	w := doJSON(r, http.MethodPost, "/auth/logout", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout_AlreadyDestroyedIsIdempotent(t *testing.T) {
	user := testUser("u1")
	sess := testSession("s1", "u1", "tok-abc")
	ss := &fakeSessionService{} // Destroy returns nil even for a gone token
	r := newAuthTestRouter(&fakeUserService{}, ss, user, sess)

	assert.Equal(t, http.StatusNoContent, doJSON(r, http.MethodPost, "/auth/logout", "").Code)
	assert.Equal(t, http.StatusNoContent, doJSON(r, http.MethodPost, "/auth/logout", "").Code)
}

func TestRefresh_ExtendsSession(t *testing.T) {
	user := testUser("u1")
	sess := testSession("s1", "u1", "tok-abc")
	refreshed := testSession("s1", "u1", "tok-abc")
	refreshed.ExpiresAt = time.Now().Add(24 * time.Hour)
	ss := &fakeSessionService{refreshed: refreshed}
	r := newAuthTestRouter(&fakeUserService{}, ss, user, sess)

	w := doJSON(r, http.MethodPost, "/auth/refresh", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["expires_at"])
}

func TestRefresh_ExpiredSession(t *testing.T) {
	user := testUser("u1")
	sess := testSession("s1", "u1", "tok-abc")
	ss := &fakeSessionService{refreshErr: session.ErrSessionExpired}
	r := newAuthTestRouter(&fakeUserService{}, ss, user, sess)

	w := doJSON(r, http.MethodPost, "/auth/refresh", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ---- token -----------------------------------------------------------------

func TestToken_IssuesJWT(t *testing.T) {
	t.Setenv("QG_JWT_SECRET", "jwt-secret-for-handler-tests-32ch!")
	user := testUser("u1")
	sess := testSession("s1", "u1", "tok-abc")
	r := newAuthTestRouter(&fakeUserService{}, &fakeSessionService{}, user, sess)

	w := doJSON(r, http.MethodPost, "/auth/token", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresAt   string `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body.TokenType)
	assert.NotEmpty(t, body.ExpiresAt)

	claims, err := auth.ValidateJWT(body.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "emp-u1", claims.EmployeeID)
}

func TestToken_RequiresAuthentication(t *testing.T) {
	r := newAuthTestRouter(&fakeUserService{}, &fakeSessionService{}, nil, nil)

	w := doJSON(r, http.MethodPost, "/auth/token", "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ---- me & sessions -------------------------------------------------------------

func TestMe_ReturnsCurrentUser(t *testing.T) {
	user := testUser("u1")
	r := newAuthTestRouter(&fakeUserService{}, &fakeSessionService{}, user, nil)

	w := doJSON(r, http.MethodGet, "/auth/me", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "emp-u1", resp["user"]["employee_id"])
}

func TestListSessions_MarksCurrent(t *testing.T) {
	user := testUser("u1")
	current := testSession("s1", "u1", "tok-abc")
	other := testSession("s2", "u1", "tok-def")
	ss := &fakeSessionService{list: []*models.Session{current, other}}
	r := newAuthTestRouter(&fakeUserService{}, ss, user, current)

	w := doJSON(r, http.MethodGet, "/auth/sessions", "")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp["sessions"], 2)
	assert.Equal(t, true, resp["sessions"][0]["current"])
	assert.Equal(t, false, resp["sessions"][1]["current"])
	assert.NotContains(t, resp["sessions"][0], "token")
}

func TestDestroySessions_KeepsCurrent(t *testing.T) {
	user := testUser("u1")
	current := testSession("s1", "u1", "tok-abc")
	ss := &fakeSessionService{destroyed: 2}
	r := newAuthTestRouter(&fakeUserService{}, ss, user, current)

	w := doJSON(r, http.MethodDelete, "/auth/sessions", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok-abc", ss.keptToken)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["destroyed"])
}
