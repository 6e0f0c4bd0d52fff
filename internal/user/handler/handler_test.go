package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"microcred/internal/user/handler/mocks"
	"microcred/internal/user/models"
	dErrors "microcred/pkg/domain-errors"
	"microcred/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

func newTestRouter(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, svc
}

func post(t *testing.T, r chi.Router, path, body string) *httptest.ResponseRecorder {
	return testutil.Serve(r, testutil.NewJSONRequest(t, http.MethodPost, path, body))
}

func TestHandleRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r, svc := newTestRouter(t)
		svc.EXPECT().Register(gomock.Any(), models.RegisterRequest{UserID: "alice", Password: "pw", Email: "a@example.com"}).
			Return(&models.User{UserID: "alice"}, nil)

		rr := post(t, r, "/api/register", `{"userId":" alice ","password":"pw","email":"a@example.com"}`)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	})

	t.Run("missing password is 400", func(t *testing.T) {
		r, _ := newTestRouter(t)

		rr := post(t, r, "/api/register", `{"userId":"alice"}`)
		testutil.AssertError(t, rr, http.StatusBadRequest, "userId and password are required")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		r, _ := newTestRouter(t)

		rr := post(t, r, "/api/register", `{"userId":`)
		testutil.AssertError(t, rr, http.StatusBadRequest, "invalid request body")
	})

	t.Run("duplicate is 409", func(t *testing.T) {
		r, svc := newTestRouter(t)
		svc.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeConflict, "User already exists"))

		rr := post(t, r, "/api/register", `{"userId":"alice","password":"pw"}`)
		testutil.AssertError(t, rr, http.StatusConflict, "User already exists")
	})
}

func TestHandleLogin(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.EXPECT().Login(gomock.Any(), models.LoginRequest{Username: "bob", Password: "anything"}).Return(nil)

	rr := post(t, r, "/api/login", `{"username":"bob","password":"anything"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
}
