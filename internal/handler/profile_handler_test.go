package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/hirescout/internal/model"
	"github.com/hitoshi/hirescout/internal/security"
)

func newTestProfileHandler(links *stubLinks) *ProfileHandler {
	validator := security.NewProfileValidator(security.NewContentSanitizer(), links)
	return NewProfileHandler(validator, links)
}

func TestProfileHandler_UpdateProfile_NoUser(t *testing.T) {
	env := newTestEnv(t, nil)

	w := httptest.NewRecorder()
	newTestProfileHandler(&stubLinks{}).UpdateProfile(w, newJSONRequest(t, env.ctrl, http.MethodPatch, "/api/profile",
		map[string]any{"name": "Ann"}))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var res model.Result
	decodeBody(t, w, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "No user logged in", res.Error)
}

func TestProfileHandler_UpdateProfile_MergesLocally(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))

	w := httptest.NewRecorder()
	newTestProfileHandler(&stubLinks{}).UpdateProfile(w, newJSONRequest(t, env.ctrl, http.MethodPatch, "/api/profile",
		map[string]any{"name": "<b>Ann</b> Lee", "college": "State University"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp profileResponse
	decodeBody(t, w, &resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Profile)
	assert.Equal(t, "Ann Lee", resp.Profile.Name)
	require.NotNil(t, resp.Profile.College)
	assert.Equal(t, "State University", *resp.Profile.College)

	stored, err := env.store.FindProfile(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", stored.Name)
	assert.Equal(t, model.DefaultPrepCount, stored.PrepCount)
}

func TestProfileHandler_UpdateProfile_RejectsPrivilegedFields(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))

	for _, body := range []map[string]any{
		{"role": "admin"},
		{"prep_count": 100},
		{"email": "other@example.com"},
	} {
		w := httptest.NewRecorder()
		newTestProfileHandler(&stubLinks{}).UpdateProfile(w, newJSONRequest(t, env.ctrl, http.MethodPatch, "/api/profile", body))

		assert.Equal(t, http.StatusBadRequest, w.Code, "body=%v", body)
		assert.Equal(t, model.ErrCodeInvalidRequest, decodeError(t, w).Code)
	}
	assert.Equal(t, model.RoleUser, env.ctrl.Profile().Role)
	assert.Equal(t, model.DefaultPrepCount, env.ctrl.Profile().PrepCount)
}

func TestProfileHandler_UpdateProfile_EmptyUpdate(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))

	w := httptest.NewRecorder()
	newTestProfileHandler(&stubLinks{}).UpdateProfile(w, newJSONRequest(t, env.ctrl, http.MethodPatch, "/api/profile", map[string]any{}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeEmptyProfileEdit, decodeError(t, w).Code)
}

func TestProfileHandler_UpdateProfile_CollegeTooLong(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))

	w := httptest.NewRecorder()
	newTestProfileHandler(&stubLinks{}).UpdateProfile(w, newJSONRequest(t, env.ctrl, http.MethodPatch, "/api/profile",
		map[string]any{"college": strings.Repeat("c", 256)}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidRequest, decodeError(t, w).Code)
	assert.Nil(t, env.ctrl.Profile().College)
}

func TestProfileHandler_UpdateProfile_WithoutBrowserSession(t *testing.T) {
	w := httptest.NewRecorder()
	newTestProfileHandler(&stubLinks{}).UpdateProfile(w, newJSONRequest(t, nil, http.MethodPatch, "/api/profile",
		map[string]any{"name": "Ann"}))

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileHandler_CompleteOnboarding_WithFileName(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))
	links := &stubLinks{}

	w := httptest.NewRecorder()
	newTestProfileHandler(links).CompleteOnboarding(w, newJSONRequest(t, env.ctrl, http.MethodPost, "/api/profile/onboarding",
		onboardingRequest{College: "State University", Course: "Computer Science", Year: "2027", ResumeURL: "ann_resume.pdf"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, links.checked, "file names are not reachability-checked")

	profile := env.ctrl.Profile()
	require.NotNil(t, profile.Year)
	assert.Equal(t, "2027", *profile.Year)
	require.NotNil(t, profile.ResumeURL)
	assert.Equal(t, "ann_resume.pdf", *profile.ResumeURL)
}

func TestProfileHandler_CompleteOnboarding_ChecksResumeLink(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))
	links := &stubLinks{}

	w := httptest.NewRecorder()
	newTestProfileHandler(links).CompleteOnboarding(w, newJSONRequest(t, env.ctrl, http.MethodPost, "/api/profile/onboarding",
		onboardingRequest{College: "State University", Course: "CS", Year: "2026", ResumeURL: "https://example.com/cv.pdf"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"https://example.com/cv.pdf"}, links.checked)
}

func TestProfileHandler_CompleteOnboarding_UnreachableLink(t *testing.T) {
	env := newTestEnv(t, testProfile("user-1", model.RoleUser))
	links := &stubLinks{reachErr: errors.New("status 404")}

	w := httptest.NewRecorder()
	newTestProfileHandler(links).CompleteOnboarding(w, newJSONRequest(t, env.ctrl, http.MethodPost, "/api/profile/onboarding",
		onboardingRequest{College: "State University", Course: "CS", Year: "2026", ResumeURL: "https://example.com/missing.pdf"}))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrCodeInvalidResume, decodeError(t, w).Code)
	assert.Nil(t, env.ctrl.Profile().ResumeURL, "profile must not be updated")
}

func TestProfileHandler_CompleteOnboarding_Validation(t *testing.T) {
	tests := []struct {
		name     string
		req      onboardingRequest
		wantCode string
	}{
		{"大学名なし", onboardingRequest{Course: "CS", Year: "2026"}, model.ErrCodeMissingFields},
		{"卒業年なし", onboardingRequest{College: "State", Course: "CS"}, model.ErrCodeMissingFields},
		{"卒業年が4桁でない", onboardingRequest{College: "State", Course: "CS", Year: "26"}, model.ErrCodeInvalidYear},
		{"履歴書の拡張子が不正", onboardingRequest{College: "State", Course: "CS", Year: "2026", ResumeURL: "cv.exe"}, model.ErrCodeInvalidResume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testProfile("user-1", model.RoleUser))

			w := httptest.NewRecorder()
			newTestProfileHandler(&stubLinks{}).CompleteOnboarding(w, newJSONRequest(t, env.ctrl, http.MethodPost, "/api/profile/onboarding", tt.req))

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
		})
	}
}
