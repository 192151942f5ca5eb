//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagestudio-ai/imagestudio/internal/events"
)

// seedCatalog registers an admin, creates a model, enables it for the free
// tier and sets limits. Returns the admin token.
func seedCatalog(t *testing.T, env *TestEnv, modelID string, hourly, daily, monthly int) string {
	t.Helper()

	email := fmt.Sprintf("admin-%s@example.com", modelID)
	RegisterUser(t, env, email, "password123")
	PromoteToAdmin(t, env, email)
	token := LoginUser(t, env, email, "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/admin/models", map[string]any{
		"model_id":     modelID,
		"display_name": "Test " + modelID,
		"provider":     "fal",
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "PUT", "/api/v1/admin/access", map[string]any{
		"tier":     "free",
		"model_id": modelID,
		"enabled":  true,
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "PUT", "/api/v1/admin/limits", map[string]any{
		"tier":          "free",
		"model_id":      modelID,
		"hourly_limit":  hourly,
		"daily_limit":   daily,
		"monthly_limit": monthly,
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	return token
}

func TestModelCatalogVisibility(t *testing.T) {
	env := SetupTestEnv(t)

	seedCatalog(t, env, "catalog-sdxl", 5, 10, 100)

	RegisterUser(t, env, "catalog-user@example.com", "password123")
	token := LoginUser(t, env, "catalog-user@example.com", "password123")

	resp := DoRequest(t, env, "GET", "/api/v1/models", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := ParseResponse(t, resp)
	models := result["data"].([]any)

	var found bool
	for _, m := range models {
		if m.(map[string]any)["model_id"] == "catalog-sdxl" {
			found = true
		}
	}
	assert.True(t, found, "free tier should see the enabled model")
}

func TestQuotaStatus(t *testing.T) {
	env := SetupTestEnv(t)

	seedCatalog(t, env, "status-sdxl", 5, 10, 100)

	RegisterUser(t, env, "status-user@example.com", "password123")
	token := LoginUser(t, env, "status-user@example.com", "password123")

	t.Run("dashboard lists enabled models", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/quota", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := ParseResponse(t, resp)
		data := result["data"].(map[string]any)
		entry, ok := data["status-sdxl"].(map[string]any)
		require.True(t, ok, "expected status entry for status-sdxl")
		assert.Equal(t, true, entry["allowed"])

		limits := entry["limits"].(map[string]any)
		assert.EqualValues(t, 10, limits["daily"])
	})

	t.Run("single model quota", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/quota/status-sdxl", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := ParseResponse(t, resp)
		data := result["data"].(map[string]any)
		assert.Equal(t, true, data["allowed"])
	})

	t.Run("unknown model is denied", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/quota/does-not-exist", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := ParseResponse(t, resp)
		data := result["data"].(map[string]any)
		assert.Equal(t, false, data["allowed"])
		assert.Contains(t, data["reason"], "Model not found")
	})
}

func TestGenerationLifecycle(t *testing.T) {
	env := SetupTestEnv(t)

	seedCatalog(t, env, "gen-sdxl", 10, 20, 100)

	RegisterUser(t, env, "gen-user@example.com", "password123")
	token := LoginUser(t, env, "gen-user@example.com", "password123")
	userID := UserIDByEmail(t, env, "gen-user@example.com")

	resp := DoRequest(t, env, "POST", "/api/v1/generations", map[string]any{
		"model_id":    "gen-sdxl",
		"prompt":      "a lighthouse at dusk",
		"image_count": 2,
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	requestID := data["id"].(string)
	assert.Equal(t, "queued", data["status"])

	// Simulate the worker publishing a completion event.
	err := env.Publisher.PublishUsageEvent(t.Context(), events.UsageEvent{
		RequestID:       mustUUID(t, requestID),
		UserID:          userID,
		ModelID:         "gen-sdxl",
		ImagesGenerated: 2,
		Status:          "completed",
		Timestamp:       time.Now(),
	})
	require.NoError(t, err)

	// The usage consumer marks the request completed and records usage.
	require.Eventually(t, func() bool {
		resp := DoRequest(t, env, "GET", "/api/v1/generations/"+requestID, nil, token)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		result := ParseResponse(t, resp)
		return result["data"].(map[string]any)["status"] == "completed"
	}, 10*time.Second, 200*time.Millisecond, "request should be marked completed")

	resp = DoRequest(t, env, "GET", "/api/v1/quota/gen-sdxl", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result = ParseResponse(t, resp)
	usage := result["data"].(map[string]any)["usage"].(map[string]any)
	assert.EqualValues(t, 2, usage["daily"])
	assert.EqualValues(t, 2, usage["hourly"])
	assert.EqualValues(t, 2, usage["monthly"])

	t.Run("history lists the request", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/generations", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := ParseResponse(t, resp)
		items := result["data"].([]any)
		require.NotEmpty(t, items)
	})

	t.Run("other users cannot read the request", func(t *testing.T) {
		RegisterUser(t, env, "gen-other@example.com", "password123")
		otherToken := LoginUser(t, env, "gen-other@example.com", "password123")

		resp := DoRequest(t, env, "GET", "/api/v1/generations/"+requestID, nil, otherToken)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestQuotaEnforcement(t *testing.T) {
	env := SetupTestEnv(t)

	// Daily limit of 3; hourly high enough to show daily precedence.
	seedCatalog(t, env, "limited-sdxl", 10, 3, 100)

	RegisterUser(t, env, "limited-user@example.com", "password123")
	token := LoginUser(t, env, "limited-user@example.com", "password123")
	userID := UserIDByEmail(t, env, "limited-user@example.com")

	// Record 3 images of usage directly through the accounting service.
	ok := env.QuotaSvc.TrackUsage(t.Context(), userID, "limited-sdxl", 3)
	require.True(t, ok)

	t.Run("request over daily limit is rejected", func(t *testing.T) {
		resp := DoRequest(t, env, "POST", "/api/v1/generations", map[string]any{
			"model_id": "limited-sdxl",
			"prompt":   "one more",
		}, token)
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

		result := ParseResponse(t, resp)
		reason := result["error"].(string)
		assert.Contains(t, reason, "Daily limit")
		assert.Contains(t, reason, "3/3")
	})

	t.Run("quota endpoint reports the denial", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/quota/limited-sdxl", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := ParseResponse(t, resp)
		data := result["data"].(map[string]any)
		assert.Equal(t, false, data["allowed"])
		assert.Contains(t, data["reason"], "Daily limit")
	})

	t.Run("denial lands in the audit trail", func(t *testing.T) {
		adminToken := seedCatalog(t, env, "audit-probe", 1, 1, 1)

		require.Eventually(t, func() bool {
			resp := DoRequest(t, env, "GET", "/api/v1/admin/audit?event_type=quota_denied", nil, adminToken)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return false
			}
			result := ParseResponse(t, resp)
			items, ok := result["data"].([]any)
			return ok && len(items) > 0
		}, 10*time.Second, 200*time.Millisecond, "quota denial should be persisted")
	})
}

func TestModelAccessControl(t *testing.T) {
	env := SetupTestEnv(t)

	// Model exists but the free tier has no access row.
	adminToken := seedCatalog(t, env, "access-base", 5, 5, 5)
	resp := DoRequest(t, env, "POST", "/api/v1/admin/models", map[string]any{
		"model_id":     "restricted-model",
		"display_name": "Restricted",
	}, adminToken)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	RegisterUser(t, env, "access-user@example.com", "password123")
	token := LoginUser(t, env, "access-user@example.com", "password123")

	t.Run("no access row denies generation", func(t *testing.T) {
		resp := DoRequest(t, env, "POST", "/api/v1/generations", map[string]any{
			"model_id": "restricted-model",
			"prompt":   "should not run",
		}, token)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown model denies generation", func(t *testing.T) {
		resp := DoRequest(t, env, "POST", "/api/v1/generations", map[string]any{
			"model_id": "never-registered",
			"prompt":   "should not run",
		}, token)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("disabled access row denies generation", func(t *testing.T) {
		resp := DoRequest(t, env, "PUT", "/api/v1/admin/access", map[string]any{
			"tier":     "free",
			"model_id": "restricted-model",
			"enabled":  false,
		}, adminToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = DoRequest(t, env, "POST", "/api/v1/generations", map[string]any{
			"model_id": "restricted-model",
			"prompt":   "still not allowed",
		}, token)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
