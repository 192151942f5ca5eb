//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuthorization(t *testing.T) {
	env := SetupTestEnv(t)

	RegisterUser(t, env, "plain-user@example.com", "password123")
	token := LoginUser(t, env, "plain-user@example.com", "password123")

	t.Run("non-admin is rejected", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/admin/tiers", nil, token)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("anonymous is rejected", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/admin/tiers", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestTierManagement(t *testing.T) {
	env := SetupTestEnv(t)

	RegisterUser(t, env, "tier-admin@example.com", "password123")
	PromoteToAdmin(t, env, "tier-admin@example.com")
	token := LoginUser(t, env, "tier-admin@example.com", "password123")

	t.Run("seeded tiers are listed", func(t *testing.T) {
		resp := DoRequest(t, env, "GET", "/api/v1/admin/tiers", nil, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		result := ParseResponse(t, resp)
		tiers := result["data"].([]any)

		names := make(map[string]bool)
		for _, tier := range tiers {
			names[tier.(map[string]any)["name"].(string)] = true
		}
		assert.True(t, names["free"])
		assert.True(t, names["premium"])
		assert.True(t, names["admin"])
	})

	t.Run("create and delete a tier", func(t *testing.T) {
		resp := DoRequest(t, env, "POST", "/api/v1/admin/tiers", map[string]any{
			"name":         "enterprise",
			"display_name": "Enterprise",
			"description":  "Contract customers",
		}, token)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp = DoRequest(t, env, "POST", "/api/v1/admin/tiers", map[string]any{
			"name":         "enterprise",
			"display_name": "Enterprise",
		}, token)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()

		resp = DoRequest(t, env, "DELETE", "/api/v1/admin/tiers/enterprise", nil, token)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = DoRequest(t, env, "DELETE", "/api/v1/admin/tiers/enterprise", nil, token)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("tier name is validated", func(t *testing.T) {
		resp := DoRequest(t, env, "POST", "/api/v1/admin/tiers", map[string]any{
			"name": "",
		}, token)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestModelManagement(t *testing.T) {
	env := SetupTestEnv(t)

	RegisterUser(t, env, "model-admin@example.com", "password123")
	PromoteToAdmin(t, env, "model-admin@example.com")
	token := LoginUser(t, env, "model-admin@example.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/admin/models", map[string]any{
		"model_id":     "mgmt-model",
		"display_name": "Managed Model",
		"provider":     "gemini",
	}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := ParseResponse(t, resp)
	modelUUID := created["data"].(map[string]any)["id"].(string)

	t.Run("duplicate public id conflicts", func(t *testing.T) {
		resp := DoRequest(t, env, "POST", "/api/v1/admin/models", map[string]any{
			"model_id":     "mgmt-model",
			"display_name": "Again",
		}, token)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("deactivating a model hides it from the tier catalog", func(t *testing.T) {
		resp := DoRequest(t, env, "PUT", "/api/v1/admin/access", map[string]any{
			"tier":     "free",
			"model_id": "mgmt-model",
			"enabled":  true,
		}, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = DoRequest(t, env, "PUT", "/api/v1/admin/models/"+modelUUID, map[string]any{
			"active": false,
		}, token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		RegisterUser(t, env, "model-viewer@example.com", "password123")
		userToken := LoginUser(t, env, "model-viewer@example.com", "password123")

		resp = DoRequest(t, env, "GET", "/api/v1/models", nil, userToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := ParseResponse(t, resp)
		for _, m := range result["data"].([]any) {
			assert.NotEqual(t, "mgmt-model", m.(map[string]any)["model_id"])
		}
	})

	t.Run("limits upsert on unknown pair fails", func(t *testing.T) {
		resp := DoRequest(t, env, "PUT", "/api/v1/admin/limits", map[string]any{
			"tier":          "free",
			"model_id":      "ghost-model",
			"hourly_limit":  1,
			"daily_limit":   1,
			"monthly_limit": 1,
		}, token)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
