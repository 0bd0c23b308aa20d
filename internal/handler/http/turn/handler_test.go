package turn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub-backend/pkg/turn"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	issuer := turn.NewIssuer("handler-secret", "signalhub", []string{"turn:turn.test:3478"}, []string{"stun:stun.test:3478"})
	router := gin.New()
	router.GET("/api/turn-credentials", NewHandler(issuer).GetCredentials)
	return router
}

func TestGetCredentials(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/turn-credentials", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Success bool                `json:"success"`
		Data    CredentialsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)

	creds := envelope.Data
	assert.NotEmpty(t, creds.Credential)
	assert.Equal(t, []string{"turn:turn.test:3478"}, creds.URLs)

	// Username embeds a future expiry and the configured label.
	parts := strings.SplitN(creds.Username, ":", 2)
	require.Len(t, parts, 2)
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	require.NoError(t, err)
	assert.Greater(t, expiry, time.Now().Unix())
	assert.Equal(t, "signalhub", parts[1])

	// STUN first, then the credentialed TURN entry.
	require.Len(t, creds.IceServers, 2)
	assert.Empty(t, creds.IceServers[0].Credential)
	assert.Equal(t, creds.Username, creds.IceServers[1].Username)
}
