// Package turn exposes relay credentials over HTTP for clients that fetch
// their ICE configuration before opening the signaling socket.
package turn

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signalhub-backend/pkg/response"
	"signalhub-backend/pkg/turn"
)

// Handler serves time-boxed TURN credentials
type Handler struct {
	issuer *turn.Issuer
}

// NewHandler creates a TURN credentials handler
func NewHandler(issuer *turn.Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// CredentialsResponse is the credential bundle handed to clients
type CredentialsResponse struct {
	Username   string           `json:"username"`
	Credential string           `json:"credential"`
	TTL        int64            `json:"ttl"`
	URLs       []string         `json:"urls"`
	IceServers []turn.ICEServer `json:"iceServers"`
}

// GetCredentials mints ephemeral TURN credentials for the requesting client
// GET /api/turn-credentials
func (h *Handler) GetCredentials(c *gin.Context) {
	now := time.Now()
	creds := h.issuer.Issue(now)

	response.Success(c, http.StatusOK, CredentialsResponse{
		Username:   creds.Username,
		Credential: creds.Credential,
		TTL:        creds.TTL,
		URLs:       creds.URLs,
		IceServers: h.issuer.ICEServers(now),
	})
}
