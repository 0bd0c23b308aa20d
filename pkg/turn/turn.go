// Package turn issues short-lived, HMAC-signed credentials for TURN relay
// servers, following the coturn REST API convention: the username embeds a
// Unix expiry timestamp and the credential is the base64 HMAC-SHA1 of the
// username under a secret shared with the relay.
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"signalhub-backend/pkg/constants"
)

// demoSecret signs credentials when no shared secret is configured. Relays
// will not accept these; they only keep clients structurally functional in
// development setups without a TURN server.
const demoSecret = "signalhub-demo-secret"

// Credentials is a set of time-limited TURN credentials
type Credentials struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
	TTL        int64    `json:"ttl"`
}

// ICEServer is one entry of an RTCPeerConnection iceServers list
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Issuer issues TURN credentials for a fixed set of relay URLs
type Issuer struct {
	secret   string
	label    string
	urls     []string
	stunURLs []string
	ttl      time.Duration
}

// NewIssuer creates a credential issuer. An empty secret puts the issuer in
// demo mode: credentials are still deterministic and well-formed but carry no
// authority with a real relay.
func NewIssuer(secret, label string, urls, stunURLs []string) *Issuer {
	return &Issuer{
		secret:   secret,
		label:    label,
		urls:     urls,
		stunURLs: stunURLs,
		ttl:      constants.TurnCredentialTTL,
	}
}

// Authoritative reports whether issued credentials are signed with a real
// shared secret rather than the demo fallback
func (i *Issuer) Authoritative() bool {
	return i.secret != ""
}

// Issue returns credentials valid for the issuer TTL from now.
// Deterministic for a given (now, secret) pair.
func (i *Issuer) Issue(now time.Time) Credentials {
	expiry := now.UTC().Add(i.ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, i.label)

	secret := i.secret
	if secret == "" {
		secret = demoSecret
	}

	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(username))
	credential := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return Credentials{
		URLs:       i.urls,
		Username:   username,
		Credential: credential,
		TTL:        int64(i.ttl.Seconds()),
	}
}

// ICEServers returns the full iceServers list for clients: plain STUN entries
// first, then the TURN entry with freshly issued credentials.
func (i *Issuer) ICEServers(now time.Time) []ICEServer {
	servers := make([]ICEServer, 0, 2)
	if len(i.stunURLs) > 0 {
		servers = append(servers, ICEServer{URLs: i.stunURLs})
	}
	if len(i.urls) > 0 {
		creds := i.Issue(now)
		servers = append(servers, ICEServer{
			URLs:       creds.URLs,
			Username:   creds.Username,
			Credential: creds.Credential,
		})
	}
	return servers
}
