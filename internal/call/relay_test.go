package call

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub-backend/internal/domain"
	"signalhub-backend/internal/event"
)

// connectedCall sets up a two-party call in CONNECTING for relay tests
func connectedCall(t *testing.T) (*Relay, *Manager, *recordingNotifier, string) {
	t.Helper()
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVideo, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))
	return NewRelay(m), m, n, callID
}

func TestRelayOfferForwardsToTarget(t *testing.T) {
	r, _, n, callID := connectedCall(t)
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)

	r.RelayOffer(callID, alice.UserID, bob.UserID, offer)

	bobEvents := n.eventsFor(bob.UserID)
	last := bobEvents[len(bobEvents)-1]
	require.Equal(t, event.EventWebRTCOffer, last.Event)

	fwd := decodePayload[event.ForwardedSignalPayload](t, last)
	assert.Equal(t, callID, fwd.CallID)
	assert.Equal(t, alice.UserID, fwd.FromUserID)
	assert.JSONEq(t, string(offer), string(fwd.Offer))
	assert.Empty(t, fwd.Answer)
}

func TestRelayAnswerActivatesCall(t *testing.T) {
	r, m, n, callID := connectedCall(t)

	r.RelayOffer(callID, alice.UserID, bob.UserID, json.RawMessage(`{"type":"offer"}`))
	snap, _ := m.Snapshot(callID)
	assert.Equal(t, domain.CallStateConnecting, snap.State)

	r.RelayAnswer(callID, bob.UserID, alice.UserID, json.RawMessage(`{"type":"answer"}`))
	snap, _ = m.Snapshot(callID)
	assert.Equal(t, domain.CallStateActive, snap.State)

	aliceEvents := n.eventsFor(alice.UserID)
	last := aliceEvents[len(aliceEvents)-1]
	require.Equal(t, event.EventWebRTCAnswer, last.Event)
	fwd := decodePayload[event.ForwardedSignalPayload](t, last)
	assert.Equal(t, bob.UserID, fwd.FromUserID)
	assert.NotEmpty(t, fwd.Answer)
}

func TestRelayCandidateBothDirections(t *testing.T) {
	r, _, n, callID := connectedCall(t)
	cand := json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.1 54321 typ host"}`)

	r.RelayCandidate(callID, alice.UserID, bob.UserID, cand)
	r.RelayCandidate(callID, bob.UserID, alice.UserID, cand)

	for _, userID := range []string{alice.UserID, bob.UserID} {
		evs := n.eventsFor(userID)
		last := evs[len(evs)-1]
		require.Equal(t, event.EventWebRTCCandidate, last.Event, "user %s", userID)
		fwd := decodePayload[event.ForwardedSignalPayload](t, last)
		assert.NotEqual(t, userID, fwd.FromUserID)
		assert.NotEmpty(t, fwd.Candidate)
	}
}

func TestRelayRetainsSignalsOnSession(t *testing.T) {
	r, m, _, callID := connectedCall(t)

	r.RelayOffer(callID, alice.UserID, bob.UserID, json.RawMessage(`{"type":"offer"}`))
	r.RelayCandidate(callID, alice.UserID, bob.UserID, json.RawMessage(`{"candidate":"a"}`))
	r.RelayAnswer(callID, bob.UserID, alice.UserID, json.RawMessage(`{"type":"answer"}`))

	s, ok := m.get(callID)
	require.True(t, ok)
	s.mu.Lock()
	defer s.mu.Unlock()

	toBob := s.pending[pairKey{from: alice.UserID, to: bob.UserID}]
	require.Len(t, toBob, 2)
	assert.Equal(t, domain.SignalOffer, toBob[0].Kind)
	assert.Equal(t, domain.SignalCandidate, toBob[1].Kind)

	toAlice := s.pending[pairKey{from: bob.UserID, to: alice.UserID}]
	require.Len(t, toAlice, 1)
	assert.Equal(t, domain.SignalAnswer, toAlice[0].Kind)
}

func TestRelayToUnreachableTargetIsRetained(t *testing.T) {
	r, m, n, callID := connectedCall(t)
	n.setOffline(bob.UserID, true)
	before := len(n.eventsFor(bob.UserID))

	r.RelayOffer(callID, alice.UserID, bob.UserID, json.RawMessage(`{"type":"offer"}`))

	// No delivery, no error to the sender, signal kept on the session.
	assert.Len(t, n.eventsFor(bob.UserID), before)
	s, ok := m.get(callID)
	require.True(t, ok)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.pending[pairKey{from: alice.UserID, to: bob.UserID}], 1)
}

func TestRelayUnknownCallIsDropped(t *testing.T) {
	r, _, n, _ := connectedCall(t)
	before := n.countAll(event.EventWebRTCOffer)

	r.RelayOffer("no-such-call", alice.UserID, bob.UserID, json.RawMessage(`{}`))

	assert.Equal(t, before, n.countAll(event.EventWebRTCOffer))
}

func TestRelayAfterEndIsDropped(t *testing.T) {
	r, m, n, callID := connectedCall(t)
	m.End(callID, alice.UserID, domain.EndReasonEndedByUser)
	before := n.countAll(event.EventWebRTCCandidate)

	r.RelayCandidate(callID, alice.UserID, bob.UserID, json.RawMessage(`{}`))

	assert.Equal(t, before, n.countAll(event.EventWebRTCCandidate))
}
