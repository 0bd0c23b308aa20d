package call

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub-backend/internal/domain"
	"signalhub-backend/internal/event"
	"signalhub-backend/internal/registry"
	apperrors "signalhub-backend/pkg/errors"
	"signalhub-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

// recordingNotifier captures every outbound event per user so tests can
// assert on broadcast fan-out and ordering.
type recordingNotifier struct {
	mu      sync.Mutex
	offline map[string]bool
	events  map[string][]event.WsEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		offline: make(map[string]bool),
		events:  make(map[string][]event.WsEvent),
	}
}

func (n *recordingNotifier) SendToUser(userID string, ev event.WsEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline[userID] {
		return false
	}
	n.events[userID] = append(n.events[userID], ev)
	return true
}

func (n *recordingNotifier) setOffline(userID string, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[userID] = offline
}

func (n *recordingNotifier) eventsFor(userID string) []event.WsEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]event.WsEvent, len(n.events[userID]))
	copy(out, n.events[userID])
	return out
}

func (n *recordingNotifier) names(userID string) []string {
	evs := n.eventsFor(userID)
	names := make([]string, len(evs))
	for i, ev := range evs {
		names[i] = ev.Event
	}
	return names
}

func (n *recordingNotifier) countAll(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, evs := range n.events {
		for _, ev := range evs {
			if ev.Event == name {
				count++
			}
		}
	}
	return count
}

func decodePayload[T any](t *testing.T, ev event.WsEvent) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Payload, &out))
	return out
}

func newTestManager(ringTimeout time.Duration) (*Manager, *registry.Registry, *recordingNotifier) {
	reg := registry.New()
	m := NewManager(reg, nil, ringTimeout)
	n := newRecordingNotifier()
	m.SetNotifier(n)
	return m, reg, n
}

var (
	alice = domain.Identity{UserID: "alice", DisplayName: "Alice"}
	bob   = domain.Identity{UserID: "bob", DisplayName: "Bob"}
	carol = domain.Identity{UserID: "carol", DisplayName: "Carol"}
)

func TestInitiateRingsTarget(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVideo, "chat-7")
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	snap, ok := m.Snapshot(callID)
	require.True(t, ok)
	assert.Equal(t, domain.CallStateRinging, snap.State)
	assert.Equal(t, alice.UserID, snap.InitiatorID)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, domain.RoleInitiator, snap.Participants[0].Role)

	bobEvents := n.eventsFor(bob.UserID)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, event.EventCallIncoming, bobEvents[0].Event)

	incoming := decodePayload[event.IncomingPayload](t, bobEvents[0])
	assert.Equal(t, callID, incoming.CallID)
	assert.Equal(t, alice.UserID, incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)
	assert.Equal(t, domain.CallTypeVideo, incoming.CallType)
	assert.Equal(t, "chat-7", incoming.ChatID)
}

func TestInitiateOfflineTargetFailsImmediately(t *testing.T) {
	m, _, n := newTestManager(time.Minute)

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTargetOffline))
	assert.Empty(t, callID)
	assert.Equal(t, 0, m.ActiveCalls())

	aliceEvents := n.eventsFor(alice.UserID)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, event.EventCallFailed, aliceEvents[0].Event)
	failed := decodePayload[event.FailedPayload](t, aliceEvents[0])
	assert.Equal(t, domain.EndReasonOffline, failed.Reason)

	assert.Empty(t, n.eventsFor(bob.UserID))
}

func TestAnswerAcceptMovesToConnecting(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	snap, ok := m.Snapshot(callID)
	require.True(t, ok)
	assert.Equal(t, domain.CallStateConnecting, snap.State)
	assert.Len(t, snap.Participants, 2)

	for _, userID := range []string{alice.UserID, bob.UserID} {
		evs := n.eventsFor(userID)
		last := evs[len(evs)-1]
		require.Equal(t, event.EventCallAccepted, last.Event, "user %s", userID)

		accepted := decodePayload[event.AcceptedPayload](t, last)
		assert.Equal(t, callID, accepted.CallID)
		assert.Equal(t, bob.UserID, accepted.AcceptedBy)
		assert.Len(t, accepted.Participants, 2)
	}
}

func TestAnswerDeclineNotifiesInitiatorOnly(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", false))

	assert.Equal(t, 0, m.ActiveCalls())

	aliceEvents := n.eventsFor(alice.UserID)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, event.EventCallEnded, aliceEvents[0].Event)
	ended := decodePayload[event.EndedPayload](t, aliceEvents[0])
	assert.Equal(t, domain.EndReasonDeclined, ended.Reason)
	assert.Equal(t, bob.UserID, ended.EndedBy)

	// Bob saw the ring and nothing after his own decline.
	assert.Equal(t, []string{event.EventCallIncoming}, n.names(bob.UserID))
}

func TestAnswerAfterResolutionIsNoOp(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	before := n.countAll(event.EventCallAccepted)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))
	assert.Equal(t, before, n.countAll(event.EventCallAccepted))

	// A declined call is torn down, so a late answer sees an unknown call.
	err = m.Answer("no-such-call", bob, "conn-bob", true)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestRingTimeout(t *testing.T) {
	m, reg, n := newTestManager(20 * time.Millisecond)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.ActiveCalls() == 0
	}, time.Second, 5*time.Millisecond)

	aliceEvents := n.eventsFor(alice.UserID)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, event.EventCallEnded, aliceEvents[0].Event)
	ended := decodePayload[event.EndedPayload](t, aliceEvents[0])
	assert.Equal(t, callID, ended.CallID)
	assert.Equal(t, domain.EndReasonTimeout, ended.Reason)
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	m, reg, n := newTestManager(20 * time.Millisecond)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	time.Sleep(60 * time.Millisecond)

	snap, ok := m.Snapshot(callID)
	require.True(t, ok)
	assert.Equal(t, domain.CallStateConnecting, snap.State)
	assert.Zero(t, n.countAll(event.EventCallEnded))
}

func TestLateTimerAfterEndIsNoOp(t *testing.T) {
	m, reg, n := newTestManager(20 * time.Millisecond)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	m.End(callID, alice.UserID, domain.EndReasonEndedByUser)

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, n.countAll(event.EventCallEnded))
}

func TestEndIsIdempotent(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	m.End(callID, alice.UserID, domain.EndReasonEndedByUser)
	m.End(callID, bob.UserID, domain.EndReasonEndedByUser)
	m.End("never-existed", alice.UserID, domain.EndReasonEndedByUser)

	assert.Equal(t, 0, m.ActiveCalls())
	assert.Equal(t, 2, n.countAll(event.EventCallEnded)) // one per participant
	for _, userID := range []string{alice.UserID, bob.UserID} {
		evs := n.eventsFor(userID)
		ended := decodePayload[event.EndedPayload](t, evs[len(evs)-1])
		assert.Equal(t, domain.EndReasonEndedByUser, ended.Reason)
		assert.Equal(t, alice.UserID, ended.EndedBy)
	}
}

func TestJoinBroadcastsPriorRoster(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")
	reg.Register(carol.UserID, "conn-carol")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))
	require.NoError(t, m.Join(callID, carol, "conn-carol"))

	snap, ok := m.Snapshot(callID)
	require.True(t, ok)
	assert.Len(t, snap.Participants, 3)

	// Existing participants learn the joiner plus the roster before the join.
	for _, userID := range []string{alice.UserID, bob.UserID} {
		evs := n.eventsFor(userID)
		last := evs[len(evs)-1]
		require.Equal(t, event.EventCallParticipantJoined, last.Event, "user %s", userID)
		joined := decodePayload[event.ParticipantJoinedPayload](t, last)
		assert.Equal(t, carol.UserID, joined.Participant.UserID)
		assert.Len(t, joined.Participants, 2)
	}

	// The joiner receives the roster excluding itself and no join broadcast.
	carolEvents := n.eventsFor(carol.UserID)
	require.Len(t, carolEvents, 1)
	require.Equal(t, event.EventCallParticipants, carolEvents[0].Event)
	roster := decodePayload[event.ParticipantsPayload](t, carolEvents[0])
	require.Len(t, roster.Participants, 2)
	for _, p := range roster.Participants {
		assert.NotEqual(t, carol.UserID, p.UserID)
	}
}

func TestJoinRejectsWrongState(t *testing.T) {
	m, reg, _ := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)

	err = m.Join(callID, carol, "conn-carol")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCallState))

	err = m.Join("no-such-call", carol, "conn-carol")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestMuteBroadcastExcludesSender(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	m.SetMute(callID, alice.UserID, true)

	assert.Equal(t, 1, n.countAll(event.EventCallParticipantMuted))
	bobEvents := n.eventsFor(bob.UserID)
	last := bobEvents[len(bobEvents)-1]
	require.Equal(t, event.EventCallParticipantMuted, last.Event)
	muted := decodePayload[event.ParticipantMutedPayload](t, last)
	assert.Equal(t, alice.UserID, muted.UserID)
	assert.True(t, muted.Muted)

	snap, _ := m.Snapshot(callID)
	for _, p := range snap.Participants {
		if p.UserID == alice.UserID {
			assert.True(t, p.Muted)
		}
	}
}

func TestVideoToggleBroadcastExcludesSender(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVideo, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	m.SetVideo(callID, bob.UserID, false)

	aliceEvents := n.eventsFor(alice.UserID)
	last := aliceEvents[len(aliceEvents)-1]
	require.Equal(t, event.EventCallParticipantVideo, last.Event)
	video := decodePayload[event.ParticipantVideoPayload](t, last)
	assert.Equal(t, bob.UserID, video.UserID)
	assert.False(t, video.VideoEnabled)

	for _, ev := range n.eventsFor(bob.UserID) {
		assert.NotEqual(t, event.EventCallParticipantVideo, ev.Event)
	}
}

func TestMuteUnknownCallOrUserIsNoOp(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	m.SetMute("no-such-call", alice.UserID, true)

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	m.SetMute(callID, carol.UserID, true)

	assert.Zero(t, n.countAll(event.EventCallParticipantMuted))
}

func TestDisconnectRemovesParticipant(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")
	reg.Register(carol.UserID, "conn-carol")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))
	require.NoError(t, m.Join(callID, carol, "conn-carol"))

	m.HandleDisconnect("conn-bob")

	snap, ok := m.Snapshot(callID)
	require.True(t, ok)
	assert.Len(t, snap.Participants, 2)

	for _, userID := range []string{alice.UserID, carol.UserID} {
		evs := n.eventsFor(userID)
		last := evs[len(evs)-1]
		require.Equal(t, event.EventCallParticipantLeft, last.Event, "user %s", userID)
		left := decodePayload[event.ParticipantLeftPayload](t, last)
		assert.Equal(t, bob.UserID, left.UserID)
	}
}

func TestLastDisconnectEndsCallAllLeft(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	m.HandleDisconnect("conn-alice")
	m.HandleDisconnect("conn-bob")

	assert.Equal(t, 0, m.ActiveCalls())

	endedCount := 0
	for _, userID := range []string{alice.UserID, bob.UserID} {
		for _, ev := range n.eventsFor(userID) {
			if ev.Event != event.EventCallEnded {
				continue
			}
			endedCount++
			ended := decodePayload[event.EndedPayload](t, ev)
			assert.Equal(t, callID, ended.CallID)
			assert.Equal(t, domain.EndReasonAllLeft, ended.Reason)
		}
	}
	assert.Equal(t, 1, endedCount)
}

func TestDisconnectUnknownConnectionIsNoOp(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)

	before := len(n.eventsFor(alice.UserID)) + len(n.eventsFor(bob.UserID))
	m.HandleDisconnect("conn-stranger")

	snap, ok := m.Snapshot(callID)
	require.True(t, ok)
	assert.Equal(t, domain.CallStateRinging, snap.State)
	assert.Equal(t, before, len(n.eventsFor(alice.UserID))+len(n.eventsFor(bob.UserID)))
}

func TestFailBroadcastsServerError(t *testing.T) {
	m, reg, n := newTestManager(time.Minute)
	reg.Register(bob.UserID, "conn-bob")

	callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
	require.NoError(t, err)
	require.NoError(t, m.Answer(callID, bob, "conn-bob", true))

	m.Fail(callID, assert.AnError)

	assert.Equal(t, 0, m.ActiveCalls())
	for _, userID := range []string{alice.UserID, bob.UserID} {
		evs := n.eventsFor(userID)
		last := evs[len(evs)-1]
		require.Equal(t, event.EventCallFailed, last.Event, "user %s", userID)
		failed := decodePayload[event.FailedPayload](t, last)
		assert.Equal(t, domain.EndReasonServerError, failed.Reason)
	}
}

func TestConcurrentEndAndTimeout(t *testing.T) {
	m, reg, n := newTestManager(10 * time.Millisecond)
	reg.Register(bob.UserID, "conn-bob")

	for i := 0; i < 20; i++ {
		callID, err := m.Initiate(alice, "conn-alice", bob.UserID, domain.CallTypeVoice, "")
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.End(callID, alice.UserID, domain.EndReasonEndedByUser)
		}()
		go func() {
			defer wg.Done()
			m.End(callID, bob.UserID, domain.EndReasonEndedByUser)
		}()
		wg.Wait()
	}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, m.ActiveCalls())
	// Every teardown resolved exactly once: one ended event per call reaches
	// the sole participant regardless of who won the race.
	assert.Equal(t, 20, n.countAll(event.EventCallEnded))
}
