package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalhub-backend/internal/domain"
)

func TestDecode_ValidInitiate(t *testing.T) {
	raw := []byte(`{"event":"call:initiate","payload":{"targetUserId":"bob","callType":"video","chatId":"chat-1"}}`)

	var ev WsEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, EventCallInitiate, ev.Event)

	var p InitiatePayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "bob", p.TargetUserID)
	assert.Equal(t, domain.CallTypeVideo, p.CallType)
	assert.Equal(t, "chat-1", p.ChatID)
}

func TestDecode_RejectsMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		event   WsEvent
		payload Validator
	}{
		{"register without user", New(EventUserRegister, RegisterPayload{UserName: "Alice"}), &RegisterPayload{}},
		{"initiate without target", New(EventCallInitiate, InitiatePayload{CallType: domain.CallTypeVoice}), &InitiatePayload{}},
		{"initiate with bad call type", New(EventCallInitiate, map[string]string{"targetUserId": "bob", "callType": "hologram"}), &InitiatePayload{}},
		{"answer without call", New(EventCallAnswer, AnswerPayload{Accept: true}), &AnswerPayload{}},
		{"join without call", New(EventCallJoin, JoinPayload{}), &JoinPayload{}},
		{"signal without target", New(EventWebRTCOffer, SignalPayload{CallID: "c1"}), &SignalPayload{}},
		{"end without call", New(EventCallEnd, EndPayload{}), &EndPayload{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.event.Decode(tt.payload))
		})
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	ev := WsEvent{Event: EventCallAnswer, Payload: json.RawMessage(`{"callId":42}`)}

	var p AnswerPayload
	assert.Error(t, ev.Decode(&p))
}

func TestForwardedSignal_BodyPlacement(t *testing.T) {
	body := json.RawMessage(`{"sdp":"v=0..."}`)

	offer := ForwardedSignal(domain.SignalOffer, "c1", "alice", body)
	assert.Equal(t, EventWebRTCOffer, offer.Event)

	var p ForwardedSignalPayload
	require.NoError(t, json.Unmarshal(offer.Payload, &p))
	assert.Equal(t, "c1", p.CallID)
	assert.Equal(t, "alice", p.FromUserID)
	assert.JSONEq(t, string(body), string(p.Offer))
	assert.Nil(t, p.Answer)

	answer := ForwardedSignal(domain.SignalAnswer, "c1", "bob", body)
	assert.Equal(t, EventWebRTCAnswer, answer.Event)

	candidate := ForwardedSignal(domain.SignalCandidate, "c1", "bob", body)
	assert.Equal(t, EventWebRTCCandidate, candidate.Event)
}

func TestSignalPayload_Body(t *testing.T) {
	p := SignalPayload{
		CallID:       "c1",
		TargetUserID: "bob",
		Offer:        json.RawMessage(`{"type":"offer"}`),
		Answer:       json.RawMessage(`{"type":"answer"}`),
		Candidate:    json.RawMessage(`{"candidate":"..."}`),
	}

	assert.JSONEq(t, `{"type":"offer"}`, string(p.Body(domain.SignalOffer)))
	assert.JSONEq(t, `{"type":"answer"}`, string(p.Body(domain.SignalAnswer)))
	assert.JSONEq(t, `{"candidate":"..."}`, string(p.Body(domain.SignalCandidate)))
}
