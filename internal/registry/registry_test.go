package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"signalhub-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()

	_, displaced := r.Register("alice", "conn-1")
	assert.False(t, displaced)

	connID, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "conn-1", connID)

	_, ok = r.Lookup("bob")
	assert.False(t, ok)
}

func TestRegister_LastRegistrationWins(t *testing.T) {
	r := New()

	r.Register("alice", "conn-1")
	old, displaced := r.Register("alice", "conn-2")

	assert.True(t, displaced)
	assert.Equal(t, "conn-1", old)

	connID, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "conn-2", connID)

	// The displaced connection no longer resolves to the user
	_, ok = r.UserFor("conn-1")
	assert.False(t, ok)
}

func TestUnregister_StaleConnectionLeavesNewerEntry(t *testing.T) {
	r := New()

	r.Register("alice", "conn-1")
	r.Register("alice", "conn-2")

	// The close of the displaced connection must not evict the re-registration
	r.Unregister("conn-1")

	connID, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "conn-2", connID)

	r.Unregister("conn-2")
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestUnregister_UnknownConnectionIsNoop(t *testing.T) {
	r := New()
	r.Register("alice", "conn-1")

	r.Unregister("conn-unknown")

	_, ok := r.Lookup("alice")
	assert.True(t, ok)
}

func TestCount(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Count())

	r.Register("alice", "conn-1")
	r.Register("bob", "conn-2")
	assert.Equal(t, 2, r.Count())

	// Re-registration does not change the user count
	r.Register("alice", "conn-3")
	assert.Equal(t, 2, r.Count())

	r.Unregister("conn-2")
	assert.Equal(t, 1, r.Count())
}
