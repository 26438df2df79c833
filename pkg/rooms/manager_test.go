package rooms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinLeaveAreMutualInverses(t *testing.T) {
	m := New()
	m.Join("lobby", "alice")
	m.Join("lobby", "bob")
	m.Join("watercooler", "alice")

	assert.ElementsMatch(t, []string{"alice", "bob"}, m.List("lobby"))
	assert.ElementsMatch(t, []string{"lobby", "watercooler"}, m.RoomsFor("alice"))

	m.Leave("lobby", "alice")
	assert.NotContains(t, m.List("lobby"), "alice")
	assert.NotContains(t, m.RoomsFor("alice"), "lobby")
}

func TestLeaveGarbageCollectsEmptyRoom(t *testing.T) {
	m := New()
	m.Join("lobby", "alice")
	m.Leave("lobby", "alice")

	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, []string{}, m.List("lobby"))
}

func TestLeaveAllRemovesEveryMembership(t *testing.T) {
	m := New()
	m.Join("lobby", "alice")
	m.Join("watercooler", "alice")
	m.Join("lobby", "bob")

	m.LeaveAll("alice")

	assert.Equal(t, []string{}, m.RoomsFor("alice"))
	assert.ElementsMatch(t, []string{"bob"}, m.List("lobby"))
	assert.Equal(t, []string{}, m.List("watercooler"))
}

func TestRoomNamesAreCaseInsensitive(t *testing.T) {
	m := New()
	m.Join("Lobby", "alice")

	assert.ElementsMatch(t, []string{"alice"}, m.List("LOBBY"))
	assert.ElementsMatch(t, []string{"lobby"}, m.RoomsFor("alice"))
}

func TestEmptyRoomNameIsNoOp(t *testing.T) {
	m := New()
	m.Join("", "alice")
	m.Leave("", "alice")

	assert.Equal(t, []string{}, m.RoomsFor("alice"))
	assert.Equal(t, 0, m.RoomCount())
}

func TestUnknownRoomAndClientReturnEmptySlices(t *testing.T) {
	m := New()
	assert.Equal(t, []string{}, m.List("nowhere"))
	assert.Equal(t, []string{}, m.RoomsFor("nobody"))
}

func TestMemberCountsReflectsCurrentMembership(t *testing.T) {
	m := New()
	m.Join("lobby", "alice")
	m.Join("lobby", "bob")
	m.Join("watercooler", "alice")

	assert.Equal(t, map[string]int{"lobby": 2, "watercooler": 1}, m.MemberCounts())
}
