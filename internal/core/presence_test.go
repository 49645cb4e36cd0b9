package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/localchat/internal/events"
	"gwi.com/localchat/internal/store"
)

func TestSetCurrentUser(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, store.NewMemoryStore(), WithClock(clock.Now))
	sess := svc.NewSession()

	_, ok := sess.CurrentUser()
	assert.False(t, ok)

	require.NoError(t, sess.SetCurrentUser("u1", "Ana", "superuser"))

	id, ok := sess.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, Identity{ID: "u1", Name: "Ana", Role: store.RoleUser}, id)

	users := svc.Users()
	require.Len(t, users, 1)
	assert.Equal(t, store.ChatUser{
		ID:       "u1",
		Name:     "Ana",
		Role:     store.RoleUser,
		IsOnline: true,
		LastSeen: clock.Now(),
		Status:   store.StatusAvailable,
	}, users[0])

	general, _ := svc.Room(GeneralRoomID)
	assert.Equal(t, []string{"u1"}, general.Participants)
	admin, _ := svc.Room(AdminRoomID)
	assert.Empty(t, admin.Participants)
}

func TestSetCurrentUser_Idempotent(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	sess := svc.NewSession()

	require.NoError(t, sess.SetCurrentUser("u1", "Ana", store.RoleUser))
	require.NoError(t, sess.SetCurrentUser("u1", "Ana María", store.RoleUser))

	users := svc.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "Ana María", users[0].Name)
	general, _ := svc.Room(GeneralRoomID)
	assert.Equal(t, []string{"u1"}, general.Participants)
}

func TestSetCurrentUser_AdminMembership(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	sess := svc.NewSession()

	require.NoError(t, sess.SetCurrentUser("u1", "Ana", store.RoleAdmin))
	admin, _ := svc.Room(AdminRoomID)
	assert.Equal(t, []string{"u1"}, admin.Participants)
	assert.Contains(t, roomIDs(sess.GetRooms()), AdminRoomID)

	var roomUpdates []string
	svc.SubscribeRooms(func(c events.Change[store.Room]) { roomUpdates = append(roomUpdates, c.Item.ID) })

	require.NoError(t, sess.SetCurrentUser("u1", "Ana", store.RoleUser))
	admin, _ = svc.Room(AdminRoomID)
	assert.Empty(t, admin.Participants)
	assert.Equal(t, []string{AdminRoomID}, roomUpdates)
	assert.NotContains(t, roomIDs(sess.GetRooms()), AdminRoomID)

	users := svc.Users()
	require.Len(t, users, 1)
	assert.Equal(t, store.RoleUser, users[0].Role)
}

func TestUpdateUserStatus(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())
	sess := login(t, svc, "u1", "Ana", store.RoleUser)

	require.NoError(t, sess.UpdateUserStatus(store.StatusBusy, "in a meeting"))
	u := svc.Users()[0]
	assert.Equal(t, store.StatusBusy, u.Status)
	assert.True(t, u.IsOnline)
	assert.Equal(t, "in a meeting", u.StatusMessage)

	require.NoError(t, sess.UpdateUserStatus(store.StatusOffline, ""))
	u = svc.Users()[0]
	assert.False(t, u.IsOnline)
	assert.Equal(t, "in a meeting", u.StatusMessage)

	require.NoError(t, sess.SetCurrentUser("u1", "Ana", store.RoleUser))
	u = svc.Users()[0]
	assert.True(t, u.IsOnline)
	assert.Equal(t, store.StatusAvailable, u.Status)
}

func TestUpdateUserStatus_NoIdentity(t *testing.T) {
	svc := newTestService(t, store.NewMemoryStore())

	var published int
	svc.SubscribeUsers(func(events.Change[store.ChatUser]) { published++ })

	require.NoError(t, svc.NewSession().UpdateUserStatus(store.StatusAway, "brb"))
	assert.Empty(t, svc.Users())
	assert.Zero(t, published)
}
