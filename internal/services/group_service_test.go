package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/testutil"
)

func TestCreateAndJoinGroup(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	ctx := context.Background()

	group, err := env.groups.CreateGroup(ctx, users[0].ID, &CreateGroupRequest{Name: "Friday night"})
	require.NoError(t, err)
	assert.Len(t, group.Code, 6)
	assert.Equal(t, models.GroupKindPrivate, group.Kind)
	assert.Equal(t, 1, group.Round)

	ok, err := env.store.Groups.IsActiveMember(ctx, group.GroupID, users[0].ID)
	require.NoError(t, err)
	assert.True(t, ok, "creator is enrolled")

	joined, err := env.groups.JoinGroup(ctx, group.Code, users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, group.GroupID, joined.GroupID)

	_, err = env.groups.JoinGroup(ctx, group.Code, users[1].ID)
	require.NoError(t, err, "joining twice is a no-op")

	msgs := env.pub.chat(events.ChatRoom(group.Code))
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob joined the group", msgs[0].Message)
	assert.Nil(t, msgs[0].UserID)

	list, err := env.groups.ListGroups(ctx, users[1].ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, group.Code, list[0].Code)
}

func TestJoinGroup_UnknownCode(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice")

	_, err := env.groups.JoinGroup(context.Background(), "ZZZZZZ", users[0].ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestJoinGroup_InactiveGroup(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	group := env.groupWithCode(t, "DEAD01", users[0])
	require.NoError(t, env.db.Model(&models.GroupSession{}).Where("id = ?", group.ID).Update("is_active", false).Error)

	_, err := env.groups.JoinGroup(context.Background(), "DEAD01", users[1].ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

type fakeEvictor struct {
	rooms []string
	users []uint
}

func (f *fakeEvictor) Kick(room events.Room, userID uint) int {
	f.rooms = append(f.rooms, room.String())
	f.users = append(f.users, userID)
	return 1
}

func TestLeaveAndRejoin(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	group := env.groupWithCode(t, "LEAVE1", users...)
	ctx := context.Background()
	evictor := &fakeEvictor{}
	env.groups.UseEvictor(evictor)

	require.NoError(t, env.groups.LeaveGroup(ctx, "LEAVE1", users[1].ID))
	assert.Equal(t, []string{"chat_LEAVE1", "match_LEAVE1"}, evictor.rooms)
	assert.Equal(t, []uint{users[1].ID, users[1].ID}, evictor.users)

	assert.ErrorIs(t, env.groups.LeaveGroup(ctx, "LEAVE1", users[1].ID), ErrNotMember)
	assert.Len(t, evictor.rooms, 2, "nothing to close on a repeated leave")

	_, err := env.groups.Authorize(ctx, "LEAVE1", users[1].ID)
	assert.ErrorIs(t, err, ErrNotMember)

	// 退出后只剩一人，喜欢即匹配
	res := env.swipe(t, "LEAVE1", users[0], 77, models.ActionLike)
	assert.True(t, res.IsMatch)
	assert.Equal(t, 1, res.MemberCount)

	_, err = env.groups.JoinGroup(ctx, "LEAVE1", users[1].ID)
	require.NoError(t, err)

	var rows int64
	require.NoError(t, env.db.Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ?", group.ID, users[1].ID).
		Count(&rows).Error)
	assert.Equal(t, int64(1), rows, "membership is reactivated in place")

	g, err := env.groups.Authorize(ctx, "LEAVE1", users[1].ID)
	require.NoError(t, err)
	assert.True(t, g.IsActive, "leaving never deactivates the group")
}

func TestJoinCommunity(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	ctx := context.Background()

	_, err := env.groups.JoinCommunity(ctx, "Opera", users[0].ID)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "genre", verr.Field)

	first, err := env.groups.JoinCommunity(ctx, "Comedy", users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupKindCommunity, first.Kind)
	assert.Equal(t, "Comedy", first.GenreFilter)

	second, err := env.groups.JoinCommunity(ctx, "Comedy", users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, first.GroupID, second.GroupID)

	members, err := env.store.Groups.ActiveMemberIDs(ctx, first.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []uint{users[0].ID, users[1].ID}, members)

	group, err := env.store.Groups.GetByCommunityKey(ctx, "genre:Comedy")
	require.NoError(t, err)
	assert.True(t, group.IsPublic)
}
