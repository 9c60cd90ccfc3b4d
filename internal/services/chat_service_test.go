package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/testutil"
)

type fakeProducer struct {
	keys []string
	msgs []ChatIngest
	err  error
}

func (p *fakeProducer) SendMessage(key string, message any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.msgs = append(p.msgs, message.(ChatIngest))
	return nil
}

func TestChat_SendPersistsAndBroadcasts(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice")
	group := env.groupWithCode(t, "CHAT01", users[0])
	ctx := context.Background()

	require.NoError(t, env.chat.SendMessage(ctx, group, users[0].ID, "alice", "  <b>hi</b> there  "))

	live := env.pub.chat(events.ChatRoom("CHAT01"))
	require.Len(t, live, 1)
	assert.Equal(t, "<b>hi</b> there", live[0].Message, "content is only trimmed")
	assert.Equal(t, "alice", live[0].Username)
	require.NotNil(t, live[0].UserID)
	assert.Equal(t, users[0].ID, *live[0].UserID)
	assert.NotZero(t, live[0].MessageID)

	history, err := env.chat.GroupHistory(ctx, "CHAT01", users[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, live[0].MessageID, history[0].MessageID)
	assert.Equal(t, "alice", history[0].Username)
}

func TestChat_Validation(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice")
	group := env.groupWithCode(t, "CHAT02", users[0])
	ctx := context.Background()

	assert.ErrorIs(t, env.chat.SendMessage(ctx, group, users[0].ID, "alice", "   "), ErrEmptyMessage)

	err := env.chat.SendMessage(ctx, group, users[0].ID, "alice", strings.Repeat("é", 1001))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	require.NoError(t, env.chat.SendMessage(ctx, group, users[0].ID, "alice", strings.Repeat("é", 1000)))
	assert.Len(t, env.pub.chat(events.ChatRoom("CHAT02")), 1)
}

func TestChat_Producer(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice")
	group := env.groupWithCode(t, "CHAT03", users[0])
	ctx := context.Background()

	p := &fakeProducer{}
	env.chat.UseProducer(p)
	require.NoError(t, env.chat.SendMessage(ctx, group, users[0].ID, "alice", "queued"))
	assert.Equal(t, []string{"CHAT03"}, p.keys)
	assert.Empty(t, env.pub.chat(events.ChatRoom("CHAT03")), "consumer publishes after persisting")

	evt, err := env.chat.Persist(ctx, p.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "queued", evt.Message)
	assert.Len(t, env.pub.chat(events.ChatRoom("CHAT03")), 1)

	// 重复投递不会再次广播
	evt, err = env.chat.Persist(ctx, p.msgs[0])
	require.NoError(t, err)
	assert.Nil(t, evt)
	assert.Len(t, env.pub.chat(events.ChatRoom("CHAT03")), 1)

	// 队列不可用时直接落库
	p.err = errors.New("broker down")
	require.NoError(t, env.chat.SendMessage(ctx, group, users[0].ID, "alice", "direct"))
	assert.Len(t, env.pub.chat(events.ChatRoom("CHAT03")), 2)
}

func TestChat_HistoryLimitAndOrder(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	group := env.groupWithCode(t, "CHAT04", users...)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, env.chat.SendMessage(ctx, group, users[0].ID, "alice", text))
	}
	require.NoError(t, env.chat.PostSystemMessage(ctx, group, "bob joined the group"))

	history, err := env.chat.History(ctx, group.ID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "two", history[0].Message)
	assert.Equal(t, "three", history[1].Message)
	assert.True(t, history[2].IsSystemMessage)
	assert.Equal(t, "System", history[2].Username)

	_, err = env.chat.GroupHistory(ctx, "CHAT04", 9999, 10)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestChat_FormerMemberCannotSend(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	group := env.groupWithCode(t, "CHAT05", users...)
	ctx := context.Background()

	require.NoError(t, env.groups.LeaveGroup(ctx, "CHAT05", users[1].ID))
	assert.ErrorIs(t, env.chat.SendMessage(ctx, group, users[1].ID, "bob", "still here?"), ErrNotMember)
	assert.ErrorIs(t, env.chat.SendMessage(ctx, group, 9999, "ghost", "hello"), ErrNotMember)
	assert.Empty(t, env.pub.chat(events.ChatRoom("CHAT05")))

	history, err := env.chat.History(ctx, group.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
