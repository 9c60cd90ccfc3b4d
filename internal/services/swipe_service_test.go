package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
	"github.com/Gopher0727/CineMatch/internal/testutil"
)

func TestIsConsensus(t *testing.T) {
	assert.False(t, isConsensus(0, 0), "empty group never matches")
	assert.False(t, isConsensus(1, 2))
	assert.True(t, isConsensus(2, 2))
	assert.True(t, isConsensus(1, 1))
}

func TestRecordSwipe_TwoMemberScenario(t *testing.T) {
	env := newEnv(t, 1)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	a, b := users[0], users[1]
	env.groupWithCode(t, "ABC123", a, b)

	res := env.swipe(t, "ABC123", a, 550, models.ActionLike)
	assert.Equal(t, repositories.SwipeCreated, res.Status)
	assert.False(t, res.IsMatch)
	assert.Equal(t, 1, res.LikeCount)
	assert.Equal(t, 2, res.MemberCount)
	assert.Empty(t, env.pub.matches())

	res = env.swipe(t, "ABC123", b, 550, models.ActionLike)
	assert.True(t, res.IsMatch)
	assert.True(t, res.MatchCreated)
	require.NotNil(t, res.Match)

	found := env.pub.matches()
	require.Len(t, found, 1)
	assert.Equal(t, int64(550), found[0].TMDBID)
	assert.Equal(t, "Movie 550", found[0].MovieTitle)
	assert.Equal(t, "2010", found[0].Year)
	require.NotNil(t, found[0].PosterURL)
	assert.Equal(t, testImageBase+"/poster.jpg", *found[0].PosterURL)
	assert.ElementsMatch(t, []string{"alice", "bob"}, found[0].MatchedBy)
	assert.Equal(t, 2, found[0].MemberCount)
	assert.Equal(t, matchMessage, found[0].Message)

	// 配额为 1，两人各滑一次后本轮已完成
	assert.True(t, res.RoundComplete)
	require.Len(t, env.pub.finished(), 1)
	assert.Equal(t, int64(1), env.pub.finished()[0].CommonMatchesCount)

	// 匹配公告
	announcements := env.pub.chat(events.ChatRoom("ABC123"))
	require.Len(t, announcements, 1)
	assert.True(t, announcements[0].IsSystemMessage)
	assert.Contains(t, announcements[0].Message, "Movie 550")
}

func TestRecordSwipe_NewRoundCompletion(t *testing.T) {
	env := newEnv(t, 1)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	a, b := users[0], users[1]
	env.groupWithCode(t, "ABC123", a, b)
	ctx := context.Background()

	env.swipe(t, "ABC123", a, 550, models.ActionLike)
	env.swipe(t, "ABC123", b, 550, models.ActionLike)
	require.Len(t, env.pub.finished(), 1)

	cleared, err := env.swipes.ClearSwipes(ctx, "ABC123", a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleared.Deleted)
	assert.Equal(t, 2, cleared.Round)

	status, err := env.swipes.GetCompletionStatus(ctx, "ABC123", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.FinishedMembers)
	assert.False(t, status.AllFinished)

	res := env.swipe(t, "ABC123", a, 551, models.ActionDislike)
	assert.False(t, res.IsMatch)
	assert.False(t, res.RoundComplete)

	status, err = env.swipes.GetCompletionStatus(ctx, "ABC123", b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.FinishedMembers)

	res = env.swipe(t, "ABC123", b, 551, models.ActionLike)
	assert.False(t, res.IsMatch)
	assert.True(t, res.RoundComplete)

	finished := env.pub.finished()
	require.Len(t, finished, 2, "one per round")
	assert.Equal(t, 2, finished[1].FinishedMembers)
	assert.Equal(t, 2, finished[1].TotalMembers)
	assert.Equal(t, 1, finished[1].TotalMovies)

	// 本轮已完成，后续滑动不再广播
	env.swipe(t, "ABC123", a, 552, models.ActionLike)
	assert.Len(t, env.pub.finished(), 2)

	// 清空不影响已有匹配
	matches, err := env.swipes.GetMatches(ctx, "ABC123", a.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(550), matches[0].TMDBID)
	assert.Equal(t, 1, matches[0].Round)
}

func TestRecordSwipe_Idempotent(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	env.groupWithCode(t, "IDEM01", users...)

	for _, u := range users {
		env.swipe(t, "IDEM01", u, 42, models.ActionLike)
	}
	res := env.swipe(t, "IDEM01", users[0], 42, models.ActionLike)
	assert.Equal(t, repositories.SwipeUnchanged, res.Status)
	assert.True(t, res.IsMatch)
	assert.False(t, res.MatchCreated)
	assert.Len(t, env.pub.matches(), 1)

	// 改成不喜欢不会撤销匹配
	res = env.swipe(t, "IDEM01", users[1], 42, models.ActionDislike)
	assert.Equal(t, repositories.SwipeUpdated, res.Status)
	matches, err := env.swipes.GetMatches(context.Background(), "IDEM01", users[0].ID)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRecordSwipe_SuperLikeIsNotConsensus(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	env.groupWithCode(t, "SUPER1", users...)

	env.swipe(t, "SUPER1", users[0], 7, models.ActionSuperLike)
	res := env.swipe(t, "SUPER1", users[1], 7, models.ActionLike)
	assert.Equal(t, 1, res.LikeCount)
	assert.False(t, res.IsMatch)
}

func TestRecordSwipe_Rejections(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "mallory")
	env.groupWithCode(t, "REJ001", users[0])
	ctx := context.Background()

	_, err := env.swipes.RecordSwipe(ctx, "REJ001", users[1].ID, &SwipeRequest{MovieID: 1, Action: models.ActionLike})
	assert.ErrorIs(t, err, ErrNotMember)

	counts, err := env.store.Swipes.CountsByUser(ctx, mustGroup(t, env, "REJ001").ID, []uint{users[1].ID})
	require.NoError(t, err)
	assert.Zero(t, counts[users[1].ID], "rejected swipe is not stored")

	_, err = env.swipes.RecordSwipe(ctx, "NOPE00", users[0].ID, &SwipeRequest{MovieID: 1, Action: models.ActionLike})
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = env.swipes.RecordSwipe(ctx, "REJ001", users[0].ID, &SwipeRequest{MovieID: 1, Action: "MAYBE"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "action", verr.Field)

	_, err = env.swipes.RecordSwipe(ctx, "REJ001", users[0].ID, &SwipeRequest{MovieID: 0, Action: models.ActionLike})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "movie_id", verr.Field)
}

func TestRecordSwipe_ConcurrentLikesCreateOneMatch(t *testing.T) {
	env := newEnv(t, 20)
	names := make([]string, 6)
	for i := range names {
		names[i] = fmt.Sprintf("user%d", i)
	}
	users := testutil.CreateUsers(t, env.db, names...)
	env.groupWithCode(t, "RACE01", users...)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		matched int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u models.User) {
			defer wg.Done()
			res, err := env.swipes.RecordSwipe(context.Background(), "RACE01", u.ID, &SwipeRequest{MovieID: 99, Action: models.ActionLike})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.MatchCreated {
				created++
			}
			if res.IsMatch {
				matched++
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, matched, "only the last like sees full consensus")
	assert.Len(t, env.pub.matches(), 1)
}

func TestRecordSwipe_CatalogDownStillMatches(t *testing.T) {
	env := newEnv(t, 20)
	env.catalog.setFail(true)
	users := testutil.CreateUsers(t, env.db, "alice", "bob")
	env.groupWithCode(t, "DOWN01", users...)

	env.swipe(t, "DOWN01", users[0], 550, models.ActionLike)
	res := env.swipe(t, "DOWN01", users[1], 550, models.ActionLike)
	require.True(t, res.MatchCreated)
	assert.Equal(t, int64(550), res.Match.TMDBID)
	assert.Empty(t, res.Match.MovieTitle)
	assert.Nil(t, res.Match.PosterURL)
}

func TestClearSwipes_CreatorOnly(t *testing.T) {
	env := newEnv(t, 20)
	users := testutil.CreateUsers(t, env.db, "alice", "bob", "eve")
	env.groupWithCode(t, "CLR001", users[0], users[1])
	ctx := context.Background()

	_, err := env.swipes.ClearSwipes(ctx, "CLR001", users[1].ID)
	assert.ErrorIs(t, err, ErrNotCreator)
	_, err = env.swipes.ClearSwipes(ctx, "CLR001", users[2].ID)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = env.swipes.ClearSwipes(ctx, "NOPE00", users[0].ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestClearSwipes_EvictsDeck(t *testing.T) {
	env := newEnv(t, 20)
	env.catalog.popular = movies(1, 2, 3)
	users := testutil.CreateUsers(t, env.db, "alice")
	env.groupWithCode(t, "EVICT1", users[0])
	ctx := context.Background()

	_, err := env.deck.GetDeck(ctx, "EVICT1", users[0].ID, 10)
	require.NoError(t, err)
	group := mustGroup(t, env, "EVICT1")
	assert.True(t, env.mr.Exists("group:deck:"+group.ID))

	_, err = env.swipes.ClearSwipes(ctx, "EVICT1", users[0].ID)
	require.NoError(t, err)
	assert.False(t, env.mr.Exists("group:deck:"+group.ID))
}

// 完成人数随滑动单调不减，每轮恰好在最后一个成员达到配额时完成一次
func TestCompletionMonotonicity(t *testing.T) {
	const quota = 3
	env := newEnv(t, quota)
	pool := testutil.CreateUsers(t, env.db, "p1", "p2", "p3", "p4")
	ctx := context.Background()
	var seq int

	rapid.Check(t, func(rt *rapid.T) {
		seq++
		n := rapid.IntRange(1, len(pool)).Draw(rt, "members")
		members := pool[:n]
		code := fmt.Sprintf("MONO%02d", seq)
		env.groupWithCode(t, code, members...)

		steps := rapid.SliceOfN(rapid.Custom(func(rt *rapid.T) [3]int {
			return [3]int{
				rapid.IntRange(0, n-1).Draw(rt, "user"),
				rapid.IntRange(1, 5).Draw(rt, "movie"),
				rapid.IntRange(0, 2).Draw(rt, "action"),
			}
		}), 1, 25).Draw(rt, "steps")
		actions := []models.SwipeAction{models.ActionLike, models.ActionDislike, models.ActionSuperLike}

		prev := 0
		completions := 0
		for _, st := range steps {
			res, err := env.swipes.RecordSwipe(ctx, code, members[st[0]].ID, &SwipeRequest{
				MovieID: int64(st[1]),
				Action:  actions[st[2]],
			})
			if err != nil {
				rt.Fatalf("swipe: %v", err)
			}
			status, err := env.swipes.GetCompletionStatus(ctx, code, members[0].ID)
			if err != nil {
				rt.Fatalf("status: %v", err)
			}
			if status.FinishedMembers < prev {
				rt.Fatalf("finished members went from %d to %d", prev, status.FinishedMembers)
			}
			if res.RoundComplete {
				completions++
				if !status.AllFinished {
					rt.Fatalf("round completed while not all finished")
				}
				if prev == status.FinishedMembers && prev == n {
					rt.Fatalf("completion fired after everyone was already finished")
				}
			}
			prev = status.FinishedMembers
		}

		if completions > 1 {
			rt.Fatalf("round completed %d times", completions)
		}
		if (prev == n) != (completions == 1) {
			rt.Fatalf("all finished = %v but completions = %d", prev == n, completions)
		}
	})
}

func mustGroup(t *testing.T, env *testEnv, code string) *models.GroupSession {
	t.Helper()
	group, err := env.store.Groups.GetByCode(context.Background(), code)
	require.NoError(t, err)
	return group
}
