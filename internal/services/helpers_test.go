package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/catalog"
	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/metrics"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
	"github.com/Gopher0727/CineMatch/internal/testutil"
	"github.com/Gopher0727/CineMatch/utils/snowflake"
)

const testImageBase = "https://image.tmdb.org/t/p/w500"

type published struct {
	Room  events.Room
	Event any
}

// recorder 记录所有发布的事件
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(room events.Room, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Room: room, Event: event})
}

func (r *recorder) matches() []events.MatchFound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.MatchFound
	for _, p := range r.events {
		if e, ok := p.Event.(events.MatchFound); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) finished() []events.AllMembersFinished {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.AllMembersFinished
	for _, p := range r.events {
		if e, ok := p.Event.(events.AllMembersFinished); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) chat(room events.Room) []events.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.ChatMessage
	for _, p := range r.events {
		if e, ok := p.Event.(events.ChatMessage); ok && p.Room == room {
			out = append(out, e)
		}
	}
	return out
}

// fakeCatalog 固定数据的目录。fail 为 true 时所有调用返回 ErrUpstreamUnavailable
type fakeCatalog struct {
	mu       sync.Mutex
	popular  []catalog.Movie
	discover map[int][]catalog.Movie
	genres   map[int64][]int
	fail     bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{discover: map[int][]catalog.Movie{}, genres: map[int64][]int{}}
}

func (f *fakeCatalog) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeCatalog) MovieDetails(_ context.Context, id int64) (*catalog.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, catalog.ErrUpstreamUnavailable
	}
	return &catalog.Movie{
		ID:          id,
		Title:       fmt.Sprintf("Movie %d", id),
		PosterPath:  "/poster.jpg",
		ReleaseDate: "2010-07-16",
		VoteAverage: 8,
		GenreIDs:    f.genres[id],
	}, nil
}

func (f *fakeCatalog) Discover(_ context.Context, genreIDs []int) ([]catalog.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, catalog.ErrUpstreamUnavailable
	}
	var out []catalog.Movie
	for _, g := range genreIDs {
		out = append(out, f.discover[g]...)
	}
	return out, nil
}

func (f *fakeCatalog) Popular(context.Context) ([]catalog.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, catalog.ErrUpstreamUnavailable
	}
	return append([]catalog.Movie(nil), f.popular...), nil
}

func movies(ids ...int64) []catalog.Movie {
	out := make([]catalog.Movie, len(ids))
	for i, id := range ids {
		out[i] = catalog.Movie{ID: id, Title: fmt.Sprintf("Movie %d", id)}
	}
	return out
}

type testEnv struct {
	db      *gorm.DB
	store   *repositories.Store
	users   *repositories.UserRepository
	mr      *miniredis.Miniredis
	catalog *fakeCatalog
	pub     *recorder
	metrics *metrics.Metrics

	chat   *ChatService
	groups *GroupService
	deck   *DeckService
	swipes *SwipeService
}

func newEnv(t *testing.T, quota int) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := &testEnv{
		db:      db,
		store:   repositories.NewStore(db),
		users:   repositories.NewUserRepository(db, rdb),
		mr:      mr,
		catalog: newFakeCatalog(),
		pub:     &recorder{},
		metrics: metrics.NewNop(),
	}
	logger := zap.NewNop()
	genres := catalog.NewGenres(catalog.DefaultGenres)

	env.chat = NewChatService(env.store, env.pub, node, 50, 1000, env.metrics, logger)
	env.groups = NewGroupService(env.store, env.users, env.chat, genres, 6, 10, logger)
	env.deck = NewDeckService(env.store, repositories.NewDeckCache(rdb, 10*time.Minute), env.catalog, genres, 20, env.metrics, logger)
	env.swipes = NewSwipeService(SwipeServiceDeps{
		Store:     env.store,
		Users:     env.users,
		Deck:      env.deck,
		Chat:      env.chat,
		Catalog:   env.catalog,
		Genres:    genres,
		Publisher: env.pub,
		IDs:       node,
		Metrics:   env.metrics,
		Logger:    logger,
		Quota:     quota,
		ImageBase: testImageBase,
	})
	return env
}

// groupWithCode 直接建一个指定群组码的私有群组，members[0] 为创建者
func (e *testEnv) groupWithCode(t *testing.T, code string, members ...models.User) *models.GroupSession {
	t.Helper()
	ctx := context.Background()

	group := &models.GroupSession{
		ID:        uuid.NewString(),
		Code:      code,
		CreatorID: members[0].ID,
		Kind:      models.GroupKindPrivate,
		IsActive:  true,
		Round:     1,
	}
	require.NoError(t, e.store.Groups.CreateWithCreator(ctx, group))
	for _, m := range members[1:] {
		_, err := e.store.Groups.AddOrReactivateMember(ctx, group.ID, m.ID, models.RoleMember)
		require.NoError(t, err)
	}
	return group
}

func (e *testEnv) swipe(t *testing.T, code string, user models.User, movieID int64, action models.SwipeAction) *SwipeResult {
	t.Helper()
	res, err := e.swipes.RecordSwipe(context.Background(), code, user.ID, &SwipeRequest{MovieID: movieID, Action: action})
	require.NoError(t, err)
	return res
}
