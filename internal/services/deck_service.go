package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/catalog"
	"github.com/Gopher0727/CineMatch/internal/metrics"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
)

// 牌组来源，同时作为指标的 source 标签
const (
	DeckSourceCache        = "cache"
	DeckSourcePersonalized = "personalized"
	DeckSourceCommunity    = "community"
	DeckSourcePopular      = "popular"
	DeckSourceStale        = "stale"
	DeckSourceEmpty        = "empty"
)

const (
	topGenreCount = 3
	// 统计类型偏好时最多查看的已喜欢电影数
	maxLikedSample = 20
	maxDeckLimit   = 100
)

// DeckService 生成群组的候选电影列表
type DeckService struct {
	store        *repositories.Store
	cache        *repositories.DeckCache
	catalog      catalog.Gateway
	genres       *catalog.Genres
	defaultLimit int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewDeckService(store *repositories.Store, cache *repositories.DeckCache, gateway catalog.Gateway, genres *catalog.Genres, defaultLimit int, m *metrics.Metrics, logger *zap.Logger) *DeckService {
	return &DeckService{
		store:        store,
		cache:        cache,
		catalog:      gateway,
		genres:       genres,
		defaultLimit: defaultLimit,
		metrics:      m,
		logger:       logger,
	}
}

// GetDeck 成员获取群组牌组
func (s *DeckService) GetDeck(ctx context.Context, code string, userID uint, limit int) ([]int64, error) {
	group, err := memberGroup(ctx, s.store, code, userID)
	if err != nil {
		return nil, err
	}
	return s.Deck(ctx, group, limit)
}

// Deck 返回最多 limit 部候选电影。
// 目录服务故障不会返回错误：依次退回到旧缓存、热门电影、空列表；只有存储故障才返回错误
func (s *DeckService) Deck(ctx context.Context, group *models.GroupSession, limit int) ([]int64, error) {
	if limit <= 0 || limit > maxDeckLimit {
		limit = s.defaultLimit
	}

	excluded, err := s.excluded(ctx, group)
	if err != nil {
		return nil, err
	}

	cached, ok, err := s.cache.Get(ctx, group.ID)
	if err != nil {
		s.logger.Warn("read deck cache failed", zap.String("group_id", group.ID), zap.Error(err))
	}
	if ok {
		s.metrics.DeckBuilds.WithLabelValues(DeckSourceCache).Inc()
		return head(without(cached, excluded), limit), nil
	}

	liked, err := s.likedSample(ctx, group)
	if err != nil {
		return nil, err
	}

	ids, source := s.build(ctx, group, excluded, liked)
	s.metrics.DeckBuilds.WithLabelValues(source).Inc()
	if source != DeckSourceStale && source != DeckSourceEmpty {
		if err := s.cache.Set(ctx, group.ID, ids); err != nil {
			s.logger.Warn("write deck cache failed", zap.String("group_id", group.ID), zap.Error(err))
		}
	}
	return head(ids, limit), nil
}

// Invalidate 删除群组的牌组缓存
func (s *DeckService) Invalidate(ctx context.Context, groupID string) {
	if err := s.cache.Invalidate(ctx, groupID); err != nil {
		s.logger.Warn("invalidate deck cache failed", zap.String("group_id", groupID), zap.Error(err))
	}
}

// excluded 不应再出现在牌组中的电影
func (s *DeckService) excluded(ctx context.Context, group *models.GroupSession) (map[int64]struct{}, error) {
	swiped, err := s.store.Swipes.SwipedMovieIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("load swiped movies: %w", err)
	}
	matched, err := s.store.Swipes.MatchedMovieIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("load matched movies: %w", err)
	}
	ids := append(swiped, matched...)

	// 社区群组：成员在任何群组里滑过的都排除
	if group.Kind == models.GroupKindCommunity {
		members, err := s.store.Groups.ActiveMemberIDs(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("load members: %w", err)
		}
		elsewhere, err := s.store.Swipes.SwipedMovieIDsByUsers(ctx, members)
		if err != nil {
			return nil, fmt.Errorf("load member swipes: %w", err)
		}
		ids = append(ids, elsewhere...)
	}

	return lo.SliceToMap(ids, func(id int64) (int64, struct{}) { return id, struct{}{} }), nil
}

// likedSample 私有群组 2 人以上时，按喜欢次数排序的电影样本；其他情况为空
func (s *DeckService) likedSample(ctx context.Context, group *models.GroupSession) ([]int64, error) {
	if group.Kind == models.GroupKindCommunity {
		return nil, nil
	}
	members, err := s.store.Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	if len(members) < 2 {
		return nil, nil
	}
	liked, err := s.store.Swipes.LikedMovieIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("load liked movies: %w", err)
	}
	if len(liked) > maxLikedSample {
		liked = liked[:maxLikedSample]
	}
	return liked, nil
}

// build 只有目录服务的错误会走到这里，全部降级处理
func (s *DeckService) build(ctx context.Context, group *models.GroupSession, excluded map[int64]struct{}, liked []int64) ([]int64, string) {
	var (
		movies []catalog.Movie
		source string
		err    error
	)

	switch group.Kind {
	case models.GroupKindCommunity:
		if genreID, ok := s.genres.ID(group.GenreFilter); ok {
			movies, err = s.catalog.Discover(ctx, []int{genreID})
			source = DeckSourceCommunity
		}
	default:
		var genreIDs []int
		genreIDs, err = s.preferredGenres(ctx, liked)
		if err == nil && len(genreIDs) > 0 {
			movies, err = s.catalog.Discover(ctx, genreIDs)
			sort.SliceStable(movies, func(i, j int) bool {
				return movies[i].VoteAverage > movies[j].VoteAverage
			})
			source = DeckSourcePersonalized
		}
	}

	if err != nil {
		s.logger.Warn("build deck failed, falling back", zap.String("group_id", group.ID), zap.String("source", source), zap.Error(err))
		if ids, ok := s.stale(ctx, group, excluded); ok {
			return ids, DeckSourceStale
		}
		movies = nil
	}

	if movies == nil {
		movies, err = s.catalog.Popular(ctx)
		source = DeckSourcePopular
		if err != nil {
			s.logger.Warn("popular feed failed", zap.String("group_id", group.ID), zap.Error(err))
			if ids, ok := s.stale(ctx, group, excluded); ok {
				return ids, DeckSourceStale
			}
			return []int64{}, DeckSourceEmpty
		}
	}

	ids := lo.Uniq(lo.Map(movies, func(m catalog.Movie, _ int) int64 { return m.ID }))
	return without(ids, excluded), source
}

// preferredGenres 喜欢过的电影中出现最多的前三个类型
func (s *DeckService) preferredGenres(ctx context.Context, liked []int64) ([]int, error) {
	if len(liked) == 0 {
		return nil, nil
	}

	var genreIDs []int
	var lastErr error
	for _, id := range liked {
		movie, err := s.catalog.MovieDetails(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		genreIDs = append(genreIDs, movie.GenreIDs...)
		if len(movie.GenreIDs) == 0 {
			genreIDs = append(genreIDs, s.genres.IDs(movie.Genres)...)
		}
	}
	if len(genreIDs) == 0 {
		return nil, lastErr
	}
	return topGenres(genreIDs, topGenreCount), nil
}

func (s *DeckService) stale(ctx context.Context, group *models.GroupSession, excluded map[int64]struct{}) ([]int64, bool) {
	ids, ok, err := s.cache.GetStale(ctx, group.ID)
	if err != nil || !ok {
		return nil, false
	}
	return without(ids, excluded), true
}

// topGenres 按出现次数降序取前 n 个，次数相同时 ID 小的在前
func topGenres(genreIDs []int, n int) []int {
	counts := lo.CountValues(genreIDs)
	keys := lo.Keys(counts)
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func without(ids []int64, excluded map[int64]struct{}) []int64 {
	return lo.Filter(ids, func(id int64, _ int) bool {
		_, skip := excluded[id]
		return !skip
	})
}

func head(ids []int64, limit int) []int64 {
	if len(ids) > limit {
		return ids[:limit]
	}
	return ids
}
