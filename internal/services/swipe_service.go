package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/catalog"
	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/metrics"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
	"github.com/Gopher0727/CineMatch/utils/snowflake"
)

const (
	matchMessage    = "🎉 It's a match! Everyone in the group liked this movie!"
	finishedMessage = "All members have finished swiping this round!"
)

// SwipeServiceDeps SwipeService 的依赖
type SwipeServiceDeps struct {
	Store     *repositories.Store
	Users     *repositories.UserRepository
	Deck      *DeckService
	Chat      *ChatService
	Catalog   catalog.Gateway
	Genres    *catalog.Genres
	Publisher events.Publisher
	IDs       *snowflake.Node
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	Quota     int
	ImageBase string
}

// SwipeService 记录滑动、判断共识与轮次完成
type SwipeService struct {
	SwipeServiceDeps
}

func NewSwipeService(deps SwipeServiceDeps) *SwipeService {
	return &SwipeService{SwipeServiceDeps: deps}
}

type SwipeRequest struct {
	MovieID int64              `json:"movie_id" binding:"required,gt=0"`
	Action  models.SwipeAction `json:"action" binding:"required"`
}

// CompletionStatus 本轮完成情况
type CompletionStatus struct {
	AllFinished     bool `json:"all_finished"`
	TotalMembers    int  `json:"total_members"`
	FinishedMembers int  `json:"finished_members"`
	Quota           int  `json:"quota"`
	Round           int  `json:"round"`
}

type SwipeResult struct {
	Status        repositories.SwipeOutcome  `json:"status"`
	MovieID       int64                      `json:"movie_id"`
	Action        models.SwipeAction         `json:"action"`
	IsMatch       bool                       `json:"is_match"`
	LikeCount     int                        `json:"like_count"`
	MemberCount   int                        `json:"member_count"`
	MatchCreated  bool                       `json:"match_created"`
	Match         *events.MatchFound         `json:"match,omitempty"`
	RoundComplete bool                       `json:"round_complete"`
	Completion    *events.AllMembersFinished `json:"completion,omitempty"`
}

// MatchResponse 匹配列表项，附带目录快照
type MatchResponse struct {
	MatchID     int64     `json:"match_id,string"`
	TMDBID      int64     `json:"tmdb_id"`
	MovieTitle  string    `json:"movie_title"`
	PosterURL   *string   `json:"poster_url"`
	Year        string    `json:"year"`
	Genres      []string  `json:"genres"`
	Overview    string    `json:"overview"`
	VoteAverage float64   `json:"vote_average"`
	Round       int       `json:"round"`
	MatchedAt   time.Time `json:"matched_at"`
}

type ClearResult struct {
	Deleted int64 `json:"deleted"`
	Round   int   `json:"round"`
}

// isConsensus 全部有效成员都喜欢，空群组永远不匹配
func isConsensus(likeCount, memberCount int) bool {
	return memberCount > 0 && likeCount == memberCount
}

// RecordSwipe 记录一次滑动。
// 实现逻辑：
//  1. 事务内先锁群组行，同一群组的滑动串行执行，并发的最后一个喜欢不会互相错过
//  2. 写入滑动后按有效成员统计喜欢数，达成共识时插入匹配，唯一索引保证只有一次插入成功
//  3. 统计本轮完成情况，全员完成时插入轮次完成记录，同样只成功一次
//  4. 提交后清除牌组缓存，由插入成功的调用方发布事件
func (s *SwipeService) RecordSwipe(ctx context.Context, code string, userID uint, req *SwipeRequest) (*SwipeResult, error) {
	if !req.Action.Valid() {
		return nil, newValidationError("action", fmt.Sprintf("unknown action %q", req.Action))
	}
	if req.MovieID <= 0 {
		return nil, newValidationError("movie_id", "must be positive")
	}

	result := &SwipeResult{MovieID: req.MovieID, Action: req.Action}
	var (
		group      *models.GroupSession
		likers     []uint
		match      *models.GroupMatch
		status     *CompletionStatus
		matchCount int64
	)

	err := s.Store.Transaction(ctx, func(tx *repositories.Store) error {
		g, err := tx.Groups.LockByCode(ctx, code)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGroupNotFound
		}
		if err != nil {
			return fmt.Errorf("lock group: %w", err)
		}
		if !g.IsActive {
			return ErrGroupNotFound
		}
		group = g

		members, err := tx.Groups.ActiveMemberIDs(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("load members: %w", err)
		}
		if !lo.Contains(members, userID) {
			return ErrNotMember
		}
		result.MemberCount = len(members)

		outcome, err := tx.Swipes.Upsert(ctx, &models.GroupSwipe{
			GroupID: g.ID,
			UserID:  userID,
			MovieID: req.MovieID,
			Action:  req.Action,
		})
		if err != nil {
			return fmt.Errorf("save swipe: %w", err)
		}
		result.Status = outcome

		if req.Action == models.ActionLike {
			likers, err = tx.Swipes.LikerIDs(ctx, g.ID, req.MovieID, members)
			if err != nil {
				return fmt.Errorf("count likes: %w", err)
			}
			result.LikeCount = len(likers)
			result.IsMatch = isConsensus(len(likers), len(members))
		}

		if result.IsMatch {
			id, err := s.IDs.NextID()
			if err != nil {
				return fmt.Errorf("match id: %w", err)
			}
			m := &models.GroupMatch{
				ID:        id,
				GroupID:   g.ID,
				MovieID:   req.MovieID,
				Round:     g.Round,
				MatchedAt: time.Now(),
			}
			created, err := tx.Swipes.CreateMatch(ctx, m)
			if err != nil {
				return fmt.Errorf("create match: %w", err)
			}
			if created {
				match = m
			}
		}

		status, err = completion(ctx, tx, g, members, s.Quota)
		if err != nil {
			return err
		}
		if status.AllFinished {
			created, err := tx.Swipes.MarkRoundComplete(ctx, g.ID, g.Round)
			if err != nil {
				return fmt.Errorf("mark round complete: %w", err)
			}
			if created {
				result.RoundComplete = true
				if matchCount, err = tx.Swipes.CountMatches(ctx, g.ID); err != nil {
					return fmt.Errorf("count matches: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Deck.Invalidate(ctx, group.ID)
	s.Metrics.Swipes.WithLabelValues(string(req.Action), string(result.Status)).Inc()

	if match != nil {
		s.Metrics.Matches.Inc()
		evt := s.matchFound(ctx, match, likers, result.MemberCount)
		result.MatchCreated = true
		result.Match = &evt
		s.Publisher.Publish(events.MatchRoom(group.Code), evt)

		s.Logger.Info("group match",
			zap.String("group_code", group.Code),
			zap.Int64("movie_id", match.MovieID),
			zap.Int("members", result.MemberCount),
		)
		title := evt.MovieTitle
		if title == "" {
			title = fmt.Sprintf("movie #%d", evt.TMDBID)
		}
		if err := s.Chat.PostSystemMessage(ctx, group, "🎉 Match! Everyone liked "+title); err != nil {
			s.Logger.Warn("post match message failed", zap.String("group_code", group.Code), zap.Error(err))
		}
	}

	if result.RoundComplete {
		s.Metrics.RoundsCompleted.Inc()
		evt := events.AllMembersFinished{
			Type:               events.TypeAllMembersFinished,
			TotalMembers:       status.TotalMembers,
			FinishedMembers:    status.FinishedMembers,
			TotalMovies:        status.Quota,
			CommonMatchesCount: matchCount,
			Message:            finishedMessage,
		}
		result.Completion = &evt
		s.Publisher.Publish(events.MatchRoom(group.Code), evt)
		s.Logger.Info("round complete", zap.String("group_code", group.Code), zap.Int("round", group.Round))
	}

	return result, nil
}

// completion 纯读统计：成员本轮滑动数达到配额即视为完成
func completion(ctx context.Context, store *repositories.Store, group *models.GroupSession, members []uint, quota int) (*CompletionStatus, error) {
	counts, err := store.Swipes.CountsByUser(ctx, group.ID, members)
	if err != nil {
		return nil, fmt.Errorf("count swipes: %w", err)
	}
	finished := lo.CountBy(members, func(id uint) bool {
		return counts[id] >= int64(quota)
	})
	return &CompletionStatus{
		AllFinished:     len(members) > 0 && finished == len(members),
		TotalMembers:    len(members),
		FinishedMembers: finished,
		Quota:           quota,
		Round:           group.Round,
	}, nil
}

// CheckCompletion 群组本轮完成情况
func (s *SwipeService) CheckCompletion(ctx context.Context, group *models.GroupSession) (*CompletionStatus, error) {
	members, err := s.Store.Groups.ActiveMemberIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	return completion(ctx, s.Store, group, members, s.Quota)
}

// GetCompletionStatus 成员查询本轮完成情况
func (s *SwipeService) GetCompletionStatus(ctx context.Context, code string, userID uint) (*CompletionStatus, error) {
	group, err := memberGroup(ctx, s.Store, code, userID)
	if err != nil {
		return nil, err
	}
	return s.CheckCompletion(ctx, group)
}

// GetMatches 群组的全部匹配，最新的在前
func (s *SwipeService) GetMatches(ctx context.Context, code string, userID uint) ([]MatchResponse, error) {
	group, err := memberGroup(ctx, s.Store, code, userID)
	if err != nil {
		return nil, err
	}
	matches, err := s.Store.Swipes.ListMatches(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	resp := make([]MatchResponse, 0, len(matches))
	for _, m := range matches {
		movie := s.movie(ctx, m.MovieID)
		resp = append(resp, MatchResponse{
			MatchID:     m.ID,
			TMDBID:      m.MovieID,
			MovieTitle:  movie.Title,
			PosterURL:   movie.PosterURL(s.ImageBase),
			Year:        movie.Year(),
			Genres:      s.genreNames(movie),
			Overview:    movie.Overview,
			VoteAverage: movie.VoteAverage,
			Round:       m.Round,
			MatchedAt:   m.MatchedAt,
		})
	}
	return resp, nil
}

// ClearSwipes 创建者清空本轮滑动并开始新一轮，历史匹配保留
func (s *SwipeService) ClearSwipes(ctx context.Context, code string, userID uint) (*ClearResult, error) {
	result := &ClearResult{}
	var groupID string

	err := s.Store.Transaction(ctx, func(tx *repositories.Store) error {
		g, err := tx.Groups.LockByCode(ctx, code)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGroupNotFound
		}
		if err != nil {
			return fmt.Errorf("lock group: %w", err)
		}
		if !g.IsActive {
			return ErrGroupNotFound
		}
		ok, err := tx.Groups.IsActiveMember(ctx, g.ID, userID)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !ok {
			return ErrNotMember
		}
		if g.CreatorID != userID {
			return ErrNotCreator
		}
		groupID = g.ID

		if result.Deleted, err = tx.Swipes.DeleteForGroup(ctx, g.ID); err != nil {
			return fmt.Errorf("delete swipes: %w", err)
		}
		if result.Round, err = tx.Groups.AdvanceRound(ctx, g.ID); err != nil {
			return fmt.Errorf("advance round: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Deck.Invalidate(ctx, groupID)
	s.Logger.Info("swipes cleared", zap.String("group_code", code), zap.Int64("deleted", result.Deleted), zap.Int("round", result.Round))
	return result, nil
}

// matchFound 在事务外补全电影信息与成员名，目录不可用时只带电影 ID
func (s *SwipeService) matchFound(ctx context.Context, match *models.GroupMatch, likers []uint, memberCount int) events.MatchFound {
	movie := s.movie(ctx, match.MovieID)

	matchedBy := []string{}
	users, err := s.Users.GetByIDs(ctx, likers)
	if err != nil {
		s.Logger.Warn("load matched usernames failed", zap.Error(err))
	}
	for _, id := range likers {
		if u, ok := users[id]; ok {
			matchedBy = append(matchedBy, u.Username)
		}
	}

	return events.MatchFound{
		Type:        events.TypeMatchFound,
		MatchID:     match.ID,
		TMDBID:      match.MovieID,
		MovieTitle:  movie.Title,
		PosterURL:   movie.PosterURL(s.ImageBase),
		Year:        movie.Year(),
		Genres:      s.genreNames(movie),
		Overview:    movie.Overview,
		VoteAverage: movie.VoteAverage,
		MatchedAt:   match.MatchedAt,
		MatchedBy:   matchedBy,
		MemberCount: memberCount,
		Message:     matchMessage,
	}
}

// movie 目录快照，失败时返回只有 ID 的空壳
func (s *SwipeService) movie(ctx context.Context, movieID int64) *catalog.Movie {
	movie, err := s.Catalog.MovieDetails(ctx, movieID)
	if err != nil {
		s.Logger.Warn("movie details unavailable", zap.Int64("movie_id", movieID), zap.Error(err))
		return &catalog.Movie{ID: movieID}
	}
	return movie
}

func (s *SwipeService) genreNames(movie *catalog.Movie) []string {
	if len(movie.Genres) > 0 {
		return movie.Genres
	}
	names := make([]string, 0, len(movie.GenreIDs))
	for _, id := range movie.GenreIDs {
		if name, ok := s.Genres.Name(id); ok {
			names = append(names, name)
		}
	}
	return names
}
