// Package catalog 访问外部电影目录 (TMDB)。目录数据只用于展示与推荐，不参与身份判断
package catalog

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/Gopher0727/CineMatch/internal/catalog Gateway

var (
	// ErrUpstreamUnavailable 目录服务不可用 (网络错误、超时、5xx)
	ErrUpstreamUnavailable = errors.New("catalog upstream unavailable")
	// ErrMovieNotFound 目录中不存在该电影
	ErrMovieNotFound = errors.New("movie not found")
)

// Movie 电影元数据快照
type Movie struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview"`
	PosterPath  string   `json:"poster_path"`
	ReleaseDate string   `json:"release_date"`
	VoteAverage float64  `json:"vote_average"`
	GenreIDs    []int    `json:"genre_ids"`
	Genres      []string `json:"genres"`
}

// Year 上映年份，release_date 缺失时为空
func (m *Movie) Year() string {
	if len(m.ReleaseDate) < 4 {
		return ""
	}
	return m.ReleaseDate[:4]
}

// PosterURL 拼接海报地址，没有海报时返回 nil
func (m *Movie) PosterURL(imageBase string) *string {
	if m.PosterPath == "" {
		return nil
	}
	url := imageBase + m.PosterPath
	return &url
}

// Gateway 电影目录
type Gateway interface {
	// MovieDetails 单部电影详情
	MovieDetails(ctx context.Context, id int64) (*Movie, error)
	// Discover 按类型 ID 发现电影 (任一类型命中即可)
	Discover(ctx context.Context, genreIDs []int) ([]Movie, error)
	// Popular 热门电影
	Popular(ctx context.Context) ([]Movie, error)
}
