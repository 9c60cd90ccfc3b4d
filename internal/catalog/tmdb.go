package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TMDBClient 通过 HTTP 访问 TMDB v3 API
type TMDBClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewTMDBClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *TMDBClient {
	return &TMDBClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type tmdbMovie struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	PosterPath  string  `json:"poster_path"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
	GenreIDs    []int   `json:"genre_ids"`
	Genres      []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

func (m tmdbMovie) toMovie() Movie {
	movie := Movie{
		ID:          m.ID,
		Title:       m.Title,
		Overview:    m.Overview,
		PosterPath:  m.PosterPath,
		ReleaseDate: m.ReleaseDate,
		VoteAverage: m.VoteAverage,
		GenreIDs:    m.GenreIDs,
	}
	for _, g := range m.Genres {
		movie.Genres = append(movie.Genres, g.Name)
		if len(m.GenreIDs) == 0 {
			movie.GenreIDs = append(movie.GenreIDs, g.ID)
		}
	}
	return movie
}

type tmdbPage struct {
	Results []tmdbMovie `json:"results"`
}

func (c *TMDBClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("tmdb request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrMovieNotFound
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("tmdb unexpected status", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

func (c *TMDBClient) MovieDetails(ctx context.Context, id int64) (*Movie, error) {
	var m tmdbMovie
	if err := c.get(ctx, "/movie/"+strconv.FormatInt(id, 10), nil, &m); err != nil {
		return nil, err
	}
	movie := m.toMovie()
	return &movie, nil
}

func (c *TMDBClient) Discover(ctx context.Context, genreIDs []int) ([]Movie, error) {
	ids := make([]string, len(genreIDs))
	for i, id := range genreIDs {
		ids[i] = strconv.Itoa(id)
	}
	params := url.Values{}
	// TMDB 中 "|" 表示 OR
	params.Set("with_genres", strings.Join(ids, "|"))
	params.Set("sort_by", "popularity.desc")
	params.Set("vote_count.gte", "100")

	var page tmdbPage
	if err := c.get(ctx, "/discover/movie", params, &page); err != nil {
		return nil, err
	}
	return toMovies(page.Results), nil
}

func (c *TMDBClient) Popular(ctx context.Context) ([]Movie, error) {
	var page tmdbPage
	if err := c.get(ctx, "/movie/popular", nil, &page); err != nil {
		return nil, err
	}
	return toMovies(page.Results), nil
}

func toMovies(results []tmdbMovie) []Movie {
	movies := make([]Movie, len(results))
	for i, m := range results {
		movies[i] = m.toMovie()
	}
	return movies
}
