package middlewares

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/CineMatch/utils/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) { c.Status(http.StatusOK) }

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimitMiddleware(rate.NewLimiter(rate.Every(time.Hour), 2), 10*time.Millisecond), okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestUserRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := ratelimit.NewWindowLimiter(client, zap.NewNop(), true)

	r := gin.New()
	r.POST("/swipes",
		func(c *gin.Context) {
			var id uint = 1
			if c.GetHeader("X-User") == "2" {
				id = 2
			}
			c.Set("user_id", id)
		},
		UserRateLimitMiddleware(limiter, "swipe", 2, time.Hour, zap.NewNop()),
		okHandler,
	)

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/swipes", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("1"))
	assert.Equal(t, http.StatusOK, do("1"))
	assert.Equal(t, http.StatusTooManyRequests, do("1"))
	assert.Equal(t, http.StatusOK, do("2"))

	// Redis 不可用时放行
	mr.Close()
	assert.Equal(t, http.StatusOK, do("2"))
}

func TestMaxConcurrencyMiddleware(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	r := gin.New()
	r.GET("/", MaxConcurrencyMiddleware(1), func(c *gin.Context) {
		if c.Query("block") == "1" {
			close(entered)
			<-release
		}
		c.Status(http.StatusOK)
	})

	var wg sync.WaitGroup
	wg.Go(func() {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?block=1", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
	<-entered

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	close(release)
	wg.Wait()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
