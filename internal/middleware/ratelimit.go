package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/shelfmate/internal/model"
)

// レート制限の種別。メトリクスとログのラベルに使う。
const (
	LimitGeneral = "general"
	LimitPosting = "posting"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 認証済みAPI全体（req/sec）
	GeneralBurst    int
	PostingRate     rate.Limit    // 投稿・コメント・チャット送信・取り込み元登録（req/sec）
	PostingBurst    int
	CleanupInterval time.Duration // 最終アクセスからこの2倍を過ぎたユーザーを破棄する

	// Recorder は制限にかかったリクエストを記録する。nilなら記録しない。
	Recorder LimitRecorder
}

// LimitRecorder は制限にかかったリクエストの記録先。metrics.Collectorが実装する。
type LimitRecorder interface {
	RecordRateLimited(kind string)
}

// DefaultRateLimiterConfig は120 req/min/user、投稿系20 req/min/userの設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120, 20)
}

// PerMinuteRateLimiterConfig は1分あたりのリクエスト数から設定を生成する。
// バーストは1分あたりのリクエスト数と同じ。
func PerMinuteRateLimiterConfig(generalPerMin, postingPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMin) / 60.0),
		GeneralBurst:    generalPerMin,
		PostingRate:     rate.Limit(float64(postingPerMin) / 60.0),
		PostingBurst:    postingPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool はユーザーごとのトークンバケットを1種別分保持する。
type limiterPool struct {
	kind  string
	limit rate.Limit
	burst int

	mu    sync.Mutex
	users map[string]*userLimiter
}

func newLimiterPool(kind string, limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{kind: kind, limit: limit, burst: burst, users: make(map[string]*userLimiter)}
}

func (p *limiterPool) allow(userID string, now time.Time) bool {
	p.mu.Lock()
	ul, ok := p.users[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.users[userID] = ul
	}
	ul.lastAccess = now
	p.mu.Unlock()
	return ul.limiter.AllowN(now, 1)
}

func (p *limiterPool) evictIdle(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, ul := range p.users {
		if now.Sub(ul.lastAccess) > ttl {
			delete(p.users, userID)
		}
	}
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}

// RateLimiter はユーザー単位のレート制限を提供する。
// API全体と投稿系は独立したバケットを持つ。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	posting *limiterPool
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、アイドルなユーザーの破棄を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool(LimitGeneral, config.GeneralRate, config.GeneralBurst),
		posting: newLimiterPool(LimitPosting, config.PostingRate, config.PostingBurst),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop は破棄ループを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みルート全体のレート制限。SessionMiddlewareの後に置く。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// PostingMiddleware は書き込み系ルートのレート制限。GeneralMiddlewareとは別に数える。
func (rl *RateLimiter) PostingMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.posting)
}

func (rl *RateLimiter) middleware(pool *limiterPool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !pool.allow(userID, rl.now()) {
				if rl.config.Recorder != nil {
					rl.config.Recorder.RecordRateLimited(pool.kind)
				}
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", pool.kind),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeRateLimitResponse(w, pool.limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は追跡中のユーザー数（API全体）を返す。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.size() }

// PostingLimiterCount は追跡中のユーザー数（投稿系）を返す。
func (rl *RateLimiter) PostingLimiterCount() int { return rl.posting.size() }

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now, ttl := rl.now(), rl.config.CleanupInterval*2
	rl.general.evictIdle(now, ttl)
	rl.posting.evictIdle(now, ttl)
}

// writeRateLimitResponse は429 RATE_LIMITEDを書き込む。
// Retry-Afterは1トークンが補充されるまでの秒数（最低1秒）。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = max(1, int(math.Ceil(1.0/float64(limit))))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
