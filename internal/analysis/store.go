package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
)

const DefaultSessionTTL = 24 * time.Hour

var ErrNoResult = errors.New("analysis: no result for session")

// Report：分析器输出
type Report struct {
	AreaKm2       float64  `json:"area_km2"`
	Population    *int64   `json:"population"`
	DensityPerKm2 *float64 `json:"density_per_km2"`
	Summary       string   `json:"summary"`

	Greenery *Greenery `json:"greenery,omitempty"`
	Trees    []string  `json:"trees,omitempty"`
}

// Greenery：模型给出的绿化评估，分值 0~10
type Greenery struct {
	Score             float64  `json:"greenery_score"`
	Summary           string   `json:"greenery_summary"`
	PopulationContext string   `json:"population_context"`
	Observations      []string `json:"observations"`
}

// Result：某会话最近一次分析结果
type Result struct {
	ID         string         `json:"id"`
	Metadata   map[string]any `json:"metadata"`
	AIMetadata map[string]any `json:"ai_metadata"`
	Report     Report         `json:"report"`
	ImageToken string         `json:"image_token,omitempty"`
	ImageMIME  string         `json:"image_mime,omitempty"`
	ImageError string         `json:"image_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`

	ConstructionType string `json:"construction_type,omitempty"`
	Recommendations  string `json:"recommendations,omitempty"`
}

// Image：分析所用图片
type Image struct {
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

// 文档注释：结果存储
// 约束：结果只按会话保存最新一条；图片按令牌单独保存，替换结果时由调用方删除旧图片
type Store interface {
	Put(ctx context.Context, session string, r *Result) error
	Latest(ctx context.Context, session string) (*Result, error)
	PutImage(ctx context.Context, token string, img Image) error
	Image(ctx context.Context, token string) (Image, error)
	DeleteImage(ctx context.Context, token string) error
}

// 文档注释：Redis 存储
// 背景：多实例部署时会话需要跨进程可见；键带 TTL，会话过期后自然清理
// 约束：结果键 analysis:<session>，图片键 analysis:image:<token>，值均为 JSON
type RedisStore struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisStore(rc *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{rc: rc, ttl: ttl}
}

func resultKey(session string) string { return "analysis:" + session }
func imageKey(token string) string    { return "analysis:image:" + token }

func (s *RedisStore) Put(ctx context.Context, session string, r *Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.rc.Set(ctx, resultKey(session), b, s.ttl).Err()
}

func (s *RedisStore) Latest(ctx context.Context, session string) (*Result, error) {
	b, err := s.rc.Get(ctx, resultKey(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.StoreMissesTotal.Inc()
		return nil, ErrNoResult
	}
	if err != nil {
		logger.L().Error("redis_get_error", "key", resultKey(session), "err", err)
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	metrics.StoreHitsTotal.Inc()
	return &r, nil
}

func (s *RedisStore) PutImage(ctx context.Context, token string, img Image) error {
	b, err := json.Marshal(img)
	if err != nil {
		return err
	}
	return s.rc.Set(ctx, imageKey(token), b, s.ttl).Err()
}

func (s *RedisStore) Image(ctx context.Context, token string) (Image, error) {
	b, err := s.rc.Get(ctx, imageKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Image{}, ErrNoResult
	}
	if err != nil {
		return Image{}, err
	}
	var img Image
	err = json.Unmarshal(b, &img)
	return img, err
}

func (s *RedisStore) DeleteImage(ctx context.Context, token string) error {
	return s.rc.Del(ctx, imageKey(token)).Err()
}

// MemoryStore：进程内存储（未配置 Redis 或测试时使用）
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	results map[string]memEntry[*Result]
	images  map[string]memEntry[Image]
}

type memEntry[T any] struct {
	v   T
	exp time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		results: make(map[string]memEntry[*Result]),
		images:  make(map[string]memEntry[Image]),
	}
}

func (s *MemoryStore) Put(_ context.Context, session string, r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[session] = memEntry[*Result]{v: r, exp: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, session string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.results[session]
	if !ok || !s.now().Before(e.exp) {
		delete(s.results, session)
		metrics.StoreMissesTotal.Inc()
		return nil, ErrNoResult
	}
	metrics.StoreHitsTotal.Inc()
	return e.v, nil
}

func (s *MemoryStore) PutImage(_ context.Context, token string, img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[token] = memEntry[Image]{v: img, exp: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Image(_ context.Context, token string) (Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.images[token]
	if !ok || !s.now().Before(e.exp) {
		delete(s.images, token)
		return Image{}, ErrNoResult
	}
	return e.v, nil
}

func (s *MemoryStore) DeleteImage(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.images, token)
	return nil
}
