// 包 config：集中读取环境变量，每个键带内联默认值
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBackendBaseURL   = "http://localhost:5001"
	DefaultDistrictsGeoJSON = "https://raw.githubusercontent.com/datta07/INDIAN-SHAPEFILES/master/STATES/DELHI/DELHI_DISTRICTS.geojson"
	DefaultWardsGeoJSON     = "https://raw.githubusercontent.com/datameet/Municipal_Spatial_Data/refs/heads/master/Delhi/Delhi_Wards.geojson"
	DefaultPopulationCSV    = "data/population/ward_population.csv"
)

// Config：两个入口（分析后端与 explorer）共用的配置
type Config struct {
	BackendBaseURL string

	DistrictsGeoJSON string
	WardsGeoJSON     string
	PopulationCSV    string
	// PopulationSource 取 csv 或 postgres
	PopulationSource string
	MembershipPath   string

	SubmitTimeout    time.Duration
	FallbackTimeout  time.Duration
	RenderSettle     time.Duration
	RenderGrace      time.Duration
	SearchMaxResults int

	Addr             string
	GoogleMapsAPIKey string
	SessionTTL       time.Duration
	SecureCookie     bool
	AllowedOrigins   []string

	RateLimitEnabled bool
	RateLimitQPS     float64
	RateLimitBurst   int

	TLSEnable   bool
	TLSCertPath string
	TLSKeyPath  string

	// 外部模型；GeminiAPIKey 为空时分析只含确定性指标
	GeminiAPIKey     string
	GeminiModel      string
	PerplexityAPIKey string
}

// LoadDotenv：加载 .env 与 data/env/.env；文件缺失时静默跳过，已存在的环境变量优先
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// 文档注释：从环境变量构建配置
// 约束：数值解析失败或越界时回退到默认值，不报错
func Load() Config {
	return Config{
		BackendBaseURL:   str("BACKEND_BASE_URL", DefaultBackendBaseURL),
		DistrictsGeoJSON: str("DISTRICTS_GEOJSON", DefaultDistrictsGeoJSON),
		WardsGeoJSON:     str("WARDS_GEOJSON", DefaultWardsGeoJSON),
		PopulationCSV:    str("POPULATION_CSV", DefaultPopulationCSV),
		PopulationSource: populationSource(),
		MembershipPath:   os.Getenv("MEMBERSHIP_JSON"),

		SubmitTimeout:    seconds("SUBMIT_TIMEOUT_S", 180),
		FallbackTimeout:  seconds("FALLBACK_TIMEOUT_S", 5),
		RenderSettle:     millis("RENDER_SETTLE_MS", 3000),
		RenderGrace:      millis("RENDER_GRACE_MS", 8000),
		SearchMaxResults: positiveInt("SEARCH_MAX_RESULTS", 30),

		Addr:             str("ADDR", ":5001"),
		GoogleMapsAPIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
		SessionTTL:       seconds("SESSION_TTL_S", 86400),
		SecureCookie:     os.Getenv("SESSION_COOKIE_SECURE") == "true",
		AllowedOrigins:   origins(),

		RateLimitEnabled: os.Getenv("RATE_LIMIT_ENABLED") == "true",
		RateLimitQPS:     positiveFloat("RATE_LIMIT_QPS", 200),
		RateLimitBurst:   positiveInt("RATE_LIMIT_BURST", 400),

		TLSEnable:   os.Getenv("TLS_ENABLE") == "true",
		TLSCertPath: str("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:  str("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),

		GeminiAPIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:      str("GEMINI_MODEL", "gemini-2.5-pro"),
		PerplexityAPIKey: strings.TrimSpace(os.Getenv("PERPLEXITY_API_KEY")),
	}
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			return n
		}
	}
	return def
}

func positiveFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if n, e := strconv.ParseFloat(s, 64); e == nil && n > 0 {
			return n
		}
	}
	return def
}

func seconds(key string, def int) time.Duration {
	return time.Duration(positiveInt(key, def)) * time.Second
}

func millis(key string, def int) time.Duration {
	return time.Duration(positiveInt(key, def)) * time.Millisecond
}

func populationSource() string {
	switch s := strings.ToLower(os.Getenv("POPULATION_SOURCE")); s {
	case "postgres", "pg":
		return "postgres"
	default:
		return "csv"
	}
}

// origins：FRONTEND_ORIGIN 逗号分隔；未配置时放行本地开发地址，另外总是允许 "null"（本地文件打开的页面）
func origins() []string {
	var out []string
	if raw := os.Getenv("FRONTEND_ORIGIN"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	} else {
		out = []string{"http://127.0.0.1:5500", "http://localhost:5500"}
	}
	return append(out, "null")
}
