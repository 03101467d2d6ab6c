package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/metrics"
	"urbaninfra/internal/staticmap"
	"urbaninfra/internal/version"
)

const (
	SessionCookie  = "urbaninfra_session"
	MaxUploadBytes = 10 << 20

	LatestPath     = "/analysis/latest"
	RecommendPath  = "/recommend"
	imagePrefix    = "/analysis/image/"
	imageFallback  = "Satellite preview unavailable; proceeding with metadata-only analysis."
	defaultTimeout = 170 * time.Second
)

var allowedImages = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
}

var imageExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// ImageFetcher：没有上传图片时的卫星图来源（*staticmap.Client 满足此接口）
type ImageFetcher interface {
	Fetch(ctx context.Context, req staticmap.Request) ([]byte, error)
}

// Options：服务依赖；Store 为空时使用内存存储，Analyzer 为空时使用 MetadataAnalyzer
// Recommender 为空时若 Analyzer 本身实现了 Recommender 则沿用，否则 /recommend 返回 503
type Options struct {
	Store        Store
	Analyzer     Analyzer
	Recommender  Recommender
	Maps         ImageFetcher
	SessionTTL   time.Duration
	SecureCookie bool
}

// 文档注释：分析后端
// 背景：分析耗时长，结果按会话保存，客户端即使丢失 /analyze 的响应也能通过 /analysis/latest 取回
// 约束：会话只保存最新一条；替换结果时删除旧图片
type Server struct {
	store    Store
	analyzer Analyzer
	advisor  Recommender
	maps     ImageFetcher
	ttl      time.Duration
	secure   bool
	log      *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore(opts.SessionTTL)
	}
	if opts.Analyzer == nil {
		opts.Analyzer = MetadataAnalyzer{}
	}
	if opts.Recommender == nil {
		opts.Recommender, _ = opts.Analyzer.(Recommender)
	}
	return &Server{
		store:    opts.Store,
		analyzer: opts.Analyzer,
		advisor:  opts.Recommender,
		maps:     opts.Maps,
		ttl:      opts.SessionTTL,
		secure:   opts.SecureCookie,
		log:      logger.With("analysis"),
	}
}

// Routes：构建路由，独立 ServeMux 便于在主入口挂载
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc(LatestPath, s.handleLatest)
	mux.HandleFunc(imagePrefix, s.handleImage)
	mux.HandleFunc(RecommendPath, s.handleRecommend)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "commit": version.Commit})
	})
	return mux
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	status := s.analyze(w, r)
	metrics.AnalyzeDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	metrics.AnalyzeRequestsTotal.WithLabelValues(statusClass(status)).Inc()
}

// 文档注释：处理一次分析请求，返回写出的状态码
// 流程：解析 JSON 或 multipart → 校验图片 → 无图时拉取静态卫星图（失败降级为 image_error）
// → 精简元数据 → 分析 → 按会话保存 → JSON 客户端返回 redirect_url，其余 303 跳转
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	ctx := r.Context()

	var meta map[string]any
	var img *Image
	isJSON := isJSONRequest(r)
	if isJSON {
		var body struct {
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			if tooLarge(err) {
				return writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the 10 MB limit.")
			}
			s.log.Warn("analyze_json_error", "err", err)
		}
		meta = body.Metadata
	} else {
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			if tooLarge(err) {
				return writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the 10 MB limit.")
			}
			return writeError(w, http.StatusBadRequest, "Request must be JSON or multipart form data.")
		}
		if raw := r.FormValue("metadata_json"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return writeError(w, http.StatusBadRequest, "Metadata must be valid JSON.")
			}
		}
		f, hdr, err := r.FormFile("satellite_image")
		if err == nil {
			defer f.Close()
			if hdr.Filename != "" {
				mt, ok := allowedImages[strings.TrimPrefix(strings.ToLower(path.Ext(hdr.Filename)), ".")]
				if !ok {
					return writeError(w, http.StatusBadRequest, "Unsupported file type. Upload PNG, JPG, JPEG, or WEBP.")
				}
				data, err := io.ReadAll(f)
				if err != nil {
					return writeError(w, http.StatusBadRequest, "Could not read uploaded image.")
				}
				img = &Image{MIME: mt, Data: data}
				s.log.Info("analyze_image_uploaded", "filename", hdr.Filename, "bytes", len(data))
			}
		}
	}

	wm := parseWard(meta)
	if len(meta) > 0 {
		s.log.Info("analyze_metadata", "ward", wm.WardName, "ward_no", wm.Number(), "district", wm.DistrictName,
			"has_coordinates", wm.Coordinates != nil, "has_geojson", len(wm.Geo) > 0)
	} else {
		s.log.Warn("analyze_metadata_missing")
	}

	var imageError string
	if img == nil {
		if len(meta) == 0 {
			return writeError(w, http.StatusBadRequest, "Ward metadata is required for analysis.")
		}
		if data, err := s.fetchStatic(ctx, wm); err != nil {
			s.log.Warn("analyze_static_map_failed", "err", err)
			imageError = imageFallback
		} else {
			img = &Image{MIME: "image/png", Data: data}
		}
	}

	ai := BuildAIMetadata(meta)
	report, err := s.analyzer.Analyze(ctx, Input{
		Metadata:   meta,
		AIMetadata: ai,
		Image:      img,
		Geometry:   wm.Geometry(),
		Population: wm.PopulationCount(),
		WardName:   wm.WardName,
		District:   wm.DistrictName,
	})
	if err != nil {
		s.log.Error("analyze_failed", "err", err)
		return writeError(w, http.StatusInternalServerError, "Analysis failed: "+err.Error())
	}

	session := s.session(w, r)
	res := &Result{
		ID:         uuid.NewString(),
		Metadata:   Sanitize(meta),
		AIMetadata: ai,
		Report:     report,
		ImageError: imageError,
		CreatedAt:  time.Now().UTC(),
	}
	if img != nil {
		res.ImageToken = uuid.NewString() + "." + imageExt[img.MIME]
		res.ImageMIME = img.MIME
		if err := s.store.PutImage(ctx, res.ImageToken, *img); err != nil {
			s.log.Error("analyze_image_store_error", "err", err)
			res.ImageToken, res.ImageMIME = "", ""
			res.ImageError = imageFallback
		}
	}
	if prev, err := s.store.Latest(ctx, session); err == nil && prev.ImageToken != "" && prev.ImageToken != res.ImageToken {
		_ = s.store.DeleteImage(ctx, prev.ImageToken)
	}
	if err := s.store.Put(ctx, session, res); err != nil {
		s.log.Error("analyze_store_error", "err", err)
		return writeError(w, http.StatusInternalServerError, "Could not store analysis result.")
	}
	s.log.Info("analyze_ok", "id", res.ID, "ward", wm.WardName, "has_image", res.ImageToken != "")

	if isJSON || strings.Contains(r.Header.Get("Accept"), "application/json") {
		return writeJSON(w, http.StatusOK, map[string]string{"redirect_url": LatestPath})
	}
	http.Redirect(w, r, LatestPath, http.StatusSeeOther)
	return http.StatusSeeOther
}

func (s *Server) fetchStatic(ctx context.Context, wm ward) ([]byte, error) {
	if s.maps == nil {
		return nil, staticmap.ErrMissingKey
	}
	req, ok := wm.StaticMapRequest()
	if !ok {
		return nil, errors.New("ward center coordinates are required for static map generation")
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return s.maps.Fetch(ctx, req)
}

type latestView struct {
	*Result
	ImageURL string `json:"image_url,omitempty"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusNotFound, "No analysis available for this session.")
		return
	}
	res, err := s.store.Latest(r.Context(), c.Value)
	if errors.Is(err, ErrNoResult) {
		writeError(w, http.StatusNotFound, "No analysis available for this session.")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not load analysis result.")
		return
	}
	writeJSON(w, http.StatusOK, s.view(res))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, imagePrefix)
	if r.Method != http.MethodGet || token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	// 只向持有该图片的会话提供；令牌须是会话最近一次结果的图片
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		http.NotFound(w, r)
		return
	}
	res, err := s.store.Latest(r.Context(), c.Value)
	if err != nil || res.ImageToken != token {
		http.NotFound(w, r)
		return
	}
	img, err := s.store.Image(r.Context(), token)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("content-type", img.MIME)
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(img.Data)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	status := s.recommend(w, r)
	metrics.RecommendRequestsTotal.WithLabelValues(statusClass(status)).Inc()
}

// 文档注释：为会话最近一次结果追加建设建议
// 流程：读取 construction_type（JSON 或表单）→ 取会话结果（无则 404）→ 校验类型（空则 400）
// → 生成建议 → 写回同一会话；JSON 客户端返回更新后的结果，其余 303 跳转到 /analysis/latest
// 约束：生成失败时不修改已保存的结果
func (s *Server) recommend(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	ctx := r.Context()

	var constructionType string
	isJSON := isJSONRequest(r)
	if isJSON {
		var body struct {
			ConstructionType string `json:"construction_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return writeError(w, http.StatusBadRequest, "Request body must be valid JSON.")
		}
		constructionType = body.ConstructionType
	} else {
		constructionType = r.FormValue("construction_type")
	}
	constructionType = strings.TrimSpace(constructionType)

	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return writeError(w, http.StatusNotFound, "Please analyze a ward before requesting recommendations.")
	}
	res, err := s.store.Latest(ctx, c.Value)
	if errors.Is(err, ErrNoResult) {
		return writeError(w, http.StatusNotFound, "Please analyze a ward before requesting recommendations.")
	}
	if err != nil {
		return writeError(w, http.StatusInternalServerError, "Could not load analysis result.")
	}
	if constructionType == "" {
		return writeError(w, http.StatusBadRequest, "Tell us what type of construction you're planning.")
	}
	if s.advisor == nil {
		return writeError(w, http.StatusServiceUnavailable, "Recommendations are not configured.")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	text, err := s.advisor.Recommend(ctx, res, constructionType)
	if err != nil {
		s.log.Error("recommend_failed", "id", res.ID, "err", err)
		return writeError(w, http.StatusBadGateway, "Failed to generate recommendations: "+err.Error())
	}
	res.ConstructionType = constructionType
	res.Recommendations = text
	if err := s.store.Put(ctx, c.Value, res); err != nil {
		s.log.Error("recommend_store_error", "err", err)
		return writeError(w, http.StatusInternalServerError, "Could not store analysis result.")
	}
	s.log.Info("recommend_ok", "id", res.ID, "construction_type", constructionType, "chars", len(text))

	if isJSON || strings.Contains(r.Header.Get("Accept"), "application/json") {
		return writeJSON(w, http.StatusOK, s.view(res))
	}
	http.Redirect(w, r, LatestPath, http.StatusSeeOther)
	return http.StatusSeeOther
}

func (s *Server) view(res *Result) latestView {
	v := latestView{Result: res}
	if res.ImageToken != "" {
		v.ImageURL = imagePrefix + res.ImageToken
	}
	return v
}

// session：沿用有效的会话 cookie，否则签发新的 uuid
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	id := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func isJSONRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, status int, v any) int {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
	return status
}

func writeError(w http.ResponseWriter, status int, msg string) int {
	return writeJSON(w, status, map[string]string{"error": msg})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
