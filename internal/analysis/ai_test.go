package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbaninfra/internal/gemini"
	"urbaninfra/internal/perplexity"
)

// fakeGemini：绿化请求返回带代码块的 JSON（有图/无图摘要不同），建议请求回显建设类型
func fakeGemini(t *testing.T) *gemini.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []struct {
					Text       string          `json:"text"`
					InlineData json.RawMessage `json:"inline_data"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		summary, recommend := "metadata only", ""
		for _, c := range req.Contents {
			for _, p := range c.Parts {
				if len(p.InlineData) > 0 {
					summary = "from imagery"
				}
				if _, after, ok := strings.Cut(p.Text, "Construction type requested: "); ok {
					recommend, _, _ = strings.Cut(after, ".\n")
				}
			}
		}
		text := fmt.Sprintf("```json\n{\"greenery_score\": 14, \"greenery_summary\": %q, \"population_context\": \"dense\", \"observations\": [\"few parks\"]}\n```", summary)
		if recommend != "" {
			text = "\n**SDG 11 Requirements** site a " + recommend + " near the metro.\n"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}}},
		})
	}))
	t.Cleanup(srv.Close)
	c := gemini.NewClient("gk", "", srv.Client())
	c.Endpoint = srv.URL
	return c
}

func fakePerplexity(t *testing.T, status int, content string) *perplexity.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("down"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	c := perplexity.NewClient("pk", srv.Client())
	c.Endpoint = srv.URL
	return c
}

const treeList = "1. **Neem** (Azadirachta indica) - drought hardy [1]\n" +
	"2. **Peepal** (Ficus religiosa) - dense shade [2][3]\n" +
	"3. **Amaltas** (Cassia fistula) - tolerates poor soil\n"

func reportOf(t *testing.T, latest map[string]any) map[string]any {
	t.Helper()
	r, ok := latest["report"].(map[string]any)
	require.True(t, ok, "report missing: %v", latest)
	return r
}

func TestAIAnalyzerAddsGreeneryAndTrees(t *testing.T) {
	srv, c := newBackend(t, Options{Analyzer: AIAnalyzer{
		Model: fakeGemini(t),
		Trees: fakePerplexity(t, http.StatusOK, treeList),
	}})
	resp := postMultipart(t, c, srv.URL+"/analyze", sampleMeta, "snap.png", []byte("png"), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	code, latest := getLatest(t, c, srv.URL)
	require.Equal(t, http.StatusOK, code)
	r := reportOf(t, latest)
	assert.Greater(t, r["area_km2"].(float64), 1.0, "deterministic figures still computed")
	g := r["greenery"].(map[string]any)
	assert.Equal(t, 10.0, g["greenery_score"], "score clamped to 0-10")
	assert.Equal(t, "from imagery", g["greenery_summary"])
	assert.Equal(t, []any{"few parks"}, g["observations"])
	assert.Equal(t, []any{
		"**Neem** (Azadirachta indica) - drought hardy",
		"**Peepal** (Ficus religiosa) - dense shade",
		"**Amaltas** (Cassia fistula) - tolerates poor soil",
	}, r["trees"])
}

func TestAIAnalyzerWithoutImageUsesMetadataPrompt(t *testing.T) {
	srv, c := newBackend(t, Options{Analyzer: AIAnalyzer{Model: fakeGemini(t)}})
	resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, latest := getLatest(t, c, srv.URL)
	r := reportOf(t, latest)
	assert.Equal(t, "metadata only", r["greenery"].(map[string]any)["greenery_summary"])
	assert.NotContains(t, r, "trees")
	assert.Equal(t, imageFallback, latest["image_error"])
}

func TestTreeSuggestionFailureDegradesToMessage(t *testing.T) {
	cases := []struct {
		trees *perplexity.Client
		want  string
	}{
		{fakePerplexity(t, http.StatusServiceUnavailable, ""), "Unable to fetch tree suggestions (perplexity: HTTP 503: down)"},
		{perplexity.NewClient("", nil), "Tree suggestion service failed: perplexity: missing api key"},
	}
	for _, tc := range cases {
		srv, c := newBackend(t, Options{Analyzer: AIAnalyzer{Model: fakeGemini(t), Trees: tc.trees}})
		resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		_, latest := getLatest(t, c, srv.URL)
		assert.Equal(t, []any{tc.want}, reportOf(t, latest)["trees"])
	}
}

func TestGreeneryFailureFailsAnalysis(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)
	model := gemini.NewClient("gk", "", down.Client())
	model.Endpoint = down.URL

	srv, c := newBackend(t, Options{Analyzer: AIAnalyzer{Model: model}})
	resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Analysis failed: gemini: HTTP 500", decode(t, resp)["error"])

	code, _ := getLatest(t, c, srv.URL)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRecommendUpdatesSessionResult(t *testing.T) {
	srv, c := newBackend(t, Options{Analyzer: AIAnalyzer{Model: fakeGemini(t)}})

	resp := postJSON(t, c, srv.URL+RecommendPath, `{"construction_type":"school"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no analysis yet")
	assert.Equal(t, "Please analyze a ward before requesting recommendations.", decode(t, resp)["error"])

	resp = postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, c, srv.URL+RecommendPath, `{"construction_type":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Tell us what type of construction you're planning.", decode(t, resp)["error"])

	resp = postJSON(t, c, srv.URL+RecommendPath, `{"construction_type":" community park "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "community park", body["construction_type"])
	assert.Equal(t, "**SDG 11 Requirements** site a community park near the metro.", body["recommendations"])

	_, latest := getLatest(t, c, srv.URL)
	assert.Equal(t, body["id"], latest["id"], "same result updated in place")
	assert.Equal(t, "community park", latest["construction_type"])
	assert.Equal(t, body["recommendations"], latest["recommendations"])
	assert.Equal(t, "ROHINI", latest["metadata"].(map[string]any)["wardName"])

	// 表单提交走 303
	resp, err := c.PostForm(srv.URL+RecommendPath, url.Values{"construction_type": {"clinic"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, LatestPath, resp.Header.Get("Location"))
	_, latest = getLatest(t, c, srv.URL)
	assert.Equal(t, "clinic", latest["construction_type"])

	resp, err = c.Get(srv.URL + RecommendPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	// 其他会话看不到这条结果
	resp = postJSON(t, newClient(t), srv.URL+RecommendPath, `{"construction_type":"school"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type failingRecommender struct{}

func (failingRecommender) Recommend(context.Context, *Result, string) (string, error) {
	return "", errors.New("model overloaded")
}

func TestRecommendFailures(t *testing.T) {
	srv, c := newBackend(t, Options{})
	resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	resp.Body.Close()
	resp = postJSON(t, c, srv.URL+RecommendPath, `{"construction_type":"school"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	srv, c = newBackend(t, Options{Recommender: failingRecommender{}})
	resp = postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	resp.Body.Close()
	resp = postJSON(t, c, srv.URL+RecommendPath, `{"construction_type":"school"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Failed to generate recommendations: model overloaded", decode(t, resp)["error"])

	_, latest := getLatest(t, c, srv.URL)
	assert.NotContains(t, latest, "recommendations", "stored result untouched")
	assert.NotContains(t, latest, "construction_type")
}
