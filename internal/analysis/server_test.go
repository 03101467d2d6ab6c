package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbaninfra/internal/regions/regionstest"
	"urbaninfra/internal/staticmap"
	"urbaninfra/internal/submit"
)

type fetcherFunc func(ctx context.Context, req staticmap.Request) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, req staticmap.Request) ([]byte, error) {
	return f(ctx, req)
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, Input) (Report, error) {
	return Report{}, errors.New("model unavailable")
}

func newBackend(t *testing.T, opts Options) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(NewServer(opts).Routes())
	t.Cleanup(srv.Close)
	return srv, newClient(t)
}

// newClient：带独立 cookie jar 的客户端，即一个独立会话
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar:           jar,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

func postJSON(t *testing.T, c *http.Client, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	return resp
}

func postMultipart(t *testing.T, c *http.Client, url, meta, filename string, img []byte, accept string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if meta != "" {
		require.NoError(t, mw.WriteField("metadata_json", meta))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("satellite_image", filename)
		require.NoError(t, err)
		_, _ = fw.Write(img)
	}
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func getLatest(t *testing.T, c *http.Client, base string) (int, map[string]any) {
	t.Helper()
	resp, err := c.Get(base + LatestPath)
	require.NoError(t, err)
	return resp.StatusCode, decode(t, resp)
}

func TestAnalyzeJSONThenLatest(t *testing.T) {
	srv, c := newBackend(t, Options{})

	resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, LatestPath, decode(t, resp)["redirect_url"])

	code, latest := getLatest(t, c, srv.URL)
	require.Equal(t, http.StatusOK, code)
	meta := latest["metadata"].(map[string]any)
	assert.Equal(t, "ROHINI", meta["wardName"])
	assert.NotContains(t, meta, "ward_geojson")
	ai := latest["ai_metadata"].(map[string]any)
	assert.Equal(t, map[string]any{"lat": 28.123457, "lng": 77.987654}, ai["center_point"])
	report := latest["report"].(map[string]any)
	assert.Greater(t, report["area_km2"].(float64), 1.0)
	assert.Equal(t, imageFallback, latest["image_error"])
	assert.NotContains(t, latest, "image_url")
}

func TestLatestWithoutSessionIs404(t *testing.T) {
	srv, c := newBackend(t, Options{})
	code, body := getLatest(t, c, srv.URL)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"])

	req, _ := http.NewRequest(http.MethodGet, srv.URL+LatestPath, nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "5d1f0a3e-4b7c-4c61-9d55-000000000000"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeMultipartImage(t *testing.T) {
	srv, c := newBackend(t, Options{})
	png := []byte("\x89PNG fake image")

	resp := postMultipart(t, c, srv.URL+"/analyze", sampleMeta, "snap.PNG", png, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	code, latest := getLatest(t, c, srv.URL)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "image/png", latest["image_mime"])
	assert.NotContains(t, latest, "image_error")
	imageURL := latest["image_url"].(string)

	ir, err := c.Get(srv.URL + imageURL)
	require.NoError(t, err)
	var got bytes.Buffer
	_, _ = got.ReadFrom(ir.Body)
	ir.Body.Close()
	assert.Equal(t, "image/png", ir.Header.Get("Content-Type"))
	assert.Equal(t, png, got.Bytes())

	// 替换结果后旧图片被删除
	resp = postMultipart(t, c, srv.URL+"/analyze", sampleMeta, "snap.webp", []byte("webp"), "application/json")
	resp.Body.Close()
	ir, err = c.Get(srv.URL + imageURL)
	require.NoError(t, err)
	ir.Body.Close()
	assert.Equal(t, http.StatusNotFound, ir.StatusCode)
}

func TestImageOnlyServedToOwningSession(t *testing.T) {
	srv, owner := newBackend(t, Options{})
	resp := postMultipart(t, owner, srv.URL+"/analyze", sampleMeta, "snap.png", []byte("png"), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	_, latest := getLatest(t, owner, srv.URL)
	imageURL := latest["image_url"].(string)

	// 无 cookie
	ir, err := http.Get(srv.URL + imageURL)
	require.NoError(t, err)
	ir.Body.Close()
	assert.Equal(t, http.StatusNotFound, ir.StatusCode)

	// 另一个会话，即使它也有自己的结果
	other := newClient(t)
	resp = postMultipart(t, other, srv.URL+"/analyze", sampleMeta, "other.png", []byte("other"), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	ir, err = other.Get(srv.URL + imageURL)
	require.NoError(t, err)
	ir.Body.Close()
	assert.Equal(t, http.StatusNotFound, ir.StatusCode)

	ir, err = owner.Get(srv.URL + imageURL)
	require.NoError(t, err)
	ir.Body.Close()
	assert.Equal(t, http.StatusOK, ir.StatusCode)
}

func TestAnalyzeValidation(t *testing.T) {
	srv, c := newBackend(t, Options{})

	resp := postMultipart(t, c, srv.URL+"/analyze", sampleMeta, "snap.gif", []byte("gif"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "Unsupported file type")

	resp = postJSON(t, c, srv.URL+"/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Ward metadata is required for analysis.", decode(t, resp)["error"])

	resp = postMultipart(t, c, srv.URL+"/analyze", "{not json", "", nil, "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Metadata must be valid JSON.", decode(t, resp)["error"])

	resp, err := c.Get(srv.URL + "/analyze")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNonJSONClientGetsSeeOther(t *testing.T) {
	srv, c := newBackend(t, Options{})
	resp := postMultipart(t, c, srv.URL+"/analyze", sampleMeta, "", nil, "text/html")
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, LatestPath, resp.Header.Get("Location"))
}

func TestStaticMapUsedWhenNoUpload(t *testing.T) {
	seenCh := make(chan staticmap.Request, 1)
	maps := fetcherFunc(func(_ context.Context, req staticmap.Request) ([]byte, error) {
		seenCh <- req
		return []byte("satellite"), nil
	})
	srv, c := newBackend(t, Options{Maps: maps})
	resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	resp.Body.Close()

	_, latest := getLatest(t, c, srv.URL)
	assert.Equal(t, "image/png", latest["image_mime"])
	seen := <-seenCh
	assert.InDelta(t, 28.123456789, seen.Center.Lat(), 1e-12)
	assert.NotNil(t, seen.Boundary)

	failing := fetcherFunc(func(context.Context, staticmap.Request) ([]byte, error) {
		return nil, errors.New("quota exceeded")
	})
	srv2, c2 := newBackend(t, Options{Maps: failing})
	resp = postJSON(t, c2, srv2.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	resp.Body.Close()
	_, latest = getLatest(t, c2, srv2.URL)
	assert.Equal(t, imageFallback, latest["image_error"])
}

func TestAnalyzerFailureIs500(t *testing.T) {
	srv, c := newBackend(t, Options{Analyzer: failingAnalyzer{}})
	resp := postJSON(t, c, srv.URL+"/analyze", `{"metadata":`+sampleMeta+`}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Analysis failed: model unavailable", decode(t, resp)["error"])
}

func TestHealth(t *testing.T) {
	srv, c := newBackend(t, Options{})
	resp, err := c.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "commit")
}

func TestPipelineAgainstBackend(t *testing.T) {
	srv, _ := newBackend(t, Options{})
	ds := regionstest.Dataset()
	rohini := regionstest.MustWard(ds.Catalog, "ROHINI")
	parent, ok := ds.Catalog.Parent(rohini)
	require.True(t, ok)

	p, err := submit.New(submit.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	payload := submit.Payload{
		RegionID:        rohini.ID,
		RegionName:      rohini.Name,
		RegionNumber:    rohini.Number,
		ParentGroupName: parent.Name,
		Population:      rohini.Population,
		Coordinates:     submit.NewCoordinates(rohini.Bound),
		MapView:         submit.MapView{Zoom: 16, MapTypeID: "satellite"},
		Geometry:        rohini.Feature(),
	}
	out := p.Submit(context.Background(), payload)
	require.Equal(t, submit.StatusSuccess, out.Status, "%v", out.Err)
	assert.Equal(t, srv.URL+LatestPath, out.RedirectTarget)

	out = p.Submit(context.Background(), payload, submit.WithImage("ward.png", []byte("png")))
	require.Equal(t, submit.StatusSuccess, out.Status, "%v", out.Err)
	require.NoError(t, p.Health(context.Background()))
}
