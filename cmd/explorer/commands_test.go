package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbaninfra/internal/analysis"
	"urbaninfra/internal/config"
	"urbaninfra/internal/regions/regionstest"
)

func writeFixtures(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	g, w := regionstest.Collections()
	write := func(name string, fc *geojson.FeatureCollection) string {
		b, err := json.Marshal(fc)
		require.NoError(t, err)
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, b, 0o644))
		return p
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	require.NoError(t, cw.Write([]string{"Ward Name", "Total Population"}))
	for _, r := range regionstest.Rows() {
		require.NoError(t, cw.Write([]string{r.Name, fmt.Sprint(r.Population)}))
	}
	cw.Flush()
	popPath := filepath.Join(dir, "population.csv")
	require.NoError(t, os.WriteFile(popPath, buf.Bytes(), 0o644))

	return config.Config{
		BackendBaseURL:   "http://127.0.0.1:1",
		DistrictsGeoJSON: write("districts.geojson", g),
		WardsGeoJSON:     write("wards.geojson", w),
		PopulationCSV:    popPath,
		PopulationSource: "csv",
		SubmitTimeout:    10 * time.Second,
		FallbackTimeout:  2 * time.Second,
		RenderSettle:     20 * time.Millisecond,
		RenderGrace:      time.Second,
		SearchMaxResults: 30,
	}
}

func run(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(cfg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSearchPrintsDistrictAndPopulation(t *testing.T) {
	cfg := writeFixtures(t)
	out, err := run(t, cfg, "search", "rohini")
	require.NoError(t, err)
	assert.Contains(t, out, "ROHINI")
	assert.Contains(t, out, "North")
	assert.Contains(t, out, fmt.Sprint(regionstest.Population("ROHINI")))

	out, err = run(t, cfg, "search", "atlantis")
	require.NoError(t, err)
	assert.Contains(t, out, "no matches")
}

func TestGroupsAndMembers(t *testing.T) {
	cfg := writeFixtures(t)
	out, err := run(t, cfg, "groups")
	require.NoError(t, err)
	for _, g := range regionstest.GroupNames() {
		assert.Contains(t, out, g)
	}

	out, err = run(t, cfg, "members", "north")
	require.NoError(t, err)
	assert.Contains(t, out, "ROHINI")

	_, err = run(t, cfg, "members", "Atlantis")
	assert.Error(t, err)
}

func TestAnalyzeSubmitsToBackend(t *testing.T) {
	srv := httptest.NewServer(analysis.NewServer(analysis.Options{}).Routes())
	t.Cleanup(srv.Close)
	cfg := writeFixtures(t)
	cfg.BackendBaseURL = srv.URL

	out, err := run(t, cfg, "analyze", "Rohini")
	require.NoError(t, err, out)
	assert.Contains(t, out, "selected ROHINI (subregion_selected")
	assert.Contains(t, out, "analysis ready: "+srv.URL+analysis.LatestPath)

	out, err = run(t, cfg, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestAnalyzeReportsFailure(t *testing.T) {
	cfg := writeFixtures(t)
	cfg.FallbackTimeout = 200 * time.Millisecond
	out, err := run(t, cfg, "analyze", "Rohini", "--drop-tiles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Analysis of ROHINI failed")
	assert.Contains(t, out, "selected ROHINI")

	_, err = run(t, cfg, "analyze", "nagar")
	assert.Error(t, err, "ambiguous query")
}
