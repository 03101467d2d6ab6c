package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"urbaninfra/internal/config"
	"urbaninfra/internal/dataset"
	"urbaninfra/internal/engine"
	"urbaninfra/internal/logger"
	"urbaninfra/internal/migrate"
	"urbaninfra/internal/population"
	"urbaninfra/internal/regions"
	"urbaninfra/internal/render"
	"urbaninfra/internal/search"
	"urbaninfra/internal/submit"
	"urbaninfra/internal/utils"
	"urbaninfra/internal/view"
)

// app：命令共享的配置与标志
type app struct {
	cfg  config.Config
	out  io.Writer
	http *http.Client

	dropTiles bool
	deadline  time.Duration
}

func newRootCmd(cfg config.Config) *cobra.Command {
	a := &app{cfg: cfg, out: os.Stdout, http: &http.Client{Timeout: 60 * time.Second}}
	root := &cobra.Command{
		Use:           "explorer",
		Short:         "Browse district/ward boundaries and submit wards for analysis",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(a.out)
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfg.BackendBaseURL, "backend", cfg.BackendBaseURL, "analysis backend base URL")
	pf.StringVar(&a.cfg.DistrictsGeoJSON, "districts", cfg.DistrictsGeoJSON, "district boundaries (path or URL)")
	pf.StringVar(&a.cfg.WardsGeoJSON, "wards", cfg.WardsGeoJSON, "ward boundaries (path or URL)")
	pf.StringVar(&a.cfg.PopulationCSV, "population", cfg.PopulationCSV, "ward population CSV (path or URL)")
	pf.StringVar(&a.cfg.PopulationSource, "population-source", cfg.PopulationSource, "population source: csv or postgres")
	pf.StringVar(&a.cfg.MembershipPath, "membership", cfg.MembershipPath, "district membership JSON overriding the embedded list")
	pf.IntVar(&a.cfg.SearchMaxResults, "max-results", cfg.SearchMaxResults, "search result cap")

	root.AddCommand(a.searchCmd(), a.groupsCmd(), a.membersCmd(), a.analyzeCmd(), a.healthCmd())
	return root
}

func (a *app) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [text]",
		Short: "List wards whose name or number contains the text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			ctl := search.NewController(ds.Index, nil, search.Options{})
			hits := ctl.Query(strings.Join(args, " "))
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}
			for _, e := range hits {
				a.printWard(cmd.OutOrStdout(), ds.Catalog, e.RegionID)
			}
			return nil
		},
	}
}

func (a *app) groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List districts with their ward counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			for _, g := range ds.Catalog.Groups() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %3d wards\n", g.Name, len(ds.Catalog.Members(g.ID)))
			}
			return nil
		},
	}
}

func (a *app) membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members [district]",
		Short: "List the wards shown when a district is selected",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			g, ok := ds.Catalog.GroupByName(strings.Join(args, " "))
			if !ok {
				return fmt.Errorf("unknown district %q", strings.Join(args, " "))
			}
			for _, w := range ds.Catalog.Members(g.ID) {
				a.printWard(cmd.OutOrStdout(), ds.Catalog, w.ID)
			}
			return nil
		},
	}
}

func (a *app) analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [ward name or number]",
		Short: "Select a ward, wait for the map to settle, and submit it to the analysis backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.analyze(cmd, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.BoolVar(&a.dropTiles, "drop-tiles", false, "simulate tiles that never finish loading")
	f.DurationVar(&a.deadline, "deadline", 0, "overall deadline (default: render grace + settle + submit timeout)")
	f.DurationVar(&a.cfg.RenderSettle, "settle", a.cfg.RenderSettle, "quiet period after both render signals")
	f.DurationVar(&a.cfg.RenderGrace, "grace", a.cfg.RenderGrace, "wait for tiles after the engine goes idle")
	f.DurationVar(&a.cfg.SubmitTimeout, "submit-timeout", a.cfg.SubmitTimeout, "primary submission timeout")
	return cmd
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the analysis backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			if err := p.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend %s ok\n", p.BaseURL())
			return nil
		},
	}
}

// 文档注释：完整的一次下钻与提交
// 流程：进入全部区视图 → 搜索选中选区（跳过区视图）→ 模拟引擎发出渲染信号 → 就绪后提交 → 等待导航或失败
func (a *app) analyze(cmd *cobra.Command, query string) error {
	ctx := cmd.Context()
	ds, err := a.load(ctx)
	if err != nil {
		return err
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	deadline := a.deadline
	if deadline <= 0 {
		deadline = a.cfg.RenderGrace + a.cfg.RenderSettle + a.cfg.SubmitTimeout + a.cfg.FallbackTimeout + 5*time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	eng := engine.NewSim(engine.Options{DropTiles: a.dropTiles})
	nav := newChanNavigator()
	m := view.New(ds.Catalog, eng, p, nav, view.Options{
		Render: render.Options{Settle: a.cfg.RenderSettle, Grace: a.cfg.RenderGrace},
	})
	defer m.Close()
	m.Start(ctx)

	ctl := search.NewController(ds.Index, m, search.Options{})
	e, err := ctl.Go(query)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "selected %s (%s)\n", e.DisplayName, m.State())

	select {
	case r := <-nav.results:
		if r.failed {
			return errors.New(r.text)
		}
		fmt.Fprintf(out, "analysis ready: %s\n", r.text)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analyze %s: %w", e.DisplayName, ctx.Err())
	}
}

func (a *app) pipeline() (*submit.Pipeline, error) {
	return submit.New(submit.Config{
		BaseURL:         a.cfg.BackendBaseURL,
		Timeout:         a.cfg.SubmitTimeout,
		FallbackTimeout: a.cfg.FallbackTimeout,
	})
}

// load：并行加载两个边界集合与人口表；人口来源按配置选择 CSV 或 PostgreSQL
func (a *app) load(ctx context.Context) (*regions.Dataset, error) {
	src := regions.Sources{
		Groups:     a.cfg.DistrictsGeoJSON,
		SubRegions: a.cfg.WardsGeoJSON,
		MaxResults: a.cfg.SearchMaxResults,
	}
	if a.cfg.MembershipPath != "" {
		f, err := os.Open(a.cfg.MembershipPath)
		if err != nil {
			return nil, err
		}
		m, err := regions.ReadMembership(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("membership %s: %w", a.cfg.MembershipPath, err)
		}
		src.Membership = m
	}
	return regions.Load(ctx, a.http, src, a.populationLoader())
}

func (a *app) populationLoader() regions.PopulationLoader {
	if a.cfg.PopulationSource == "postgres" {
		return func(ctx context.Context) (*population.Table, error) {
			db, err := utils.OpenPostgresFromEnv(ctx)
			if err != nil {
				return nil, dataset.Fail("postgres", err)
			}
			defer db.Close()
			if err := migrate.EnsureSchema(ctx, db); err != nil {
				return nil, err
			}
			return population.AttachDB(db).LoadTable(ctx)
		}
	}
	if a.cfg.PopulationCSV == "" {
		return nil
	}
	return func(ctx context.Context) (*population.Table, error) {
		return population.LoadCSV(ctx, a.http, a.cfg.PopulationCSV)
	}
}

func (a *app) printWard(w io.Writer, cat *regions.Catalog, id string) {
	r, ok := cat.Region(id)
	if !ok {
		return
	}
	district := "-"
	if p, ok := cat.Parent(r); ok {
		district = p.Name
	}
	pop := "unknown"
	if r.Population != nil {
		pop = fmt.Sprint(*r.Population)
	}
	fmt.Fprintf(w, "%4s  %-28s %-16s %s\n", r.Number, r.Name, district, pop)
}

type navResult struct {
	failed bool
	text   string
}

// chanNavigator：把导航与失败转成通道消息；只发送不回调，避免重入状态机
type chanNavigator struct {
	results chan navResult
	log     *slog.Logger
}

func newChanNavigator() *chanNavigator {
	return &chanNavigator{results: make(chan navResult, 1), log: logger.With("explorer")}
}

func (n *chanNavigator) Navigate(target string) {
	n.log.Info("navigate", "target", target)
	n.send(navResult{text: target})
}

func (n *chanNavigator) Fail(message string) {
	n.log.Info("navigate_failed", "message", message)
	n.send(navResult{failed: true, text: message})
}

func (n *chanNavigator) send(r navResult) {
	select {
	case n.results <- r:
	default:
	}
}
