package regions

import (
	"context"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"urbaninfra/internal/logger"
	"urbaninfra/internal/population"
)

// Sources：启动时需要的两个边界数据集
type Sources struct {
	Groups     string
	SubRegions string
	Schema     Schema
	Membership *Membership
	MaxResults int
}

// PopulationLoader：人口来源（CSV 或 PostgreSQL），由调用方选择
type PopulationLoader func(ctx context.Context) (*population.Table, error)

// Dataset：启动产物，构建后只读
type Dataset struct {
	Catalog    *Catalog
	Index      *Index
	Population *population.Table
}

// 文档注释：并行加载两个边界集合与人口表，然后构建目录与索引
// 背景：三个来源互不依赖，远程拉取时并行可显著缩短启动时间
// 异常：任一来源失败即取消其余请求并返回该 DataLoadError（启动致命，不重试）
func Load(ctx context.Context, client *http.Client, src Sources, loadPop PopulationLoader) (*Dataset, error) {
	start := time.Now()
	var groupsFC, subsFC *geojson.FeatureCollection
	var pop *population.Table

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fc, err := LoadFeatureCollection(gctx, client, src.Groups)
		groupsFC = fc
		return err
	})
	g.Go(func() error {
		fc, err := LoadFeatureCollection(gctx, client, src.SubRegions)
		subsFC = fc
		return err
	})
	g.Go(func() error {
		if loadPop == nil {
			pop = population.NewTable()
			return nil
		}
		t, err := loadPop(gctx)
		pop = t
		return err
	})
	if err := g.Wait(); err != nil {
		logger.L().Error("dataset_load_failed", "err", err)
		return nil, err
	}

	schema := src.Schema
	if schema == (Schema{}) {
		schema = DefaultSchema()
	}
	membership := src.Membership
	if membership == nil {
		membership = DefaultMembership()
	}
	cat := NewCatalog(groupsFC, subsFC, schema, membership)
	idx := NewIndex(cat, pop, src.MaxResults)
	logger.L().Info("dataset_ready",
		"groups", len(cat.Groups()),
		"subregions", idx.Len(),
		"population_rows", pop.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Dataset{Catalog: cat, Index: idx, Population: pop}, nil
}
