package population

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"urbaninfra/internal/canon"
	"urbaninfra/internal/dataset"
	"urbaninfra/internal/logger"
)

// Store：ward_population 表的数据访问入口，作为 CSV 之外的人口来源
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *sql.DB { return s.db }

// LoadRows：按导入顺序读取全部行
func (s *Store) LoadRows(ctx context.Context) ([]Row, error) {
	rs, err := s.db.QueryContext(ctx, "SELECT name, population FROM ward_population ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []Row
	for rs.Next() {
		var r Row
		if err := rs.Scan(&r.Name, &r.Population); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

// LoadTable：读取并构建连接表；失败包装为 DataLoadError（来源标记为 postgres）
func (s *Store) LoadTable(ctx context.Context) (*Table, error) {
	rows, err := s.LoadRows(ctx)
	if err != nil {
		return nil, dataset.Fail("postgres:ward_population", err)
	}
	t := Build(rows)
	logger.L().Info("population_loaded", "src", "postgres", "rows", t.Len())
	return t, nil
}

const upsertSQL = `INSERT INTO ward_population(name, canonical_key, population, source)
VALUES($1,$2,$3,$4)
ON CONFLICT (name) DO UPDATE SET canonical_key=EXCLUDED.canonical_key, population=EXCLUDED.population, source=EXCLUDED.source, updated_at=now()`

// 文档注释：批量导入人口行
// 背景：按 batch 行一批提交，降低锁持有与 WAL 压力；重名按 name 覆盖
// 异常：数据库错误直接返回，已提交批次保留（重跑幂等）
func (s *Store) Import(ctx context.Context, rows []Row, source string, batch int) (int, error) {
	if batch <= 0 {
		batch = 5000
	}
	logger.L().Info("population_import_start", "rows", len(rows), "src", source)
	count := 0
	for start := 0; start < len(rows); start += batch {
		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.importBatch(ctx, rows[start:end], source); err != nil {
			return count, err
		}
		count = end
		logger.L().Info("population_import_progress", "count", count)
	}
	logger.L().Info("population_import_done", "count", count)
	return count, nil
}

func (s *Store) importBatch(ctx context.Context, rows []Row, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Name, string(canon.Spaced(r.Name)), r.Population, source); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Count：当前表内行数，供导入工具判断是否需要初始化
func (s *Store) Count(ctx context.Context) (int64, error) {
	var c int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM ward_population").Scan(&c)
	return c, err
}
