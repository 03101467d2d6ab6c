// 数据导入工具：读取人口 CSV（文件或 URL）并批量写入 PostgreSQL 的 ward_population 表
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"urbaninfra/internal/config"
	"urbaninfra/internal/dataset"
	"urbaninfra/internal/logger"
	"urbaninfra/internal/migrate"
	"urbaninfra/internal/population"
	"urbaninfra/internal/utils"
)

// 读取并校验表头 → 建表 → 分批 UPSERT；第一个参数可覆盖 POPULATION_CSV
func main() {
	config.LoadDotenv()
	l := logger.Setup()
	cfg := config.Load()
	src := cfg.PopulationCSV
	if len(os.Args) > 1 {
		src = os.Args[1]
	}
	batch := 1000
	if s := os.Getenv("INGEST_BATCH"); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			batch = n
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 60 * time.Second}
	rc, err := dataset.Open(ctx, client, src)
	if err != nil {
		l.Error("ingest_open_error", "src", src, "err", err)
		os.Exit(1)
	}
	rows, err := population.ReadCSV(rc)
	_ = rc.Close()
	if err != nil {
		l.Error("ingest_parse_error", "src", src, "err", err)
		os.Exit(1)
	}
	l.Info("ingest_parsed", "src", src, "rows", len(rows))

	db, err := utils.OpenPostgresFromEnv(ctx)
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	st := population.AttachDB(db)
	n, err := st.Import(ctx, rows, src, batch)
	if err != nil {
		l.Error("ingest_error", "imported", n, "err", err)
		os.Exit(1)
	}
	total, _ := st.Count(ctx)
	l.Info("ingest_done", "imported", n, "table_rows", total)
}
