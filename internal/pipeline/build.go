package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/brewery-medallion/internal/bronze"
	"github.com/withObsrvr/brewery-medallion/internal/catalog"
	"github.com/withObsrvr/brewery-medallion/internal/checkpoint"
	"github.com/withObsrvr/brewery-medallion/internal/config"
	"github.com/withObsrvr/brewery-medallion/internal/delta"
	"github.com/withObsrvr/brewery-medallion/internal/lineage"
	"github.com/withObsrvr/brewery-medallion/internal/metrics"
	"github.com/withObsrvr/brewery-medallion/internal/source"
	"github.com/withObsrvr/brewery-medallion/internal/storage"
)

// Build opens the layer stores and collaborators described by cfg. m may
// be nil to disable metrics.
func Build(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Runner, error) {
	log := slog.With("component", "pipeline")
	layout := cfg.Layers

	parquetCfg, err := cfg.ParquetConfig()
	if err != nil {
		return nil, err
	}

	var stores []storage.Store
	closeAll := func() {
		for _, s := range stores {
			s.Close()
		}
	}
	open := func(name, root string) (storage.Store, error) {
		s, err := storage.Open(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("open %s root %s: %w", name, root, err)
		}
		stores = append(stores, s)
		return s, nil
	}

	bronzeStore, err := open("bronze", layout.BronzeRoot)
	if err != nil {
		return nil, err
	}
	silverStore, err := open("silver", layout.SilverRoot)
	if err != nil {
		closeAll()
		return nil, err
	}
	goldStore, err := open("gold", layout.GoldRoot)
	if err != nil {
		closeAll()
		return nil, err
	}

	fetcher, err := source.NewFetcher(cfg.Source)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	cat, err := catalog.NewWriter(ctx, cfg.Catalog)
	if err != nil {
		if cfg.Catalog.Strict {
			closeAll()
			return nil, fmt.Errorf("connect catalog (strict mode): %w", err)
		}
		log.Warn("catalog unavailable, continuing without it", "error", err)
		cat = catalog.NoopWriter{}
	}

	cpMgr, err := checkpoint.NewManager(cfg.Checkpoint)
	if err != nil {
		log.Warn("failed to create checkpoint manager", "error", err)
		cpMgr = nil
	}

	tableOpts := delta.Options{
		Parquet:    parquetCfg,
		EngineInfo: ProducerName + "/" + Version,
	}

	r := New(layout, Deps{
		Fetcher:     fetcher,
		Lander:      bronze.NewLander(bronzeStore, layout),
		SilverTable: delta.Open(silverStore, layout.SilverTable(), tableOpts),
		GoldTable:   delta.Open(goldStore, layout.GoldTable(), tableOpts),
		SilverOpts:  cfg.SilverOptions(),
		Catalog:     cat,
		Lineage:     lineage.NewEmitter(cfg.Lineage),
		Checkpoint:  cpMgr,
		Metrics:     m,
	}, Options{
		Pipeline: checkpoint.PipelineInfo{
			Name:        cfg.Pipeline.Name,
			Description: cfg.Pipeline.Description,
			Tags:        cfg.Pipeline.Tags,
		},
		Retries:       cfg.Schedule.Retries,
		RetryDelay:    cfg.Schedule.RetryDelay,
		StrictCatalog: cfg.Catalog.Strict,
		StrictLineage: cfg.Lineage.Strict,
	})
	r.stores = stores
	return r, nil
}
