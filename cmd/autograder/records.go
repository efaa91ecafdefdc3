package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/export"
	"github.com/joseph-ayodele/autograder/internal/repository"
)

func repositoryOpen(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*repository.DB, error) {
	db, err := repository.Open(ctx, repository.Config{
		Driver:          cfg.Records.Driver,
		DSN:             cfg.Records.DSN,
		MaxConns:        4,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		return nil, common.NewResourceError("无法打开记录数据库", common.ResourceFileIO, cfg.Records.DSN, err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		repository.Close(db, logger)
		return nil, err
	}
	return db, nil
}

func repositoryClose(db *repository.DB, logger *slog.Logger) {
	repository.Close(db, logger)
}

func exportService(db *repository.DB, logger *slog.Logger) *export.Service {
	return export.NewService(repository.NewRecordRepository(db, logger), logger)
}
