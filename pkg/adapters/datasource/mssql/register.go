package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.Registration{
		Type: "mssql",
		SchemaDiscovererFactory: func(ctx context.Context, connStr string, logger *zap.Logger) (datasource.SchemaDiscoverer, error) {
			return NewAdapter(ctx, connStr, logger)
		},
		RowExtractorFactory: func(ctx context.Context, connStr string, logger *zap.Logger) (datasource.RowExtractor, error) {
			return NewAdapter(ctx, connStr, logger)
		},
		ProvisionerFactory: func(ctx context.Context, connStr string, logger *zap.Logger) (datasource.Provisioner, error) {
			return NewAdapter(ctx, connStr, logger)
		},
	})
}
