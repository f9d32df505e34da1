package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SchemaDiscovererFactory creates a SchemaDiscoverer from a connection URL.
type SchemaDiscovererFactory func(ctx context.Context, connStr string, logger *zap.Logger) (SchemaDiscoverer, error)

// RowExtractorFactory creates a RowExtractor from a connection URL.
type RowExtractorFactory func(ctx context.Context, connStr string, logger *zap.Logger) (RowExtractor, error)

// ProvisionerFactory creates a Provisioner from a connection URL.
type ProvisionerFactory func(ctx context.Context, connStr string, logger *zap.Logger) (Provisioner, error)

// Registration bundles the factories for one database driver.
type Registration struct {
	// Type is the driver key, e.g. "postgres" or "mssql".
	Type string

	SchemaDiscovererFactory SchemaDiscovererFactory
	RowExtractorFactory     RowExtractorFactory
	ProvisionerFactory      ProvisionerFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register adds a driver registration to the global registry.
// Called from driver package init functions.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Type] = reg
}

// RegisteredTypes returns the registered driver keys.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

// DriverForURL maps a connection URL to a registered driver key.
func DriverForURL(connStr string) (string, error) {
	switch {
	case strings.HasPrefix(connStr, "postgres://"), strings.HasPrefix(connStr, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(connStr, "sqlserver://"), strings.HasPrefix(connStr, "mssql://"):
		return "mssql", nil
	default:
		return "", fmt.Errorf("unsupported connection string scheme (want postgres:// or sqlserver://)")
	}
}

func registrationForURL(connStr string) (Registration, error) {
	driver, err := DriverForURL(connStr)
	if err != nil {
		return Registration{}, err
	}
	registryMu.RLock()
	reg, ok := registry[driver]
	registryMu.RUnlock()
	if !ok {
		return Registration{}, fmt.Errorf("driver %q is not registered", driver)
	}
	return reg, nil
}

// NewSchemaDiscoverer creates a SchemaDiscoverer for the given connection URL,
// dispatching on the URL scheme.
func NewSchemaDiscoverer(ctx context.Context, connStr string, logger *zap.Logger) (SchemaDiscoverer, error) {
	reg, err := registrationForURL(connStr)
	if err != nil {
		return nil, err
	}
	return reg.SchemaDiscovererFactory(ctx, connStr, logger)
}

// NewRowExtractor creates a RowExtractor for the given connection URL.
func NewRowExtractor(ctx context.Context, connStr string, logger *zap.Logger) (RowExtractor, error) {
	reg, err := registrationForURL(connStr)
	if err != nil {
		return nil, err
	}
	return reg.RowExtractorFactory(ctx, connStr, logger)
}

// NewProvisioner creates a Provisioner for the given connection URL.
func NewProvisioner(ctx context.Context, connStr string, logger *zap.Logger) (Provisioner, error) {
	reg, err := registrationForURL(connStr)
	if err != nil {
		return nil, err
	}
	return reg.ProvisionerFactory(ctx, connStr, logger)
}
