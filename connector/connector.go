// Package connector maps source names to the connectors that read chunks
// from them.
package connector

import (
	"context"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"

	"opti-lambda-go/config"
	"opti-lambda-go/operators"
)

const (
	Memory  = "memory"
	CSV     = "csv"
	Parquet = "parquet"
	S3      = "s3"
)

var (
	ErrUnknownConnector = func(name string) error {
		return errors.Newf("no connector registered under %q", name)
	}
	ErrInvalidSource = func(info string) error {
		return errors.Newf("invalid source: %s", info)
	}
)

// SourceSpec describes what to open. Path is used by file and object
// connectors, Records by the memory connector.
type SourceSpec struct {
	Path      string
	Binding   operators.SlotBinding
	BatchSize int
	Records   []arrow.Record
	Logger    log.Logger
	Config    *config.Config
}

func (s SourceSpec) logger() log.Logger {
	if s.Logger == nil {
		return log.NewNopLogger()
	}
	return s.Logger
}

func (s SourceSpec) config() *config.Config {
	if s.Config == nil {
		return config.GetConfig()
	}
	return s.Config
}

func (s SourceSpec) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	if size := s.config().Batch.Size; size > 0 {
		return size
	}
	return config.DefaultBatchSize
}

type Connector interface {
	Open(ctx context.Context, spec SourceSpec) (operators.Source, error)
}

type Manager struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewManager() *Manager {
	return &Manager{connectors: make(map[string]Connector)}
}

func (m *Manager) Get(name string) (Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[name]
	if !ok {
		return nil, ErrUnknownConnector(name)
	}
	return c, nil
}

// Put registers c under name, replacing any previous connector.
func (m *Manager) Put(name string, c Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[name] = c
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.connectors))
	for n := range m.connectors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open looks up the connector called name and opens spec with it.
func (m *Manager) Open(ctx context.Context, name string, spec SourceSpec) (operators.Source, error) {
	c, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, spec)
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide manager holding the built-in connectors.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
		defaultManager.Put(Memory, MemoryConnector{})
		defaultManager.Put(CSV, CSVConnector{})
		defaultManager.Put(Parquet, ParquetConnector{})
		defaultManager.Put(S3, &S3Connector{})
	})
	return defaultManager
}
