package stock

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// CATALOG - Persistence for positions and parent records
// =============================================================================

// Catalog stores batch positions and sale/invoice parent records. Positions
// are upserted (metadata only); parent records are written once and only
// their status may change afterwards.
type Catalog interface {
	SavePosition(ctx context.Context, p Position) error
	GetPosition(ctx context.Context, b Batch) (*Position, error)
	ListPositions(ctx context.Context) ([]Position, error)

	SaveSale(ctx context.Context, s SaleRecord) error
	SaveInvoice(ctx context.Context, inv InvoiceRecord) error
}

// =============================================================================
// MEMORY CATALOG - For tests and dev
// =============================================================================

type MemoryCatalog struct {
	mu        sync.RWMutex
	positions map[Batch]Position
	sales     map[string]SaleRecord
	invoices  map[string]InvoiceRecord
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		positions: make(map[Batch]Position),
		sales:     make(map[string]SaleRecord),
		invoices:  make(map[string]InvoiceRecord),
	}
}

func (c *MemoryCatalog) SavePosition(_ context.Context, p Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.positions[p.Batch]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = time.Now().UTC()
	c.positions[p.Batch] = p
	return nil
}

func (c *MemoryCatalog) GetPosition(_ context.Context, b Batch) (*Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.positions[b]; ok {
		return &p, nil
	}
	return nil, nil
}

func (c *MemoryCatalog) ListPositions(_ context.Context) ([]Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out, nil
}

func (c *MemoryCatalog) SaveSale(_ context.Context, s SaleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sales[s.ID] = s
	return nil
}

func (c *MemoryCatalog) SaveInvoice(_ context.Context, inv InvoiceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invoices[inv.ID] = inv
	return nil
}
