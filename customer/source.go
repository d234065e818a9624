package customer

import (
	"context"
	"sync"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
)

// Source resolves customer context by ID. Workers re-resolve the
// customer at dispatch time so rendered templates and CRM assignments
// see current account data, not the snapshot taken at admission.
// The surrounding platform's CRM layer provides the production
// implementation.
type Source interface {
	// GetCustomer returns the current context for a customer.
	GetCustomer(ctx context.Context, customerID id.CustomerID) (*Context, error)
}

// Catalog is a Source that can also enumerate customers by segment.
// Scheduled playbook firings use it to expand target segments into
// concrete admission candidates.
type Catalog interface {
	Source

	// ListCustomers returns customers belonging to any of the given
	// segments. An empty segment list returns all customers.
	ListCustomers(ctx context.Context, segments []id.SegmentID) ([]*Context, error)
}

// Static is a map-backed Source for tests and single-binary setups
// where customer data arrives alongside signals. Safe for concurrent use.
type Static struct {
	mu        sync.RWMutex
	customers map[string]*Context
}

// NewStatic creates a Static source seeded with the given customers.
func NewStatic(customers ...*Context) *Static {
	s := &Static{customers: make(map[string]*Context, len(customers))}
	for _, c := range customers {
		s.customers[c.ID.String()] = c
	}
	return s
}

// Put adds or replaces a customer.
func (s *Static) Put(c *Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID.String()] = c
}

// GetCustomer implements Source.
func (s *Static) GetCustomer(_ context.Context, customerID id.CustomerID) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[customerID.String()]
	if !ok {
		return nil, pulse.ErrCustomerNotFound
	}
	return copyContext(c), nil
}

// ListCustomers implements Catalog.
func (s *Static) ListCustomers(_ context.Context, segments []id.SegmentID) ([]*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Context, 0, len(s.customers))
	for _, c := range s.customers {
		if len(segments) == 0 || inAnySegment(c, segments) {
			out = append(out, copyContext(c))
		}
	}
	return out, nil
}

func inAnySegment(c *Context, segments []id.SegmentID) bool {
	for _, want := range segments {
		for _, got := range c.SegmentIDs {
			if want.String() == got.String() {
				return true
			}
		}
	}
	return false
}

func copyContext(c *Context) *Context {
	cp := *c
	if c.SegmentIDs != nil {
		cp.SegmentIDs = make([]id.SegmentID, len(c.SegmentIDs))
		copy(cp.SegmentIDs, c.SegmentIDs)
	}
	return &cp
}
