package store

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
)

// Duplicate check stages logged by the registry.
const (
	StagePrecheck = "precheck"
	StageSeal     = "seal"
)

// OutputRegistry holds one sealed output image per input/variant key.
type OutputRegistry struct {
	mu      sync.RWMutex
	outputs map[string]domain.OutputImage
	logger  *zap.Logger
}

func NewOutputRegistry(logger *zap.Logger) *OutputRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutputRegistry{
		outputs: make(map[string]domain.OutputImage),
		logger:  logger,
	}
}

// Exists reports whether key is taken. A hit is an expected race outcome and
// is logged as a warning.
func (r *OutputRegistry) Exists(key, stage string) bool {
	r.mu.RLock()
	_, ok := r.outputs[key]
	r.mu.RUnlock()
	if ok {
		r.warnDuplicate(key, stage)
	}
	return ok
}

// Admit inserts out unless its key is already present, in which case it
// returns domain.ErrDuplicate and leaves the registry unchanged.
func (r *OutputRegistry) Admit(out domain.OutputImage) error {
	r.mu.Lock()
	if _, ok := r.outputs[out.ID]; ok {
		r.mu.Unlock()
		r.warnDuplicate(out.ID, StageSeal)
		return domain.ErrDuplicate
	}
	r.outputs[out.ID] = out
	r.mu.Unlock()
	return nil
}

// Put inserts or replaces out. Regeneration uses it to overwrite.
func (r *OutputRegistry) Put(out domain.OutputImage) {
	r.mu.Lock()
	r.outputs[out.ID] = out
	r.mu.Unlock()
}

func (r *OutputRegistry) Get(id string) (domain.OutputImage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[id]
	return out, ok
}

func (r *OutputRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

func (r *OutputRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.outputs[id]
	delete(r.outputs, id)
	return ok
}

// RemoveByInput drops every output generated from inputID.
func (r *OutputRegistry) RemoveByInput(inputID string) int {
	return r.removeWhere(func(out domain.OutputImage) bool { return out.Input.ID == inputID })
}

// RemoveByVariant drops every output generated for variantID.
func (r *OutputRegistry) RemoveByVariant(variantID string) int {
	return r.removeWhere(func(out domain.OutputImage) bool { return out.VariantID == variantID })
}

func (r *OutputRegistry) removeWhere(match func(domain.OutputImage) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, out := range r.outputs {
		if match(out) {
			delete(r.outputs, id)
			removed++
		}
	}
	return removed
}

func (r *OutputRegistry) warnDuplicate(key, stage string) {
	r.logger.Warn("output image already exists, skipping",
		zap.String("key", key),
		zap.String("stage", stage),
	)
}

type SortKey string

const (
	SortByInput    SortKey = "input"
	SortByFilename SortKey = "filename"
	SortByFilesize SortKey = "filesize"
	SortByVariant  SortKey = "variant"
)

func ParseSortKey(s string) (SortKey, bool) {
	switch k := SortKey(strings.ToLower(s)); k {
	case SortByInput, SortByFilename, SortByFilesize, SortByVariant:
		return k, true
	case "":
		return SortByInput, true
	default:
		return "", false
	}
}

type ListQuery struct {
	// Filter keeps outputs whose filename contains it, ignoring case.
	Filter     string
	Sort       SortKey
	Descending bool
	// VariantOrder is the current position of each variant id.
	VariantOrder map[string]int
}

// List returns the outputs matching q in q's order. Ties fall back to input
// order, then variant order.
func (r *OutputRegistry) List(q ListQuery) []domain.OutputImage {
	needle := strings.ToLower(q.Filter)

	r.mu.RLock()
	outs := make([]domain.OutputImage, 0, len(r.outputs))
	for _, out := range r.outputs {
		if needle == "" || strings.Contains(strings.ToLower(out.Filename), needle) {
			outs = append(outs, out)
		}
	}
	r.mu.RUnlock()

	variantPos := func(out domain.OutputImage) int {
		if pos, ok := q.VariantOrder[out.VariantID]; ok {
			return pos
		}
		return len(q.VariantOrder)
	}
	natural := func(a, b domain.OutputImage) int {
		if a.Input.Index != b.Input.Index {
			return a.Input.Index - b.Input.Index
		}
		if pa, pb := variantPos(a), variantPos(b); pa != pb {
			return pa - pb
		}
		return strings.Compare(a.ID, b.ID)
	}
	primary := func(a, b domain.OutputImage) int {
		switch q.Sort {
		case SortByFilename:
			return strings.Compare(a.Filename, b.Filename)
		case SortByFilesize:
			return a.Full.Bytes - b.Full.Bytes
		case SortByVariant:
			return variantPos(a) - variantPos(b)
		default:
			return 0
		}
	}

	sort.SliceStable(outs, func(i, j int) bool {
		c := primary(outs[i], outs[j])
		if c == 0 {
			c = natural(outs[i], outs[j])
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	return outs
}
