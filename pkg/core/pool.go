package core

// FeaturePool is a contiguous arena of fixed-width feature rows. PSMs hold
// row indices rather than pointers, so moving a row only requires updating
// the owner's index. Released rows are recycled through a free list.
type FeaturePool struct {
	width int
	data  []float64
	owner []*PSM
	free  []int
}

// NewFeaturePool creates a pool for rows of the given width. The capacity
// hint sizes the backing array; the pool grows beyond it on demand.
func NewFeaturePool(width, capacityRows int) *FeaturePool {
	return &FeaturePool{
		width: width,
		data:  make([]float64, 0, width*capacityRows),
		owner: make([]*PSM, 0, capacityRows),
	}
}

// Width returns the number of features per row.
func (p *FeaturePool) Width() int { return p.width }

// NumRows returns the number of rows the pool has handed out, including
// released ones.
func (p *FeaturePool) NumRows() int { return len(p.owner) }

// Alloc reserves a row for psm, binds psm.Row to it and returns the index.
func (p *FeaturePool) Alloc(psm *PSM) int {
	var row int
	if n := len(p.free); n > 0 {
		row = p.free[n-1]
		p.free = p.free[:n-1]
		clear(p.data[row*p.width : (row+1)*p.width])
		p.owner[row] = psm
	} else {
		row = len(p.owner)
		p.data = append(p.data, make([]float64, p.width)...)
		p.owner = append(p.owner, psm)
	}
	if psm != nil {
		psm.Row = row
	}
	return row
}

// Deallocate releases a row back to the free list. The owning PSM, if any,
// is unbound.
func (p *FeaturePool) Deallocate(row int) {
	if psm := p.owner[row]; psm != nil {
		psm.Row = -1
	}
	p.owner[row] = nil
	p.free = append(p.free, row)
}

// Row returns the feature slice backing the given row. The slice aliases
// the arena; it is valid until the row is moved or released.
func (p *FeaturePool) Row(row int) []float64 {
	return p.data[row*p.width : (row+1)*p.width : (row+1)*p.width]
}

// Swap exchanges two rows and rebinds the owners' indices.
func (p *FeaturePool) Swap(a, b int) {
	if a == b {
		return
	}
	ra, rb := p.data[a*p.width:(a+1)*p.width], p.data[b*p.width:(b+1)*p.width]
	for i := range ra {
		ra[i], rb[i] = rb[i], ra[i]
	}
	p.owner[a], p.owner[b] = p.owner[b], p.owner[a]
	if p.owner[a] != nil {
		p.owner[a].Row = a
	}
	if p.owner[b] != nil {
		p.owner[b].Row = b
	}
}

// Reorder gathers rows whose owner satisfies pred into consecutive positions
// starting at *next, advancing *next past them. Grouping rows of one class
// keeps the training inner loops on contiguous memory.
func (p *FeaturePool) Reorder(pred func(*PSM) bool, next *int) {
	for row := 0; row < len(p.owner); row++ {
		psm := p.owner[row]
		if psm == nil || !pred(psm) {
			continue
		}
		p.Swap(psm.Row, *next)
		*next++
	}
}
