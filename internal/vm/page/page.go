// Package page implements the flat page table and physical store
// spec.md §3 and §4.4.3 describe: one MemoryPage per virtual page of the
// system's total virtual address space, created once at boot and never
// destroyed, plus a free-frame bitmap over physical frames.
//
// Grounded on cmd/memoria/tipos.go and cmd/memoria/marcos.go (marcosLibres
// []bool, per-page metadata maps), collapsed from the teacher's multi-level,
// per-process page tables into the single flat table spec.md §3 specifies.
package page

// SharedOwner records that pid has this shared page mapped at
// processVirtualIndex, replacing the teacher's would-be parallel
// (sharedOwners, sharedProcessIndex) lists per spec.md §9's redesign
// guidance ("replace parallel arrays with a single collection of
// {pid, processVirtualIndex} pairs").
type SharedOwner struct {
	Pid                 int
	ProcessVirtualIndex uint64
}

// MemoryPage is one page-table entry. VirtualAddress and PageNumber are
// immutable for the entry's lifetime; everything else is reassigned as the
// page changes owner.
type MemoryPage struct {
	VirtualAddress uint64
	PageNumber     uint64

	Valid           bool
	PhysicalAddress uint64

	OwnerPid            int
	ProcessVirtualIndex uint64

	HeapAllocationStart uint64

	Dirty        bool
	AccessCount  uint64
	LastAccessed uint64
	PageFaults   uint64

	SharedRegionId int
	SharedOwners   []SharedOwner
}

// OwnsOffset reports whether this page (owned or shared) backs the given
// process-virtual offset for pid.
func (p *MemoryPage) OwnsOffset(pid int, offset uint64, pageSize uint64) bool {
	if p.OwnerPid == pid && p.OwnerPid != 0 {
		return offset >= p.ProcessVirtualIndex && offset < p.ProcessVirtualIndex+pageSize
	}
	if p.SharedRegionId != 0 {
		for _, so := range p.SharedOwners {
			if so.Pid == pid && offset >= so.ProcessVirtualIndex && offset < so.ProcessVirtualIndex+pageSize {
				return true
			}
		}
	}
	return false
}

// ProcessVirtualIndexFor returns the processVirtualIndex this page presents
// to pid — its own field for a non-shared owner, or the matching shared
// mapping's offset.
func (p *MemoryPage) ProcessVirtualIndexFor(pid int) uint64 {
	if p.OwnerPid == pid && p.OwnerPid != 0 {
		return p.ProcessVirtualIndex
	}
	for _, so := range p.SharedOwners {
		if so.Pid == pid {
			return so.ProcessVirtualIndex
		}
	}
	return 0
}

// Reset clears a page back to OS ownership, used when a process is reaped
// (spec.md §4.4 releaseProcess).
func (p *MemoryPage) Reset() {
	p.Valid = false
	p.PhysicalAddress = 0
	p.OwnerPid = 0
	p.ProcessVirtualIndex = 0
	p.HeapAllocationStart = 0
	p.Dirty = false
	p.AccessCount = 0
	p.LastAccessed = 0
	// PageFaults intentionally survives a reset: it is per virtual page,
	// not per tenancy, and boot never destroys page-table entries.
}

// PhysicalStore is the fixed byte array of physical memory, addressed by
// physical offset. It has no ownership concept of its own; every access
// is routed through the memory manager's translation.
type PhysicalStore struct {
	bytes []byte
}

// NewPhysicalStore allocates a zeroed store of the given size, already
// rounded up to a page multiple by the caller.
func NewPhysicalStore(size uint64) *PhysicalStore {
	return &PhysicalStore{bytes: make([]byte, size)}
}

func (s *PhysicalStore) Size() uint64 { return uint64(len(s.bytes)) }

func (s *PhysicalStore) ReadByte(addr uint64) byte { return s.bytes[addr] }

func (s *PhysicalStore) WriteByte(addr uint64, b byte) { s.bytes[addr] = b }

// ReadRange returns a copy of size bytes at addr, used by swap-out.
func (s *PhysicalStore) ReadRange(addr, size uint64) []byte {
	out := make([]byte, size)
	copy(out, s.bytes[addr:addr+size])
	return out
}

// WriteRange copies data into the store at addr, used by swap-in.
func (s *PhysicalStore) WriteRange(addr uint64, data []byte) {
	copy(s.bytes[addr:addr+uint64(len(data))], data)
}

// ZeroRange fills size bytes at addr with 0, used when freeing a frame.
func (s *PhysicalStore) ZeroRange(addr, size uint64) {
	clear(s.bytes[addr : addr+size])
}

// FrameBitmap tracks which physical frames are free. It is the complement
// of "some page has valid==true at this frame" (spec.md §3 invariant).
type FrameBitmap struct {
	free []bool
}

// NewFrameBitmap creates a bitmap for n frames, all initially free.
func NewFrameBitmap(n uint64) *FrameBitmap {
	b := &FrameBitmap{free: make([]bool, n)}
	for i := range b.free {
		b.free[i] = true
	}
	return b
}

// FirstFree returns the index of the first free frame and true, or
// (0, false) if none remain.
func (b *FrameBitmap) FirstFree() (uint64, bool) {
	for i, free := range b.free {
		if free {
			return uint64(i), true
		}
	}
	return 0, false
}

func (b *FrameBitmap) Claim(frame uint64) { b.free[frame] = false }

func (b *FrameBitmap) Release(frame uint64) { b.free[frame] = true }

func (b *FrameBitmap) FreeCount() int {
	n := 0
	for _, free := range b.free {
		if free {
			n++
		}
	}
	return n
}

func (b *FrameBitmap) Len() int { return len(b.free) }

// PageTable is the flat, boot-sized table of MemoryPage entries spec.md §3
// requires: one entry per virtual page of the system's total virtual
// address space, indexed by page number.
type PageTable struct {
	Pages    []*MemoryPage
	PageSize uint64
}

// NewPageTable allocates virtualSize/pageSize entries. The first
// physicalSize/pageSize entries start valid, identity-mapped to physical
// frames (spec.md §4.4.3 step 1); the rest start invalid and unowned.
func NewPageTable(virtualSize, physicalSize, pageSize uint64) *PageTable {
	count := virtualSize / pageSize
	identityCount := physicalSize / pageSize

	pages := make([]*MemoryPage, count)
	for i := uint64(0); i < count; i++ {
		p := &MemoryPage{
			VirtualAddress: i * pageSize,
			PageNumber:     i,
		}
		if i < identityCount {
			p.Valid = true
			p.PhysicalAddress = i * pageSize
		}
		pages[i] = p
	}
	return &PageTable{Pages: pages, PageSize: pageSize}
}

// FindOwned returns the page owned or shared by pid that backs offset, or
// nil if none does (spec.md §4.4.1 step 1).
func (t *PageTable) FindOwned(pid int, offset uint64) *MemoryPage {
	for _, p := range t.Pages {
		if p.OwnsOffset(pid, offset, t.PageSize) {
			return p
		}
	}
	return nil
}
