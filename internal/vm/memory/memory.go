// Package memory implements the MemoryManager of spec.md §4.4: byte-granular
// access translated through pid + virtual offset, demand paging with
// LRU-like victim selection, swap I/O, heap allocation over page-aligned
// contiguous runs, and shared-memory regions.
//
// Grounded on cmd/memoria/{direcciones,marcos,swap,tablas_paginas}.go,
// collapsed from the teacher's multi-level per-process page tables into
// the single flat system-wide table spec.md §3 specifies.
package memory

import (
	"container/list"
	"encoding/binary"
	"fmt"

	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/oslog"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/fault"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/page"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/swap"
)

// Manager is the MemoryManager of spec.md §4.4.
type Manager struct {
	Table    *page.PageTable
	Physical *page.PhysicalStore
	Frames   *page.FrameBitmap
	swapFile *swap.Store

	pageSize uint64
	clock    uint64

	sharedRegionSize uint64
	numSharedRegions uint64

	// recency is the doubly-linked LRU list selectVictim evicts from the
	// tail of: front is most-recently-used, back is least. recencyElems
	// indexes into it by PageNumber for O(1) touch/untrack.
	recency      *list.List
	recencyElems map[uint64]*list.Element
}

// New builds the MemoryManager per spec.md §4.4.3: rounds the physical
// size up to a page multiple, allocates the flat page table, identity-maps
// the first physicalSize/P pages, deletes stale swap files, and reserves
// shared-memory regions.
func New(cfg *config.Config) (*Manager, error) {
	pageSizeCfg := cfg.PageSize()
	pageSize := uint64(pageSizeCfg)
	physicalSize := uint64(config.RoundUpToPage(cfg.PhysicalMemory, pageSizeCfg))

	// The system's total virtual address space must be able to address
	// every process's memory plus every reserved shared region; since this
	// is a single flat table, size it generously relative to physical
	// memory the way the teacher's single identity-mapped region does, by
	// giving every process room to map ProcessMemory-sized spaces several
	// times over. A production boot would read this from config directly;
	// here we derive it from physical memory so a single config key
	// (PhysicalMemory) still fully determines the virtual space, matching
	// spec.md's "configuration constant" framing for page size without
	// inventing an unlisted config key.
	virtualSize := physicalSize * 4

	swapFile, err := swap.NewStore(cfg.SwapDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		Table:            page.NewPageTable(virtualSize, physicalSize, pageSize),
		Physical:         page.NewPhysicalStore(physicalSize),
		Frames:           page.NewFrameBitmap(physicalSize / pageSize),
		swapFile:         swapFile,
		pageSize:         pageSize,
		sharedRegionSize: uint64(config.RoundUpToPage(cfg.SharedMemoryRegionSize, pageSizeCfg)),
		numSharedRegions: uint64(cfg.NumOfSharedMemoryRegions),
		recency:          list.New(),
		recencyElems:     make(map[uint64]*list.Element),
	}
	// The boot identity mapping (spec.md §4.4.3 step 1) already occupies
	// every physical frame with a valid page; the frame bitmap must agree
	// (spec.md §8: valid ⇒ its frame is not-free) rather than start fully
	// free, or the first page fault would hand out an already-occupied
	// frame to a second page. Each identity page also enters the recency
	// list so it is a legal eviction candidate from the very first fault,
	// matching the pre-existing behavior of treating every valid page
	// (OS-owned or not) as fair game for selectVictim.
	for frame := uint64(0); frame < physicalSize/pageSize; frame++ {
		m.Frames.Claim(frame)
	}
	for _, p := range m.Table.Pages[:physicalSize/pageSize] {
		m.touchRecency(p)
	}
	m.reserveSharedRegions()
	return m, nil
}

// touchRecency marks p as the most-recently-used valid page.
func (m *Manager) touchRecency(p *page.MemoryPage) {
	if elem, ok := m.recencyElems[p.PageNumber]; ok {
		m.recency.MoveToFront(elem)
		return
	}
	m.recencyElems[p.PageNumber] = m.recency.PushFront(p)
}

// untrackRecency drops p from the recency list, used whenever a valid
// page stops being valid (eviction or release back to the OS).
func (m *Manager) untrackRecency(p *page.MemoryPage) {
	if elem, ok := m.recencyElems[p.PageNumber]; ok {
		m.recency.Remove(elem)
		delete(m.recencyElems, p.PageNumber)
	}
}

// reserveSharedRegions implements spec.md §4.4.3 step 3: given R shared
// regions of S bytes each, assign sharedRegionId = R, R, ..., 1 to the
// first R*S/P free pages, walking sequentially and decrementing the
// assigned id every S/P pages, so each region occupies contiguous pages.
func (m *Manager) reserveSharedRegions() {
	if m.numSharedRegions == 0 || m.sharedRegionSize == 0 {
		return
	}
	pagesPerRegion := m.sharedRegionSize / m.pageSize
	if pagesPerRegion == 0 {
		return
	}
	total := m.numSharedRegions * pagesPerRegion

	regionId := int(m.numSharedRegions)
	assigned := uint64(0)
	withinRegion := uint64(0)
	for _, p := range m.Table.Pages {
		if assigned >= total {
			break
		}
		if p.OwnerPid != 0 || p.SharedRegionId != 0 {
			continue
		}
		p.SharedRegionId = regionId
		assigned++
		withinRegion++
		if withinRegion == pagesPerRegion {
			withinRegion = 0
			regionId--
		}
	}
}

func (m *Manager) tick() uint64 {
	m.clock++
	return m.clock
}

// PageSize returns the configured page size in bytes.
func (m *Manager) PageSize() uint64 { return m.pageSize }

// translate implements spec.md §4.4.1: find the owning/shared page,
// mark access metadata, and resolve a page fault if needed.
func (m *Manager) translate(pid int, offset uint64, willWrite bool) (uint64, error) {
	p := m.Table.FindOwned(pid, offset)
	if p == nil {
		return 0, fault.NewMemory(pid, offset)
	}

	processVirtualIndex := p.ProcessVirtualIndexFor(pid)
	pageOffset := offset - processVirtualIndex

	if p.Valid {
		p.Dirty = p.Dirty || willWrite
		p.AccessCount++
		p.LastAccessed = m.tick()
		m.touchRecency(p)
		return p.PhysicalAddress + pageOffset, nil
	}

	if err := m.resolvePageFault(p); err != nil {
		return 0, err
	}

	p.Dirty = p.Dirty || willWrite
	p.AccessCount++
	p.LastAccessed = m.tick()
	m.touchRecency(p)
	return p.PhysicalAddress + pageOffset, nil
}

// resolvePageFault implements spec.md §4.4.1 steps 7 and §4.4.2.
func (m *Manager) resolvePageFault(p *page.MemoryPage) error {
	frame, ok := m.Frames.FirstFree()
	if !ok {
		victim := m.selectVictim(p)
		if victim == nil {
			// Physical memory smaller than one frame total: unreachable in
			// any correctly configured run, but fail safe rather than index
			// out of range.
			return fault.NewMemory(p.OwnerPid, p.ProcessVirtualIndex)
		}
		if victim.Dirty {
			if err := m.swapOut(victim); err != nil {
				return err
			}
		}
		frame = victim.PhysicalAddress / m.pageSize
		victim.Valid = false
		victim.Dirty = false
		m.untrackRecency(victim)
	} else {
		m.Frames.Claim(frame)
	}

	p.PhysicalAddress = frame * m.pageSize
	if err := m.swapIn(p); err != nil {
		return err
	}
	p.PageFaults++
	p.Valid = true
	return nil
}

// selectVictim picks the least-recently-used valid page that is not the
// faulting page itself (LRU, spec.md §4.4.1 step 7), walking the recency
// list from its tail.
func (m *Manager) selectVictim(faulting *page.MemoryPage) *page.MemoryPage {
	for elem := m.recency.Back(); elem != nil; elem = elem.Prev() {
		p := elem.Value.(*page.MemoryPage)
		if p == faulting {
			continue
		}
		return p
	}
	return nil
}

func (m *Manager) swapOut(p *page.MemoryPage) error {
	if !p.Dirty {
		// A non-dirty eviction is a no-op on disk; only its validity changes.
		return nil
	}
	data := m.Physical.ReadRange(p.PhysicalAddress, m.pageSize)
	oslog.With("pagina", p.PageNumber, "pid", p.OwnerPid).Info("bajando página a swap")
	return m.swapFile.WriteOut(p.PageNumber, p.VirtualAddress, data, p.AccessCount, p.LastAccessed)
}

func (m *Manager) swapIn(p *page.MemoryPage) error {
	if m.swapFile.Exists(p.PageNumber, p.VirtualAddress) {
		data, accessCount, lastAccessed, err := m.swapFile.ReadIn(p.PageNumber, p.VirtualAddress)
		if err != nil {
			return err
		}
		m.Physical.WriteRange(p.PhysicalAddress, data)
		p.AccessCount = accessCount
		p.LastAccessed = lastAccessed
		return nil
	}
	m.Physical.ZeroRange(p.PhysicalAddress, m.pageSize)
	return nil
}

// ReadByte reads one byte from pid's address space.
func (m *Manager) ReadByte(pid int, offset uint64) (byte, error) {
	phys, err := m.translate(pid, offset, false)
	if err != nil {
		return 0, err
	}
	return m.Physical.ReadByte(phys), nil
}

// WriteByte writes one byte into pid's address space.
func (m *Manager) WriteByte(pid int, offset uint64, b byte) error {
	phys, err := m.translate(pid, offset, true)
	if err != nil {
		return err
	}
	m.Physical.WriteByte(phys, b)
	return nil
}

// ReadU32 reads four little-endian bytes, one byte at a time through
// translate so a 4-byte read that straddles a page boundary still pages
// correctly.
func (m *Manager) ReadU32(pid int, offset uint64) (uint32, error) {
	var buf [4]byte
	for i := uint64(0); i < 4; i++ {
		b, err := m.ReadByte(pid, offset+i)
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteU32 writes four little-endian bytes.
func (m *Manager) WriteU32(pid int, offset uint64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	for i := uint64(0); i < 4; i++ {
		if err := m.WriteByte(pid, offset+i, buf[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetRange fills len bytes starting at offset with fillByte.
func (m *Manager) SetRange(pid int, offset, length uint64, fillByte byte) error {
	for i := uint64(0); i < length; i++ {
		if err := m.WriteByte(pid, offset+i, fillByte); err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes copies data into pid's address space starting at offset,
// used by process creation to load a program image.
func (m *Manager) WriteBytes(pid int, offset uint64, data []byte) error {
	for i, b := range data {
		if err := m.WriteByte(pid, offset+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// MapProcess consumes ceil(bytes/pageSize) free, non-shared, OS-owned
// pages for pid, assigning processVirtualIndex consecutively. If the
// table does not have enough free pages, it reports a host-fatal
// condition (spec.md §4.4, §7): the caller is expected to abort the host.
func (m *Manager) MapProcess(pid int, bytes uint64) error {
	needed := (bytes + m.pageSize - 1) / m.pageSize
	if bytes == 0 {
		needed = 0
	}

	claimed := make([]*page.MemoryPage, 0, needed)
	index := uint64(0)
	for _, p := range m.Table.Pages {
		if uint64(len(claimed)) == needed {
			break
		}
		if p.OwnerPid != 0 || p.SharedRegionId != 0 {
			continue
		}
		p.OwnerPid = pid
		p.ProcessVirtualIndex = index * m.pageSize
		claimed = append(claimed, p)
		index++
	}

	if uint64(len(claimed)) < needed {
		// Roll back: the map is all-or-nothing.
		for _, p := range claimed {
			p.Reset()
		}
		oslog.With("pid", pid).Error("memoria insuficiente al mapear proceso", "paginas_requeridas", needed, "paginas_disponibles", len(claimed))
		return fmt.Errorf("memoria insuficiente: se requieren %d páginas, no hay suficientes libres", needed)
	}
	oslog.With("pid", pid).Info("proceso mapeado en memoria", "paginas", len(claimed), "bytes", bytes)
	return nil
}

// ReleaseProcess zeroes each page pid owns (if valid), resets it back to
// OS ownership, and drops pid from every shared page's owner list
// (spec.md §4.4 releaseProcess).
func (m *Manager) ReleaseProcess(pid int) {
	for _, p := range m.Table.Pages {
		if p.OwnerPid == pid {
			if p.Valid {
				m.Physical.ZeroRange(p.PhysicalAddress, m.pageSize)
				m.Frames.Release(p.PhysicalAddress / m.pageSize)
				m.untrackRecency(p)
			}
			p.Reset()
		}
		if p.SharedRegionId != 0 && len(p.SharedOwners) > 0 {
			filtered := p.SharedOwners[:0]
			for _, so := range p.SharedOwners {
				if so.Pid != pid {
					filtered = append(filtered, so)
				}
			}
			p.SharedOwners = filtered
		}
	}
	oslog.With("pid", pid).Info("memoria liberada")
}

// maxProcessVirtualOffset returns one page beyond the highest
// process-virtual offset pid currently owns or shares.
func (m *Manager) maxProcessVirtualOffset(pid int) uint64 {
	var max uint64
	found := false
	for _, p := range m.Table.Pages {
		if p.OwnerPid == pid {
			top := p.ProcessVirtualIndex + m.pageSize
			if !found || top > max {
				max, found = top, true
			}
		}
		for _, so := range p.SharedOwners {
			if so.Pid == pid {
				top := so.ProcessVirtualIndex + m.pageSize
				if !found || top > max {
					max, found = top, true
				}
			}
		}
	}
	if !found {
		return 0
	}
	return max
}

// MapSharedToProcess attaches every page reserved under regionId to pid
// as a shared owner, at ascending process-virtual offsets starting one
// page beyond pid's current maximum mapped offset (spec.md §4.4,
// MapSharedMem opcode).
func (m *Manager) MapSharedToProcess(pid int, regionId int) uint64 {
	start := m.maxProcessVirtualOffset(pid)
	offset := start
	for _, p := range m.Table.Pages {
		if p.SharedRegionId != regionId {
			continue
		}
		p.SharedOwners = append(p.SharedOwners, page.SharedOwner{Pid: pid, ProcessVirtualIndex: offset})
		offset += m.pageSize
	}
	return start
}

// HeapPages returns the pages pid owns whose processVirtualIndex falls in
// [heapStart, heapEnd), ordered by processVirtualIndex ascending — the
// process's heapPageTable (spec.md §3).
func (m *Manager) HeapPages(pid int, heapStart, heapEnd uint64) []*page.MemoryPage {
	var pages []*page.MemoryPage
	for _, p := range m.Table.Pages {
		if p.OwnerPid == pid && p.ProcessVirtualIndex >= heapStart && p.ProcessVirtualIndex < heapEnd {
			pages = append(pages, p)
		}
	}
	sortPagesByIndex(pages)
	return pages
}

func sortPagesByIndex(pages []*page.MemoryPage) {
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j].ProcessVirtualIndex < pages[j-1].ProcessVirtualIndex; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
}

// HeapAlloc finds n=ceil(bytes/pageSize) contiguous free heap-table
// entries, claims them, and returns the process-virtual start address
// (spec.md §4.4 heapAlloc). Zero bytes rounds up to zero pages and
// succeeds as a no-op, returning heapStart unclaimed (spec.md §8
// boundary: "implementation-defined no-op").
func (m *Manager) HeapAlloc(pid int, heapStart, heapEnd uint64, bytes uint64) (uint64, error) {
	needed := (bytes + m.pageSize - 1) / m.pageSize
	heapPages := m.HeapPages(pid, heapStart, heapEnd)
	if needed == 0 {
		return heapStart, nil
	}

	run := uint64(0)
	for i, p := range heapPages {
		if p.HeapAllocationStart != 0 {
			run = 0
			continue
		}
		run++
		if run == needed {
			first := heapPages[i-int(needed)+1]
			for _, claimed := range heapPages[i-int(needed)+1 : i+1] {
				claimed.HeapAllocationStart = first.ProcessVirtualIndex
			}
			return first.ProcessVirtualIndex, nil
		}
	}
	return 0, fault.NewHeap(pid, bytes)
}

// HeapFree clears every page whose heapAllocationStart equals
// startAddress and zeroes their bytes (spec.md §4.4 heapFree).
func (m *Manager) HeapFree(pid int, heapStart, heapEnd uint64, startAddress uint64) {
	for _, p := range m.HeapPages(pid, heapStart, heapEnd) {
		if p.HeapAllocationStart != startAddress {
			continue
		}
		if p.Valid {
			m.Physical.ZeroRange(p.PhysicalAddress, m.pageSize)
			p.Dirty = false
		} else if m.swapFile.Exists(p.PageNumber, p.VirtualAddress) {
			// Reading the swap file back deletes it, so the next swap-in
			// zero-fills the page instead of restoring the freed bytes.
			m.swapFile.ReadIn(p.PageNumber, p.VirtualAddress)
		}
		p.HeapAllocationStart = 0
	}
}

// PageFaultsForProcess sums pageFaults over pages owned by pid (spec.md
// §4.4 pageFaultsForProcess).
func (m *Manager) PageFaultsForProcess(pid int) uint64 {
	var total uint64
	for _, p := range m.Table.Pages {
		if p.OwnerPid == pid {
			total += p.PageFaults
		}
	}
	return total
}

// DumpPhysicalMemory renders the physical store as a hex/ASCII table, the
// diagnostic spec.md §6's DumpPhysicalMemory toggle enables. Purely
// informational: no semantic effect (grounded on cmd/memoria/dump.go).
func (m *Manager) DumpPhysicalMemory() string {
	out := ""
	const perLine = 16
	size := m.Physical.Size()
	for addr := uint64(0); addr < size; addr += perLine {
		end := addr + perLine
		if end > size {
			end = size
		}
		out += fmt.Sprintf("%08x  ", addr)
		ascii := make([]byte, 0, perLine)
		for a := addr; a < end; a++ {
			b := m.Physical.ReadByte(a)
			out += fmt.Sprintf("%02x ", b)
			if b >= 0x20 && b < 0x7f {
				ascii = append(ascii, b)
			} else {
				ascii = append(ascii, '.')
			}
		}
		out += " " + string(ascii) + "\n"
	}
	return out
}
