// Package fault models the three process-fatal error kinds of spec.md §7
// as a tagged error value, per the redesign guidance in spec.md §9
// ("model as a tagged error returned from the interpreter step and
// handled uniformly by the dispatcher, not as host-language exceptions").
package fault

import "fmt"

// Kind identifies which of the three fatal conditions occurred.
type Kind int

const (
	Memory Kind = iota
	Stack
	Heap
)

// Fault is returned by any operation that can terminate the offending
// process. It is an ordinary error value, never a panic.
type Fault struct {
	Kind Kind
	Pid  int

	// Address is set for Memory faults.
	Address uint64
	// OverflowBytes is set for Stack faults.
	OverflowBytes uint64
	// BytesRequested is set for Heap faults.
	BytesRequested uint64
}

func (f *Fault) Error() string {
	switch f.Kind {
	case Memory:
		return fmt.Sprintf("MemoryException: pid %d accessed invalid address %d", f.Pid, f.Address)
	case Stack:
		return fmt.Sprintf("StackException: pid %d stack overflow by %d bytes", f.Pid, f.OverflowBytes)
	case Heap:
		return fmt.Sprintf("HeapException: pid %d heap alloc of %d bytes failed", f.Pid, f.BytesRequested)
	default:
		return "unknown fault"
	}
}

func NewMemory(pid int, address uint64) *Fault {
	return &Fault{Kind: Memory, Pid: pid, Address: address}
}

func NewStack(pid int, overflowBytes uint64) *Fault {
	return &Fault{Kind: Stack, Pid: pid, OverflowBytes: overflowBytes}
}

func NewHeap(pid int, bytesRequested uint64) *Fault {
	return &Fault{Kind: Heap, Pid: pid, BytesRequested: bytesRequested}
}
