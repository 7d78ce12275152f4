// Package process implements the ProcessControlBlock and per-process
// lifecycle of spec.md §3 and §4.3.
//
// Grounded on cmd/kernel/pcb.go's PCB (state machine, timestamps,
// counters), generalized from the teacher's SJF-estimator fields to the
// priority/quantum fields spec.md §3 actually names.
package process

import (
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/cpu"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/page"
)

// State is one of the seven lifecycle states spec.md §3 names.
type State int

const (
	NewProcess State = iota
	Ready
	Running
	WaitingAsleep
	WaitingOnLock
	WaitingOnEvent
	Terminated
)

func (s State) String() string {
	switch s {
	case NewProcess:
		return "NewProcess"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case WaitingAsleep:
		return "WaitingAsleep"
	case WaitingOnLock:
		return "WaitingOnLock"
	case WaitingOnEvent:
		return "WaitingOnEvent"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// TimeQuantum is the constant number of cycles a process may run per
// dispatch before yielding (spec.md §3).
const TimeQuantum = 5

// DefaultPriority is the priority assigned to a freshly created process.
const DefaultPriority = 1

const MaxPriority = 31

// PCB is the ProcessControlBlock of spec.md §3.
type PCB struct {
	Pid               int
	ProcessMemorySize uint64

	Registers [12]uint32
	SignFlag  bool
	ZeroFlag  bool
	IP        uint32
	SP        uint32

	State    State
	Priority int

	ClockCycles     uint64
	ContextSwitches uint64
	SleepCounter    uint64

	WaitingLock  int
	WaitingEvent int

	HeapPageTable []*page.MemoryPage

	CodeSize  uint64
	DataSize  uint64
	StackSize uint64
	HeapStart uint64
	HeapEnd   uint64
}

// New creates a PCB in state NewProcess with default priority, per
// spec.md §4.3.
func New(pid int, processMemorySize uint64) *PCB {
	return &PCB{
		Pid:               pid,
		ProcessMemorySize: processMemorySize,
		State:             NewProcess,
		Priority:          DefaultPriority,
	}
}

// SetPriority clamps to [0, 31] on change, per spec.md §3.
func (p *PCB) SetPriority(v int) {
	if v < 0 {
		v = 0
	}
	if v > MaxPriority {
		v = MaxPriority
	}
	p.Priority = v
}

// LoadInto copies this PCB's saved registers, flags, and IP into a Cpu
// state, the scheduler's dispatch-in step (spec.md §4.1).
func (p *PCB) LoadInto(c *cpu.State) {
	c.Reset()
	copy(c.Registers[:], p.Registers[:])
	c.SignFlag = p.SignFlag
	c.ZeroFlag = p.ZeroFlag
	c.SetIP(p.IP)
	c.SetSP(p.SP)
}

// SaveFrom copies a Cpu state's registers, flags, and IP back into this
// PCB, the scheduler's dispatch-out step (spec.md §4.1).
func (p *PCB) SaveFrom(c *cpu.State) {
	copy(p.Registers[:], c.Registers[:])
	p.SignFlag = c.SignFlag
	p.ZeroFlag = c.ZeroFlag
	p.IP = c.IP()
	p.SP = c.SP()
}

// Eligible reports whether the process may still be dispatched within the
// current run (spec.md §4.1: "eligibility = state ∈ {Running}").
func (p *PCB) Eligible() bool {
	return p.State == Running
}
