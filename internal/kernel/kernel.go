// Package kernel implements the cooperative, strictly serial scheduler of
// spec.md §4.1 and §4.3: a single pid table, ten OS-global locks, ten
// OS-global events, and a run loop that dispatches one process at a time
// to the interpreter until every process has terminated.
//
// Grounded on cmd/kernel/planificador.go's largo/corto-plazo queues and
// cmd/kernel/pcb.go's lifecycle transitions, collapsed from the teacher's
// HTTP-mediated four-module design into direct calls between in-process
// packages, per spec.md §9's "single host process, no network" redesign.
package kernel

import (
	"bufio"
	"io"
	"sort"

	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/oslog"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/process"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/cpu"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/fault"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/interpreter"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/memory"
)

// Stats is the per-process summary recorded on reap, spec.md's added
// diagnostic surface over §4.3's PCB counters (grounded on
// cmd/kernel/pcb.go's CalcularMetricas).
type Stats struct {
	Pid             int
	ClockCycles     uint64
	ContextSwitches uint64
	PageFaults      uint64
	State           process.State
}

// OS is the scheduler: the process table plus the ten OS-global locks and
// events spec.md §3 describes as shared, not per-process, state.
type OS struct {
	Memory *memory.Manager
	cfg    *config.Config

	cpu *cpu.State

	locks  [11]int  // index 1..10; 0 means free
	events [11]bool // index 1..10

	processes map[int]*process.PCB
	order     []int // pid creation order: the final sort tie-break after priority and clockCycles, and the wake pass's scan order
	nextPid   int

	Completed []Stats

	stdin  *bufio.Reader
	stdout io.Writer
}

// New builds an OS over an already-constructed MemoryManager.
func New(cfg *config.Config, mem *memory.Manager, stdin io.Reader, stdout io.Writer) *OS {
	return &OS{
		Memory:    mem,
		cfg:       cfg,
		cpu:       &cpu.State{},
		processes: make(map[int]*process.PCB),
		nextPid:   1,
		stdin:     bufio.NewReader(stdin),
		stdout:    stdout,
	}
}

// CreateProcess implements spec.md §4.3 process creation: map memory,
// load the program image at offset 0, and lay out the code/data/heap/
// stack regions within the process's address space.
func (os *OS) CreateProcess(program []byte, memorySize uint64) (*process.PCB, error) {
	pid := os.nextPid
	os.nextPid++

	if err := os.Memory.MapProcess(pid, memorySize); err != nil {
		return nil, err
	}
	if err := os.Memory.WriteBytes(pid, 0, program); err != nil {
		return nil, err
	}

	pcb := process.New(pid, memorySize)
	pcb.CodeSize = uint64(config.RoundUpToPage(uint(len(program)), uint(os.Memory.PageSize())))
	pcb.DataSize = uint64(os.cfg.DataSize)
	pcb.StackSize = uint64(os.cfg.StackSize)
	pcb.HeapStart = pcb.CodeSize + pcb.DataSize
	pcb.HeapEnd = memorySize - pcb.StackSize
	pcb.IP = 0
	pcb.SP = uint32(memorySize - 1)
	pcb.Registers[9] = uint32(pcb.CodeSize)
	pcb.HeapPageTable = os.Memory.HeapPages(pid, pcb.HeapStart, pcb.HeapEnd)

	os.processes[pid] = pcb
	os.order = append(os.order, pid)

	oslog.With("pid", pid).Info("proceso creado", "memoria", memorySize, "codigo", pcb.CodeSize)
	return pcb, nil
}

// LockOwner, ClaimLock, ReleaseLock, EventSignaled, SetEventSignaled,
// TerminateProcess, Stdin, and Stdout satisfy interpreter.Deps.

func (os *OS) LockOwner(id int) int { return os.locks[id] }

func (os *OS) ClaimLock(id, pid int) {
	os.locks[id] = pid
	oslog.With("pid", pid, "lock", id).Debug("lock adquirido")
}

func (os *OS) ReleaseLock(id, pid int) {
	os.locks[id] = 0
	oslog.With("pid", pid, "lock", id).Debug("lock liberado")
}

func (os *OS) EventSignaled(id int) bool { return os.events[id] }

func (os *OS) SetEventSignaled(id int, signaled bool) { os.events[id] = signaled }

func (os *OS) TerminateProcess(pid int) {
	if p, ok := os.processes[pid]; ok {
		p.State = process.Terminated
	}
}

func (os *OS) Stdin() *bufio.Reader { return os.stdin }

func (os *OS) Stdout() io.Writer { return os.stdout }

var _ interpreter.Deps = (*OS)(nil)

// Run drives the scheduler to completion, per spec.md §4.1: reap
// terminated processes, sort the table by priority descending (ties by
// clockCycles ascending), then walk that fixed order once, dispatching
// every entry whose state is NewProcess or Ready at the moment the walk
// reaches it — a process woken mid-pass by another's dispatch can still
// run later in the same pass.
func (os *OS) Run() {
	for {
		os.reap()
		if len(os.processes) == 0 {
			return
		}

		for _, pid := range os.sortedPids() {
			p, ok := os.processes[pid]
			if !ok {
				continue
			}
			if p.State == process.NewProcess || p.State == process.Ready {
				os.dispatch(p)
			}
		}
	}
}

// sortedPids orders the live process table by priority descending, ties
// broken by clockCycles ascending (anti-starvation), stable on creation
// order beyond that (spec.md §4.1 step 2, §9's tie-break note).
func (os *OS) sortedPids() []int {
	pids := make([]int, 0, len(os.processes))
	for _, pid := range os.order {
		if _, ok := os.processes[pid]; ok {
			pids = append(pids, pid)
		}
	}
	sort.SliceStable(pids, func(i, j int) bool {
		a, b := os.processes[pids[i]], os.processes[pids[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ClockCycles < b.ClockCycles
	})
	return pids
}

// reap removes every Terminated process: releases its memory, clears any
// lock it still held, and records its final statistics.
func (os *OS) reap() {
	for pid, p := range os.processes {
		if p.State != process.Terminated {
			continue
		}
		for id, owner := range os.locks {
			if owner == pid {
				os.locks[id] = 0
			}
		}
		os.Completed = append(os.Completed, Stats{
			Pid:             pid,
			ClockCycles:     p.ClockCycles,
			ContextSwitches: p.ContextSwitches,
			PageFaults:      os.Memory.PageFaultsForProcess(pid),
			State:           p.State,
		})
		os.Memory.ReleaseProcess(pid)
		p.HeapPageTable = nil
		delete(os.processes, pid)
		oslog.With("pid", pid).Info("proceso finalizado", "ciclos_clock", p.ClockCycles, "cambios_contexto", p.ContextSwitches)
	}
}

// wake runs one deterministic pass over the process table in creation
// order, advancing every waiting process's condition, and reports
// whether any process transitioned to Ready (the dispatch loop's
// preempt flag, spec.md §4.1). An event wakes only the first waiter
// reached in table order and is cleared immediately, so later waiters
// on the same event in the same pass do not also wake (spec.md §5:
// "edge-triggered-consumed").
func (os *OS) wake() bool {
	preempt := false
	for _, pid := range os.order {
		p, ok := os.processes[pid]
		if !ok {
			continue
		}
		switch p.State {
		case process.WaitingAsleep:
			if p.SleepCounter == 0 {
				continue
			}
			p.SleepCounter--
			if p.SleepCounter == 0 {
				p.State = process.Ready
				preempt = true
			}
		case process.WaitingOnLock:
			if os.locks[p.WaitingLock] == 0 {
				os.locks[p.WaitingLock] = pid
				p.WaitingLock = 0
				p.State = process.Ready
				preempt = true
			}
		case process.WaitingOnEvent:
			if os.events[p.WaitingEvent] {
				os.events[p.WaitingEvent] = false
				p.WaitingEvent = 0
				p.State = process.Ready
				preempt = true
			}
		}
	}
	return preempt
}

// dispatch runs p one opcode at a time until it leaves Running, a wake
// pass preempts it mid-quantum, or its cumulative clockCycles becomes a
// multiple of process.TimeQuantum (spec.md §4.1's dispatch algorithm).
func (os *OS) dispatch(p *process.PCB) {
	p.State = process.Running
	p.LoadInto(os.cpu)

	for p.State == process.Running {
		err := interpreter.Step(p, os.cpu, os.Memory, os)
		if err != nil {
			os.onFault(p, err)
			break
		}
		p.ClockCycles++
		os.cpu.Tick()

		preempt := os.wake()
		if p.State != process.Running {
			break
		}

		sliceEligible := p.ClockCycles == 0 || p.ClockCycles%process.TimeQuantum != 0
		if !sliceEligible || preempt {
			break
		}
	}
	if p.State == process.Running {
		p.State = process.Ready
	}

	p.ContextSwitches++
	p.SaveFrom(os.cpu)
	os.cpu.Reset()
}

// onFault handles one of the three process-fatal conditions of spec.md
// §7: log it and terminate the offending process. A fault never aborts
// the host.
func (os *OS) onFault(p *process.PCB, err error) {
	p.State = process.Terminated
	if f, ok := err.(*fault.Fault); ok {
		oslog.With("pid", p.Pid).Error("proceso finalizado por fallo", "fallo", f.Error())
		return
	}
	oslog.With("pid", p.Pid).Error("proceso finalizado por error inesperado", "error", err.Error())
}
