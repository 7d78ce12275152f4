// Package interpreter implements the opcode table of spec.md §4.2: a
// ~37-opcode register machine that maps opcodes 0..36 to operations over
// Cpu state, the MemoryManager, and OS-level primitives (locks, events,
// sleep, termination).
//
// Grounded on cmd/cpu/instrucciones.go's decodeAndExecute switch, but
// dispatching on the numeric opcode byte spec.md §4.2 defines instead of
// the teacher's string mnemonics read off an already-parsed instruction,
// and returning a *fault.Fault instead of a "motivo" string — per spec.md
// §9's redesign guidance, the three fatal conditions are a tagged error
// returned uniformly, not host-language exceptions.
package interpreter

import (
	"bufio"
	"fmt"
	"io"

	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/oslog"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/process"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/cpu"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/fault"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/memory"
)

// Opcode mnemonics, spec.md §4.2's opcode table.
const (
	Noop = iota
	Incr
	Addi
	Addr
	Pushr
	Pushi
	Movi
	Movr
	Movmr
	Movrm
	Movmm
	Printr
	Printm
	Jmp
	Cmpi
	Cmpr
	Jlt
	Jgt
	Je
	Call
	Callm
	Ret
	Alloc
	AcquireLock
	ReleaseLock
	Sleep
	SetPriority
	Exit
	FreeMemory
	MapSharedMem
	SignalEvent
	WaitEvent
	Input
	MemoryClear
	TerminateProcess
	Popr
	Popm
)

var mnemonics = [...]string{
	"Noop", "Incr", "Addi", "Addr", "Pushr", "Pushi", "Movi", "Movr", "Movmr",
	"Movrm", "Movmm", "Printr", "Printm", "Jmp", "Cmpi", "Cmpr", "Jlt", "Jgt",
	"Je", "Call", "Callm", "Ret", "Alloc", "AcquireLock", "ReleaseLock",
	"Sleep", "SetPriority", "Exit", "FreeMemory", "MapSharedMem",
	"SignalEvent", "WaitEvent", "Input", "MemoryClear", "TerminateProcess",
	"Popr", "Popm",
}

// arity is the number of 4-byte operands each opcode consumes.
var arity = [...]int{
	0, 1, 2, 2, 1, 1, 2, 2, 2, 2, 2, 1, 1, 1, 2, 2, 1, 1, 1, 1, 1, 0, 2, 1, 1,
	1, 1, 0, 1, 2, 1, 1, 1, 2, 1, 1, 1,
}

// Deps is the OS-level context an opcode may touch beyond Cpu state and
// memory: locks, events, and process termination. Kept as a narrow
// interface so the interpreter never imports the scheduler package,
// avoiding the cyclic Cpu-to-OS back-reference spec.md §9 calls out.
type Deps interface {
	LockOwner(id int) int
	ClaimLock(id, pid int)
	ReleaseLock(id, pid int)
	EventSignaled(id int) bool
	SetEventSignaled(id int, signaled bool)
	TerminateProcess(pid int)
	Stdin() *bufio.Reader
	Stdout() io.Writer
}

// Step decodes and executes exactly one opcode starting at the current
// IP, mutating c, mem, and pcb in place. It returns a *fault.Fault when
// the opcode's effect is one of the three process-fatal conditions of
// spec.md §7; any other error is a host-level read failure and should
// itself be treated as an unexpected fault by the caller.
func Step(pcb *process.PCB, c *cpu.State, mem *memory.Manager, deps Deps) error {
	pid := pcb.Pid

	opByte, err := mem.ReadByte(pid, uint64(c.IP()))
	if err != nil {
		return err
	}
	c.SetIP(c.IP() + 1)

	if int(opByte) >= len(arity) {
		return fault.NewMemory(pid, uint64(c.IP()-1))
	}

	var operand [2]uint32
	for i := 0; i < arity[opByte]; i++ {
		v, err := mem.ReadU32(pid, uint64(c.IP()))
		if err != nil {
			return err
		}
		c.SetIP(c.IP() + 4)
		operand[i] = v
	}

	logStep(pid, opByte, operand[:arity[opByte]])

	switch int(opByte) {
	case Noop:
		// no effect

	case Incr:
		c.Registers[operand[0]]++

	case Addi:
		c.Registers[operand[0]] = uint32(int32(c.Registers[operand[0]]) + int32(operand[1]))

	case Addr:
		c.Registers[operand[0]] = uint32(int32(c.Registers[operand[0]]) + int32(c.Registers[operand[1]]))

	case Pushr:
		return push(pcb, c, mem, c.Registers[operand[0]])

	case Pushi:
		return push(pcb, c, mem, operand[0])

	case Movi:
		c.Registers[operand[0]] = operand[1]

	case Movr:
		c.Registers[operand[0]] = c.Registers[operand[1]]

	case Movmr:
		v, err := mem.ReadU32(pid, uint64(c.Registers[operand[1]]))
		if err != nil {
			return err
		}
		c.Registers[operand[0]] = v

	case Movrm:
		return mem.WriteU32(pid, uint64(c.Registers[operand[0]]), c.Registers[operand[1]])

	case Movmm:
		v, err := mem.ReadU32(pid, uint64(c.Registers[operand[1]]))
		if err != nil {
			return err
		}
		return mem.WriteU32(pid, uint64(c.Registers[operand[0]]), v)

	case Printr:
		fmt.Fprintf(deps.Stdout(), "%d\n", c.Registers[operand[0]])

	case Printm:
		b, err := mem.ReadByte(pid, uint64(c.Registers[operand[0]]))
		if err != nil {
			return err
		}
		fmt.Fprintf(deps.Stdout(), "%d\n", b)

	case Jmp:
		c.SetIP(uint32(int32(c.IP()) + int32(c.Registers[operand[0]])))

	case Cmpi:
		compare(c, int32(c.Registers[operand[0]]), int32(operand[1]))

	case Cmpr:
		compare(c, int32(c.Registers[operand[0]]), int32(c.Registers[operand[1]]))

	case Jlt:
		if c.SignFlag {
			c.SetIP(uint32(int32(c.IP()) + int32(c.Registers[operand[0]])))
		}

	case Jgt:
		if !c.SignFlag {
			c.SetIP(uint32(int32(c.IP()) + int32(c.Registers[operand[0]])))
		}

	case Je:
		if c.ZeroFlag {
			c.SetIP(uint32(int32(c.IP()) + int32(c.Registers[operand[0]])))
		}

	case Call:
		if err := push(pcb, c, mem, c.IP()); err != nil {
			return err
		}
		c.SetIP(uint32(int32(c.IP()) + int32(c.Registers[operand[0]])))

	case Callm:
		b, err := mem.ReadByte(pid, uint64(c.Registers[operand[0]]))
		if err != nil {
			return err
		}
		if err := push(pcb, c, mem, c.IP()); err != nil {
			return err
		}
		c.SetIP(uint32(int32(c.IP()) + int32(b)))

	case Ret:
		v, err := pop(pcb, c, mem)
		if err != nil {
			return err
		}
		c.SetIP(v)

	case Alloc:
		addr, err := mem.HeapAlloc(pid, pcb.HeapStart, pcb.HeapEnd, uint64(c.Registers[operand[0]]))
		if err != nil {
			return err
		}
		c.Registers[operand[1]] = uint32(addr)

	case AcquireLock:
		k := int(c.Registers[operand[0]])
		if k < 1 || k > 10 {
			break
		}
		owner := deps.LockOwner(k)
		switch owner {
		case 0:
			deps.ClaimLock(k, pid)
		case pid:
			// re-entrant, no-op
		default:
			pcb.WaitingLock = k
			pcb.State = process.WaitingOnLock
		}

	case ReleaseLock:
		k := int(c.Registers[operand[0]])
		if k < 1 || k > 10 {
			break
		}
		if deps.LockOwner(k) == pid {
			deps.ReleaseLock(k, pid)
		}

	case Sleep:
		pcb.SleepCounter = uint64(c.Registers[operand[0]])
		pcb.State = process.WaitingAsleep

	case SetPriority:
		pcb.SetPriority(int(c.Registers[operand[0]]))

	case Exit:
		pcb.State = process.Terminated

	case FreeMemory:
		mem.HeapFree(pid, pcb.HeapStart, pcb.HeapEnd, uint64(c.Registers[operand[0]]))

	case MapSharedMem:
		regionId := int(c.Registers[operand[0]])
		if regionId < 1 || regionId > 10 {
			break
		}
		c.Registers[operand[1]] = uint32(mem.MapSharedToProcess(pid, regionId))

	case SignalEvent:
		k := int(c.Registers[operand[0]])
		if k >= 1 && k <= 10 {
			deps.SetEventSignaled(k, true)
		}

	case WaitEvent:
		k := int(c.Registers[operand[0]])
		if k >= 1 && k <= 10 {
			pcb.WaitingEvent = k
			pcb.State = process.WaitingOnEvent
		}

	case Input:
		line, _ := deps.Stdin().ReadString('\n')
		var v uint32
		fmt.Sscanf(line, "%d", &v)
		c.Registers[operand[0]] = v

	case MemoryClear:
		return mem.SetRange(pid, uint64(c.Registers[operand[0]]), uint64(c.Registers[operand[1]]), 0)

	case TerminateProcess:
		deps.TerminateProcess(int(c.Registers[operand[0]]))

	case Popr:
		v, err := pop(pcb, c, mem)
		if err != nil {
			return err
		}
		c.Registers[operand[0]] = v

	case Popm:
		v, err := pop(pcb, c, mem)
		if err != nil {
			return err
		}
		return mem.WriteU32(pid, uint64(c.Registers[operand[0]]), v)
	}

	return nil
}

// compare sets signFlag/zeroFlag per spec.md §4.2: zeroFlag := a==b,
// signFlag := a<b. Both are independent; a>b leaves both false.
func compare(c *cpu.State, a, b int32) {
	c.ZeroFlag = a == b
	c.SignFlag = a < b
}

// push implements the stack discipline of spec.md §4.2: SP -= 4; if SP
// falls below the stack floor, raise StackException; otherwise store.
func push(pcb *process.PCB, c *cpu.State, mem *memory.Manager, v uint32) error {
	newSP := c.SP() - 4
	floor := uint32(pcb.ProcessMemorySize - 1 - pcb.StackSize)
	if int64(newSP) < int64(floor) || newSP > c.SP() {
		return fault.NewStack(pcb.Pid, uint64(floor)-uint64(newSP))
	}
	c.SetSP(newSP)
	return mem.WriteU32(pcb.Pid, uint64(newSP), v)
}

// pop reads 4 bytes at SP, zeroes them, and advances SP by 4.
func pop(pcb *process.PCB, c *cpu.State, mem *memory.Manager) (uint32, error) {
	v, err := mem.ReadU32(pcb.Pid, uint64(c.SP()))
	if err != nil {
		return 0, err
	}
	if err := mem.SetRange(pcb.Pid, uint64(c.SP()), 4, 0); err != nil {
		return 0, err
	}
	c.SetSP(c.SP() + 4)
	return v, nil
}

func logStep(pid int, opcode byte, operands []uint32) {
	if int(opcode) < len(mnemonics) {
		oslog.With("pid", pid).Debug("ejecutando instrucción", "opcode", mnemonics[opcode], "operandos", operands)
	}
}
