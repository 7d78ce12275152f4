package interpreter

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/loader"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/process"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/cpu"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/fault"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/memory"
)

type fakeDeps struct {
	lockOwner  map[int]int
	events     map[int]bool
	terminated []int
	in         *bufio.Reader
	out        *bytes.Buffer
}

func newFakeDeps(input string) *fakeDeps {
	return &fakeDeps{
		lockOwner: map[int]int{},
		events:    map[int]bool{},
		in:        bufio.NewReader(strings.NewReader(input)),
		out:       &bytes.Buffer{},
	}
}

func (d *fakeDeps) LockOwner(id int) int                   { return d.lockOwner[id] }
func (d *fakeDeps) ClaimLock(id, pid int)                  { d.lockOwner[id] = pid }
func (d *fakeDeps) ReleaseLock(id, pid int)                { d.lockOwner[id] = 0 }
func (d *fakeDeps) EventSignaled(id int) bool              { return d.events[id] }
func (d *fakeDeps) SetEventSignaled(id int, signaled bool) { d.events[id] = signaled }
func (d *fakeDeps) TerminateProcess(pid int)               { d.terminated = append(d.terminated, pid) }
func (d *fakeDeps) Stdin() *bufio.Reader                   { return d.in }
func (d *fakeDeps) Stdout() io.Writer                      { return d.out }

func ptr(v uint32) *uint32 { return &v }

// newTestProcess maps pid 1 over memorySize bytes, writes program at
// offset 0, and lays out the PCB the way kernel.CreateProcess does
// (spec.md §4.3), with a small stack/heap so tests can exercise both.
func newTestProcess(t *testing.T, program []byte, stackSize, dataSize uint64) (*process.PCB, *cpu.State, *memory.Manager, *fakeDeps) {
	t.Helper()
	cfg := &config.Config{
		PhysicalMemory: 256,
		MemoryPageSize: 4,
		StackSize:      uint(stackSize),
		DataSize:       uint(dataSize),
		SwapDir:        t.TempDir(),
	}
	mem, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("memory.New devolvió error: %v", err)
	}

	memorySize := uint64(64)
	if err := mem.MapProcess(1, memorySize); err != nil {
		t.Fatalf("MapProcess devolvió error: %v", err)
	}
	if err := mem.WriteBytes(1, 0, program); err != nil {
		t.Fatalf("WriteBytes devolvió error: %v", err)
	}

	pcb := process.New(1, memorySize)
	pcb.StackSize = stackSize
	pcb.DataSize = dataSize
	pcb.CodeSize = uint64(config.RoundUpToPage(uint(len(program)), uint(mem.PageSize())))
	pcb.HeapStart = pcb.CodeSize + pcb.DataSize
	pcb.HeapEnd = memorySize - pcb.StackSize
	pcb.HeapPageTable = mem.HeapPages(1, pcb.HeapStart, pcb.HeapEnd)
	pcb.SP = uint32(memorySize - 1)

	var c cpu.State
	pcb.LoadInto(&c)

	return pcb, &c, mem, newFakeDeps("")
}

func TestArithmeticAndPrint(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(5)},
		{Opcode: Addi, Param1: ptr(1), Param2: ptr(3)},
		{Opcode: Printr, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	for i := 0; i < 3; i++ {
		if err := Step(pcb, c, mem, deps); err != nil {
			t.Fatalf("Step %d devolvió error: %v", i, err)
		}
	}
	if c.Registers[1] != 8 {
		t.Fatalf("esperaba r1=8, obtuve %d", c.Registers[1])
	}
	if deps.out.String() != "8\n" {
		t.Fatalf("Printr no escribió el valor esperado: %q", deps.out.String())
	}
}

func TestCmpiSetsFlagsIndependently(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(5)},
		{Opcode: Cmpi, Param1: ptr(1), Param2: ptr(5)},
		{Opcode: Cmpi, Param1: ptr(1), Param2: ptr(10)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps) // Movi
	mustStep(t, pcb, c, mem, deps) // Cmpi r1,$5
	if !c.ZeroFlag || c.SignFlag {
		t.Fatalf("5 cmp 5 debería dar zeroFlag=true signFlag=false, obtuve zero=%v sign=%v", c.ZeroFlag, c.SignFlag)
	}
	mustStep(t, pcb, c, mem, deps) // Cmpi r1,$10
	if c.ZeroFlag || !c.SignFlag {
		t.Fatalf("5 cmp 10 debería dar zeroFlag=false signFlag=true, obtuve zero=%v sign=%v", c.ZeroFlag, c.SignFlag)
	}
}

func TestPushPopRoundTrips(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Pushi, Param1: ptr(42)},
		{Opcode: Popr, Param1: ptr(3)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 16, 0)
	startSP := c.SP()

	mustStep(t, pcb, c, mem, deps)
	if c.SP() != startSP-4 {
		t.Fatalf("Pushi debería decrementar SP en 4")
	}
	mustStep(t, pcb, c, mem, deps)
	if c.Registers[3] != 42 {
		t.Fatalf("Popr no restauró el valor, obtuve %d", c.Registers[3])
	}
	if c.SP() != startSP {
		t.Fatalf("Popr debería restaurar SP, obtuve %d quería %d", c.SP(), startSP)
	}
}

func TestPushBeyondStackFloorRaisesStackFault(t *testing.T) {
	// stackSize=4: the stack floor sits exactly 4 bytes below the initial
	// SP, so the first push lands exactly on the floor and the second
	// push must overflow it.
	program := loader.Encode([]loader.Instruction{
		{Opcode: Pushi, Param1: ptr(1)},
		{Opcode: Pushi, Param1: ptr(2)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 4, 0)

	if err := Step(pcb, c, mem, deps); err != nil {
		t.Fatalf("el primer push no debería desbordar la pila: %v", err)
	}
	err := Step(pcb, c, mem, deps)
	f, ok := err.(*fault.Fault)
	if !ok || f.Kind != fault.Stack {
		t.Fatalf("esperaba StackException, obtuve %v", err)
	}
}

func TestMovmrAndMovrmOperandOrdering(t *testing.T) {
	// r5 points into the data segment (offset 36, just past this
	// program's 36-byte code segment) so the Movmr/Movrm probes never
	// touch the instructions being executed.
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(5), Param2: ptr(36)},
		{Opcode: Movmr, Param1: ptr(1), Param2: ptr(5)},
		{Opcode: Movi, Param1: ptr(2), Param2: ptr(77)},
		{Opcode: Movrm, Param1: ptr(5), Param2: ptr(2)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 4)
	if pcb.CodeSize != 36 {
		t.Fatalf("este caso asume codeSize=36, obtuve %d (ajustar las constantes del programa)", pcb.CodeSize)
	}

	if err := mem.WriteU32(1, 36, 0xABCD1234); err != nil {
		t.Fatalf("WriteU32 devolvió error: %v", err)
	}

	mustStep(t, pcb, c, mem, deps) // Movi r5,$36
	mustStep(t, pcb, c, mem, deps) // Movmr r1,r5 -> r1 = mem32[r5]
	if c.Registers[1] != 0xABCD1234 {
		t.Fatalf("Movmr no leyó mem32[R[rB]], obtuve 0x%x", c.Registers[1])
	}
	mustStep(t, pcb, c, mem, deps) // Movi r2,$77
	mustStep(t, pcb, c, mem, deps) // Movrm r5,r2 -> mem32[r5] = r2
	got, err := mem.ReadU32(1, 36)
	if err != nil || got != 77 {
		t.Fatalf("Movrm no escribió mem32[R[rA]]=R[rB], obtuve %d err=%v", got, err)
	}
}

func TestJumpOffsetIsRelativeToPostOperandIP(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(5)}, // r1 = 5, advances IP past this instruction
		{Opcode: Jmp, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps) // Movi
	ipBeforeJump := c.IP()
	mustStep(t, pcb, c, mem, deps) // Jmp r1
	// IP is read, opcode (1 byte) + operand (4 bytes) consumed, then the
	// offset is added to that post-operand IP.
	want := ipBeforeJump + 5 + 5
	if c.IP() != want {
		t.Fatalf("Jmp debería saltar a %d, obtuve %d", want, c.IP())
	}
}

func TestCallThenRetRoundTrips(t *testing.T) {
	// Layout: Movi (9 bytes, offsets 0-8), Call (5 bytes, offsets 9-13),
	// Noop (1 byte, offset 14, the return site), Ret (1 byte, offset 15,
	// the subroutine body Call jumps into). Call's relative offset is
	// measured from the post-operand IP (14), so jumping to 15 needs $1.
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(1)},
		{Opcode: Call, Param1: ptr(1)},
		{Opcode: Noop},
		{Opcode: Ret},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps) // Movi
	ipAtCall := c.IP()
	mustStep(t, pcb, c, mem, deps) // Call r1: pushes the post-operand IP, jumps
	jumpedIP := c.IP()
	if jumpedIP == ipAtCall+5 {
		t.Fatalf("Call debería haber saltado, no seguir secuencial")
	}

	mustStep(t, pcb, c, mem, deps) // Ret, at the subroutine body
	if c.IP() != ipAtCall+5 {
		t.Fatalf("Ret debería volver a %d, obtuve %d", ipAtCall+5, c.IP())
	}
}

func TestAllocThenFreeMemoryRoundTrips(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(8)},
		{Opcode: Alloc, Param1: ptr(1), Param2: ptr(2)},
		{Opcode: FreeMemory, Param1: ptr(2)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps) // Movi r1,$8
	mustStep(t, pcb, c, mem, deps) // Alloc r1,r2
	if c.Registers[2] != uint32(pcb.HeapStart) {
		t.Fatalf("Alloc debería devolver heapStart, obtuve %d", c.Registers[2])
	}
	if err := Step(pcb, c, mem, deps); err != nil { // FreeMemory r2
		t.Fatalf("FreeMemory devolvió error: %v", err)
	}

	// The heap should be available again for the same size allocation.
	addr, err := mem.HeapAlloc(1, pcb.HeapStart, pcb.HeapEnd, 8)
	if err != nil || addr != pcb.HeapStart {
		t.Fatalf("el heap liberado debería volver a asignarse desde heapStart, addr=%d err=%v", addr, err)
	}
}

func TestAcquireLockClaimsWhenFree(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(3)},
		{Opcode: AcquireLock, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps) // Movi
	mustStep(t, pcb, c, mem, deps) // AcquireLock r1
	if deps.LockOwner(3) != pcb.Pid {
		t.Fatalf("AcquireLock debería reclamar el lock libre")
	}
	if pcb.State == process.WaitingOnLock {
		t.Fatalf("un lock libre no debería bloquear al proceso")
	}
}

func TestAcquireLockBlocksWhenHeldByAnother(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(3)},
		{Opcode: AcquireLock, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)
	deps.ClaimLock(3, 99)

	mustStep(t, pcb, c, mem, deps) // Movi
	mustStep(t, pcb, c, mem, deps) // AcquireLock r1
	if pcb.State != process.WaitingOnLock || pcb.WaitingLock != 3 {
		t.Fatalf("debería quedar bloqueado esperando el lock 3: state=%v waitingLock=%d", pcb.State, pcb.WaitingLock)
	}
	if deps.LockOwner(3) != 99 {
		t.Fatalf("el dueño del lock no debería cambiar")
	}
}

func TestAcquireLockOutsideValidRangeIsNoOp(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(20)},
		{Opcode: AcquireLock, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if pcb.State == process.WaitingOnLock {
		t.Fatalf("un id de lock fuera de [1,10] debería ser no-op")
	}
	if deps.LockOwner(20) != 0 {
		t.Fatalf("no debería reclamarse un lock fuera de rango")
	}
}

func TestReleaseLockOnlyByOwner(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(3)},
		{Opcode: ReleaseLock, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)
	deps.ClaimLock(3, 99) // owned by a different pid

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if deps.LockOwner(3) != 99 {
		t.Fatalf("ReleaseLock no debería liberar un lock que no es del proceso")
	}
}

func TestSleepSetsCounterAndWaitingState(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(0)},
		{Opcode: Sleep, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if pcb.State != process.WaitingAsleep || pcb.SleepCounter != 0 {
		t.Fatalf("Sleep $0 debería dormir indefinidamente: state=%v counter=%d", pcb.State, pcb.SleepCounter)
	}
}

func TestMapSharedMemOutsideValidRangeIsNoOp(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(11)},
		{Opcode: MapSharedMem, Param1: ptr(1), Param2: ptr(2)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if c.Registers[2] != 0 {
		t.Fatalf("un id de región fuera de [1,10] no debería escribir r2, obtuve %d", c.Registers[2])
	}
}

func TestSignalEventSetsSignaledWithinValidRange(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(4)},
		{Opcode: SignalEvent, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if !deps.EventSignaled(4) {
		t.Fatalf("SignalEvent debería marcar el evento 4 como señalado")
	}
}

func TestWaitEventOutsideValidRangeIsNoOp(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(0)},
		{Opcode: WaitEvent, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if pcb.State == process.WaitingOnEvent {
		t.Fatalf("un id de evento fuera de [1,10] no debería bloquear")
	}
}

func TestInputReadsLineIntoRegister(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Input, Param1: ptr(4)},
	})
	pcb, c, mem, _ := newTestProcess(t, program, 8, 0)
	deps := newFakeDeps("123\n")

	if err := Step(pcb, c, mem, deps); err != nil {
		t.Fatalf("Step devolvió error: %v", err)
	}
	if c.Registers[4] != 123 {
		t.Fatalf("Input debería parsear 123, obtuve %d", c.Registers[4])
	}
}

func TestMemoryClearZeroesRange(t *testing.T) {
	// The target range must land in the data segment, not the code
	// segment the program itself occupies, or clearing it would
	// overwrite the very instructions being executed.
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(28)},
		{Opcode: Movi, Param1: ptr(2), Param2: ptr(4)},
		{Opcode: MemoryClear, Param1: ptr(1), Param2: ptr(2)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 4)
	if pcb.CodeSize != 28 {
		t.Fatalf("este caso asume codeSize=28, obtuve %d (ajustar las constantes del programa)", pcb.CodeSize)
	}
	if err := mem.WriteByte(1, 28, 0xFF); err != nil {
		t.Fatalf("WriteByte devolvió error: %v", err)
	}

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	b, err := mem.ReadByte(1, 28)
	if err != nil || b != 0 {
		t.Fatalf("MemoryClear no limpió el rango, obtuve %d err=%v", b, err)
	}
}

func TestTerminateProcessDelegatesToDeps(t *testing.T) {
	program := loader.Encode([]loader.Instruction{
		{Opcode: Movi, Param1: ptr(1), Param2: ptr(7)},
		{Opcode: TerminateProcess, Param1: ptr(1)},
	})
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	mustStep(t, pcb, c, mem, deps)
	mustStep(t, pcb, c, mem, deps)
	if len(deps.terminated) != 1 || deps.terminated[0] != 7 {
		t.Fatalf("TerminateProcess debería delegar el pid 7, obtuve %v", deps.terminated)
	}
}

func TestUnknownOpcodeRaisesMemoryFault(t *testing.T) {
	program := []byte{200}
	pcb, c, mem, deps := newTestProcess(t, program, 8, 0)

	err := Step(pcb, c, mem, deps)
	f, ok := err.(*fault.Fault)
	if !ok || f.Kind != fault.Memory {
		t.Fatalf("esperaba MemoryException por opcode desconocido, obtuve %v", err)
	}
}

func mustStep(t *testing.T, pcb *process.PCB, c *cpu.State, mem *memory.Manager, deps Deps) {
	t.Helper()
	if err := Step(pcb, c, mem, deps); err != nil {
		t.Fatalf("Step devolvió error: %v", err)
	}
}
