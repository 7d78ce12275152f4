// Package cpu implements the process-wide register file of spec.md §3
// ("Cpu state"): R1..R10, R11=IP, SP aliased to R10, flags, and a
// monotonic clock.
//
// Per spec.md §9's redesign guidance ("re-architect as an explicit
// CpuState value passed through the scheduler; the scheduler owns it, the
// interpreter borrows it mutably per opcode"), this is a plain value type
// with no back-reference to the scheduler or OS, unlike the teacher's
// global package-level statics in cmd/cpu/cpu.go.
package cpu

const (
	IPRegister = 11
	SPRegister = 10
	NumRegisters = 11
)

// State is the register file of the currently dispatched process.
type State struct {
	Registers [NumRegisters + 1]uint32 // 1-indexed; Registers[0] unused
	SignFlag  bool
	ZeroFlag  bool
	Clock     uint64
}

// IP returns the instruction pointer (R11).
func (s *State) IP() uint32 { return s.Registers[IPRegister] }

// SetIP sets the instruction pointer.
func (s *State) SetIP(v uint32) { s.Registers[IPRegister] = v }

// SP returns the stack pointer (aliased to R10).
func (s *State) SP() uint32 { return s.Registers[SPRegister] }

// SetSP sets the stack pointer.
func (s *State) SetSP(v uint32) { s.Registers[SPRegister] = v }

// Reset zeroes the entire register file, the scheduler's end-of-dispatch
// step (spec.md §4.1: "Zero the Cpu register file").
func (s *State) Reset() {
	*s = State{}
}

// Tick advances the monotonic clock by one and returns the new value.
func (s *State) Tick() uint64 {
	s.Clock++
	return s.Clock
}
