package cpu

import "testing"

func TestIPAndSPAreRegisterAliases(t *testing.T) {
	var s State
	s.SetIP(100)
	s.SetSP(200)
	if s.IP() != 100 || s.Registers[IPRegister] != 100 {
		t.Fatalf("IP no es un alias de Registers[%d]", IPRegister)
	}
	if s.SP() != 200 || s.Registers[SPRegister] != 200 {
		t.Fatalf("SP no es un alias de Registers[%d]", SPRegister)
	}
}

func TestResetZeroesEverything(t *testing.T) {
	var s State
	s.SetIP(10)
	s.SignFlag = true
	s.ZeroFlag = true
	s.Tick()
	s.Reset()
	if s.IP() != 0 || s.SignFlag || s.ZeroFlag || s.Clock != 0 {
		t.Fatalf("Reset no limpió el estado: %+v", s)
	}
}

func TestTickIsMonotonic(t *testing.T) {
	var s State
	if s.Tick() != 1 || s.Tick() != 2 {
		t.Fatalf("Tick debería incrementar monótonamente")
	}
}
