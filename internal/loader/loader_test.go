package loader

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempProgram(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "programa.txt")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("no se pudo escribir el archivo de prueba: %v", err)
	}
	return path
}

func TestParseFileArithmeticAndPrint(t *testing.T) {
	path := writeTempProgram(t, "6 r1, $5\n2 r1, $3\n11 r1\n27\n")
	instructions, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile devolvió error: %v", err)
	}
	if len(instructions) != 4 {
		t.Fatalf("esperaba 4 instrucciones, obtuve %d", len(instructions))
	}
	if instructions[0].Opcode != 6 || *instructions[0].Param1 != 1 || *instructions[0].Param2 != 5 {
		t.Fatalf("instrucción 0 mal parseada: %+v", instructions[0])
	}
	if instructions[3].Opcode != 27 || instructions[3].Param1 != nil {
		t.Fatalf("instrucción 3 (Exit) no debería tener operandos: %+v", instructions[3])
	}
}

func TestParseFileSkipsCommentsAndBlankLines(t *testing.T) {
	path := writeTempProgram(t, "; comentario inicial\n\n1 r1 ; incrementa r1\n\n27\n")
	instructions, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile devolvió error: %v", err)
	}
	if len(instructions) != 2 {
		t.Fatalf("esperaba 2 instrucciones, obtuve %d: %+v", len(instructions), instructions)
	}
}

func TestParseOperandNegativeConstant(t *testing.T) {
	v, err := parseOperand("$-4")
	if err != nil {
		t.Fatalf("parseOperand devolvió error: %v", err)
	}
	if int32(v) != -4 {
		t.Fatalf("esperaba -4, obtuve %d", int32(v))
	}
}

func TestParseOperandInvalidPrefix(t *testing.T) {
	if _, err := parseOperand("x1"); err == nil {
		t.Fatalf("esperaba error para operando inválido")
	}
}

func TestEncodeProducesLittleEndianOperands(t *testing.T) {
	v1 := uint32(5)
	instructions := []Instruction{{Opcode: 6, Param1: ptrU32(1), Param2: &v1}}
	image := Encode(instructions)
	want := []byte{6, 1, 0, 0, 0, 5, 0, 0, 0}
	if len(image) != len(want) {
		t.Fatalf("longitud de imagen inesperada: got %d want %d", len(image), len(want))
	}
	for i := range want {
		if image[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, image[i], want[i])
		}
	}
}

func ptrU32(v uint32) *uint32 { return &v }
