// Command os is the CLI entry point of spec.md §6: build the
// MemoryManager and PhysicalStore, load every program file that exists,
// create one process per file with the requested per-process memory
// budget, and run the scheduler to completion.
//
// Grounded on cmd/kernel/main.go's argument handling and InicializarLogger
// call, collapsed from the teacher's four-binary/config-path CLI into the
// single "os <virtualMemoryBytes> <programFile>..." form spec.md §6 names.
// Since that fixed signature leaves no room for an explicit config-file
// argument, config is read from the conventional path "os.json" in the
// working directory when present, falling back to Default() otherwise.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/kernel"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/loader"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/oslog"
	"github.com/sisoputnfrba/tp-2025-2c-LosProcesosPerdidos/internal/vm/memory"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Uso: %s <tamañoMemoriaPorProceso> <archivoPrograma>...\n", os.Args[0])
		os.Exit(1)
	}

	memorySize, err := strconv.ParseUint(os.Args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tamaño de memoria inválido %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	programPaths := os.Args[2:]

	cfg, err := config.Load("os.json")
	if err != nil {
		cfg = config.Default()
	}
	oslog.Configure(cfg.LogLevel, "os")

	mem, err := memory.New(cfg)
	if err != nil {
		oslog.Fatalf("no se pudo inicializar la memoria: %v", err)
	}

	sched := kernel.New(cfg, mem, os.Stdin, os.Stdout)

	for _, path := range programPaths {
		if _, err := os.Stat(path); err != nil {
			oslog.With("archivo", path).Error("archivo de programa no encontrado, se omite")
			continue
		}
		image, err := loader.LoadImage(path)
		if err != nil {
			oslog.With("archivo", path).Error("error al cargar programa", "error", err.Error())
			continue
		}
		if cfg.DumpProgram {
			oslog.With("archivo", path).Info("programa cargado", "bytes", len(image))
		}
		if _, err := sched.CreateProcess(image, memorySize); err != nil {
			oslog.Fatalf("memoria insuficiente creando proceso para %s: %v", path, err)
		}
	}

	sched.Run()

	for _, stat := range sched.Completed {
		oslog.With("pid", stat.Pid).Info("resumen de proceso",
			"ciclos_clock", stat.ClockCycles,
			"cambios_contexto", stat.ContextSwitches,
			"fallos_de_pagina", stat.PageFaults)
	}

	if cfg.DumpPhysicalMemory {
		fmt.Fprint(os.Stdout, mem.DumpPhysicalMemory())
	}

	if cfg.PauseOnExit {
		fmt.Fprintln(os.Stdout, "Presione ENTER para salir...")
		reader := bufio.NewReader(os.Stdin)
		reader.ReadString('\n')
	}

	os.Exit(0)
}
