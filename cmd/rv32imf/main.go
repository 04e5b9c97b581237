// Headless runner: load a program, wire the conventional ecall handlers,
// and run the hart until it exits or faults.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Je06jm/RV32IMF/loader"
	"github.com/Je06jm/RV32IMF/riscv"
)

var errExit = errors.New("guest exit")

var (
	ramBase = flag.Uint64("ram-base", 0x80000000, "RAM region base address")
	ramSize = flag.Uint64("ram-size", 128<<20, "RAM region size in bytes")
	flat    = flag.Bool("flat", false, "load a flat binary at the RAM base instead of an ELF")
	pc      = flag.Uint64("pc", 0, "override the starting PC (default: ELF entry or RAM base)")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <program>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	memory := riscv.NewMemory()
	if err := memory.AddMemoryRegion(riscv.NewRAMRegion(uint32(*ramBase), uint32(*ramSize))); err != nil {
		log.Fatalf("adding RAM: %v", err)
	}

	entry := uint32(*ramBase)
	if *flat {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			log.Fatal(err)
		}
		if err := loader.LoadImage(memory, entry, data); err != nil {
			log.Fatalf("loading image: %v", err)
		}
	} else {
		var err error
		entry, err = loader.LoadELF(memory, flag.Arg(0))
		if err != nil {
			log.Fatalf("loading ELF: %v", err)
		}
	}
	if *pc != 0 {
		entry = uint32(*pc)
	}

	registerHandlers()

	vm, err := riscv.NewVirtualMachine(memory, entry, 0)
	if err != nil {
		log.Fatal(err)
	}

	go vm.Run()

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for vm.IsRunning() {
		<-ticker.C
		if err := vm.UpdateTime(); err != nil {
			vm.Stop()
			log.Fatalf("timer: %v", err)
		}
	}

	if err := vm.Err(); err != nil && !errors.Is(err, errExit) {
		log.Fatalf("hart 0 stopped: %v", err)
	}
	fmt.Fprintf(os.Stderr, "executed %d cycles, ~%d ips\n", vm.GetCycles(), vm.GetInstructionsPerSecond())
}

// registerHandlers wires the runner's ecall surface: a0 selects the handler,
// a1 carries the argument.
func registerHandlers() {
	// putchar
	riscv.RegisterECallHandler(1, func(_ uint32, _ *riscv.Memory, regs *[riscv.RegisterCount]uint32, _ *[riscv.RegisterCount]riscv.Float) error {
		_, err := os.Stdout.Write([]byte{byte(regs[riscv.REG_A0+1])})
		return err
	})

	// exit
	riscv.RegisterECallHandler(93, func(hart uint32, _ *riscv.Memory, regs *[riscv.RegisterCount]uint32, _ *[riscv.RegisterCount]riscv.Float) error {
		return fmt.Errorf("%w: hart %d code %d", errExit, hart, regs[riscv.REG_A0+1])
	})
}
