// Package loader places guest programs into the memory fabric before any
// hart starts.
package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/Je06jm/RV32IMF/riscv"
)

// LoadELF maps the PT_LOAD segments of a 32-bit RISC-V executable into
// memory and returns the entry point. The target regions must already be
// attached.
func LoadELF(memory *riscv.Memory, path string) (uint32, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return 0, fmt.Errorf("%s: not a 32-bit ELF", path)
	}
	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("%s: not a RISC-V ELF (machine %v)", path, f.Machine)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(io.NewSectionReader(prog, 0, int64(prog.Filesz)), data); err != nil {
			return 0, fmt.Errorf("%s: segment at 0x%x: %w", path, prog.Paddr, err)
		}

		base := uint32(prog.Paddr)
		if err := LoadImage(memory, base, data); err != nil {
			return 0, err
		}
		// BSS tail.
		for addr := base + uint32(prog.Filesz); addr < base+uint32(prog.Memsz); addr++ {
			if err := memory.WriteByte(addr, 0); err != nil {
				return 0, err
			}
		}
	}

	return uint32(f.Entry), nil
}

// LoadImage writes a flat binary image at base.
func LoadImage(memory *riscv.Memory, base uint32, data []byte) error {
	for i, b := range data {
		if err := memory.WriteByte(base+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}
