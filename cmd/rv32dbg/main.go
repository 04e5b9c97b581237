// Interactive debugger: assembly, register, CSR, and info panes over a
// running hart, driven entirely through the inspector surface.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/Je06jm/RV32IMF/loader"
	"github.com/Je06jm/RV32IMF/riscv"
)

const assemblyWindow = 32

var (
	ramBase = flag.Uint64("ram-base", 0x80000000, "RAM region base address")
	ramSize = flag.Uint64("ram-size", 128<<20, "RAM region size in bytes")
	flat    = flag.Bool("flat", false, "load a flat binary at the RAM base instead of an ELF")
)

type debugger struct {
	screen tcell.Screen
	vm     *riscv.VirtualMachine
	memory *riscv.Memory
	entry  uint32
}

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

	vm, err := riscv.NewVirtualMachine(memory, entry, 0)
	if err != nil {
		log.Fatal(err)
	}
	vm.SetPaused(true)
	vm.SetPauseOnBreak(true)

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatal(err)
	}
	if err := screen.Init(); err != nil {
		log.Fatal(err)
	}
	defer screen.Fini()

	dbg := &debugger{screen: screen, vm: vm, memory: memory, entry: entry}

	go vm.Run()

	events := make(chan tcell.Event)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if vm.IsRunning() {
				if err := vm.UpdateTime(); err != nil {
					vm.Stop()
				}
			}
			dbg.draw()
		case ev := <-events:
			if !dbg.handle(ev) {
				vm.Stop()
				return
			}
		}
	}
}

func (d *debugger) handle(ev tcell.Event) bool {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return true
	}

	switch {
	case key.Key() == tcell.KeyEscape || key.Rune() == 'q':
		return false
	case key.Rune() == ' ':
		d.vm.SetPaused(!d.vm.IsPaused())
	case key.Rune() == 's':
		if d.vm.IsPaused() {
			d.vm.Step(1)
		}
	case key.Rune() == 'b':
		pc := d.vm.GetPC()
		if d.vm.IsBreakPoint(pc) {
			d.vm.ClearBreakPoint(pc)
		} else {
			d.vm.SetBreakPoint(pc)
		}
	case key.Rune() == 'r':
		d.vm.Setup()
		d.vm.SetPC(d.entry)
	}
	return true
}

func (d *debugger) draw() {
	s := d.screen
	s.Clear()

	regs, fregs, pc := d.vm.GetSnapshot()

	d.drawStatus(pc)
	d.drawAssembly(pc)
	d.drawRegisters(&regs, &fregs)
	d.drawCSRs()

	s.Show()
}

func (d *debugger) drawStatus(pc uint32) {
	state := "running"
	if d.vm.IsPaused() {
		state = "paused"
	}
	if !d.vm.IsRunning() {
		state = "stopped"
		if err := d.vm.Err(); err != nil {
			state = shorten(err, 40)
		}
	}
	line := fmt.Sprintf(" pc 0x%08x  %s  %s ips  mem %s/%s  [space] run/pause [s]tep [b]reak [r]eset [q]uit",
		pc, state,
		humanCount(d.vm.GetInstructionsPerSecond()),
		humanBytes(d.vm.GetUsedMemory()), humanBytes(d.vm.GetTotalMemory()))
	d.puts(0, 0, line, tcell.StyleDefault.Reverse(true))
}

func (d *debugger) drawAssembly(pc uint32) {
	start := pc - assemblyWindow/2*4
	if start > pc {
		start = 0
	}
	words, present := d.memory.PeekWords(start, assemblyWindow)

	for i := range words {
		addr := start + uint32(i)*4
		marker := "   "
		style := tcell.StyleDefault
		switch {
		case addr == pc:
			marker = "-> "
			style = style.Foreground(tcell.ColorYellow)
		case d.vm.IsBreakPoint(addr):
			marker = " * "
			style = style.Foreground(tcell.ColorRed)
		}

		text := "unmapped memory"
		if present[i] {
			text = riscv.Decode(words[i]).String()
		}
		d.puts(0, 2+i, fmt.Sprintf("%s0x%08x  %s", marker, addr, text), style)
	}
}

func (d *debugger) drawRegisters(regs *[riscv.RegisterCount]uint32, fregs *[riscv.RegisterCount]riscv.Float) {
	const col = 46
	for i := 0; i < riscv.RegisterCount; i++ {
		d.puts(col, 2+i, fmt.Sprintf("x%-2d 0x%08x", i, regs[i]), tcell.StyleDefault)

		f := fregs[i]
		var text string
		if f.IsDouble {
			text = fmt.Sprintf("f%-2d %- 14g", i, f.F64())
		} else {
			text = fmt.Sprintf("f%-2d %- 14g", i, f.F32())
		}
		d.puts(col+17, 2+i, text, tcell.StyleDefault)
	}
}

func (d *debugger) drawCSRs() {
	const col = 82
	named := []struct {
		csr  uint32
		name string
	}{
		{riscv.MSTATUS, "mstatus"},
		{riscv.MISA, "misa"},
		{riscv.MARCHID, "marchid"},
		{riscv.MIMPID, "mimpid"},
		{riscv.MHARTID, "mhartid"},
		{riscv.MCYCLE, "mcycle"},
		{riscv.MCYCLEH, "mcycleh"},
		{riscv.TIME, "time"},
		{riscv.TIMEH, "timeh"},
		{riscv.FCSR, "fcsr"},
		{riscv.FRM, "frm"},
		{riscv.SATP, "satp"},
		{riscv.SEPC, "sepc"},
		{riscv.MEPC, "mepc"},
	}
	sort.Slice(named, func(i, j int) bool { return named[i].csr < named[j].csr })

	snapshot := d.vm.GetCSRSnapshot()
	for i, entry := range named {
		d.puts(col, 2+i, fmt.Sprintf("%-10s 0x%08x", entry.name, snapshot[entry.csr]), tcell.StyleDefault)
	}
}

func (d *debugger) puts(x, y int, text string, style tcell.Style) {
	for i, r := range text {
		d.screen.SetContent(x+i, y, r, nil, style)
	}
}

func humanBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2fMiB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.2fKiB", float64(n)/(1<<10))
	}
}

func humanCount(n uint64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.2fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func shorten(err error, max int) string {
	text := err.Error()
	if errors.Is(err, riscv.ErrTimerExpired) {
		text = "timer expired"
	}
	if len(text) > max {
		text = text[:max]
	}
	return text
}
