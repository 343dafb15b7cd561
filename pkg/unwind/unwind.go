// Package unwind takes stack traces of the traced process from call
// frame information and frame pointer chains, and prints them.
package unwind

import (
	"debug/elf"
	"encoding/binary"
	"errors"

	"github.com/go-delve/tracecore/pkg/debuginfo"
	"github.com/go-delve/tracecore/pkg/dwarf/frame"
	"github.com/go-delve/tracecore/pkg/internal/lru"
	"github.com/go-delve/tracecore/pkg/logflags"
)

const (
	// DefaultMaxStackFrame is the largest stack a trace is taken from,
	// bigger stacks give a trace of a single frame.
	DefaultMaxStackFrame = 2000000

	cfiCacheSize = 1024
)

// Registers holds the registers a stack trace starts from. LR is only
// meaningful on architectures with a link register.
type Registers struct {
	PC, SP, FP, LR uint64
}

// MemoryReader reads the memory of the traced process.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// Thread is a thread of the traced process.
type Thread interface {
	MemoryReader
	Registers() (Registers, error)
	// StackHighest returns the address of the highest word of the stack
	// of the thread.
	StackHighest() uint64
}

// Strategy is the order in which call frame information and frame
// pointers are tried at each step.
type Strategy uint8

const (
	// CFIFirst uses frame pointers only when no CFI covers the address.
	CFIFirst Strategy = iota
	// FPFirst follows the frame pointer chain when it looks sane and
	// falls back to CFI.
	FPFirst
	// FPOnly only follows the back chain of stack frames, the return
	// address is saved one or two words above each frame.
	FPOnly
)

// StrategyFor returns the strategy used on arch.
func StrategyFor(arch *debuginfo.Arch) Strategy {
	switch arch.Machine {
	case elf.EM_386:
		return FPFirst
	case elf.EM_PPC, elf.EM_PPC64:
		return FPOnly
	}
	return CFIFirst
}

type cfiCacheEntry struct {
	rec debuginfo.CfiRecord
	ok  bool
}

// Unwinder takes stack traces using the debug information of a Registry.
type Unwinder struct {
	reg           *debuginfo.Registry
	arch          *debuginfo.Arch
	order         binary.ByteOrder
	ptrSize       uint64
	strategy      Strategy
	maxStackFrame uint64

	cache    *lru.Cache[uint64, cfiCacheEntry]
	cacheGen uint64

	log logflags.Logger
}

// New returns an Unwinder for the objects loaded in reg. A maxStackFrame
// of zero selects DefaultMaxStackFrame.
func New(reg *debuginfo.Registry, maxStackFrame uint64) *Unwinder {
	if maxStackFrame == 0 {
		maxStackFrame = DefaultMaxStackFrame
	}
	arch := &reg.Options().Arch
	return &Unwinder{
		reg:           reg,
		arch:          arch,
		order:         arch.ByteOrder(),
		ptrSize:       uint64(arch.PtrSize()),
		strategy:      StrategyFor(arch),
		maxStackFrame: maxStackFrame,
		cache:         lru.NewCache[uint64, cfiCacheEntry](cfiCacheSize),
		cacheGen:      reg.Generation(),
		log:           logflags.UnwindLogger(),
	}
}

// Registry returns the registry used to look up call frame information
// and to describe frames.
func (u *Unwinder) Registry() *debuginfo.Registry {
	return u.reg
}

// Strategy returns the unwinding strategy in use.
func (u *Unwinder) Strategy() Strategy {
	return u.strategy
}

// ThreadStack returns up to max return addresses of the stack of t, most
// recent first. The first element is the current PC.
func (u *Unwinder) ThreadStack(t Thread, max int) ([]uint64, error) {
	if t == nil {
		return nil, errors.New("nil thread")
	}
	regs, err := t.Registers()
	if err != nil {
		return nil, err
	}
	return u.Stack(regs, regs.SP, t.StackHighest(), t, max), nil
}

// Stack returns up to max return addresses starting at regs. Memory is
// only read inside [fpMin, fpMaxOrig] extended to the end of its page.
func (u *Unwinder) Stack(regs Registers, fpMin, fpMaxOrig uint64, mem MemoryReader, max int) []uint64 {
	if max <= 0 {
		return nil
	}
	fpMax := u.arch.PageRoundUp(fpMaxOrig) - u.ptrSize
	if logflags.Unwind() {
		u.log.Debugf("max=%d fp_min=%#x fp_max_orig=%#x fp_max=%#x ip=%#x fp=%#x", max, fpMin, fpMaxOrig, fpMax, regs.PC, regs.FP)
	}

	ips := make([]uint64, 1, max)
	ips[0] = regs.PC

	if fpMin+u.maxStackFrame <= fpMax {
		// user space thread packages run on huge stacks
		return ips
	}

	if u.strategy == FPOnly {
		return u.stackFPOnly(ips, regs, mem, fpMin, fpMax)
	}

	r := frameRegs{ip: regs.PC, sp: regs.SP, fp: regs.FP}
	for len(ips) < cap(ips) {
		var res stepResult
		switch u.strategy {
		case FPFirst:
			res = stepOK
			if !u.useFP(&r, mem, fpMin, fpMax) {
				res = u.useCFI(&r, mem, fpMin, fpMax)
			}
		default:
			res = u.useCFI(&r, mem, fpMin, fpMax)
			if res == stepNone && u.useFP(&r, mem, fpMin, fpMax) {
				res = stepOK
			}
		}
		if res != stepOK || r.ip == 0 {
			break
		}
		ips = append(ips, r.ip)
		if logflags.Unwind() {
			u.log.Debugf("ips[%d]=%#x", len(ips)-1, r.ip)
		}
		// r.ip is a return address, the CFI of the call is the one
		// covering the previous byte.
		r.ip--
	}
	return ips
}

type frameRegs struct {
	ip, sp, fp uint64
}

type stepResult uint8

const (
	stepNone stepResult = iota
	stepOK
	stepStop
)

// findCFI looks up the CFI record of ip, remembering both hits and
// misses until the set of loaded objects changes.
func (u *Unwinder) findCFI(ip uint64) (debuginfo.CfiRecord, bool) {
	if gen := u.reg.Generation(); gen != u.cacheGen {
		if logflags.Unwind() {
			hits, misses := u.cache.Stats()
			u.log.Debugf("objects changed, dropping %d cached CFI lookups (%d hits, %d misses)", u.cache.Len(), hits, misses)
		}
		u.cache.Purge()
		u.cacheGen = gen
	}
	if ent, ok := u.cache.Get(ip); ok {
		return ent.rec, ent.ok
	}
	var ent cfiCacheEntry
	if rec, ok := u.reg.FindCFI(ip); ok {
		ent = cfiCacheEntry{rec: *rec, ok: true}
	}
	u.cache.Add(ip, ent)
	return ent.rec, ent.ok
}

// useCFI computes the registers of the caller from the CFI record
// covering r.ip. On stepNone r is unchanged.
func (u *Unwinder) useCFI(r *frameRegs, mem MemoryReader, fpMin, fpMax uint64) stepResult {
	rec, ok := u.findCFI(r.ip)
	if !ok {
		return stepNone
	}

	cfa := r.fp
	if rec.CFAFromSP {
		cfa = r.sp
	}
	cfa += uint64(rec.CFAOff)

	apply := func(rule frame.Recovery, here uint64) (uint64, stepResult) {
		switch rule.Kind {
		case frame.RecoverSame:
			return here, stepOK
		case frame.RecoverCFARel:
			return cfa + uint64(rule.Off), stepOK
		case frame.RecoverMemCFARel:
			addr := cfa + uint64(rule.Off)
			if addr < fpMin || addr+u.ptrSize > fpMax {
				return 0, stepNone
			}
			v, ok := u.readWord(mem, addr)
			if !ok {
				return 0, stepNone
			}
			return v, stepOK
		}
		return 0, stepStop
	}

	var next frameRegs
	var res stepResult
	if next.ip, res = apply(rec.RA, r.ip); res != stepOK {
		return res
	}
	if next.sp, res = apply(rec.SP, r.sp); res != stepOK {
		return res
	}
	if next.fp, res = apply(rec.FP, r.fp); res != stepOK {
		return res
	}
	*r = next
	return stepOK
}

// useFP follows the frame pointer chain one step: the caller's frame
// pointer is saved at fp and the return address right above it.
func (u *Unwinder) useFP(r *frameRegs, mem MemoryReader, fpMin, fpMax uint64) bool {
	if r.fp < fpMin || r.fp > fpMax {
		return false
	}
	ip, ok := u.readWord(mem, r.fp+u.ptrSize)
	if !ok {
		return false
	}
	fp, ok := u.readWord(mem, r.fp)
	if !ok {
		return false
	}
	r.ip, r.sp, r.fp = ip, r.fp+2*u.ptrSize, fp
	return true
}

// stackFPOnly walks the back chain of architectures where the stack
// pointer doubles as frame pointer. The return address of the innermost
// frame may still be in the link register.
func (u *Unwinder) stackFPOnly(ips []uint64, regs Registers, mem MemoryReader, fpMin, fpMax uint64) []uint64 {
	lrOffset := uint64(1)
	if u.ptrSize == 8 {
		lrOffset = 2
	}

	lrIsFirstRA := false
	if lrName, ok := u.reg.FnNameNoDemangle(regs.LR); ok {
		if ipName, ok := u.reg.FnNameNoDemangle(regs.PC); ok && lrName != ipName {
			lrIsFirstRA = true
		}
	}

	fp := regs.FP
	if fp < fpMin || fp+u.ptrSize > fpMax {
		return ips
	}
	fp, ok := u.readWord(mem, fp)
	if !ok {
		return ips
	}
	for len(ips) < cap(ips) {
		if fp < fpMin || fp > fpMax {
			break
		}
		var ip uint64
		if len(ips) == 1 && lrIsFirstRA {
			ip = regs.LR
		} else if ip, ok = u.readWord(mem, fp+lrOffset*u.ptrSize); !ok {
			break
		}
		if fp, ok = u.readWord(mem, fp); !ok || ip == 0 {
			break
		}
		ips = append(ips, ip)
	}
	return ips
}

func (u *Unwinder) readWord(mem MemoryReader, addr uint64) (uint64, bool) {
	var buf [8]byte
	b := buf[:u.ptrSize]
	if n, err := mem.ReadMemory(b, addr); err != nil || n != len(b) {
		return 0, false
	}
	if u.ptrSize == 4 {
		return uint64(u.order.Uint32(b)), true
	}
	return u.order.Uint64(b), true
}
