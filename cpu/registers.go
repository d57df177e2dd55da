package cpu

import "fmt"

// RFLAGS bits.
const (
	FlagReserved uint64 = 1 << 1 // always set
	FlagIF       uint64 = 1 << 9
)

// Segment selectors. The low two bits are the privilege level.
const (
	KernelCS uint64 = 0x08
	KernelSS uint64 = 0x10
	UserCS   uint64 = 0x18 | 3
	UserSS   uint64 = 0x20 | 3
)

// Privilege rings.
const (
	Ring0 = 0
	Ring3 = 3
)

// Registers is the simulated register file.
type Registers struct {
	CR3    uint64
	RFlags uint64
	RBX    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RBP    uint64
	RSP    uint64
	RIP    uint64
	CS     uint64
	SS     uint64
}

// CPL returns the current privilege level.
func (r Registers) CPL() int { return int(r.CS & 3) }

func (r Registers) String() string {
	return fmt.Sprintf("cr3=%#x rflags=%#x rsp=%#x rbp=%#x rip=%#x cs=%#x ss=%#x",
		r.CR3, r.RFlags, r.RSP, r.RBP, r.RIP, r.CS, r.SS)
}

// Selectors returns the code and stack selectors of ring.
func Selectors(ring int) (cs, ss uint64) {
	if ring == Ring0 {
		return KernelCS, KernelSS
	}
	return UserCS, UserSS
}
