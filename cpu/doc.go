// Package cpu simulates the single hardware thread the kernel runs on and
// holds the execution-context primitive built on it.
//
// # Machine
//
// Sim carries the register file the kernel cares about (CR3, RFLAGS, RBX,
// R12-R15, RBP, RSP, RIP, CS, SS), an interrupt flag and a queue of pending
// interrupts. Code addresses are symbols in a synthetic text segment (Text):
// a ret to such an address runs the registered routine, and when the routine
// returns, the next address on the stack is popped and run in turn.
//
// Stacks are real memory. Push, pop and ret read and write machine words
// through the direct map, so a primed stack is exactly the byte image a real
// switch would unwind.
//
// # Switching
//
// Switch is the only code that swaps register state. It runs as one
// uninterruptible sequence:
//
//  1. push the resume address and clear IF
//  2. save CR3, load next's root only if it differs
//  3. save RFLAGS, load next's
//  4. save and load RBX, R12, R13, R14, R15 in that order
//  5. save RSP and RBP, load next's
//  6. ret through next's stack
//
// Interrupts raised while the sequence runs are queued and delivered in the
// resumed flow once IF is set.
//
// Each flow of control is carried by its own goroutine, but exactly one runs
// at a time: a switch hands the CPU to the target flow and parks the caller
// until some later switch returns to it.
package cpu
