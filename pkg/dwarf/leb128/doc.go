// Package leb128 reads and writes the variable length integers used by
// DWARF call frame and line number programs (DWARF 4, section 7.6).
package leb128
