// Package util contains helpers shared by the DWARF section readers.
package util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var errUnterminatedString = errors.New("unterminated string")

// ParseString reads a NUL terminated string from data. The returned length
// includes the terminator.
func ParseString(data *bytes.Buffer) (string, uint32, error) {
	str, err := data.ReadString(0x0)
	if err != nil {
		return "", uint32(len(str)), errUnterminatedString
	}

	return str[:len(str)-1], uint32(len(str)), nil
}

// CString returns the NUL terminated string starting at off in data.
func CString(data []byte, off uint64) (string, bool) {
	if off >= uint64(len(data)) {
		return "", false
	}
	i := bytes.IndexByte(data[off:], 0)
	if i < 0 {
		return "", false
	}
	return string(data[off : off+uint64(i)]), true
}

// ReadUintRaw reads an integer of ptrSize bytes, with the specified byte order, from reader.
func ReadUintRaw(reader io.Reader, order binary.ByteOrder, ptrSize int) (uint64, error) {
	switch ptrSize {
	case 2:
		var n uint16
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 4:
		var n uint32
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return uint64(n), nil
	case 8:
		var n uint64
		if err := binary.Read(reader, order, &n); err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("not supported ptr size %d", ptrSize)
}

// WriteUint writes an integer of ptrSize bytes to writer, in the specified byte order.
func WriteUint(writer io.Writer, order binary.ByteOrder, ptrSize int, data uint64) error {
	switch ptrSize {
	case 4:
		return binary.Write(writer, order, uint32(data))
	case 8:
		return binary.Write(writer, order, data)
	}
	return fmt.Errorf("not supported ptr size %d", ptrSize)
}
