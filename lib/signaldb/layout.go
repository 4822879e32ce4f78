// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaldb

import "fmt"

// bitPositions returns the payload bit positions a signal occupies,
// most significant first. A position is byte*8 + bit, bit 0 being the
// least significant bit of the byte. Every position must be below
// limit (the message length in bits).
func bitPositions(startBit, length int, order ByteOrder, limit int) ([]int, error) {
	if startBit < 0 {
		return nil, fmt.Errorf("start bit %d is negative", startBit)
	}
	positions := make([]int, length)
	switch order {
	case LittleEndian:
		// Start bit is the LSB; bits ascend through the stream.
		for i := range length {
			positions[length-1-i] = startBit + i
		}
	case BigEndian:
		// Start bit is the MSB; walk down within the byte, then jump
		// to bit 7 of the next byte.
		position := startBit
		for i := range length {
			positions[i] = position
			if position%8 == 0 {
				position += 15
			} else {
				position--
			}
		}
	default:
		return nil, fmt.Errorf("unknown byte order %d", order)
	}

	for _, position := range positions {
		if position >= limit {
			return nil, fmt.Errorf("start bit %d length %d (%s) does not fit in %d payload bits",
				startBit, length, order, limit)
		}
	}
	return positions, nil
}

// extract reads the raw unsigned bit pattern of a signal.
func extract(data *[8]byte, positions []int) uint64 {
	var raw uint64
	for _, position := range positions {
		bit := (data[position/8] >> uint(position%8)) & 1
		raw = raw<<1 | uint64(bit)
	}
	return raw
}

// insert writes raw into the signal's positions. Bits of raw above the
// signal length are ignored.
func insert(data *[8]byte, positions []int, raw uint64) {
	for i := len(positions) - 1; i >= 0; i-- {
		position := positions[i]
		mask := byte(1) << uint(position%8)
		if raw&1 == 1 {
			data[position/8] |= mask
		} else {
			data[position/8] &^= mask
		}
		raw >>= 1
	}
}

// signExtend interprets the low length bits of raw as two's
// complement.
func signExtend(raw uint64, length int) int64 {
	if length >= 64 {
		return int64(raw)
	}
	shift := uint(64 - length)
	return int64(raw<<shift) >> shift
}
