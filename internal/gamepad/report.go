package gamepad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ReportLen is the minimum input report size this parser accepts.
const ReportLen = 8

var ErrShortReport = errors.New("input report too short")

// ParseReport decodes one raw input report into a connected State stamped
// with now. Layout:
//
//	bytes 0-1  button bitmask, little endian
//	bytes 2-5  LX LY RX RY, unsigned center-128 widened to int16
//	bytes 6-7  LT RT, widened to the 10-bit trigger scale
//
// Longer reports are accepted; trailing bytes are vendor extensions and
// are ignored.
func ParseReport(raw []byte, now time.Time) (State, error) {
	if len(raw) < ReportLen {
		return State{}, fmt.Errorf("%w: %d bytes", ErrShortReport, len(raw))
	}
	return State{
		Buttons:    binary.LittleEndian.Uint16(raw[0:2]),
		LX:         widenAxis(raw[2]),
		LY:         widenAxis(raw[3]),
		RX:         widenAxis(raw[4]),
		RY:         widenAxis(raw[5]),
		LT:         widenTrigger(raw[6]),
		RT:         widenTrigger(raw[7]),
		Connected:  true,
		LastUpdate: now,
	}, nil
}

// widenAxis maps an unsigned center-128 byte onto the full int16 range.
func widenAxis(b byte) int16 {
	return int16((int(b) - 128) * 256)
}

// widenTrigger replicates the high bits into the low ones so 255 lands
// exactly on 1023.
func widenTrigger(b byte) uint16 {
	return uint16(b)<<2 | uint16(b)>>6
}
