//go:build linux

package lock

import "encoding/binary"

// recordMagic identifies a valid lock record, chosen arbitrarily but
// fixed so any implementation reading this file layout agrees on it.
const recordMagic uint32 = 0x48736f6c

// recordSize is the fixed on-disk size of a Record: magic u32, owner_uid
// u32, cg_enabled u8, initialized u8, reserved u16, holder_pid u32,
// acquired_at u64.
const recordSize = 24

// Record is the binary lock record persisted at the start of every box
// lock file. Its layout is part of the on-disk format and must not change
// field order, width, or endianness.
type Record struct {
	Magic      uint32
	OwnerUID   uint32
	CgEnabled  bool
	Initialized bool
	HolderPID  uint32
	AcquiredAt uint64 // unix seconds
}

func freshRecord(ownerUID uint32, cgEnabled bool) Record {
	return Record{Magic: recordMagic, OwnerUID: ownerUID, CgEnabled: cgEnabled}
}

// MarshalBinary renders r into the fixed 24-byte little-endian layout.
func (r Record) MarshalBinary() []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], r.OwnerUID)
	if r.CgEnabled {
		buf[8] = 1
	}
	if r.Initialized {
		buf[9] = 1
	}
	// buf[10:12] reserved, left zero
	binary.LittleEndian.PutUint32(buf[12:16], r.HolderPID)
	binary.LittleEndian.PutUint64(buf[16:24], r.AcquiredAt)
	return buf
}

// UnmarshalRecord parses a 24-byte lock record. A short buffer is a
// distinct condition from a bad magic: the caller treats a short read on
// an init acquisition as "never written" and a bad magic as Corrupted.
func UnmarshalRecord(buf []byte) (Record, error) {
	if len(buf) < recordSize {
		return Record{}, errShortRecord
	}
	r := Record{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		OwnerUID:    binary.LittleEndian.Uint32(buf[4:8]),
		CgEnabled:   buf[8] != 0,
		Initialized: buf[9] != 0,
		HolderPID:   binary.LittleEndian.Uint32(buf[12:16]),
		AcquiredAt:  binary.LittleEndian.Uint64(buf[16:24]),
	}
	return r, nil
}
