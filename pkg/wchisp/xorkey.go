package wchisp

import "encoding/binary"

// ispKeySeedSize is the length of the seed ISP_KEY always sends. This
// package always sends an all-zero seed (see doc.go) and derives the XOR
// key from the chip UID and chip ID alone.
const ispKeySeedSize = 30

func zeroISPKeySeed() []byte { return make([]byte, ispKeySeedSize) }

// effectiveUID slices uid down to uidSize bytes, the length a given chip
// family actually reports (e.g. 4 for CH55x, device_type 0x11), before it
// feeds into the key derivation or checksum check. A uidSize outside
// [1, len(uid)] is treated as "use the whole UID".
func effectiveUID(uid []byte, uidSize int) []byte {
	if uidSize <= 0 || uidSize > len(uid) {
		return uid
	}
	return uid[:uidSize]
}

// deriveXORKey computes the 8-byte obfuscation key used to mask
// Program/Verify/DataProgram payloads, from the chip's effective UID bytes
// (truncated to uidSize) and its chip_id. s is the effective UID bytes
// summed mod 256, broadcast across all 8 key bytes, with chip_id folded
// into the last byte only.
func deriveXORKey(uid []byte, chipID byte, uidSize int) [8]byte {
	var s byte
	for _, b := range effectiveUID(uid, uidSize) {
		s += b
	}
	var key [8]byte
	for i := range key {
		key[i] = s
	}
	key[7] += chipID
	return key
}

// xorPayload XORs data in place against key, cycling the 8-byte key across
// the whole buffer. Program/Verify/DataProgram all obfuscate their payload
// this way; applying it twice recovers the original bytes.
func xorPayload(data []byte, key [8]byte) {
	for i := range data {
		data[i] ^= key[i%len(key)]
	}
}

// uidChecksumOK validates the chip UID's internal checksum invariant: the
// little-endian 16-bit words at byte offsets 0, 2, and 4 must sum (mod
// 65536) to the little-endian 16-bit word at offset 6. UIDs shorter than
// 8 bytes have no such word to check and always pass.
func uidChecksumOK(uid []byte) bool {
	if len(uid) < 8 {
		return true
	}
	w0 := binary.LittleEndian.Uint16(uid[0:2])
	w1 := binary.LittleEndian.Uint16(uid[2:4])
	w2 := binary.LittleEndian.Uint16(uid[4:6])
	want := binary.LittleEndian.Uint16(uid[6:8])
	return uint16(w0+w1+w2) == want
}
