package codec

import (
	"encoding/binary"
	"hash/crc32"

	"main/internal/schema"
)

// CompactSignalPayloadSize is the exact wire size of a CompactSignal.
const CompactSignalPayloadSize = 64

const (
	checksumOffset = 56
	checksumEnd    = 60
)

// EncodeCompactSignal serializes a signal into its fixed 64-byte payload.
//
// Layout (little-endian, fixed offsets):
//
//	[0:4)   SignalID        [4]     SignalType      [5]     Confidence
//	[6]     Priority        [7]     PlatformMask    [8:16)  PublishTimestampNs
//	[16:18) TTLMs           [18:20) AgeMs           [20:24) ReservedTiming
//	[24:26) Direction       [26:28) Magnitude       [28:30) RiskScore
//	[30:32) Volatility      [32:40) TokenSymbol     [40:48) TokenHash
//	[48:52) SourceMask      [52:54) ModelVersion    [54]    DecayFunction
//	[55]    Reserved1       [56:60) Checksum        [60:64) Reserved2
func EncodeCompactSignal(dst []byte, sig schema.CompactSignal) []byte {
	if cap(dst) < CompactSignalPayloadSize {
		dst = make([]byte, CompactSignalPayloadSize)
	} else {
		dst = dst[:CompactSignalPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], sig.SignalID)
	dst[4] = uint8(sig.SignalType)
	dst[5] = sig.Confidence
	dst[6] = sig.Priority
	dst[7] = sig.PlatformMask
	binary.LittleEndian.PutUint64(dst[8:16], sig.PublishTimestampNs)
	binary.LittleEndian.PutUint16(dst[16:18], sig.TTLMs)
	binary.LittleEndian.PutUint16(dst[18:20], sig.AgeMs)
	binary.LittleEndian.PutUint32(dst[20:24], sig.ReservedTiming)
	binary.LittleEndian.PutUint16(dst[24:26], uint16(sig.Direction))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(sig.Magnitude))
	binary.LittleEndian.PutUint16(dst[28:30], sig.RiskScore)
	binary.LittleEndian.PutUint16(dst[30:32], sig.Volatility)
	copy(dst[32:40], sig.TokenSymbol[:])
	binary.LittleEndian.PutUint64(dst[40:48], sig.TokenHash)
	binary.LittleEndian.PutUint32(dst[48:52], sig.SourceMask)
	binary.LittleEndian.PutUint16(dst[52:54], sig.ModelVersion)
	dst[54] = uint8(sig.DecayFunction)
	dst[55] = sig.Reserved1
	binary.LittleEndian.PutUint32(dst[56:60], sig.Checksum)
	binary.LittleEndian.PutUint32(dst[60:64], sig.Reserved2)

	return dst
}

// DecodeCompactSignal parses a fixed-size signal payload.
func DecodeCompactSignal(src []byte) (schema.CompactSignal, bool) {
	if len(src) < CompactSignalPayloadSize {
		return schema.CompactSignal{}, false
	}
	sig := schema.CompactSignal{
		SignalID:           binary.LittleEndian.Uint32(src[0:4]),
		SignalType:         schema.SignalType(src[4]),
		Confidence:         src[5],
		Priority:           src[6],
		PlatformMask:       src[7],
		PublishTimestampNs: binary.LittleEndian.Uint64(src[8:16]),
		TTLMs:              binary.LittleEndian.Uint16(src[16:18]),
		AgeMs:              binary.LittleEndian.Uint16(src[18:20]),
		ReservedTiming:     binary.LittleEndian.Uint32(src[20:24]),
		Direction:          int16(binary.LittleEndian.Uint16(src[24:26])),
		Magnitude:          int16(binary.LittleEndian.Uint16(src[26:28])),
		RiskScore:          binary.LittleEndian.Uint16(src[28:30]),
		Volatility:         binary.LittleEndian.Uint16(src[30:32]),
		TokenHash:          binary.LittleEndian.Uint64(src[40:48]),
		SourceMask:         binary.LittleEndian.Uint32(src[48:52]),
		ModelVersion:       binary.LittleEndian.Uint16(src[52:54]),
		DecayFunction:      schema.DecayFunction(src[54]),
		Reserved1:          src[55],
		Checksum:           binary.LittleEndian.Uint32(src[56:60]),
		Reserved2:          binary.LittleEndian.Uint32(src[60:64]),
	}
	copy(sig.TokenSymbol[:], src[32:40])
	return sig, true
}

// SignalChecksum computes the CRC32 (IEEE) over every encoded byte except the
// checksum word itself.
func SignalChecksum(sig schema.CompactSignal) uint32 {
	var buf [CompactSignalPayloadSize]byte
	EncodeCompactSignal(buf[:], sig)
	crc := crc32.ChecksumIEEE(buf[:checksumOffset])
	return crc32.Update(crc, crc32.IEEETable, buf[checksumEnd:])
}

// WithChecksum returns the signal with its checksum field recomputed.
func WithChecksum(sig schema.CompactSignal) schema.CompactSignal {
	sig.Checksum = SignalChecksum(sig)
	return sig
}

// VerifyIntegrity reports whether the stored checksum matches the signal's
// current bytes.
func VerifyIntegrity(sig schema.CompactSignal) bool {
	return sig.Checksum == SignalChecksum(sig)
}
