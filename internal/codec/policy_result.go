package codec

import (
	"encoding/binary"
	"hash/crc32"

	"main/internal/schema"
)

// PolicyResultPayloadSize is the exact wire size of a PolicyResult.
const PolicyResultPayloadSize = 88

const resultChecksumOffset = 84

// EncodePolicyResult serializes a policy result into a fixed-size payload.
func EncodePolicyResult(dst []byte, result schema.PolicyResult) []byte {
	if cap(dst) < PolicyResultPayloadSize {
		dst = make([]byte, PolicyResultPayloadSize)
	} else {
		dst = dst[:PolicyResultPayloadSize]
	}

	if result.Allowed {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
	dst[1] = uint8(result.Severity)
	binary.LittleEndian.PutUint16(dst[2:4], result.ViolatedPolicyCount)
	binary.LittleEndian.PutUint32(dst[4:8], result.PrimaryViolationID)
	copy(dst[8:72], result.ViolationReason[:])
	binary.LittleEndian.PutUint64(dst[72:80], result.EvaluationTimeNs)
	binary.LittleEndian.PutUint32(dst[80:84], result.EvaluatedPolicyCount)
	binary.LittleEndian.PutUint32(dst[84:88], result.Checksum)

	return dst
}

// DecodePolicyResult parses a fixed-size policy result payload.
func DecodePolicyResult(src []byte) (schema.PolicyResult, bool) {
	if len(src) < PolicyResultPayloadSize {
		return schema.PolicyResult{}, false
	}
	result := schema.PolicyResult{
		Allowed:              src[0] == 1,
		Severity:             schema.Severity(src[1]),
		ViolatedPolicyCount:  binary.LittleEndian.Uint16(src[2:4]),
		PrimaryViolationID:   binary.LittleEndian.Uint32(src[4:8]),
		EvaluationTimeNs:     binary.LittleEndian.Uint64(src[72:80]),
		EvaluatedPolicyCount: binary.LittleEndian.Uint32(src[80:84]),
		Checksum:             binary.LittleEndian.Uint32(src[84:88]),
	}
	copy(result.ViolationReason[:], src[8:72])
	return result, true
}

// PolicyResultChecksum computes the CRC32 (IEEE) over every encoded byte
// except the checksum word.
func PolicyResultChecksum(result schema.PolicyResult) uint32 {
	var buf [PolicyResultPayloadSize]byte
	EncodePolicyResult(buf[:], result)
	return crc32.ChecksumIEEE(buf[:resultChecksumOffset])
}

// SealPolicyResult returns the result with its checksum recomputed.
func SealPolicyResult(result schema.PolicyResult) schema.PolicyResult {
	result.Checksum = PolicyResultChecksum(result)
	return result
}
