package codec

import (
	"testing"

	"main/internal/schema"
)

func sampleSignal() schema.CompactSignal {
	sig := schema.CompactSignal{
		SignalID:           42,
		SignalType:         schema.SignalBuy,
		Confidence:         217,
		Priority:           255,
		PlatformMask:       0b101,
		PublishTimestampNs: 1_700_000_000_123_456_789,
		TTLMs:              500,
		AgeMs:              12,
		Direction:          842,
		Magnitude:          842,
		RiskScore:          310,
		Volatility:         120,
		TokenHash:          0xDEADBEEFCAFEF00D,
		SourceMask:         0b1011,
		ModelVersion:       7,
		DecayFunction:      schema.DecayExponential,
	}
	sig.SetSymbol("PEPE")
	return WithChecksum(sig)
}

func TestCompactSignalEncodeDecodeRoundTrip(t *testing.T) {
	orig := sampleSignal()

	encoded := EncodeCompactSignal(nil, orig)
	if len(encoded) != CompactSignalPayloadSize {
		t.Fatalf("payload size mismatch: got %d want %d", len(encoded), CompactSignalPayloadSize)
	}

	decoded, ok := DecodeCompactSignal(encoded)
	if !ok {
		t.Fatal("decode failed")
	}
	if decoded != orig {
		t.Fatalf("signal round-trip mismatch: got %+v want %+v", decoded, orig)
	}
}

func TestCompactSignalDecodeShortBuffer(t *testing.T) {
	if _, ok := DecodeCompactSignal(make([]byte, CompactSignalPayloadSize-1)); ok {
		t.Fatal("decode should fail on short buffer")
	}
}

func TestCompactSignalChecksumDetectsMutation(t *testing.T) {
	sig := sampleSignal()
	if !VerifyIntegrity(sig) {
		t.Fatal("fresh checksum should verify")
	}

	mutations := []func(*schema.CompactSignal){
		func(s *schema.CompactSignal) { s.SignalID++ },
		func(s *schema.CompactSignal) { s.SignalType = schema.SignalSell },
		func(s *schema.CompactSignal) { s.Confidence ^= 0x01 },
		func(s *schema.CompactSignal) { s.Priority-- },
		func(s *schema.CompactSignal) { s.PlatformMask ^= 0x80 },
		func(s *schema.CompactSignal) { s.PublishTimestampNs++ },
		func(s *schema.CompactSignal) { s.TTLMs++ },
		func(s *schema.CompactSignal) { s.AgeMs++ },
		func(s *schema.CompactSignal) { s.Direction = -s.Direction },
		func(s *schema.CompactSignal) { s.Magnitude++ },
		func(s *schema.CompactSignal) { s.RiskScore++ },
		func(s *schema.CompactSignal) { s.Volatility++ },
		func(s *schema.CompactSignal) { s.TokenSymbol[0] = 'X' },
		func(s *schema.CompactSignal) { s.TokenHash++ },
		func(s *schema.CompactSignal) { s.SourceMask ^= 0x10 },
		func(s *schema.CompactSignal) { s.ModelVersion++ },
		func(s *schema.CompactSignal) { s.DecayFunction = schema.DecayStep },
		func(s *schema.CompactSignal) { s.Reserved1++ },
		func(s *schema.CompactSignal) { s.Reserved2++ },
	}

	for i, mutate := range mutations {
		corrupted := sig
		mutate(&corrupted)
		if VerifyIntegrity(corrupted) {
			t.Fatalf("mutation %d not detected by checksum", i)
		}
		repaired := WithChecksum(corrupted)
		if !VerifyIntegrity(repaired) {
			t.Fatalf("mutation %d: recomputed checksum should verify", i)
		}
	}
}

func TestCompactSignalChecksumExcludesChecksumField(t *testing.T) {
	sig := sampleSignal()
	tampered := sig
	tampered.Checksum = 0
	if SignalChecksum(tampered) != SignalChecksum(sig) {
		t.Fatal("checksum must not depend on the stored checksum word")
	}
}

func TestPolicyResultEncodeDecodeRoundTrip(t *testing.T) {
	result := schema.NewPolicyResult()
	result.SetViolation(1001, schema.SeverityError, "order size exceeds single-order limit")
	result.EvaluationTimeNs = 4_200
	result.EvaluatedPolicyCount = 5
	result = SealPolicyResult(result)

	encoded := EncodePolicyResult(nil, result)
	if len(encoded) != PolicyResultPayloadSize {
		t.Fatalf("payload size mismatch: got %d want %d", len(encoded), PolicyResultPayloadSize)
	}

	decoded, ok := DecodePolicyResult(encoded)
	if !ok {
		t.Fatal("decode failed")
	}
	if decoded != result {
		t.Fatalf("policy result round-trip mismatch: got %+v want %+v", decoded, result)
	}
	if decoded.Checksum != PolicyResultChecksum(decoded) {
		t.Fatal("sealed checksum should verify after round trip")
	}
}

func BenchmarkEncodeCompactSignal(b *testing.B) {
	sig := sampleSignal()
	buf := make([]byte, CompactSignalPayloadSize)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf = EncodeCompactSignal(buf, sig)
	}
	_ = buf
}

func BenchmarkSignalChecksum(b *testing.B) {
	sig := sampleSignal()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = SignalChecksum(sig)
	}
}
