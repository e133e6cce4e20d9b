package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestLZ4SkipsSmallInput(t *testing.T) {
	data := []byte("short")
	out, compressed := LZ4Compress(data)
	if compressed {
		t.Error("LZ4Compress() compressed input below threshold")
	}
	if !bytes.Equal(out, data) {
		t.Error("LZ4Compress() modified uncompressed input")
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox "), 50)

	compressed, ok := LZ4Compress(data)
	if !ok {
		t.Fatal("LZ4Compress() refused compressible input")
	}
	if len(compressed) >= len(data) {
		t.Errorf("compressed size %d not smaller than input %d", len(compressed), len(data))
	}

	out, err := LZ4Decompress(compressed, len(data))
	if err != nil {
		t.Fatalf("LZ4Decompress() error = %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("round-trip mismatch")
	}

	// Unknown original size takes the growing-buffer path.
	out, err = LZ4Decompress(compressed, 0)
	if err != nil {
		t.Fatalf("LZ4Decompress(unknown size) error = %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("round-trip mismatch with unknown original size")
	}
}

func TestLZ4SkipsIncompressible(t *testing.T) {
	data := make([]byte, 512)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	out, compressed := LZ4Compress(data)
	if compressed && len(out) >= len(data) {
		t.Error("LZ4Compress() returned compressed=true without shrinking")
	}
}

func TestCRC32(t *testing.T) {
	frame := append([]byte("payload bytes"), 0, 0, 0, 0)
	sum := CRC32(frame[:len(frame)-4])
	copy(frame[len(frame)-4:], sum[:])

	if !VerifyCRC32(frame) {
		t.Error("VerifyCRC32() = false for valid frame")
	}

	frame[0] ^= 0x01
	if VerifyCRC32(frame) {
		t.Error("VerifyCRC32() = true for corrupted frame")
	}

	if VerifyCRC32([]byte{1, 2}) {
		t.Error("VerifyCRC32() = true for undersized frame")
	}
}

func TestPSKRoundTrip(t *testing.T) {
	plaintext := []byte("fallback mode message")

	ct, err := PSKEncrypt(plaintext)
	if err != nil {
		t.Fatalf("PSKEncrypt() error = %v", err)
	}

	pt, err := PSKDecrypt(ct)
	if err != nil {
		t.Fatalf("PSKDecrypt() error = %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Error("round-trip mismatch")
	}

	// Two encryptions of the same plaintext differ by IV.
	ct2, err := PSKEncrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ct, ct2) {
		t.Error("PSKEncrypt() reused IV")
	}

	if _, err := PSKDecrypt([]byte{1, 2, 3}); err == nil {
		t.Error("PSKDecrypt() accepted malformed input")
	}
}
