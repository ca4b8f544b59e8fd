package discovery

import "testing"

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	var digest [32]byte
	digest[0] = 0xAB

	p := packet{version: 3, keyDigest: digest, contactPort: 8004}
	got, ok := decodePacket(p.encode())
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if got.version != p.version || got.keyDigest != p.keyDigest || got.contactPort != p.contactPort {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
	}
}

func TestDecodePacketRejectsWrongSize(t *testing.T) {
	t.Parallel()
	if _, ok := decodePacket([]byte{1, 2, 3}); ok {
		t.Fatalf("expected decode to reject undersized packet")
	}
}

func TestKeyDigestDoesNotLeakKey(t *testing.T) {
	t.Parallel()
	var key [32]byte
	key[0] = 0x42
	digest := KeyDigest(key)
	if digest == key {
		t.Fatalf("digest must not equal the raw key")
	}
}
