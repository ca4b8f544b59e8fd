package transport

import (
	"bytes"
	"testing"
)

func testKey() Key {
	var k Key
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	t.Parallel()
	key := testKey()
	var buf bytes.Buffer

	messages := [][]byte{[]byte("hello"), []byte(""), bytes.Repeat([]byte{0x42}, 5000)}
	for _, m := range messages {
		if err := WriteFrame(&buf, key, m); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	for _, want := range messages {
		got, err := ReadFrame(&buf, key)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("round trip mismatch: got %q want %q", got, want)
		}
	}
}

func TestBitMutationFailsAuth(t *testing.T) {
	t.Parallel()
	key := testKey()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, key, []byte("payload")); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0x01 // flip one bit in the auth tag

	if _, err := ReadFrame(bytes.NewReader(raw), key); err == nil {
		t.Fatalf("expected auth failure after bit mutation")
	}
}

func TestWrongVersionCloses(t *testing.T) {
	t.Parallel()
	key := testKey()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, key, []byte("payload")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	raw := buf.Bytes()
	// Corrupt the version bits of the header byte (offset 12).
	raw[12] = raw[12] | 0xFC

	_, err := ReadFrame(bytes.NewReader(raw), key)
	if err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestWrongKeyFailsAuth(t *testing.T) {
	t.Parallel()
	key := testKey()
	var other Key
	copy(other[:], key[:])
	other[0] ^= 0xFF

	var buf bytes.Buffer
	if err := WriteFrame(&buf, key, []byte("secret")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := ReadFrame(&buf, other); err == nil {
		t.Fatalf("expected auth failure with wrong key")
	}
}
