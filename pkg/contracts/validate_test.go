package contracts

import "testing"

func TestValidateRawRejectsEmpty(t *testing.T) {
	if err := validateRaw(nil); err == nil {
		t.Fatalf("expected empty code to be rejected")
	}
}

func TestValidateRawRejectsBadMagic(t *testing.T) {
	if err := validateRaw([]byte{0x01, 0x02, 0x03, 0x04}); err == nil {
		t.Fatalf("expected bad magic number to be rejected")
	}
}

func TestValidateRawRejectsFloatOpcodes(t *testing.T) {
	code := append([]byte{0x00, 0x61, 0x73, 0x6d}, 0x43)
	if err := validateRaw(code); err == nil {
		t.Fatalf("expected float opcode to be rejected")
	}
}

func TestValidateRawAcceptsCleanMagic(t *testing.T) {
	code := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if err := validateRaw(code); err != nil {
		t.Fatalf("expected clean module to pass raw validation: %v", err)
	}
}

func TestDeriveContractIdDeterministic(t *testing.T) {
	a := DeriveContractId([]byte("code"), []byte("owner"), 1)
	b := DeriveContractId([]byte("code"), []byte("owner"), 1)
	if a != b {
		t.Fatalf("expected deterministic contract id")
	}
	c := DeriveContractId([]byte("code"), []byte("owner"), 2)
	if a == c {
		t.Fatalf("expected different nonce to change contract id")
	}
}
