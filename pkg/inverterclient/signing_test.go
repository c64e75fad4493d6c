package inverterclient

import "testing"

func TestSign_KnownVector(t *testing.T) {
	// Exact hash for a fixed path/token/timestamp, computed independently
	// against the literal-backslash separator spelled out in
	// SIGNATURE_SEPARATOR. Any change to the separator (e.g. reverting to
	// real CR+LF bytes) breaks this test.
	got := sign("/op/v0/device/real/query", "token-abc", 1700000000000)
	want := "05b13b7277a327abd4a2fbe1e15bf9a7"
	if got != want {
		t.Fatalf("sign() = %q, want %q", got, want)
	}
}

func TestSign_SeparatorIsLiteralBackslashRN(t *testing.T) {
	if SIGNATURE_SEPARATOR != `\r\n` {
		t.Fatalf("SIGNATURE_SEPARATOR = %q, want literal backslash-r-backslash-n", SIGNATURE_SEPARATOR)
	}
	if len(SIGNATURE_SEPARATOR) != 4 {
		t.Fatalf("SIGNATURE_SEPARATOR has %d bytes, want 4 (backslash, r, backslash, n)", len(SIGNATURE_SEPARATOR))
	}
}
