package codec

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"N2010011000011019090",
		"G100101",
		"hello world",
	}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			enc := Encode(s)
			if len(enc) != 2*len(s) {
				t.Fatalf("Encode(%q) length = %d, want %d", s, len(enc), 2*len(s))
			}
			dec, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", enc, err)
			}
			if dec != s {
				t.Fatalf("round trip = %q, want %q", dec, s)
			}
		})
	}
}

func TestDecodeOddLength(t *testing.T) {
	_, err := Decode("abc")
	if err != ErrOddLength {
		t.Fatalf("Decode(odd) error = %v, want ErrOddLength", err)
	}
}

func TestDecodeNonASCIIReplaced(t *testing.T) {
	dec, err := Decode("ff")
	if err != nil {
		t.Fatalf("Decode error = %v", err)
	}
	if dec != "�" {
		t.Fatalf("Decode(ff) = %q, want replacement character", dec)
	}
}

func TestExtractFrame(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		present bool
		hex     string
	}{
		{"no event", "OK", false, ""},
		{"with event", "+EVT:RXP2P:0:0:4e323031303031", true, "4e323031303031"},
		{"too few tokens", "EVT:RXP2P:0:0", false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			present, hex := ExtractFrame(tc.line)
			if present != tc.present || hex != tc.hex {
				t.Fatalf("ExtractFrame(%q) = (%v, %q), want (%v, %q)", tc.line, present, hex, tc.present, tc.hex)
			}
		})
	}
}
