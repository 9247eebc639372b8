package encoding

import "testing"

func TestEUCKRRoundTrip(t *testing.T) {
	tests := []string{
		"data/model/prontera/fountain.rsm",
		"유저인터페이스",
		"몬스터/포링.rsm",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			encoded := UTF8ToEUCKR(s)
			if got := EUCKRToUTF8(encoded); got != s {
				t.Errorf("round trip = %q, want %q", got, s)
			}
		})
	}
}

func TestEUCKRToUTF8_KnownBytes(t *testing.T) {
	// "유저" in EUC-KR
	data := []byte{0xC0, 0xAF, 0xC0, 0xFA}
	if got := EUCKRToUTF8(data); got != "유저" {
		t.Errorf("EUCKRToUTF8 = %q, want 유저", got)
	}
}

func TestNormalizeGRFPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`data\model\Fountain.RSM`, "data/model/fountain.rsm"},
		{"data/model/a.rsm", "data/model/a.rsm"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeGRFPath(tt.in); got != tt.want {
			t.Errorf("NormalizeGRFPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFixedString(t *testing.T) {
	field := UTF8ToFixedString("포링", 40)
	if len(field) != 40 {
		t.Fatalf("field length = %d, want 40", len(field))
	}
	if got := FixedStringToUTF8(field); got != "포링" {
		t.Errorf("FixedStringToUTF8 = %q, want 포링", got)
	}

	short := UTF8ToFixedString("abcdef", 3)
	if got := FixedStringToUTF8(short); got != "abc" {
		t.Errorf("truncated field = %q, want abc", got)
	}
}
