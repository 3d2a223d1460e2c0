package sanitize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "alice", "alice"},
		{"tags stripped", "<b>alice</b>", "alice"},
		{"script removed", `<script>alert(1)</script>bob`, "bob"},
		{"attributes dropped", `<a href="javascript:x" onclick="y">carol</a>`, "carol"},
		{"entities kept as text", "Tom & Jerry", "Tom & Jerry"},
		{"whitespace collapsed", "  river \t\n keeper  ", "river keeper"},
		{"control chars dropped", "ev\x1bil\x07", "evil"},
		{"empty", "", ""},
		{"markup only", "<br/><hr>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	// "é" is two bytes; cutting inside it must back off to the rune start.
	if got := Truncate("aé", 2); got != "a" {
		t.Errorf("got %q", got)
	}
}
