package env

import (
	"strings"
	"testing"
)

func FuzzCompose(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, baseB, overB []byte) {
		base := splitNZ(string(baseB))
		over := splitNZ(string(overB))
		for _, kv := range Compose(base, over) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}

func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	if len(out) > 20 {
		out = out[:20]
	}
	return out
}
