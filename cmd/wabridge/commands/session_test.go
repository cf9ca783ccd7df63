package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseOutgoing(t *testing.T) {
	got, err := parseOutgoing([]string{"a@relay=hi", "b@relay=x=y", "c@relay="})
	if err != nil {
		t.Fatalf("parseOutgoing: %v", err)
	}
	if len(got) != 3 || got[0].to != "a@relay" || got[1].text != "x=y" || got[2].text != "" {
		t.Fatalf("parsed %+v", got)
	}
	for _, bad := range []string{"no-separator", "=text"} {
		if _, err := parseOutgoing([]string{bad}); err == nil {
			t.Fatalf("accepted %q", bad)
		}
	}
}

func TestPrintQR(t *testing.T) {
	var buf bytes.Buffer
	png := filepath.Join(t.TempDir(), "pair.png")
	if err := printQR(&buf, "ref,AAAA,BBBB", png); err != nil {
		t.Fatalf("printQR: %v", err)
	}
	if !strings.Contains(buf.String(), "ref,AAAA,BBBB") {
		t.Fatalf("payload text missing:\n%s", buf.String())
	}
	if fi, err := os.Stat(png); err != nil || fi.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}
