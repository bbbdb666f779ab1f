package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "1.2.3", []Field{
		{Key: "API", Value: "http://127.0.0.1:8790"},
		{Key: "Output", Value: "~/shadow"},
	})

	out := buf.String()
	for _, want := range []string{"shadowd 1.2.3", "API:", "http://127.0.0.1:8790", "Output:", "~/shadow"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}
