// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package framing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openafd/sf-http/internal/job"
)

func TestTypeTag(t *testing.T) {
	cases := []struct {
		mode job.TransferMode
		want string
	}{
		{job.ModeBinary, "BI"},
		{job.ModeASCII, "AN"},
		{job.ModeFax, "FX"},
	}
	for _, c := range cases {
		got, err := TypeTag(c.mode)
		if err != nil {
			t.Fatalf("TypeTag(%v): %v", c.mode, err)
		}
		if got != c.want {
			t.Errorf("TypeTag(%v) = %q, want %q", c.mode, got, c.want)
		}
	}
}

func TestDeriveHeaderNoSeparatorIsWholeFilename(t *testing.T) {
	got := DeriveHeader("SXUS40KWBC")
	if got != "SXUS40KWBC" {
		t.Errorf("DeriveHeader = %q, want whole filename", got)
	}
}

func TestDeriveHeaderThirdSeparatorWithAlphaSuffix(t *testing.T) {
	// Three separators ('_','_','_' ), followed by three alphabetic chars.
	got := DeriveHeader("SA_US_40_KWBC.dat")
	want := "SA_US_40_ KWB"
	if got != want {
		t.Errorf("DeriveHeader = %q, want %q", got, want)
	}
}

func TestDeriveHeaderThirdSeparatorNonAlphaSuffixNoAppend(t *testing.T) {
	got := DeriveHeader("SA_US_40_123.dat")
	want := "SA_US_40_"
	if got != want {
		t.Errorf("DeriveHeader = %q, want %q (no suffix appended)", got, want)
	}
}

func TestDeriveHeaderStopsAtDot(t *testing.T) {
	got := DeriveHeader("report.2026")
	if got != "report" {
		t.Errorf("DeriveHeader = %q, want %q", got, "report")
	}
}

func TestEnvelopeLengthInvariant(t *testing.T) {
	seq := 7
	e := Envelope{TypeTag: "BI", Sequence: &seq, Header: "SA_US_40 KWB", FileSize: 1024}

	headerLen := e.HeaderLength()
	total := e.TotalLength()
	if total != int64(headerLen)+e.FileSize+EndLength {
		t.Fatalf("TotalLength invariant violated: total=%d headerLen=%d fileSize=%d end=%d",
			total, headerLen, e.FileSize, EndLength)
	}
}

func TestWirePrefixHeadTailByteExact(t *testing.T) {
	seq := 7
	e := Envelope{TypeTag: "BI", Sequence: &seq, Header: "HDR", FileSize: 3}

	var buf bytes.Buffer
	if err := WritePrefix(&buf, e); err != nil {
		t.Fatalf("WritePrefix: %v", err)
	}
	if err := WriteHead(&buf, e); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}
	buf.WriteString("abc")
	if err := WriteTail(&buf); err != nil {
		t.Fatalf("WriteTail: %v", err)
	}

	out := buf.Bytes()

	if len(out) < PrefixWidth {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	prefix := out[:PrefixWidth]
	if !strings.HasSuffix(string(prefix), "BI") {
		t.Fatalf("prefix %q missing type tag", prefix)
	}

	if out[len(out)-1] != etx {
		t.Fatalf("last byte = %x, want ETX", out[len(out)-1])
	}
	if !bytes.Equal(out[len(out)-4:len(out)-1], []byte{cr, cr, lf}) {
		t.Fatalf("trailing CRCRLF not found before ETX: %x", out[len(out)-4:])
	}

	// Length field equals header_length + file_size + end_length.
	lengthField := string(out[:LengthPrefixWidth])
	var parsed int64
	if _, err := fieldScan(lengthField, &parsed); err != nil {
		t.Fatalf("parsing length field %q: %v", lengthField, err)
	}
	if parsed != e.TotalLength() {
		t.Fatalf("length field %d != TotalLength() %d", parsed, e.TotalLength())
	}
}

func fieldScan(s string, out *int64) (int, error) {
	var v int64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errNotDigit
		}
		v = v*10 + int64(s[i]-'0')
	}
	*out = v
	return len(s), nil
}

var errNotDigit = &digitErr{}

type digitErr struct{}

func (*digitErr) Error() string { return "not a digit" }
