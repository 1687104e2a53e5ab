// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package framing implements the bulletin envelope ("WMO-style framing")
// from spec.md §4.4: a small pure encoder, modeled on the teacher's
// internal/protocol package idiom of package-level format constants plus
// small Write*(w io.Writer, ...) error functions with fixed byte layouts —
// the envelope is just another wire frame in that shape.
package framing

import (
	"fmt"
	"io"

	"github.com/openafd/sf-http/internal/job"
)

const (
	soh byte = 0x01
	cr  byte = 0x0D
	lf  byte = 0x0A
	etx byte = 0x03
)

// LengthPrefixWidth is the width of the ASCII decimal length field; TypeWidth
// is the width of the 2-character transfer-mode tag. Together they form the
// 10-byte "length+type prefix" spec.md §4.4 describes, which is NOT itself
// counted in the length field.
const (
	LengthPrefixWidth = 8
	TypeWidth         = 2
	PrefixWidth       = LengthPrefixWidth + TypeWidth

	// EndLength is the size of the trailing CR CR LF ETX group.
	EndLength = 4
)

// TypeTag maps a job.TransferMode to its 2-character bulletin type tag.
func TypeTag(mode job.TransferMode) (string, error) {
	switch mode {
	case job.ModeBinary:
		return "BI", nil
	case job.ModeASCII:
		return "AN", nil
	case job.ModeFax:
		return "FX", nil
	default:
		return "", fmt.Errorf("framing: unknown transfer mode %d", mode)
	}
}

// DeriveHeader implements spec.md §4.4's header-derivation algorithm:
// scan the filename, copying characters, until the third occurrence of any
// of '_', '-', ' ' — stopping early if '.', ';', or the end of the string
// is reached first. If a third separator was found and the three filename
// characters immediately following it are all ASCII letters, a space and
// those three characters are appended to the header.
//
// Open question (spec.md §9): when fewer than three alphabetic characters
// follow the third separator (including the space_count==2 case the
// source is silent on), no suffix is appended — this preserves the
// silent/no-op current behavior rather than guessing at intended
// compensation logic.
func DeriveHeader(filename string) string {
	header := make([]byte, 0, len(filename))
	seps := 0
	i := 0
	for ; i < len(filename); i++ {
		c := filename[i]
		if c == '.' || c == ';' || c == 0 {
			break
		}
		header = append(header, c)
		if c == '_' || c == '-' || c == ' ' {
			seps++
			if seps == 3 {
				i++
				break
			}
		}
	}

	if seps == 3 && i+3 <= len(filename) {
		tail := filename[i : i+3]
		if isAllAlpha(tail) {
			header = append(header, ' ')
			header = append(header, tail...)
		}
	}

	return string(header)
}

func isAllAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

// Envelope describes one framed bulletin: the header block preceding the
// file bytes, plus the lengths needed to compute the 8-digit length field
// (spec.md §8 invariant 4: length == header_length + file_size + end_length).
type Envelope struct {
	TypeTag     string
	Sequence    *int // nil when the counter is inactive/closed
	Header      string
	FileSize    int64
}

// HeaderLength returns the byte count of everything between the 10-byte
// length+type prefix and the first file byte: SOH + CR CR LF, the optional
// "<3-digit seq> CR CR LF" group, and "<header> CR CR LF".
func (e Envelope) HeaderLength() int {
	n := 1 + 3 // SOH + CRCRLF
	if e.Sequence != nil {
		n += 3 + 3 // 3-digit seq + CRCRLF
	}
	n += len(e.Header) + 3 // header + CRCRLF
	return n
}

// TotalLength is the value encoded in the 8-digit ASCII length field.
func (e Envelope) TotalLength() int64 {
	return int64(e.HeaderLength()) + e.FileSize + EndLength
}

// WritePrefix writes the 10-byte length+type prefix (not itself counted in
// the length field) to w.
func WritePrefix(w io.Writer, e Envelope) error {
	total := e.TotalLength()
	if total < 0 || total >= 1e8 {
		return fmt.Errorf("framing: length %d does not fit in %d ASCII digits", total, LengthPrefixWidth)
	}
	if _, err := fmt.Fprintf(w, "%0*d%s", LengthPrefixWidth, total, e.TypeTag); err != nil {
		return fmt.Errorf("writing bulletin prefix: %w", err)
	}
	return nil
}

// WriteHead writes the header block (SOH CRCRLF, optional sequence group,
// header CRCRLF) that immediately follows the 10-byte prefix and precedes
// the file bytes.
func WriteHead(w io.Writer, e Envelope) error {
	if _, err := w.Write([]byte{soh, cr, cr, lf}); err != nil {
		return fmt.Errorf("writing bulletin SOH: %w", err)
	}
	if e.Sequence != nil {
		if _, err := fmt.Fprintf(w, "%03d", *e.Sequence); err != nil {
			return fmt.Errorf("writing bulletin sequence: %w", err)
		}
		if _, err := w.Write([]byte{cr, cr, lf}); err != nil {
			return fmt.Errorf("writing bulletin sequence terminator: %w", err)
		}
	}
	if _, err := io.WriteString(w, e.Header); err != nil {
		return fmt.Errorf("writing bulletin header: %w", err)
	}
	if _, err := w.Write([]byte{cr, cr, lf}); err != nil {
		return fmt.Errorf("writing bulletin header terminator: %w", err)
	}
	return nil
}

// WriteTail writes the trailing CR CR LF ETX group after the file bytes.
func WriteTail(w io.Writer) error {
	if _, err := w.Write([]byte{cr, cr, lf, etx}); err != nil {
		return fmt.Errorf("writing bulletin tail: %w", err)
	}
	return nil
}
