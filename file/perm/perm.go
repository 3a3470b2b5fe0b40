/***********************************************************************************************************************
 *
 *   MIT License
 *
 *   Copyright (c) 2024 Nicolas JUHEL
 *
 *   Permission is hereby granted, free of charge, to any person obtaining a copy
 *   of this software and associated documentation files (the "Software"), to deal
 *   in the Software without restriction, including without limitation the rights
 *   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *   copies of the Software, and to permit persons to whom the Software is
 *   furnished to do so, subject to the following conditions:
 *
 *   The above copyright notice and this permission notice shall be included in all
 *   copies or substantial portions of the Software.
 *
 *   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *   SOFTWARE.
 *
 *
 **********************************************************************************************************************/

// Package perm models unix-style file permission bits as found in config files,
// where they are usually expressed as an octal string ("0644", "0755", ...).
package perm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Perm is a unix permission mode stored as its raw numeric value, including the
// setuid/setgid/sticky bits that os.FileMode keeps in a different bit layout.
type Perm uint32

// Parse reads an octal permission string, stripping surrounding quotes and the
// leading "0" base-prefix some configs carry twice (e.g. "00644").
func Parse(s string) (Perm, error) {
	return ParseByte([]byte(s))
}

// ParseByte is the []byte counterpart of Parse.
func ParseByte(b []byte) (Perm, error) {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)

	if s == "" {
		return 0, fmt.Errorf("perm: empty value")
	}

	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("perm: invalid octal value %q: %w", s, err)
	}

	return Perm(v), nil
}

// Uint64 returns the raw permission value.
func (p Perm) Uint64() uint64 {
	return uint64(p)
}

// FileMode converts to the standard library's os.FileMode, keeping only the bits
// os.FileMode understands (permission bits plus setuid/setgid/sticky).
func (p Perm) FileMode() os.FileMode {
	return os.FileMode(p) & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
}

// String renders the permission as an unpadded octal string, e.g. "644".
func (p Perm) String() string {
	if p == 0 {
		return "0"
	}
	return strconv.FormatUint(uint64(p), 8)
}

// MarshalJSON encodes the permission as a quoted octal string.
func (p Perm) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted octal string or a bare JSON number.
func (p *Perm) UnmarshalJSON(data []byte) error {
	v, err := ParseByte(data)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
