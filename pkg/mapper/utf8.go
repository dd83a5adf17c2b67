package mapper

import "unicode/utf8"

// RecodeUTF8 returns s with any invalid UTF-8 byte sequences replaced
// by the Unicode replacement character, so directory entry names with
// corrupt encodings can still be stored and displayed. Valid input is
// returned unchanged.
func RecodeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	buf := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		buf = append(buf, r)
		i += size
	}
	return string(buf)
}
