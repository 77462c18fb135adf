package voice_config

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/spf13/afero"

	"scanner-voice/text_match"
)

// DefaultPrefixWords are used when the identity carries nothing before the callsign.
var DefaultPrefixWords = []string{"twin", "scout"}

// ReadIdentity returns the first line of the identity file, e.g. "twin-scout-alpha".
// A missing or unreadable file yields "".
func ReadIdentity(fsys afero.Fs, path string) string {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

// Callsign is the last hyphen-delimited segment of the identity, normalized.
func Callsign(identity string) string {
	tokens := strings.Fields(text_match.Normalize(identity))
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

// PrefixWords are the identity tokens before the callsign.
func PrefixWords(identity string) []string {
	tokens := strings.Fields(text_match.Normalize(identity))
	if len(tokens) < 2 {
		return append([]string(nil), DefaultPrefixWords...)
	}
	return tokens[:len(tokens)-1]
}
