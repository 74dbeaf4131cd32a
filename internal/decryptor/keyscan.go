package decryptor

import "regexp"

// Key-shape patterns. Luraph drops its session key into the protected file
// as an innocuous-looking literal: a 32+ character hex run, a 16+ character
// Base64-alphabet run, or the right-hand side of a long local string
// assignment.
var (
	hexKeyRE    = regexp.MustCompile(`[0-9a-fA-F]{32,}`)
	base64KeyRE = regexp.MustCompile(`[A-Za-z0-9+/]{16,}={0,2}`)
	localStrRE  = regexp.MustCompile(`local\s+[A-Za-z_][A-Za-z0-9_]*\s*=\s*"([^"\\]{16,})"`)
)

// ScanKeys extracts candidate decryption keys from raw source text, in a
// deterministic order: local-assignment literals first (strongest signal),
// then hex runs, then Base64 runs. Duplicates are dropped.
func ScanKeys(source string) [][]byte {
	var candidates [][]byte
	seen := make(map[string]bool)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		candidates = append(candidates, []byte(s))
	}

	for _, m := range localStrRE.FindAllStringSubmatch(source, -1) {
		add(m[1])
	}
	for _, m := range hexKeyRE.FindAllString(source, -1) {
		add(m)
	}
	for _, m := range base64KeyRE.FindAllString(source, -1) {
		add(m)
	}
	return candidates
}

// LooksLikeKey reports whether a single string has one of the key shapes.
// The analyzer uses it when walking string literals in the AST.
func LooksLikeKey(s string) bool {
	if m := hexKeyRE.FindString(s); len(m) == len(s) && len(s) >= 32 {
		return true
	}
	if m := base64KeyRE.FindString(s); len(m) == len(s) && len(s) >= 16 {
		return true
	}
	return false
}
