// Package decryptor recovers plaintext from Luraph-encrypted string and
// constant payloads. Five algorithm families are supported, one per
// obfuscator generation, plus an auto mode that tries all of them and keeps
// the best-scoring plaintext.
package decryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Method names an encryption algorithm family.
type Method string

const (
	MethodXorV1        Method = "xor_v1"       // v11.5
	MethodXorV2        Method = "xor_v2"       // v11.6
	MethodAesCbc       Method = "aes_cbc"      // v11.7
	MethodAesCbcV2     Method = "aes_cbc_v2"   // v11.8 / v11.8.1
	MethodLuraphCustom Method = "luraph_custom"
	MethodAuto         Method = "auto"
)

// methodOrder is the fixed try-and-tie-break order for auto mode.
var methodOrder = []Method{
	MethodXorV1, MethodXorV2, MethodAesCbc, MethodAesCbcV2, MethodLuraphCustom,
}

// KeyLengthForVersion returns the expected key length in bytes for a Luraph
// version string, or 0 for an unknown version.
func KeyLengthForVersion(version string) int {
	switch version {
	case "11.5":
		return 16
	case "11.6":
		return 24
	case "11.7", "11.8", "11.8.1":
		return 32
	}
	return 0
}

// MethodForVersion returns the algorithm family a Luraph version uses.
func MethodForVersion(version string) Method {
	switch version {
	case "11.5":
		return MethodXorV1
	case "11.6":
		return MethodXorV2
	case "11.7":
		return MethodAesCbc
	case "11.8", "11.8.1":
		return MethodAesCbcV2
	}
	return MethodAuto
}

// Info carries the encryption parameters discovered for a session.
type Info struct {
	Method  Method
	Key     []byte
	IV      []byte
	Version string
}

// Result is the outcome of one decryption attempt. When OK is false the
// plaintext is the untouched ciphertext so callers can keep the constant
// encrypted rather than losing it.
type Result struct {
	OK        bool
	Plaintext []byte
	Method    Method
	Score     int
	Err       error
}

// Decrypt applies the given method. Auto mode delegates to DecryptAuto.
// AES failures never panic or abort; they come back as OK=false with the
// ciphertext passed through.
func Decrypt(ciphertext, key []byte, method Method, iv []byte) Result {
	switch method {
	case MethodXorV1:
		return Result{OK: true, Plaintext: xorV1(ciphertext, key), Method: method}
	case MethodXorV2:
		return Result{OK: true, Plaintext: xorV2(ciphertext, key), Method: method}
	case MethodAesCbc:
		out, err := aesCbcDecrypt(ciphertext, key, iv)
		if err != nil {
			return Result{OK: false, Plaintext: ciphertext, Method: method, Err: err}
		}
		return Result{OK: true, Plaintext: out, Method: method}
	case MethodAesCbcV2:
		out, err := aesCbcV2Decrypt(ciphertext, key)
		if err != nil {
			return Result{OK: false, Plaintext: ciphertext, Method: method, Err: err}
		}
		return Result{OK: true, Plaintext: out, Method: method}
	case MethodLuraphCustom:
		return Result{OK: true, Plaintext: luraphCustomDecrypt(ciphertext, key), Method: method}
	case MethodAuto, "":
		return DecryptAuto(ciphertext, key, iv)
	}
	return Result{
		OK: false, Plaintext: ciphertext, Method: method,
		Err: fmt.Errorf("unknown decryption method %q", method),
	}
}

// DecryptAuto runs every algorithm and keeps the best-scoring plaintext.
// Ties break in the fixed method order, which makes the choice total and
// deterministic. A best score at or below zero reports OK=false.
func DecryptAuto(ciphertext, key []byte, iv []byte) Result {
	best := Result{OK: false, Plaintext: ciphertext, Method: MethodAuto, Score: 0}
	haveBest := false
	for _, m := range methodOrder {
		r := Decrypt(ciphertext, key, m, iv)
		if !r.OK {
			continue
		}
		r.Score = ScorePlaintext(r.Plaintext)
		if !haveBest || r.Score > best.Score {
			best = r
			haveBest = true
		}
	}
	if !haveBest || best.Score <= 0 {
		return Result{
			OK: false, Plaintext: ciphertext, Method: MethodAuto, Score: best.Score,
			Err: fmt.Errorf("no algorithm produced plausible plaintext"),
		}
	}
	return best
}

// Encrypt is the forward direction for the reversible families, used by
// tests and by fixture generation. AES families are decrypt-only here.
func Encrypt(plaintext, key []byte, method Method) ([]byte, error) {
	switch method {
	case MethodXorV1:
		return xorV1(plaintext, key), nil
	case MethodXorV2:
		return xorV2Encrypt(plaintext, key), nil
	case MethodLuraphCustom:
		return luraphCustomEncrypt(plaintext, key), nil
	}
	return nil, fmt.Errorf("method %q does not support encryption", method)
}

// --- XOR families ---

func xorV1(data, key []byte) []byte {
	if len(key) == 0 {
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// xorV2 uses a rotating key: the key byte is offset by the data index before
// the XOR. The transform is an involution, so decryption and encryption only
// differ in name.
func xorV2(data, key []byte) []byte {
	if len(key) == 0 {
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ byte((int(key[i%len(key)])+i)%256)
	}
	return out
}

func xorV2Encrypt(data, key []byte) []byte { return xorV2(data, key) }

// --- Luraph custom three-layer scheme ---

// luraphCustomDecrypt undoes the custom pipeline: XOR with the key, rotate
// each byte left by 3, then subtract the key byte modulo 256.
func luraphCustomDecrypt(data, key []byte) []byte {
	if len(key) == 0 {
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	for i, b := range data {
		t := b ^ key[i%len(key)]
		t = bits.RotateLeft8(t, 3)
		out[i] = t - key[i%len(key)]
	}
	return out
}

func luraphCustomEncrypt(data, key []byte) []byte {
	if len(key) == 0 {
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	for i, b := range data {
		t := b + key[i%len(key)]
		t = bits.RotateLeft8(t, -3)
		out[i] = t ^ key[i%len(key)]
	}
	return out
}

// --- AES-CBC families ---

// aesCbcDecrypt decrypts the v11.7 format: hex-encoded ciphertext under
// AES-CBC with a zero IV unless an explicit one is supplied. PKCS#7 padding
// is stripped when it verifies; otherwise the raw block output is returned.
func aesCbcDecrypt(ciphertext, key []byte, iv []byte) ([]byte, error) {
	raw, err := hex.DecodeString(string(ciphertext))
	if err != nil {
		// Some bundles store the ciphertext raw rather than hex-encoded.
		raw = ciphertext
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key setup: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(raw))
	}
	if iv == nil {
		iv = make([]byte, aes.BlockSize)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv length %d, want %d", len(iv), aes.BlockSize)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return stripPkcs7(out), nil
}

// aesCbcV2Decrypt decrypts the v11.8 format: the IV is derived from the key
// (iv[i] = key[i mod |key|] XOR i) and the final byte encodes a trailing
// padding length in [1, 16].
func aesCbcV2Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	iv := make([]byte, aes.BlockSize)
	for i := range iv {
		iv[i] = key[i%len(key)] ^ byte(i)
	}
	out, err := aesCbcDecryptNoPad(ciphertext, key, iv)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad >= 1 && pad <= 16 && pad <= len(out) {
		out = out[:len(out)-pad]
	}
	return out, nil
}

func aesCbcDecryptNoPad(ciphertext, key, iv []byte) ([]byte, error) {
	raw, err := hex.DecodeString(string(ciphertext))
	if err != nil {
		raw = ciphertext
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key setup: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(raw))
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, raw)
	return out, nil
}

func stripPkcs7(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(data) {
		return data
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return data
		}
	}
	return data[:len(data)-pad]
}
