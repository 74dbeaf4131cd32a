// Package renamer assigns stable, readable names to the mangled identifiers
// that survive into rendered output, and persists the mapping so repeated
// runs over the same protected bundle stay consistent.
package renamer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// NameType selects the generated-name prefix for an identifier class.
type NameType string

const (
	TypeFunction NameType = "function"
	TypeVariable NameType = "variable"
	TypeHandler  NameType = "handler"
)

var prefixes = map[NameType]string{
	TypeFunction: "fn",
	TypeVariable: "var",
	TypeHandler:  "op",
}

// luaReserved guards generated names against the reserved words; counters
// never produce one today, but loaded state from older versions might.
var luaReserved = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

// Context serialization version.
const stateVersion = "unluraph-rename-v1"

// renamerState holds the persisted data. Exported fields for gob.
type renamerState struct {
	Version  string
	Forward  map[string]string // mangled -> readable
	Reverse  map[string]string // readable -> mangled
	Counters map[string]int
}

// Renamer maps mangled names to generated readable ones. Safe for
// concurrent use.
type Renamer struct {
	forward  map[string]string
	reverse  map[string]string
	counters map[NameType]int
	mu       sync.RWMutex
}

// New returns an empty renamer.
func New() *Renamer {
	return &Renamer{
		forward:  make(map[string]string),
		reverse:  make(map[string]string),
		counters: make(map[NameType]int),
	}
}

// Rename returns the readable name for a mangled identifier, generating and
// recording one on first sight. The same input always maps to the same
// output within one context.
func (r *Renamer) Rename(mangled string, nameType NameType) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if readable, seen := r.forward[mangled]; seen {
		return readable
	}
	prefix, ok := prefixes[nameType]
	if !ok {
		prefix = "sym"
	}
	var readable string
	for {
		r.counters[nameType]++
		readable = fmt.Sprintf("%s_%d", prefix, r.counters[nameType])
		if !luaReserved[readable] && r.reverse[readable] == "" {
			break
		}
	}
	r.forward[mangled] = readable
	r.reverse[readable] = mangled
	return readable
}

// LookupOriginal resolves a generated name back to the mangled original.
func (r *Renamer) LookupOriginal(readable string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orig, ok := r.reverse[readable]
	return orig, ok
}

// Mappings returns the forward map as sorted "mangled -> readable" lines,
// for the inspection report.
func (r *Renamer) Mappings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.forward))
	for k := range r.forward {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + " -> " + r.forward[k]
	}
	return lines
}

// SaveState writes the mapping to a file with gob encoding.
func (r *Renamer) SaveState(filePath string) error {
	r.mu.RLock()
	state := renamerState{
		Version:  stateVersion,
		Forward:  r.forward,
		Reverse:  r.reverse,
		Counters: make(map[string]int, len(r.counters)),
	}
	for t, n := range r.counters {
		state.Counters[string(t)] = n
	}
	r.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("failed to encode rename state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(filePath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write rename state %s: %w", filePath, err)
	}
	return nil
}

// LoadState restores a previously saved mapping, replacing the current one.
func (r *Renamer) LoadState(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read rename state %s: %w", filePath, err)
	}
	var state renamerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode rename state %s: %w", filePath, err)
	}
	if !strings.HasPrefix(state.Version, "unluraph-rename-") {
		return fmt.Errorf("unrecognized rename state version %q", state.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = state.Forward
	r.reverse = state.Reverse
	if r.forward == nil {
		r.forward = make(map[string]string)
	}
	if r.reverse == nil {
		r.reverse = make(map[string]string)
	}
	r.counters = make(map[NameType]int, len(state.Counters))
	for t, n := range state.Counters {
		r.counters[NameType(t)] = n
	}
	return nil
}
