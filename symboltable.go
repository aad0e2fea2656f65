package cdtrans

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SymbolTable interns a set of symbols (phones, HMM labels, state labels)
// with contiguous integer ids, folding the original implementation's
// separate string-interning and id-lookup tables (stringmap.cc,
// stringutil.cc) into one structure.
type SymbolTable struct {
	names []string
	ids   map[string]int
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{ids: make(map[string]int)}
}

// Intern returns the id for name, assigning the next contiguous id if the
// name hasn't been seen before.
func (t *SymbolTable) Intern(name string) int {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := len(t.names)
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

// ID returns the id assigned to name, if any.
func (t *SymbolTable) ID(name string) (int, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// Symbol returns the name assigned to id.
func (t *SymbolTable) Symbol(id int) string {
	return t.names[id]
}

// Len returns the number of interned symbols.
func (t *SymbolTable) Len() int {
	return len(t.names)
}

// ReadPhoneSymbolTable parses a two-column "symbol id" text file.
// Epsilon must be id 0 and ids must be contiguous from 0.
func ReadPhoneSymbolTable(r io.Reader) (*SymbolTable, error) {
	scanner := bufio.NewScanner(r)
	t := NewSymbolTable()
	seen := make(map[int]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("phone symbol table: line %d: expected \"symbol id\", got %q", lineNo, line)
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("phone symbol table: line %d: bad id %q: %w", lineNo, fields[1], err)
		}
		if prev, ok := seen[id]; ok {
			return nil, fmt.Errorf("phone symbol table: line %d: id %d already used by %q", lineNo, id, prev)
		}
		seen[id] = fields[0]
		t.names = append(t.names, "")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phone symbol table: %w", err)
	}
	if err := t.checkContiguous(seen); err != nil {
		return nil, err
	}
	for id, name := range seen {
		t.names[id] = name
		t.ids[name] = id
	}
	if name, ok := seen[0]; !ok || !isEpsilonSymbol(name) {
		return nil, fmt.Errorf("phone symbol table: id 0 must be epsilon, got %q", seen[0])
	}
	return t, nil
}

func (t *SymbolTable) checkContiguous(seen map[int]string) error {
	for i := 0; i < len(seen); i++ {
		if _, ok := seen[i]; !ok {
			return fmt.Errorf("phone symbol table: ids must be contiguous from 0, missing %d", i)
		}
	}
	return nil
}

func isEpsilonSymbol(name string) bool {
	switch name {
	case "<eps>", "eps", "epsilon", "<epsilon>":
		return true
	default:
		return false
	}
}
