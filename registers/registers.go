package registers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrDuplicateAddress is returned when a register address is registered twice.
	ErrDuplicateAddress = errors.New("duplicate register address")
	// ErrDuplicateMnemonic is returned when two registers share a wire mnemonic.
	ErrDuplicateMnemonic = errors.New("duplicate register mnemonic")
	// ErrUnknownAddress is returned when no register exists at an address.
	ErrUnknownAddress = errors.New("unknown register address")
	// ErrNotWritable is returned when writing a read-only register.
	ErrNotWritable = errors.New("register is not writable")
	// ErrOutOfRange is returned when a raw value fails the register range.
	ErrOutOfRange = errors.New("value out of range")
	// ErrNotRepresentable is returned when a transform cannot produce a value.
	ErrNotRepresentable = errors.New("value not representable")
)

// Spec describes one addressable device register.
type Spec struct {
	Address     uint16    `json:"address"`
	Mnemonic    string    `json:"mnemonic"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Default     int64     `json:"default"`
	Range       Range     `json:"range"`
	Transform   Transform `json:"transform"`
	Writable    bool      `json:"writable"`
	Readable    bool      `json:"readable"`
}

// Validate checks the spec for structural problems.
func (s Spec) Validate() error {
	if s.Mnemonic == "" {
		return fmt.Errorf("register 0x%X: mnemonic must not be empty", s.Address)
	}
	for _, r := range s.Mnemonic {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return fmt.Errorf("register 0x%X: mnemonic %q must consist of ASCII letters", s.Address, s.Mnemonic)
		}
	}
	if err := s.Range.Validate(); err != nil {
		return fmt.Errorf("register 0x%X: %w", s.Address, err)
	}
	if err := s.Transform.Validate(); err != nil {
		return fmt.Errorf("register 0x%X: %w", s.Address, err)
	}
	return nil
}

// Table maps register addresses to their specs.
type Table struct {
	mu         sync.RWMutex
	byAddress  map[uint16]Spec
	byMnemonic map[string]uint16
}

// NewTable builds a table from the provided specs.
func NewTable(specs ...Spec) (*Table, error) {
	table := &Table{
		byAddress:  make(map[uint16]Spec, len(specs)),
		byMnemonic: make(map[string]uint16, len(specs)),
	}
	for _, spec := range specs {
		if err := table.Register(spec); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Register inserts spec into the table.
func (t *Table) Register(spec Spec) error {
	if t == nil {
		return errors.New("register table is nil")
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byAddress == nil {
		t.byAddress = make(map[uint16]Spec)
		t.byMnemonic = make(map[string]uint16)
	}
	if _, exists := t.byAddress[spec.Address]; exists {
		return fmt.Errorf("register 0x%X: %w", spec.Address, ErrDuplicateAddress)
	}
	if other, exists := t.byMnemonic[spec.Mnemonic]; exists {
		return fmt.Errorf("register 0x%X: mnemonic %q already used by 0x%X: %w", spec.Address, spec.Mnemonic, other, ErrDuplicateMnemonic)
	}
	t.byAddress[spec.Address] = spec
	t.byMnemonic[spec.Mnemonic] = spec.Address
	return nil
}

// Lookup returns the spec registered at address.
func (t *Table) Lookup(address uint16) (Spec, bool) {
	if t == nil {
		return Spec{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.byAddress[address]
	return spec, ok
}

// LookupMnemonic returns the spec using the given wire mnemonic.
func (t *Table) LookupMnemonic(mnemonic string) (Spec, bool) {
	if t == nil {
		return Spec{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	address, ok := t.byMnemonic[strings.TrimSpace(mnemonic)]
	if !ok {
		return Spec{}, false
	}
	return t.byAddress[address], true
}

// All returns every registered spec ordered by address.
func (t *Table) All() []Spec {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	specs := make([]Spec, 0, len(t.byAddress))
	for _, spec := range t.byAddress {
		specs = append(specs, spec)
	}
	t.mu.RUnlock()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Address < specs[j].Address })
	return specs
}

// Len reports the number of registered specs.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddress)
}
