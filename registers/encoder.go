package registers

import (
	"errors"
	"fmt"
	"strconv"
)

// Command is an encoded wire command ready for transmission.
type Command string

// RestoreDefaults asks the controller to reload its firmware defaults.
const RestoreDefaults Command = "r"

// Bytes returns the command payload.
func (c Command) Bytes() []byte {
	return []byte(c)
}

// Encoder turns register writes into wire commands.
type Encoder struct {
	table *Table
}

// NewEncoder creates an encoder backed by table.
func NewEncoder(table *Table) (*Encoder, error) {
	if table == nil {
		return nil, errors.New("register table must not be nil")
	}
	return &Encoder{table: table}, nil
}

// Table returns the register table used by the encoder.
func (e *Encoder) Table() *Table {
	if e == nil {
		return nil
	}
	return e.table
}

// EncodeWrite converts a user value for address into a wire command.
//
// The range check is applied to the truncated raw value before anything is
// produced, so rejected writes never yield a command.
func (e *Encoder) EncodeWrite(address uint16, user float64) (Command, error) {
	spec, err := e.writable(address)
	if err != nil {
		return "", err
	}
	raw, err := spec.Transform.ToRaw(user)
	if err != nil {
		return "", fmt.Errorf("register 0x%X: %w: %w", address, ErrOutOfRange, err)
	}
	return encode(spec, raw)
}

// EncodeRaw builds a wire command from an already raw value.
func (e *Encoder) EncodeRaw(address uint16, raw int64) (Command, error) {
	spec, err := e.writable(address)
	if err != nil {
		return "", err
	}
	return encode(spec, raw)
}

// EncodeDefault builds the command writing the register default.
func (e *Encoder) EncodeDefault(address uint16) (Command, error) {
	spec, err := e.writable(address)
	if err != nil {
		return "", err
	}
	return encode(spec, spec.Default)
}

// DecodeRead converts a raw value observed for address into user units.
// Telemetry is observational, so no range check applies.
func (e *Encoder) DecodeRead(address uint16, raw int64) (float64, error) {
	if e == nil {
		return 0, errors.New("encoder is nil")
	}
	spec, ok := e.table.Lookup(address)
	if !ok {
		return 0, fmt.Errorf("register 0x%X: %w", address, ErrUnknownAddress)
	}
	user, err := spec.Transform.ToUser(raw)
	if err != nil {
		return 0, fmt.Errorf("register 0x%X: %w", address, err)
	}
	return user, nil
}

func (e *Encoder) writable(address uint16) (Spec, error) {
	if e == nil {
		return Spec{}, errors.New("encoder is nil")
	}
	spec, ok := e.table.Lookup(address)
	if !ok {
		return Spec{}, fmt.Errorf("register 0x%X: %w", address, ErrUnknownAddress)
	}
	if !spec.Writable {
		return Spec{}, fmt.Errorf("register 0x%X (%s): %w", address, spec.Name, ErrNotWritable)
	}
	return spec, nil
}

func encode(spec Spec, raw int64) (Command, error) {
	if !spec.Range.Contains(raw) {
		return "", fmt.Errorf("register 0x%X (%s): raw %d outside %s: %w", spec.Address, spec.Name, raw, spec.Range, ErrOutOfRange)
	}
	return Command(spec.Mnemonic + strconv.FormatInt(raw, 10) + "\n"), nil
}
