package service

import (
	"fmt"
	"sort"

	"github.com/timzifer/drivelink/config"
	"github.com/timzifer/drivelink/registers"
)

// buildTable merges the built-in catalog with the configured entries. An entry
// replaces the built-in register at the same address.
func buildTable(cfg config.RegistersConfig) (*registers.Table, error) {
	byAddress := make(map[uint16]registers.Spec)
	if cfg.UseBuiltin() {
		for _, spec := range registers.DefaultCatalog() {
			byAddress[spec.Address] = spec
		}
	}
	seen := make(map[uint16]struct{}, len(cfg.Entries))
	for i, entry := range cfg.Entries {
		if _, ok := seen[entry.Address]; ok {
			return nil, fmt.Errorf("registers.entries[%d]: register 0x%X: %w", i, entry.Address, registers.ErrDuplicateAddress)
		}
		seen[entry.Address] = struct{}{}
		byAddress[entry.Address] = specFromConfig(entry)
	}

	specs := make([]registers.Spec, 0, len(byAddress))
	for _, spec := range byAddress {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Address < specs[j].Address })
	table, err := registers.NewTable(specs...)
	if err != nil {
		return nil, fmt.Errorf("build register table: %w", err)
	}
	return table, nil
}

func specFromConfig(entry config.RegisterConfig) registers.Spec {
	spec := registers.Spec{
		Address:     entry.Address,
		Mnemonic:    entry.Mnemonic,
		Name:        entry.Name,
		Description: entry.Description,
		Default:     entry.Default,
		Range: registers.Range{
			Kind: registers.RangeKind(entry.Range.Kind),
			Min:  entry.Range.Min,
			Max:  entry.Range.Max,
		},
		Transform: registers.Transform{
			Kind:   registers.TransformKind(entry.Transform.Kind),
			Scale:  entry.Transform.Scale,
			Offset: entry.Transform.Offset,
			K:      entry.Transform.K,
		},
		Writable: entry.Writable == nil || *entry.Writable,
		Readable: entry.Readable == nil || *entry.Readable,
	}
	if spec.Name == "" {
		spec.Name = spec.Mnemonic
	}
	if spec.Range.Kind == registers.RangeZeroTo {
		spec.Range.Min = 0
	}
	return spec
}
