package acpi

import (
	"context"
	"gopheros/device"
	"gopheros/device/acpi/table"
	"gopheros/kernel"
	"sort"

	"go.uber.org/zap"
)

const (
	fadtSignature = "FACP"
	dsdtSignature = "DSDT"
)

var (
	errMissingFADT = &kernel.Error{Module: "acpi", Message: "could not locate the FADT"}

	// knownTables lists the signatures looked up through the table
	// resolver in addition to the FADT.
	knownTables = []string{dsdtSignature, "FACS", "SSDT", "APIC", "HPET", "MCFG", "ECDT"}
)

// DriverInit initializes the engine using the tables supplied with its
// hardware description.
func (e *Engine) DriverInit(ctx context.Context) error {
	return e.Init(ctx, e.hw.Tables)
}

// DriverName returns the name of this driver.
func (*Engine) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*Engine) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// Probe returns a probe function that creates an engine for the supplied
// hardware if its table resolver can locate a FADT.
func Probe(cfg Config, hw Hardware, logger *zap.Logger) device.ProbeFn {
	return func() device.Driver {
		if hw.Tables == nil || hw.Tables.LookupTable(fadtSignature) == nil {
			return nil
		}

		e, err := New(cfg, hw, logger)
		if err != nil {
			if logger != nil {
				logger.Error("unable to create ACPI engine", zap.Error(err))
			}
			return nil
		}
		return e
	}
}

// Register adds the engine probe to the device driver registry.
func Register(cfg Config, hw Hardware, logger *zap.Logger) {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderBeforeACPI,
		Probe: Probe(cfg, hw, logger),
	})
}

// Tables returns the signatures of the tables loaded by Init in sorted
// order.
func (e *Engine) Tables() []string {
	names := make([]string, 0, len(e.tableMap))
	for name := range e.tableMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupTable returns a loaded table by signature or nil if no such table
// was loaded. Engine implements table.Resolver.
func (e *Engine) LookupTable(name string) *table.SDTHeader {
	return e.tableMap[name]
}

// enumerateTables looks up the FADT and the other well-known tables and
// verifies their checksums. Tables whose checksum does not match are
// skipped. The FADT is mandatory.
func (e *Engine) enumerateTables(resolver table.Resolver) error {
	e.tableMap = make(map[string]*table.SDTHeader)

	fadt := resolver.LookupTable(fadtSignature)
	if fadt == nil || !e.acceptTable(fadtSignature, fadt) {
		return errMissingFADT
	}

	for _, name := range knownTables {
		if header := resolver.LookupTable(name); header != nil {
			e.acceptTable(name, header)
		}
	}

	e.printTableInfo()
	return nil
}

func (e *Engine) acceptTable(name string, header *table.SDTHeader) bool {
	if !table.Valid(header) {
		e.log.Warn("checksum mismatch; skipping table",
			zap.String("table", name),
			zap.Uint32("length", header.Length),
		)
		return false
	}

	e.tableMap[name] = header
	return true
}

func (e *Engine) printTableInfo() {
	for _, name := range e.Tables() {
		header := e.tableMap[name]
		e.log.Info("loaded ACPI table",
			zap.String("table", name),
			zap.Uint32("length", header.Length),
			zap.Uint8("revision", header.Revision),
			zap.ByteString("oem", header.OEMID[:]),
			zap.ByteString("oem_table", header.OEMTableID[:]),
		)
	}
}

// fadt returns the loaded FADT.
func (e *Engine) fadt() *table.FADT {
	header := e.tableMap[fadtSignature]
	if header == nil {
		return nil
	}
	return table.FADTFromHeader(header)
}
