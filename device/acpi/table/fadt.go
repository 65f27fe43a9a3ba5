package table

import "unsafe"

// GPEBlockInfo describes one of the two fixed GPE register blocks advertised
// by the FADT. Each block is split in two halves of equal length: the status
// registers followed by the enable registers.
type GPEBlockInfo struct {
	Address       GenericAddress
	RegisterCount uint32
	BaseNumber    uint32
}

// FADTFromHeader reinterprets a table header returned by a Resolver as a FADT.
// The caller must ensure that the header belongs to a table with the "FACP"
// signature.
func FADTFromHeader(header *SDTHeader) *FADT {
	return (*FADT)(unsafe.Pointer(header))
}

// GPEBlocks returns the fixed GPE blocks described by the FADT. ACPI 2.0+
// tables supply 64-bit extended addresses which take precedence over the
// legacy 32-bit port values. Blocks with a zero length or address are omitted.
func (f *FADT) GPEBlocks() []GPEBlockInfo {
	var blocks []GPEBlockInfo

	for _, blk := range []struct {
		legacy uint32
		ext    GenericAddress
		length uint8
		base   uint32
	}{
		// The GPE0 block always starts at GPE number 0
		{f.GPE0Block, f.Ext.GPE0Block, f.GPE0Length, 0},
		{f.GPE1Block, f.Ext.GPE1Block, f.GPE1Length, uint32(f.GPE1Base)},
	} {
		addr := blk.ext
		if addr.Address == 0 || f.Revision < 2 {
			addr = GenericAddress{
				Space:    AddressSpaceSysIO,
				BitWidth: 8,
				Address:  uint64(blk.legacy),
			}
		}

		if addr.Address == 0 || blk.length == 0 {
			continue
		}

		blocks = append(blocks, GPEBlockInfo{
			Address:       addr,
			RegisterCount: uint32(blk.length) / 2,
			BaseNumber:    blk.base,
		})
	}

	return blocks
}

// MapResolver is a Resolver backed by an in-memory map of table signatures
// to headers. It is used when tables are supplied by the host rather than
// discovered in physical memory.
type MapResolver map[string]*SDTHeader

// LookupTable implements Resolver.
func (r MapResolver) LookupTable(name string) *SDTHeader {
	return r[name]
}
