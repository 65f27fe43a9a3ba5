package table

import "unsafe"

// Valid calculates the checksum for the table that starts with header and
// spans header.Length bytes. It returns true if the bytes add up to zero.
func Valid(header *SDTHeader) bool {
	return checksum(header) == 0
}

// UpdateChecksum adjusts the checksum field of the table so that Valid
// returns true.
func UpdateChecksum(header *SDTHeader) {
	header.Checksum = 0
	header.Checksum = -checksum(header)
}

func checksum(header *SDTHeader) uint8 {
	var (
		sum      uint8
		tablePtr = uintptr(unsafe.Pointer(header))
	)

	for i := uintptr(0); i < uintptr(header.Length); i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + i))
	}
	return sum
}

// Seal fills in the header of a FADT built in memory by the host: the
// signature, the length and the checksum.
func (f *FADT) Seal() {
	f.Signature = [4]byte{'F', 'A', 'C', 'P'}
	f.Length = uint32(unsafe.Sizeof(*f))
	UpdateChecksum(&f.SDTHeader)
}
