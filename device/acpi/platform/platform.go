// Package platform decodes TOML platform descriptions into a namespace, a
// set of firmware tables and a simulated register bus. Descriptions are
// used to exercise the engine without real firmware.
package platform

import (
	"fmt"
	"gopheros/device/acpi"
	"gopheros/kernel"
	"os"

	"github.com/BurntSushi/toml"
)

var errBadDescription = &kernel.Error{Module: "acpi_platform", Message: "invalid platform description"}

// Description is the decoded contents of a platform file.
type Description struct {
	// Engine holds the engine tunables. Keys missing from the [engine]
	// table keep their default values.
	Engine acpi.Config `toml:"engine"`

	FADT      FADT       `toml:"fadt"`
	Devices   []string   `toml:"devices"`
	Names     []Name     `toml:"names"`
	Regions   []Region   `toml:"regions"`
	Fields    []Field    `toml:"fields"`
	Methods   []Method   `toml:"methods"`
	GPEBlocks []GPEBlock `toml:"gpe_blocks"`
	Memory    []Poke     `toml:"memory"`
}

// FADT describes the fixed hardware advertised by the firmware.
type FADT struct {
	SCI        uint16 `toml:"sci"`
	GPE0Block  uint32 `toml:"gpe0_block"`
	GPE0Length uint8  `toml:"gpe0_length"`
	GPE1Block  uint32 `toml:"gpe1_block"`
	GPE1Length uint8  `toml:"gpe1_length"`
	GPE1Base   uint8  `toml:"gpe1_base"`
	OEMID      string `toml:"oem_id"`
}

// Name declares a named integer or, if Package is set, a named package of
// integers and paths.
type Name struct {
	Path    string        `toml:"path"`
	Value   uint64        `toml:"value"`
	Package []interface{} `toml:"package"`
}

// Region declares an operation region.
type Region struct {
	Path   string `toml:"path"`
	Space  string `toml:"space"`
	Offset uint64 `toml:"offset"`
	Length uint64 `toml:"length"`
}

// Field declares a field list over a region. The units are created in the
// scope holding the region.
type Field struct {
	Region string `toml:"region"`
	Access string `toml:"access"`
	Lock   bool   `toml:"lock"`
	Update string `toml:"update"`
	Units  []Unit `toml:"units"`
}

// Unit is a named bit range of a field.
type Unit struct {
	Name   string `toml:"name"`
	Offset uint32 `toml:"offset"`
	Width  uint32 `toml:"width"`
}

// Method declares a control method with a statement body.
type Method struct {
	Path           string      `toml:"path"`
	Args           uint8       `toml:"args"`
	Serialized     bool        `toml:"serialized"`
	MaxConcurrency uint8       `toml:"max_concurrency"`
	Body           []Statement `toml:"body"`
}

// Statement is a single statement of a method body. Operands are integers,
// argN/localN slots, "debug", namespace paths or string literals.
type Statement struct {
	Op     string        `toml:"op"`
	Value  interface{}   `toml:"value"`
	Left   interface{}   `toml:"left"`
	Right  interface{}   `toml:"right"`
	Target interface{}   `toml:"target"`
	Method string        `toml:"method"`
	Args   []interface{} `toml:"args"`
	Then   []Statement   `toml:"then"`
	Else   []Statement   `toml:"else"`
}

// GPEBlock declares a GPE block device.
type GPEBlock struct {
	Device    string `toml:"device"`
	Address   uint64 `toml:"address"`
	Registers uint32 `toml:"registers"`
	Base      uint32 `toml:"base"`
	IRQ       uint32 `toml:"irq"`
}

// Poke presets a byte of the simulated bus.
type Poke struct {
	Space   string `toml:"space"`
	Address uint64 `toml:"address"`
	Value   uint8  `toml:"value"`
}

// Load reads and decodes a platform file.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a platform description.
func Parse(data []byte) (*Description, error) {
	desc := &Description{Engine: acpi.DefaultConfig()}

	md, err := toml.Decode(string(data), desc)
	if err != nil {
		return nil, fmt.Errorf("decoding platform description: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("%w: unknown key %q", errBadDescription, undecoded[0].String())
	}
	if err = desc.Engine.Validate(); err != nil {
		return nil, err
	}

	return desc, nil
}
