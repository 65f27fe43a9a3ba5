package platform

import (
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"regexp"
	"strings"
)

var (
	namePathRE = regexp.MustCompile(`^(\\|\^*)[A-Z_][A-Z0-9_]{0,3}(\.[A-Z_][A-Z0-9_]{0,3})*$`)

	regionSpaces = map[string]entity.RegionSpace{
		"SystemMemory":    entity.RegionSpaceSystemMemory,
		"SystemIO":        entity.RegionSpaceSystemIO,
		"PCI_Config":      entity.RegionSpacePCIConfig,
		"EmbeddedControl": entity.RegionSpaceEmbeddedControl,
		"SMBus":           entity.RegionSpaceSMBus,
		"SystemCMOS":      entity.RegionSpaceSystemCMOS,
		"PCIBARTarget":    entity.RegionSpacePCIBarTarget,
		"IPMI":            entity.RegionSpaceIPMI,
	}

	accessTypes = map[string]entity.FieldAccessType{
		"":      entity.FieldAccessTypeAny,
		"any":   entity.FieldAccessTypeAny,
		"byte":  entity.FieldAccessTypeByte,
		"word":  entity.FieldAccessTypeWord,
		"dword": entity.FieldAccessTypeDword,
		"qword": entity.FieldAccessTypeQword,
	}

	updateRules = map[string]entity.FieldUpdateRule{
		"":               entity.FieldUpdateRulePreserve,
		"preserve":       entity.FieldUpdateRulePreserve,
		"write_as_ones":  entity.FieldUpdateRuleWriteAsOnes,
		"write_as_zeros": entity.FieldUpdateRuleWriteAsZeros,
	}
)

// normalizeSeg pads a name segment to four characters.
func normalizeSeg(seg string) string {
	if len(seg) < 4 {
		seg += strings.Repeat("_", 4-len(seg))
	}
	return seg
}

// splitPath breaks an absolute path into its normalized segments.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, `\`) || !namePathRE.MatchString(path) {
		return nil, fmt.Errorf("%w: %q is not an absolute namespace path", errBadDescription, path)
	}

	segs := strings.Split(path[1:], ".")
	for i := range segs {
		segs[i] = normalizeSeg(segs[i])
	}
	return segs, nil
}

// Build populates ns with the objects of the description. The caller must
// not hold the namespace lock.
func (d *Description) Build(ns *entity.Namespace) error {
	ns.Lock()
	defer ns.Unlock()

	b := &builder{ns: ns}
	for _, path := range d.Devices {
		if _, err := b.container(path, true); err != nil {
			return err
		}
	}
	for _, name := range d.Names {
		if err := b.name(name); err != nil {
			return err
		}
	}
	for _, reg := range d.Regions {
		if err := b.region(reg); err != nil {
			return err
		}
	}
	for _, field := range d.Fields {
		if err := b.field(field); err != nil {
			return err
		}
	}
	for _, m := range d.Methods {
		if err := b.method(m); err != nil {
			return err
		}
	}
	return nil
}

type builder struct {
	ns *entity.Namespace
}

// container returns the container named by path. Missing path segments are
// created as devices if create is set.
func (b *builder) container(path string, create bool) (entity.Container, error) {
	if path == `\` {
		return b.ns.Root(), nil
	}

	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	var cur entity.Container = b.ns.Root()
	for _, seg := range segs {
		child := b.ns.Child(cur, seg)
		if child == nil {
			if !create {
				return nil, fmt.Errorf("%w: %q does not exist", errBadDescription, path)
			}
			dev := entity.NewDevice(entity.OwnerTable, seg)
			if err = b.ns.Insert(cur, dev); err != nil {
				return nil, err
			}
			child = dev
		}

		next, ok := child.(entity.Container)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a scope", errBadDescription, entity.PathOf(child))
		}
		cur = next
	}
	return cur, nil
}

// parent returns the container that will hold the object named by path and
// the object's normalized name.
func (b *builder) parent(path string) (entity.Container, string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}

	parentPath := `\` + strings.Join(segs[:len(segs)-1], ".")
	parent, err := b.container(parentPath, true)
	return parent, segs[len(segs)-1], err
}

func (b *builder) insert(path string, fn func(name string) entity.Entity) error {
	parent, name, err := b.parent(path)
	if err != nil {
		return err
	}
	if err = b.ns.Insert(parent, fn(name)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (b *builder) name(n Name) error {
	var value interface{} = n.Value
	if n.Package != nil {
		elems := make([]interface{}, 0, len(n.Package))
		for _, raw := range n.Package {
			elem, err := packageElement(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", n.Path, err)
			}
			elems = append(elems, elem)
		}
		value = entity.NewPackage(entity.OwnerTable, elems...)
	}

	return b.insert(n.Path, func(name string) entity.Entity {
		return entity.NewName(entity.OwnerTable, name, value)
	})
}

func packageElement(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case int64:
		return uint64(v), nil
	case string:
		if namePathRE.MatchString(v) {
			return entity.NewReference(entity.OwnerTable, v), nil
		}
		return v, nil
	case []interface{}:
		elems := make([]interface{}, 0, len(v))
		for _, r := range v {
			elem, err := packageElement(r)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return entity.NewPackage(entity.OwnerTable, elems...), nil
	}
	return nil, fmt.Errorf("%w: unsupported package element %v", errBadDescription, raw)
}

func (b *builder) region(r Region) error {
	space, ok := regionSpaces[r.Space]
	if !ok {
		return fmt.Errorf("%w: %s: unknown address space %q", errBadDescription, r.Path, r.Space)
	}

	return b.insert(r.Path, func(name string) entity.Entity {
		reg := entity.NewRegion(entity.OwnerTable)
		reg.SetArg(0, name)
		reg.SetArg(1, uint64(space))
		reg.SetArg(2, r.Offset)
		reg.SetArg(3, r.Length)
		return reg
	})
}

func (b *builder) field(f Field) error {
	access, ok := accessTypes[f.Access]
	if !ok {
		return fmt.Errorf("%w: %s: unknown access type %q", errBadDescription, f.Region, f.Access)
	}
	update, ok := updateRules[f.Update]
	if !ok {
		return fmt.Errorf("%w: %s: unknown update rule %q", errBadDescription, f.Region, f.Update)
	}

	parent, regionName, err := b.parent(f.Region)
	if err != nil {
		return err
	}
	if _, isRegion := b.ns.Child(parent, regionName).(*entity.Region); !isRegion {
		return fmt.Errorf("%w: field region %q is not declared", errBadDescription, f.Region)
	}

	flags := uint64(access) | uint64(update)<<5
	if f.Lock {
		flags |= 1 << 4
	}

	field := entity.NewField(entity.OwnerTable)
	field.SetArg(0, regionName)
	field.SetArg(1, flags)
	if err = b.ns.Insert(parent, field); err != nil {
		return err
	}

	for _, u := range f.Units {
		unit := entity.NewFieldUnit(entity.OwnerTable, normalizeSeg(u.Name))
		unit.Field = field
		unit.AccessType = access
		unit.BitOffset, unit.BitWidth = u.Offset, u.Width
		if err = b.ns.Insert(parent, unit); err != nil {
			return fmt.Errorf("%s.%s: %w", entity.PathOf(parent), u.Name, err)
		}
	}
	return nil
}

func (b *builder) method(m Method) error {
	if m.Args > 7 {
		return fmt.Errorf("%w: %s: methods take at most 7 arguments", errBadDescription, m.Path)
	}

	body, err := compile(m.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", m.Path, err)
	}

	return b.insert(m.Path, func(name string) entity.Entity {
		node := entity.NewMethod(entity.OwnerTable, name)
		node.ArgCount = m.Args
		node.Serialized = m.Serialized
		node.MaxConcurrency = m.MaxConcurrency
		node.Body = body
		return node
	})
}
