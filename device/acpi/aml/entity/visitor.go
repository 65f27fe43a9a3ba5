package entity

// Visitor is a function invoked for each AML tree entity that matches a
// particular type. The return value controls whether the children of this
// entity should also be visited.
type Visitor func(depth int, obj Entity) (keepRecursing bool)

// Type defines the type of entity that visitors should inspect.
type Type uint8

// The list of supported Type values. TypeAny works as a wildcard
// allowing the visitor to inspect all entities in the AML tree.
const (
	TypeAny Type = iota
	TypeDevice
	TypeMethod
	TypeRegion
	TypeField
	TypeFieldUnit
	TypeName
	TypeScope
)

// Matches returns true if ent is of type t.
func (t Type) Matches(ent Entity) bool {
	op := ent.Opcode()
	switch t {
	case TypeAny:
		return true
	case TypeDevice:
		return op == OpDevice
	case TypeMethod:
		return op == OpMethod
	case TypeRegion:
		return op == OpOpRegion
	case TypeField:
		return op == OpField
	case TypeFieldUnit:
		return op == OpFieldUnit
	case TypeName:
		return op == OpName
	case TypeScope:
		return op == OpScope
	}
	return false
}

// Visit descends a scope hierarchy and invokes visitorFn for each entity
// that matches entType.
func Visit(depth int, ent Entity, entType Type, visitorFn Visitor) bool {
	if entType.Matches(ent) {
		// If the visitor returned false we should not visit the children
		if !visitorFn(depth, ent) {
			return false
		}

		// Visit any args that are also entities
		for _, arg := range ent.Args() {
			if argEnt, isEnt := arg.(Entity); isEnt && !Visit(depth+1, argEnt, entType, visitorFn) {
				return false
			}
		}
	}

	// If the entity defines a scope we need to visit the child entities.
	// The child list is copied so visitors may detach the visited entity.
	if container, isContainer := ent.(Container); isContainer {
		children := append([]Entity(nil), container.Children()...)
		for _, child := range children {
			_ = Visit(depth+1, child, entType, visitorFn)
		}
	}

	return true
}
