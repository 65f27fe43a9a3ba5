package platform

import (
	"fmt"
	"gopheros/device/acpi/aml/entity"
	"strconv"
	"strings"
)

type stmtCompiler func(s Statement) (entity.Entity, error)

var (
	binaryOps = map[string]entity.AMLOpcode{
		"add":         entity.OpAdd,
		"subtract":    entity.OpSubtract,
		"and":         entity.OpAnd,
		"or":          entity.OpOr,
		"xor":         entity.OpXor,
		"shift_left":  entity.OpShiftLeft,
		"shift_right": entity.OpShiftRight,
	}

	compareOps = map[string]entity.AMLOpcode{
		"if_equal":   entity.OpLEqual,
		"if_less":    entity.OpLLess,
		"if_greater": entity.OpLGreater,
	}

	statements map[string]stmtCompiler
)

func init() {
	statements = map[string]stmtCompiler{
		"store":     compileStore,
		"increment": compileStep(entity.OpIncrement),
		"decrement": compileStep(entity.OpDecrement),
		"call":      compileCall,
		"notify":    compileNotify,
		"return":    compileReturn,
	}
	for name, code := range binaryOps {
		statements[name] = compileBinary(code)
	}
	for name, code := range compareOps {
		statements[name] = compileIf(code)
	}
}

// compile converts a statement list into a term list.
func compile(stmts []Statement) ([]entity.Entity, error) {
	terms := make([]entity.Entity, 0, len(stmts))
	for i, s := range stmts {
		fn, ok := statements[s.Op]
		if !ok {
			return nil, fmt.Errorf("%w: statement %d: unknown op %q", errBadDescription, i, s.Op)
		}

		term, err := fn(s)
		if err != nil {
			return nil, fmt.Errorf("statement %d (%s): %w", i, s.Op, err)
		}
		terms = append(terms, term)
	}
	return terms, nil
}

// operand converts a statement operand into an interpreter argument.
func operand(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: missing operand", errBadDescription)
	case int64:
		return uint64(val), nil
	case bool:
		if val {
			return entity.NewGeneric(entity.OpOnes, entity.OwnerTable), nil
		}
		return entity.NewGeneric(entity.OpZero, entity.OwnerTable), nil
	case string:
		return stringOperand(val)
	}
	return nil, fmt.Errorf("%w: unsupported operand %v", errBadDescription, v)
}

func stringOperand(s string) (interface{}, error) {
	switch {
	case s == "debug":
		return entity.NewGeneric(entity.OpDebug, entity.OwnerTable), nil
	case strings.HasPrefix(s, "arg"), strings.HasPrefix(s, "local"):
		base, prefix, last := entity.OpArg0, "arg", 6
		if s[0] == 'l' {
			base, prefix, last = entity.OpLocal0, "local", 7
		}
		idx, err := strconv.Atoi(s[len(prefix):])
		if err != nil || idx < 0 || idx > last {
			return nil, fmt.Errorf("%w: invalid slot %q", errBadDescription, s)
		}
		return entity.NewGeneric(base+entity.AMLOpcode(idx), entity.OwnerTable), nil
	case namePathRE.MatchString(s):
		return entity.NewReference(entity.OwnerTable, s), nil
	}
	return s, nil
}

// target converts a store destination. Literal values cannot be written to.
func target(v interface{}) (interface{}, error) {
	if v == nil {
		return uint64(0), nil
	}

	dst, err := operand(v)
	if err != nil {
		return nil, err
	}
	if _, isEntity := dst.(entity.Entity); !isEntity {
		return nil, fmt.Errorf("%w: cannot store to %v", errBadDescription, v)
	}
	return dst, nil
}

func compileStore(s Statement) (entity.Entity, error) {
	src, err := operand(s.Value)
	if err != nil {
		return nil, err
	}
	if s.Target == nil {
		return nil, fmt.Errorf("%w: store without target", errBadDescription)
	}
	dst, err := target(s.Target)
	if err != nil {
		return nil, err
	}
	return entity.NewGeneric(entity.OpStore, entity.OwnerTable, src, dst), nil
}

func compileStep(code entity.AMLOpcode) stmtCompiler {
	return func(s Statement) (entity.Entity, error) {
		if s.Target == nil {
			return nil, fmt.Errorf("%w: missing target", errBadDescription)
		}
		dst, err := target(s.Target)
		if err != nil {
			return nil, err
		}
		return entity.NewGeneric(code, entity.OwnerTable, dst), nil
	}
}

func compileBinary(code entity.AMLOpcode) stmtCompiler {
	return func(s Statement) (entity.Entity, error) {
		left, err := operand(s.Left)
		if err != nil {
			return nil, err
		}
		right, err := operand(s.Right)
		if err != nil {
			return nil, err
		}
		dst, err := target(s.Target)
		if err != nil {
			return nil, err
		}
		return entity.NewGeneric(code, entity.OwnerTable, left, right, dst), nil
	}
}

func compileCall(s Statement) (entity.Entity, error) {
	if s.Method == "" {
		return nil, fmt.Errorf("%w: call without method", errBadDescription)
	}

	args := make([]interface{}, 0, len(s.Args))
	for _, raw := range s.Args {
		arg, err := operand(raw)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	inv := entity.NewInvocation(entity.OwnerTable, s.Method, args...)
	if s.Target == nil {
		return inv, nil
	}

	dst, err := target(s.Target)
	if err != nil {
		return nil, err
	}
	return entity.NewGeneric(entity.OpStore, entity.OwnerTable, inv, dst), nil
}

func compileNotify(s Statement) (entity.Entity, error) {
	path, ok := s.Target.(string)
	if !ok || !namePathRE.MatchString(path) {
		return nil, fmt.Errorf("%w: notify target must be a namespace path", errBadDescription)
	}
	value, err := operand(s.Value)
	if err != nil {
		return nil, err
	}
	return entity.NewGeneric(entity.OpNotify, entity.OwnerTable, entity.NewReference(entity.OwnerTable, path), value), nil
}

func compileReturn(s Statement) (entity.Entity, error) {
	if s.Value == nil {
		return entity.NewGeneric(entity.OpReturn, entity.OwnerTable), nil
	}
	value, err := operand(s.Value)
	if err != nil {
		return nil, err
	}
	return entity.NewGeneric(entity.OpReturn, entity.OwnerTable, value), nil
}

func compileIf(code entity.AMLOpcode) stmtCompiler {
	return func(s Statement) (entity.Entity, error) {
		left, err := operand(s.Left)
		if err != nil {
			return nil, err
		}
		right, err := operand(s.Right)
		if err != nil {
			return nil, err
		}

		thenBlock, err := block(s.Then)
		if err != nil {
			return nil, err
		}

		args := []interface{}{entity.NewGeneric(code, entity.OwnerTable, left, right), thenBlock}
		if len(s.Else) != 0 {
			elseBlock, err := block(s.Else)
			if err != nil {
				return nil, err
			}
			args = append(args, elseBlock)
		}
		return entity.NewGeneric(entity.OpIf, entity.OwnerTable, args...), nil
	}
}

func block(stmts []Statement) (*entity.Scope, error) {
	terms, err := compile(stmts)
	if err != nil {
		return nil, err
	}

	scope := entity.NewScope(entity.OpScope, entity.OwnerTable, "")
	for _, term := range terms {
		scope.Append(term)
	}
	return scope, nil
}
