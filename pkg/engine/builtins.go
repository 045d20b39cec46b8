package engine

import (
	"fmt"
	"strings"

	"github.com/chazu/voxgrid/pkg/kernel"
	zygo "github.com/glycerine/zygomys/zygo"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms scene source code before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: wall-thickness -> wall_thickness
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpSolid wraps a kernel.Solid so it can be passed between builtins and
// returned as the scene value.
type sexpSolid struct {
	solid kernel.Solid
	op    string
}

func (s *sexpSolid) SexpString(ps *zygo.PrintState) string {
	min, max := s.solid.BoundingBox()
	return fmt.Sprintf("(%s [%.3g %.3g %.3g]..[%.3g %.3g %.3g])",
		s.op, min[0], min[1], min[2], max[0], max[1], max[2])
}
func (s *sexpSolid) Type() *zygo.RegisteredType { return nil }

// sexpVec3 wraps a 3-component vector.
type sexpVec3 struct {
	vec [3]float64
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec[0], v.vec[1], v.vec[2])
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
// A keyword followed by another keyword, or by nothing, is a flag.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if !ok {
			result.positional = append(result.positional, args[i])
			i++
			continue
		}
		if i+1 < len(args) {
			if _, next := isKW(args[i+1]); !next {
				result.kw[name] = args[i+1]
				i += 2
				continue
			}
		}
		result.kw[name] = zygo.SexpNull
		i++
	}
	return result
}

// flag reports whether the keyword was given.
func (a kwArgs) flag(name string) bool {
	_, ok := a.kw[name]
	return ok
}

// number returns keyword name if present, else positional argument pos.
func (a kwArgs) number(fn, name string, pos int) (float64, error) {
	v, ok := a.kw[name]
	if !ok {
		if pos >= len(a.positional) {
			return 0, fmt.Errorf("%s: missing %s", fn, name)
		}
		v = a.positional[pos]
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", fn, name, err)
	}
	return f, nil
}

// vector returns keyword name if present, else positional argument pos.
// Either a vec3 or three consecutive numbers are accepted positionally.
func (a kwArgs) vector(fn, name string, pos int) ([3]float64, error) {
	if v, ok := a.kw[name]; ok {
		vec, err := toVec3(v)
		if err != nil {
			return vec, fmt.Errorf("%s: %s: %w", fn, name, err)
		}
		return vec, nil
	}
	if pos >= len(a.positional) {
		return [3]float64{}, fmt.Errorf("%s: missing %s", fn, name)
	}
	if vec, err := toVec3(a.positional[pos]); err == nil {
		return vec, nil
	}
	if pos+3 > len(a.positional) {
		return [3]float64{}, fmt.Errorf("%s: %s: expected vec3 or three numbers", fn, name)
	}
	var vec [3]float64
	for i := range vec {
		f, err := toFloat64(a.positional[pos+i])
		if err != nil {
			return vec, fmt.Errorf("%s: %s: %w", fn, name, err)
		}
		vec[i] = f
	}
	return vec, nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toVec3 extracts a vector from a sexpVec3.
func toVec3(s zygo.Sexp) ([3]float64, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return [3]float64{}, fmt.Errorf("expected vec3, got %T (%s)", s, s.SexpString(nil))
}

// toSolid extracts a kernel.Solid from a sexpSolid.
func toSolid(s zygo.Sexp) (kernel.Solid, error) {
	if v, ok := s.(*sexpSolid); ok {
		return v.solid, nil
	}
	return nil, fmt.Errorf("expected solid, got %T (%s)", s, s.SexpString(nil))
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// solidArgs collects the solids of a variadic call. A single list or array
// argument is expanded.
func solidArgs(fn string, args []zygo.Sexp) ([]kernel.Solid, error) {
	if len(args) == 1 {
		if items, err := sexpListToSlice(args[0]); err == nil {
			args = items
		}
	}
	solids := make([]kernel.Solid, 0, len(args))
	for i, a := range args {
		s, err := toSolid(a)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", fn, i+1, err)
		}
		solids = append(solids, s)
	}
	return solids, nil
}

func positive(fn, name string, v float64) error {
	if !(v > 0) {
		return fmt.Errorf("%s: %s must be positive, got %g", fn, name, v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the scene builtins into a zygomys environment.
// Every solid is built with k.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, k kernel.Kernel) {

	// -----------------------------------------------------------------------
	// (vec3 1 2 3)
	// -----------------------------------------------------------------------
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}

		var vec [3]float64
		for i, axis := range []string{"x", "y", "z"} {
			f, err := toFloat64(args[i])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %s: %w", axis, err)
			}
			vec[i] = f
		}
		return &sexpVec3{vec: vec}, nil
	})

	// -----------------------------------------------------------------------
	// (box 0.2 0.1 0.1) (box :size (vec3 0.2 0.1 0.1) :centered)
	//
	// Without :centered the min corner sits on the origin.
	// -----------------------------------------------------------------------
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		size, err := pa.vector("box", "size", 0)
		if err != nil {
			return zygo.SexpNull, err
		}
		for i, axis := range []string{"x", "y", "z"} {
			if err := positive("box", axis, size[i]); err != nil {
				return zygo.SexpNull, err
			}
		}

		s := k.Box(size[0], size[1], size[2])
		if pa.flag("centered") {
			s = k.Translate(s, -size[0]/2, -size[1]/2, -size[2]/2)
		}
		return &sexpSolid{solid: s, op: "box"}, nil
	})

	// -----------------------------------------------------------------------
	// (sphere 0.1) (sphere :radius 0.1)
	// -----------------------------------------------------------------------
	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		r, err := pa.number("sphere", "radius", 0)
		if err != nil {
			return zygo.SexpNull, err
		}
		if err := positive("sphere", "radius", r); err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: k.Sphere(r), op: "sphere"}, nil
	})

	// -----------------------------------------------------------------------
	// (cylinder 0.3 0.05) (cylinder :height 0.3 :radius 0.05)
	// -----------------------------------------------------------------------
	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		h, err := pa.number("cylinder", "height", 0)
		if err != nil {
			return zygo.SexpNull, err
		}
		r, err := pa.number("cylinder", "radius", 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		if err := positive("cylinder", "height", h); err != nil {
			return zygo.SexpNull, err
		}
		if err := positive("cylinder", "radius", r); err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: k.Cylinder(h, r), op: "cylinder"}, nil
	})

	// -----------------------------------------------------------------------
	// (union a b ...) (intersection a b ...)
	// -----------------------------------------------------------------------
	fold := func(op string, combine func(a, b kernel.Solid) kernel.Solid) func(*zygo.Zlisp, string, []zygo.Sexp) (zygo.Sexp, error) {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			solids, err := solidArgs(op, args)
			if err != nil {
				return zygo.SexpNull, err
			}
			if len(solids) == 0 {
				return zygo.SexpNull, fmt.Errorf("%s requires at least one solid", op)
			}
			acc := solids[0]
			for _, s := range solids[1:] {
				acc = combine(acc, s)
			}
			return &sexpSolid{solid: acc, op: op}, nil
		}
	}
	env.AddFunction("union", fold("union", k.Union))
	env.AddFunction("intersection", fold("intersection", k.Intersection))

	// -----------------------------------------------------------------------
	// (difference base cutter ...)
	// -----------------------------------------------------------------------
	env.AddFunction("difference", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		solids, err := solidArgs("difference", args)
		if err != nil {
			return zygo.SexpNull, err
		}
		if len(solids) < 2 {
			return zygo.SexpNull, fmt.Errorf("difference requires a base and at least one cutter")
		}
		acc := solids[0]
		for _, s := range solids[1:] {
			acc = k.Difference(acc, s)
		}
		return &sexpSolid{solid: acc, op: "difference"}, nil
	})

	// -----------------------------------------------------------------------
	// (translate solid (vec3 0 0 0.1)) (translate solid :by (vec3 0 0 0.1))
	// -----------------------------------------------------------------------
	env.AddFunction("translate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("translate requires a solid as first argument")
		}
		s, err := toSolid(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("translate: %w", err)
		}
		by, err := pa.vector("translate", "by", 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: k.Translate(s, by[0], by[1], by[2]), op: "translate"}, nil
	})

	// -----------------------------------------------------------------------
	// (rotate solid (vec3 0 0 45)) (rotate solid :degrees (vec3 0 0 45))
	// -----------------------------------------------------------------------
	env.AddFunction("rotate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("rotate requires a solid as first argument")
		}
		s, err := toSolid(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("rotate: %w", err)
		}
		deg, err := pa.vector("rotate", "degrees", 1)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpSolid{solid: k.Rotate(s, deg[0], deg[1], deg[2]), op: "rotate"}, nil
	})
}
