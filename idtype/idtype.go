// Package idtype narrows allocated ids into the integer type a caller asked
// for. Registries always hand out uint64 values; whether such a value fits
// a narrower type is the caller's concern and is checked here instead of
// being truncated.
package idtype

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/zfair/zuid/zerrors"
)

// Default is the id type used when a caller does not name one.
const Default = "u64"

// Type describes a target integer type.
type Type struct {
	Name   string
	Bits   int
	Signed bool
}

var types = map[string]Type{
	"u8":    {Name: "u8", Bits: 8},
	"u16":   {Name: "u16", Bits: 16},
	"u32":   {Name: "u32", Bits: 32},
	"u64":   {Name: "u64", Bits: 64},
	"u128":  {Name: "u128", Bits: 128},
	"usize": {Name: "usize", Bits: 64},
	"i8":    {Name: "i8", Bits: 8, Signed: true},
	"i16":   {Name: "i16", Bits: 16, Signed: true},
	"i32":   {Name: "i32", Bits: 32, Signed: true},
	"i64":   {Name: "i64", Bits: 64, Signed: true},
	"i128":  {Name: "i128", Bits: 128, Signed: true},
	"isize": {Name: "isize", Bits: 64, Signed: true},
}

var aliases = map[string]string{
	"uint8":  "u8",
	"uint16": "u16",
	"uint32": "u32",
	"uint64": "u64",
	"uint":   "u64",
	"int8":   "i8",
	"int16":  "i16",
	"int32":  "i32",
	"int64":  "i64",
	"int":    "i64",
}

// Parse resolves a type name. An empty name means Default.
func Parse(name string) (Type, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = Default
	}
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	t, ok := types[key]
	if !ok {
		return Type{}, errors.Wrapf(zerrors.ErrUnknownIDType, "%q", name)
	}
	return t, nil
}

// MustParse is Parse for names known to be valid.
func MustParse(name string) Type {
	t, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Type) String() string { return t.Name }

// Max is the largest id the type can hold, saturated at math.MaxUint64.
func (t Type) Max() uint64 {
	bits := t.Bits
	if t.Signed {
		bits--
	}
	if bits >= 64 {
		return math.MaxUint64
	}
	return 1<<uint(bits) - 1
}

// Fits reports whether id is representable in t.
func (t Type) Fits(id uint64) bool {
	return id <= t.Max()
}

// Narrow returns id unchanged when it fits in t, and a *NarrowingError
// otherwise.
func (t Type) Narrow(id uint64) (uint64, error) {
	if !t.Fits(id) {
		return 0, &zerrors.NarrowingError{ID: id, Target: t.Name}
	}
	return id, nil
}

// Integer lists the Go integer types As converts into.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// As converts id into T, failing instead of wrapping around.
func As[T Integer](id uint64) (T, error) {
	v := T(id)
	if v < 0 || uint64(v) != id {
		var zero T
		return zero, &zerrors.NarrowingError{ID: id, Target: fmt.Sprintf("%T", zero)}
	}
	return v, nil
}
