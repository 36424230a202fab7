package ir

import "fmt"

// IrType is a closed set of type variants. Two types are compatible if
// they are equal or one of them is Any.
type IrType interface {
	irType()
	String() string
	// Equal reports structural equality with other.
	Equal(other IrType) bool
}

// IntWidth is the bit width of an integer type.
type IntWidth int

const (
	Width8 IntWidth = 8
	Width16 IntWidth = 16
	Width32 IntWidth = 32
	Width64 IntWidth = 64
)

type (
	// TVoid is the unit type, produced by statements with no value.
	TVoid struct{}
	// TBool is the boolean type.
	TBool struct{}
	// TInt is a fixed-width integer type, signed or unsigned.
	TInt struct {
		Width    IntWidth
		Unsigned bool
	}
	// TF32 is IEEE-754 single precision.
	TF32 struct{}
	// TF64 is IEEE-754 double precision.
	TF64 struct{}
	// TString is the host string type.
	TString struct{}
	// TPtr is a typed pointer to Elem.
	TPtr struct{ Elem IrType }
	// TRef is a typed reference to Elem (distinct from TPtr for
	// ownership/borrow-checking purposes, same layout otherwise).
	TRef struct{ Elem IrType }
	// TArray is a fixed-length array of Elem.
	TArray struct {
		Elem   IrType
		Length int
	}
	// TFunction is a first-class function signature.
	TFunction struct {
		Params     []IrType
		ReturnType IrType
	}
	// TStruct is a nominal-free structural aggregate of named fields.
	TStruct struct{ Fields []StructField }
	// TAny is the top type: compatible with every other type.
	TAny struct{}
)

// StructField names one field of a TStruct.
type StructField struct {
	Name string
	Type IrType
}

func (TVoid) irType()     {}
func (TBool) irType()     {}
func (TInt) irType()      {}
func (TF32) irType()      {}
func (TF64) irType()      {}
func (TString) irType()   {}
func (TPtr) irType()      {}
func (TRef) irType()      {}
func (TArray) irType()    {}
func (TFunction) irType() {}
func (TStruct) irType()   {}
func (TAny) irType()      {}

func (TVoid) String() string   { return "void" }
func (TBool) String() string   { return "bool" }
func (t TInt) String() string {
	prefix := "i"
	if t.Unsigned {
		prefix = "u"
	}
	return fmt.Sprintf("%s%d", prefix, t.Width)
}
func (TF32) String() string   { return "f32" }
func (TF64) String() string   { return "f64" }
func (TString) String() string { return "string" }
func (t TPtr) String() string  { return "ptr<" + t.Elem.String() + ">" }
func (t TRef) String() string  { return "ref<" + t.Elem.String() + ">" }
func (t TArray) String() string {
	return fmt.Sprintf("[%s;%d]", t.Elem.String(), t.Length)
}
func (t TFunction) String() string {
	s := "fn("
	for i, p := range t.Params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	return s + ") -> " + t.ReturnType.String()
}
func (t TStruct) String() string {
	s := "struct{"
	for i, f := range t.Fields {
		if i > 0 {
			s += ", "
		}
		s += f.Name + ": " + f.Type.String()
	}
	return s + "}"
}
func (TAny) String() string { return "any" }

// Equal reports whether two types are structurally identical (not
// merely compatible — see Compatible for the Any-aware relation).
func (TVoid) Equal(o IrType) bool { _, ok := o.(TVoid); return ok }
func (TBool) Equal(o IrType) bool { _, ok := o.(TBool); return ok }
func (t TInt) Equal(o IrType) bool {
	other, ok := o.(TInt)
	return ok && other.Width == t.Width && other.Unsigned == t.Unsigned
}
func (TF32) Equal(o IrType) bool   { _, ok := o.(TF32); return ok }
func (TF64) Equal(o IrType) bool   { _, ok := o.(TF64); return ok }
func (TString) Equal(o IrType) bool { _, ok := o.(TString); return ok }
func (t TPtr) Equal(o IrType) bool {
	other, ok := o.(TPtr)
	return ok && t.Elem.Equal(other.Elem)
}
func (t TRef) Equal(o IrType) bool {
	other, ok := o.(TRef)
	return ok && t.Elem.Equal(other.Elem)
}
func (t TArray) Equal(o IrType) bool {
	other, ok := o.(TArray)
	return ok && t.Length == other.Length && t.Elem.Equal(other.Elem)
}
func (t TFunction) Equal(o IrType) bool {
	other, ok := o.(TFunction)
	if !ok || len(t.Params) != len(other.Params) || !t.ReturnType.Equal(other.ReturnType) {
		return false
	}
	for i := range t.Params {
		if !t.Params[i].Equal(other.Params[i]) {
			return false
		}
	}
	return true
}
func (t TStruct) Equal(o IrType) bool {
	other, ok := o.(TStruct)
	if !ok || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i].Name != other.Fields[i].Name || !t.Fields[i].Type.Equal(other.Fields[i].Type) {
			return false
		}
	}
	return true
}
func (TAny) Equal(o IrType) bool { _, ok := o.(TAny); return ok }

// Compatible reports whether a value of type b may be used where a is
// expected: true if the types are equal, or either is TAny.
func Compatible(a, b IrType) bool {
	if _, ok := a.(TAny); ok {
		return true
	}
	if _, ok := b.(TAny); ok {
		return true
	}
	return a.Equal(b)
}

// SizeOf returns the byte width of t, used by escape analysis's
// stack-allocation size estimate. Aggregate sizes are the
// flat sum of field sizes; no padding/alignment is modeled, matching
// the IR's treatment of GetElementPtr indices as flat field offsets.
func SizeOf(t IrType) int {
	switch v := t.(type) {
	case TVoid:
		return 0
	case TBool:
		return 1
	case TInt:
		return int(v.Width) / 8
	case TF32:
		return 4
	case TF64:
		return 8
	case TString:
		return 16 // (ptr, len) pair, matching a fat-pointer string repr
	case TPtr:
		return 8
	case TRef:
		return 8
	case TArray:
		return SizeOf(v.Elem) * v.Length
	case TFunction:
		return 8
	case TStruct:
		total := 0
		for _, f := range v.Fields {
			total += SizeOf(f.Type)
		}
		return total
	case TAny:
		return 16
	default:
		return 0
	}
}

var (
	I8  = TInt{Width: Width8}
	I16 = TInt{Width: Width16}
	I32 = TInt{Width: Width32}
	I64 = TInt{Width: Width64}
	U8  = TInt{Width: Width8, Unsigned: true}
	U16 = TInt{Width: Width16, Unsigned: true}
	U32 = TInt{Width: Width32, Unsigned: true}
	U64 = TInt{Width: Width64, Unsigned: true}
)
