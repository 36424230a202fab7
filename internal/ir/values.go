package ir

import "fmt"

// IrValue is the closed set of constant-instruction payloads.
type IrValue interface {
	irValue()
	String() string
}

type (
	VVoid    struct{}
	VUndef   struct{ Type IrType }
	VNull    struct{ Type IrType }
	VBool    struct{ Val bool }
	VInt     struct {
		Val   int64
		Width IntWidth
		Unsigned bool
	}
	VF32     struct{ Val float32 }
	VF64     struct{ Val float64 }
	VString  struct{ Val string }
	VArray   struct{ Elems []IrValue }
	VStruct  struct{ Fields []IrValue }
	VFunction struct{ Func FunctionId }
	VClosure struct {
		Func     FunctionId
		Captures []IrValue
	}
)

func (VVoid) irValue()     {}
func (VUndef) irValue()    {}
func (VNull) irValue()     {}
func (VBool) irValue()     {}
func (VInt) irValue()      {}
func (VF32) irValue()      {}
func (VF64) irValue()      {}
func (VString) irValue()   {}
func (VArray) irValue()    {}
func (VStruct) irValue()   {}
func (VFunction) irValue() {}
func (VClosure) irValue()  {}

func (VVoid) String() string  { return "void" }
func (v VUndef) String() string { return "undef(" + v.Type.String() + ")" }
func (v VNull) String() string  { return "null(" + v.Type.String() + ")" }
func (v VBool) String() string  { return fmt.Sprintf("%t", v.Val) }
func (v VInt) String() string   { return fmt.Sprintf("%d", v.Val) }
func (v VF32) String() string   { return fmt.Sprintf("%gf32", v.Val) }
func (v VF64) String() string   { return fmt.Sprintf("%gf64", v.Val) }
func (v VString) String() string { return fmt.Sprintf("%q", v.Val) }
func (v VArray) String() string {
	s := "["
	for i, e := range v.Elems {
		if i > 0 {
			s += ", "
		}
		s += e.String()
	}
	return s + "]"
}
func (v VStruct) String() string {
	s := "{"
	for i, f := range v.Fields {
		if i > 0 {
			s += ", "
		}
		s += f.String()
	}
	return s + "}"
}
func (v VFunction) String() string { return "func:" + v.Func.String() }
func (v VClosure) String() string  { return "closure:" + v.Func.String() }

// TypeOfValue infers the IrType of a constant value. Container types
// carry enough structural information (element/field types) to be
// reconstructed from their contents; callers that need a declared
// type (e.g. an empty array literal) should track it alongside the
// value rather than relying on inference.
func TypeOfValue(v IrValue) IrType {
	switch x := v.(type) {
	case VVoid:
		return TVoid{}
	case VUndef:
		return x.Type
	case VNull:
		return x.Type
	case VBool:
		return TBool{}
	case VInt:
		return TInt{Width: x.Width, Unsigned: x.Unsigned}
	case VF32:
		return TF32{}
	case VF64:
		return TF64{}
	case VString:
		return TString{}
	case VArray:
		elemTy := IrType(TAny{})
		if len(x.Elems) > 0 {
			elemTy = TypeOfValue(x.Elems[0])
		}
		return TArray{Elem: elemTy, Length: len(x.Elems)}
	case VStruct:
		fields := make([]StructField, len(x.Fields))
		for i, f := range x.Fields {
			fields[i] = StructField{Name: fmt.Sprintf("f%d", i), Type: TypeOfValue(f)}
		}
		return TStruct{Fields: fields}
	case VFunction:
		return TFunction{}
	case VClosure:
		return TFunction{}
	default:
		return TAny{}
	}
}
