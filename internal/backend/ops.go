package backend

import (
	"fmt"
	"math"

	"jitcore/internal/ir"
)

func asInt(v ir.IrValue) (int64, bool) {
	i, ok := v.(ir.VInt)
	return i.Val, ok
}

func asFloat(v ir.IrValue) (float64, bool) {
	switch f := v.(type) {
	case ir.VF64:
		return f.Val, true
	case ir.VF32:
		return float64(f.Val), true
	}
	return 0, false
}

func evalBinOp(op ir.BinOpKind, l, r ir.IrValue) (ir.IrValue, error) {
	if lf, lok := asFloat(l); lok {
		rf, rok := asFloat(r)
		if !rok {
			return nil, fmt.Errorf("backend: binop operand type mismatch")
		}
		return evalFloatBinOp(op, lf, rf)
	}
	li, lok := asInt(l)
	ri, rok := asInt(r)
	if !lok || !rok {
		return nil, fmt.Errorf("backend: binop on non-numeric operands")
	}
	width, unsigned := ir.Width64, false
	if lv, ok := l.(ir.VInt); ok {
		width, unsigned = lv.Width, lv.Unsigned
	}
	switch op {
	case ir.BAdd:
		return ir.VInt{Val: li + ri, Width: width, Unsigned: unsigned}, nil
	case ir.BSub:
		return ir.VInt{Val: li - ri, Width: width, Unsigned: unsigned}, nil
	case ir.BMul:
		return ir.VInt{Val: li * ri, Width: width, Unsigned: unsigned}, nil
	case ir.BDiv:
		if ri == 0 {
			return nil, fmt.Errorf("backend: integer division by zero")
		}
		return ir.VInt{Val: li / ri, Width: width, Unsigned: unsigned}, nil
	case ir.BRem:
		if ri == 0 {
			return nil, fmt.Errorf("backend: integer modulo by zero")
		}
		return ir.VInt{Val: li % ri, Width: width, Unsigned: unsigned}, nil
	case ir.BAnd:
		return ir.VInt{Val: li & ri, Width: width, Unsigned: unsigned}, nil
	case ir.BOr:
		return ir.VInt{Val: li | ri, Width: width, Unsigned: unsigned}, nil
	case ir.BXor:
		return ir.VInt{Val: li ^ ri, Width: width, Unsigned: unsigned}, nil
	case ir.BShl:
		return ir.VInt{Val: li << uint64(ri), Width: width, Unsigned: unsigned}, nil
	case ir.BShr:
		return ir.VInt{Val: li >> uint64(ri), Width: width, Unsigned: unsigned}, nil
	default:
		return nil, fmt.Errorf("backend: unsupported integer binop %v", op)
	}
}

func evalFloatBinOp(op ir.BinOpKind, l, r float64) (ir.IrValue, error) {
	switch op {
	case ir.BFAdd:
		return ir.VF64{Val: l + r}, nil
	case ir.BFSub:
		return ir.VF64{Val: l - r}, nil
	case ir.BFMul:
		return ir.VF64{Val: l * r}, nil
	case ir.BFDiv:
		return ir.VF64{Val: l / r}, nil
	case ir.BFRem:
		return ir.VF64{Val: math.Mod(l, r)}, nil
	default:
		return nil, fmt.Errorf("backend: unsupported float binop %v", op)
	}
}

func evalUnOp(op ir.UnOpKind, x ir.IrValue) (ir.IrValue, error) {
	switch op {
	case ir.UNeg:
		i, ok := asInt(x)
		if !ok {
			return nil, fmt.Errorf("backend: UNeg on non-int operand")
		}
		return ir.VInt{Val: -i}, nil
	case ir.UFNeg:
		f, ok := asFloat(x)
		if !ok {
			return nil, fmt.Errorf("backend: UFNeg on non-float operand")
		}
		return ir.VF64{Val: -f}, nil
	case ir.UNot:
		b, ok := x.(ir.VBool)
		if !ok {
			return nil, fmt.Errorf("backend: UNot on non-bool operand")
		}
		return ir.VBool{Val: !b.Val}, nil
	default:
		return nil, fmt.Errorf("backend: unsupported unop %v", op)
	}
}

func evalCmp(op ir.CmpOpKind, l, r ir.IrValue) (ir.IrValue, error) {
	var cmp int
	switch {
	case isFloatValue(l) || isFloatValue(r):
		lf, lok := asFloat(l)
		rf, rok := asFloat(r)
		if !lok || !rok {
			return nil, fmt.Errorf("backend: cmp operand type mismatch")
		}
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		default:
			cmp = 0
		}
	default:
		li, lok := asInt(l)
		ri, rok := asInt(r)
		if !lok || !rok {
			return evalNonNumericCmp(op, l, r)
		}
		switch {
		case li < ri:
			cmp = -1
		case li > ri:
			cmp = 1
		default:
			cmp = 0
		}
	}
	return ir.VBool{Val: cmpSatisfies(op, cmp)}, nil
}

func isFloatValue(v ir.IrValue) bool {
	switch v.(type) {
	case ir.VF32, ir.VF64:
		return true
	}
	return false
}

func cmpSatisfies(op ir.CmpOpKind, cmp int) bool {
	switch op {
	case ir.CEq:
		return cmp == 0
	case ir.CNe:
		return cmp != 0
	case ir.CLt:
		return cmp < 0
	case ir.CLe:
		return cmp <= 0
	case ir.CGt:
		return cmp > 0
	case ir.CGe:
		return cmp >= 0
	default:
		return false
	}
}

func evalNonNumericCmp(op ir.CmpOpKind, l, r ir.IrValue) (ir.IrValue, error) {
	if lb, ok := l.(ir.VBool); ok {
		if rb, ok := r.(ir.VBool); ok {
			eq := lb.Val == rb.Val
			switch op {
			case ir.CEq:
				return ir.VBool{Val: eq}, nil
			case ir.CNe:
				return ir.VBool{Val: !eq}, nil
			}
		}
	}
	if ls, ok := l.(ir.VString); ok {
		if rs, ok := r.(ir.VString); ok {
			switch op {
			case ir.CEq:
				return ir.VBool{Val: ls.Val == rs.Val}, nil
			case ir.CNe:
				return ir.VBool{Val: ls.Val != rs.Val}, nil
			case ir.CLt:
				return ir.VBool{Val: ls.Val < rs.Val}, nil
			case ir.CLe:
				return ir.VBool{Val: ls.Val <= rs.Val}, nil
			case ir.CGt:
				return ir.VBool{Val: ls.Val > rs.Val}, nil
			case ir.CGe:
				return ir.VBool{Val: ls.Val >= rs.Val}, nil
			}
		}
	}
	return nil, fmt.Errorf("backend: unsupported cmp operand types")
}

func evalCast(kind ir.CastKind, src ir.IrValue, target ir.IrType) ir.IrValue {
	switch kind {
	case ir.CastIntToInt:
		i, _ := asInt(src)
		width, unsigned := ir.Width64, false
		if t, ok := target.(ir.TInt); ok {
			width, unsigned = t.Width, t.Unsigned
		}
		return ir.VInt{Val: truncate(i, width), Width: width, Unsigned: unsigned}
	case ir.CastIntToFloat:
		i, _ := asInt(src)
		if _, ok := target.(ir.TF32); ok {
			return ir.VF32{Val: float32(i)}
		}
		return ir.VF64{Val: float64(i)}
	case ir.CastFloatToInt:
		f, _ := asFloat(src)
		width, unsigned := ir.Width64, false
		if t, ok := target.(ir.TInt); ok {
			width, unsigned = t.Width, t.Unsigned
		}
		return ir.VInt{Val: int64(f), Width: width, Unsigned: unsigned}
	case ir.CastFloatToFloat:
		f, _ := asFloat(src)
		if _, ok := target.(ir.TF32); ok {
			return ir.VF32{Val: float32(f)}
		}
		return ir.VF64{Val: f}
	case ir.CastIntToBool:
		i, _ := asInt(src)
		return ir.VBool{Val: i != 0}
	case ir.CastPtrToPtr:
		return src
	default:
		return src
	}
}

func truncate(v int64, width ir.IntWidth) int64 {
	switch width {
	case ir.Width8:
		return int64(int8(v))
	case ir.Width16:
		return int64(int16(v))
	case ir.Width32:
		return int64(int32(v))
	default:
		return v
	}
}
