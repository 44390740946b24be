package bytecode

// ---------------------------------------------------------------------------
// Decoders: one instruction per call, cursor advanced past it
// ---------------------------------------------------------------------------

// DecodeCalc decodes exactly one calc instruction from r.
func DecodeCalc(r *Reader) (CalcInstruction, error) {
	start := r.Offset()
	b, err := r.ReadU8()
	if err != nil {
		return CalcInstruction{}, err
	}
	op := CalcOpcode(b)
	info, ok := LookupCalc(op)
	if !ok {
		return CalcInstruction{}, Unsupported(start, op.String(), "unknown calc opcode")
	}

	var args []Argument
	for _, f := range info.Fields {
		v, err := r.ReadI32()
		if err != nil {
			return CalcInstruction{}, err
		}
		args = append(args, Argument{Kind: argKindOf(f), Value: v})
	}
	return CalcInstruction{Op: op, Start: start, End: r.Offset(), Args: args}, nil
}

// DecodeCalcStream decodes a complete calc stream whose first byte sits at
// absolute offset base.
func DecodeCalcStream(buf []byte, base int) ([]CalcInstruction, error) {
	return decodeCalcAll(NewReader(buf, base))
}

func decodeCalcAll(r *Reader) ([]CalcInstruction, error) {
	var out []CalcInstruction
	for !r.Done() {
		ins, err := DecodeCalc(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, nil
}

// DecodeRoot decodes exactly one root instruction from r, including any
// embedded calc stream.
func DecodeRoot(r *Reader) (RootInstruction, error) {
	start := r.Offset()
	code, err := r.ReadU16()
	if err != nil {
		return RootInstruction{}, err
	}
	op := RootOpcode(code)
	info, ok := LookupRoot(op)
	if !ok {
		return RootInstruction{}, Unsupported(start, op.String(), "unknown root opcode")
	}

	ins := RootInstruction{Op: op, Start: start}
	calcSeen := false
	for _, f := range info.Fields {
		switch f {
		case FieldInt, FieldVar, FieldOffset:
			v, err := r.ReadI32()
			if err != nil {
				return RootInstruction{}, err
			}
			ins.Args = append(ins.Args, Argument{Kind: argKindOf(f), Value: v})

		case FieldBool:
			v, err := r.ReadBool()
			if err != nil {
				return RootInstruction{}, err
			}
			arg := Argument{Kind: ArgBool}
			if v {
				arg.Value = 1
			}
			ins.Args = append(ins.Args, arg)

		case FieldString:
			s, err := r.ReadString(StringFieldSize)
			if err != nil {
				return RootInstruction{}, err
			}
			ins.Args = append(ins.Args, Argument{Kind: ArgString, Text: s})

		case FieldBlob:
			b, err := r.ReadBytes(BlobFieldSize)
			if err != nil {
				return RootInstruction{}, err
			}
			ins.Args = append(ins.Args, Argument{Kind: ArgBlob, Blob: b})

		case FieldCaseTable:
			n, err := r.ReadI32()
			if err != nil {
				return RootInstruction{}, err
			}
			if n < 0 {
				return RootInstruction{}, Malformed(start, "negative case count %d", n)
			}
			ins.Args = append(ins.Args, Argument{Kind: ArgImmediate, Value: n})
			for i := int32(0); i < n; i++ {
				v, err := r.ReadI32()
				if err != nil {
					return RootInstruction{}, err
				}
				off, err := r.ReadI32()
				if err != nil {
					return RootInstruction{}, err
				}
				ins.Args = append(ins.Args,
					Argument{Kind: ArgImmediate, Value: v},
					Argument{Kind: ArgOffset, Value: off})
			}

		case FieldCalc:
			n, err := r.ReadI32()
			if err != nil {
				return RootInstruction{}, err
			}
			sub, err := r.Sub(int(n))
			if err != nil {
				return RootInstruction{}, err
			}
			ins.CalcStart = sub.Offset()
			calc, err := decodeCalcAll(sub)
			if err != nil {
				return RootInstruction{}, err
			}
			ins.Calc = calc
			ins.CalcEnd = r.Offset()
			calcSeen = true
		}
	}

	ins.End = r.Offset()
	if !calcSeen {
		ins.CalcStart, ins.CalcEnd = ins.End, ins.End
	}
	return ins, nil
}

// DecodeScript decodes a whole root stream.
func DecodeScript(buf []byte) ([]RootInstruction, error) {
	r := NewReader(buf, 0)
	var out []RootInstruction
	for !r.Done() {
		ins, err := DecodeRoot(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, nil
}

func argKindOf(f Field) ArgKind {
	switch f {
	case FieldVar:
		return ArgVariable
	case FieldOffset:
		return ArgOffset
	case FieldBool:
		return ArgBool
	case FieldString:
		return ArgString
	case FieldBlob:
		return ArgBlob
	default:
		return ArgImmediate
	}
}
