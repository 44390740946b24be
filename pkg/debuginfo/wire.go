package debuginfo

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so identical maps encode to identical
// bytes, which keeps cached entries comparable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("debuginfo: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a ScriptDebugInfo to CBOR bytes.
func Marshal(d *ScriptDebugInfo) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// Unmarshal deserializes a ScriptDebugInfo from CBOR bytes and checks that
// every run table is well formed.
func Unmarshal(data []byte) (*ScriptDebugInfo, error) {
	var d ScriptDebugInfo
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("debuginfo: unmarshal: %w", err)
	}
	if err := validate(d.Offsets); err != nil {
		return nil, fmt.Errorf("debuginfo: offsets: %w", err)
	}
	for i, l := range d.Lines {
		if err := validate(l); err != nil {
			return nil, fmt.Errorf("debuginfo: line %d: %w", i, err)
		}
	}
	return &d, nil
}

func validate[T comparable](r RangeDebugInfo[T]) error {
	if len(r.Lengths) != len(r.Values) {
		return fmt.Errorf("%d lengths for %d values", len(r.Lengths), len(r.Values))
	}
	for i, l := range r.Lengths {
		if l <= 0 {
			return fmt.Errorf("run %d has length %d", i, l)
		}
	}
	return nil
}
