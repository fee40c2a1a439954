package initwfn

import (
	"encoding/json"
	"testing"
)

func TestInitWFnJSON(t *testing.T) {
	inits := []*InitWFn{
		NewGlorotU(1.0),
		NewHeN(2.0),
		NewGaussian(0, 0.1),
		NewConstant(0.5),
		NewZeroes(),
	}

	for _, init := range inits {
		data, err := json.Marshal(init)
		if err != nil {
			t.Fatalf("marshal %v: %v", init, err)
		}

		var decoded InitWFn
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %v: %v", init, err)
		}
		if decoded.Type != init.Type || decoded.Config != init.Config {
			t.Fatalf("decoded \n\twant(%v)\n\thave(%v)", init, &decoded)
		}
		if decoded.InitWFn() == nil {
			t.Fatalf("decoded %v has no initializer", init)
		}
	}

	var bad InitWFn
	if err := json.Unmarshal([]byte(`{"Type":"Orthogonal"}`), &bad); err == nil {
		t.Fatalf("expected an error for an unknown initializer")
	}
}
