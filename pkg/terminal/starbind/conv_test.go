package starbind

import (
	"reflect"
	"testing"

	"go.starlark.net/starlark"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll unmarshal into a slice.
x = [1,2]
y = (0x401000, 0x401100)
z = {"File": "a.c", "Line": 3}
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	var x []int
	err = unmarshalStarlarkValue(starlarkVal, &x, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 2 {
		t.Fatalf("expected [1 2], got: %v", x)
	}

	var y []uint64
	if err := unmarshalStarlarkValue(globals["y"], &y, "y"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(y, []uint64{0x401000, 0x401100}) {
		t.Fatalf("expected [0x401000 0x401100] got %#x", y)
	}

	var z Position
	if err := unmarshalStarlarkValue(globals["z"], &z, "z"); err != nil {
		t.Fatal(err)
	}
	if z.File != "a.c" || z.Line != 3 {
		t.Fatalf("expected a.c:3 got %#v", z)
	}

	var s string
	if err := unmarshalStarlarkValue(globals["x"], &s, "s"); err == nil {
		t.Fatal("list converted to string")
	}
}

func TestStructAttrs(t *testing.T) {
	env := &Env{}
	type hidden struct {
		Name   string
		secret int
	}
	v := env.interfaceToStarlarkValue(&hidden{Name: "x", secret: 1}).(structAsStarlarkValue)
	if names := v.AttrNames(); !reflect.DeepEqual(names, []string{"Name"}) {
		t.Fatalf("expected [Name] got %v", names)
	}
	if _, err := v.Attr("secret"); err == nil {
		t.Fatal("unexported field visible")
	}
	if got := v.String(); got != `hidden{Name: "x"}` {
		t.Fatalf("unexpected string %s", got)
	}
}
