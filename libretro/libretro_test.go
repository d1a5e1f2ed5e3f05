package libretro

import (
	"reflect"
	"testing"
	"unsafe"
)

func newBareCore() *Core {
	return &Core{
		pixelFormat: PixelFormat0RGB1555,
		options:     make(map[string]*coreOption),
	}
}

func TestParseVariableSpec(t *testing.T) {
	tests := []struct {
		spec   string
		desc   string
		values []string
	}{
		{"Region; auto|ntsc|pal", "Region", []string{"auto", "ntsc", "pal"}},
		{"Overclock;disabled|enabled", "Overclock", []string{"disabled", "enabled"}},
		{"Only one; yes", "Only one", []string{"yes"}},
		{"no separator", "", nil},
		{"Empty values; ", "Empty values", nil},
	}
	for _, tt := range tests {
		desc, values := parseVariableSpec(tt.spec)
		if desc != tt.desc {
			t.Errorf("parseVariableSpec(%q) desc = %q, want %q", tt.spec, desc, tt.desc)
		}
		if !reflect.DeepEqual(values, tt.values) {
			t.Errorf("parseVariableSpec(%q) values = %v, want %v", tt.spec, values, tt.values)
		}
	}
}

func TestCStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", "path/with/слэш"} {
		buf := cstring(s)
		if buf[len(buf)-1] != 0 {
			t.Fatalf("cstring(%q) not NUL-terminated", s)
		}
		if got := gostring(cstringPtr(buf)); got != s {
			t.Errorf("round trip of %q = %q", s, got)
		}
	}
	if gostring(nil) != "" {
		t.Error("gostring(nil) should be empty")
	}
}

func TestPixelFormat(t *testing.T) {
	tests := []struct {
		pf   PixelFormat
		name string
		bpp  int
	}{
		{PixelFormat0RGB1555, "0RGB1555", 2},
		{PixelFormatXRGB8888, "XRGB8888", 4},
		{PixelFormatRGB565, "RGB565", 2},
	}
	for _, tt := range tests {
		if tt.pf.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.pf.String(), tt.name)
		}
		if tt.pf.BytesPerPixel() != tt.bpp {
			t.Errorf("%s BytesPerPixel() = %d, want %d", tt.name, tt.pf.BytesPerPixel(), tt.bpp)
		}
	}
}

// buildVariableArray lays out a NULL-key-terminated cVariable array the
// way a core's SET_VARIABLES call does, returning the backing storage so
// it stays reachable.
func buildVariableArray(pairs [][2]string) ([]cVariable, [][]byte) {
	var keep [][]byte
	arr := make([]cVariable, 0, len(pairs)+1)
	for _, p := range pairs {
		k, v := cstring(p[0]), cstring(p[1])
		keep = append(keep, k, v)
		arr = append(arr, cVariable{key: cstringPtr(k), value: cstringPtr(v)})
	}
	arr = append(arr, cVariable{}) // terminator
	return arr, keep
}

func TestDeclareVariables(t *testing.T) {
	c := newBareCore()
	arr, keep := buildVariableArray([][2]string{
		{"sys_region", "Region; auto|ntsc|pal"},
		{"sys_overclock", "Overclock; disabled|enabled"},
	})
	defer func() { _ = keep }()

	c.declareVariables(&arr[0])

	if got := c.Options(); !reflect.DeepEqual(got, []string{"sys_region", "sys_overclock"}) {
		t.Fatalf("Options() = %v", got)
	}
	if v, ok := c.Capability("sys_region"); !ok || v != "auto" {
		t.Errorf("Capability(sys_region) = %q, %v; want default auto", v, ok)
	}
	if vals := c.OptionValues("sys_overclock"); !reflect.DeepEqual(vals, []string{"disabled", "enabled"}) {
		t.Errorf("OptionValues = %v", vals)
	}
	if !c.optionsDirty {
		t.Error("declaring variables should mark options dirty")
	}
}

func TestSetOption(t *testing.T) {
	c := newBareCore()
	arr, keep := buildVariableArray([][2]string{
		{"sys_region", "Region; auto|ntsc|pal"},
	})
	defer func() { _ = keep }()
	c.declareVariables(&arr[0])
	c.optionsDirty = false

	if err := c.SetOption("sys_region", "pal"); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Capability("sys_region"); v != "pal" {
		t.Errorf("after SetOption, Capability = %q", v)
	}
	if !c.optionsDirty {
		t.Error("SetOption should mark options dirty")
	}
	if err := c.SetOption("no_such_key", "x"); err == nil {
		t.Error("SetOption on unknown key should fail")
	}
}

func TestEnvironVariableQuery(t *testing.T) {
	c := newBareCore()
	arr, keep := buildVariableArray([][2]string{
		{"sys_region", "Region; auto|ntsc|pal"},
	})
	defer func() { _ = keep }()
	c.declareVariables(&arr[0])

	key := cstring("sys_region")
	q := cVariable{key: cstringPtr(key)}
	if !c.handleEnviron(envGetVariable, unsafe.Pointer(&q)) {
		t.Fatal("GET_VARIABLE for declared key should succeed")
	}
	if got := gostring(q.value); got != "auto" {
		t.Errorf("GET_VARIABLE value = %q, want auto", got)
	}

	miss := cstring("unknown")
	q = cVariable{key: cstringPtr(miss)}
	if c.handleEnviron(envGetVariable, unsafe.Pointer(&q)) {
		t.Error("GET_VARIABLE for unknown key should be refused")
	}
}

func TestEnvironVariableUpdate(t *testing.T) {
	c := newBareCore()
	c.optionsDirty = true

	var updated bool
	if !c.handleEnviron(envGetVariableUpdate, unsafe.Pointer(&updated)) {
		t.Fatal("GET_VARIABLE_UPDATE should be supported")
	}
	if !updated {
		t.Error("first poll after a change should report an update")
	}
	c.handleEnviron(envGetVariableUpdate, unsafe.Pointer(&updated))
	if updated {
		t.Error("second poll should report no update")
	}
}

func TestEnvironPixelFormat(t *testing.T) {
	c := newBareCore()

	pf := uint32(PixelFormatRGB565)
	if !c.handleEnviron(envSetPixelFormat, unsafe.Pointer(&pf)) {
		t.Fatal("RGB565 should be accepted")
	}
	if c.PixelFormat() != PixelFormatRGB565 {
		t.Errorf("PixelFormat = %v", c.PixelFormat())
	}

	pf = 99
	if c.handleEnviron(envSetPixelFormat, unsafe.Pointer(&pf)) {
		t.Error("unknown pixel format should be refused")
	}
	if c.PixelFormat() != PixelFormatRGB565 {
		t.Error("refused format must not change negotiated format")
	}
}

func TestEnvironDirectories(t *testing.T) {
	c := newBareCore()

	var dir *byte
	if c.handleEnviron(envGetSystemDirectory, unsafe.Pointer(&dir)) {
		t.Error("system dir should be refused when unset")
	}

	c.systemDir = cstring("/var/lib/retroarcade/system")
	c.saveDir = cstring("/var/lib/retroarcade/saves")
	if !c.handleEnviron(envGetSystemDirectory, unsafe.Pointer(&dir)) {
		t.Fatal("system dir should be provided once set")
	}
	if got := gostring(dir); got != "/var/lib/retroarcade/system" {
		t.Errorf("system dir = %q", got)
	}
	if !c.handleEnviron(envGetSaveDirectory, unsafe.Pointer(&dir)) {
		t.Fatal("save dir should be provided once set")
	}
	if got := gostring(dir); got != "/var/lib/retroarcade/saves" {
		t.Errorf("save dir = %q", got)
	}
}

func TestEnvironMisc(t *testing.T) {
	c := newBareCore()

	var b bool
	if !c.handleEnviron(envGetCanDupe, unsafe.Pointer(&b)) || !b {
		t.Error("can-dupe should be true")
	}
	if !c.handleEnviron(envGetOverscan, unsafe.Pointer(&b)) {
		t.Error("overscan query should be answered")
	}

	if c.ShutdownRequested() {
		t.Fatal("fresh core must not report shutdown")
	}
	if !c.handleEnviron(envShutdown, nil) {
		t.Error("shutdown request should be accepted")
	}
	if !c.ShutdownRequested() {
		t.Error("shutdown flag should latch")
	}

	noGame := true
	c.handleEnviron(envSetSupportNoGame, unsafe.Pointer(&noGame))
	if v, _ := c.Capability("support_no_game"); v != "true" {
		t.Errorf("support_no_game = %q", v)
	}

	var lang uint32 = 7
	if !c.handleEnviron(envGetLanguage, unsafe.Pointer(&lang)) || lang != 0 {
		t.Errorf("language = %d, want 0", lang)
	}

	if c.handleEnviron(envGetLogInterface, nil) {
		t.Error("log interface should be refused")
	}
	if c.handleEnviron(1000, nil) {
		t.Error("unknown command should be refused")
	}
}

func TestEnvironSetGeometry(t *testing.T) {
	c := newBareCore()
	c.avInfo.Geometry = Geometry{BaseWidth: 256, BaseHeight: 224, MaxWidth: 512, MaxHeight: 448}

	g := cGameGeometry{baseWidth: 320, baseHeight: 240, aspectRatio: 4.0 / 3.0}
	if !c.handleEnviron(envSetGeometry, unsafe.Pointer(&g)) {
		t.Fatal("SET_GEOMETRY should be accepted")
	}
	geo := c.AVInfo().Geometry
	if geo.BaseWidth != 320 || geo.BaseHeight != 240 {
		t.Errorf("geometry = %dx%d", geo.BaseWidth, geo.BaseHeight)
	}
	if geo.MaxWidth != 512 || geo.MaxHeight != 448 {
		t.Error("SET_GEOMETRY must not alter max dimensions")
	}
}

func TestRefcounting(t *testing.T) {
	c := newBareCore()
	if c.Refs() != 0 {
		t.Fatalf("fresh core refs = %d", c.Refs())
	}
	c.Retain()
	c.Retain()
	c.Release()
	if c.Refs() != 1 {
		t.Errorf("refs = %d, want 1", c.Refs())
	}
}

func TestCapabilityUnknown(t *testing.T) {
	c := newBareCore()
	if _, ok := c.Capability("nonexistent"); ok {
		t.Error("unknown capability should report absence")
	}
	if v, ok := c.Capability("pixel_format"); !ok || v != "0RGB1555" {
		t.Errorf("pixel_format capability = %q, %v", v, ok)
	}
}

func TestStructLayouts(t *testing.T) {
	// These mirror libretro.h on 64-bit platforms; a size drift here
	// corrupts every call into the core.
	if s := unsafe.Sizeof(cSystemInfo{}); s != 32 {
		t.Errorf("cSystemInfo size = %d, want 32", s)
	}
	if s := unsafe.Sizeof(cGameGeometry{}); s != 24 {
		t.Errorf("cGameGeometry size = %d, want 24", s)
	}
	if s := unsafe.Sizeof(cSystemTiming{}); s != 16 {
		t.Errorf("cSystemTiming size = %d, want 16", s)
	}
	if s := unsafe.Sizeof(cAVInfo{}); s != 40 {
		t.Errorf("cAVInfo size = %d, want 40", s)
	}
	if s := unsafe.Sizeof(cGameInfo{}); s != 32 {
		t.Errorf("cGameInfo size = %d, want 32", s)
	}
}
