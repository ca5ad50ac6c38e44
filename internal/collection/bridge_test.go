package collection

import (
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/hostbridge/internal/keycodec"
	"github.com/joeycumines/hostbridge/internal/scripting"
)

type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
)

func newContext(t *testing.T, features scripting.Features) *scripting.Context {
	t.Helper()
	ctx := scripting.NewContext(goja.New(),
		scripting.WithFeatures(features),
		scripting.WithWrapFactory(Wrapper{}),
		scripting.WithDiagnostics(scripting.NewDiagnostics(100, nil)))
	scripting.RegisterEnum(ctx.Enums(), map[string]Weekday{"MONDAY": Monday, "TUESDAY": Tuesday})
	return ctx
}

func bind(t *testing.T, ctx *scripting.Context, coll Collection) *Bridge {
	t.Helper()
	b := New(ctx, coll)
	require.NoError(t, ctx.Runtime().Set("m", b.Object()))
	return b
}

func run(t *testing.T, ctx *scripting.Context, src string) goja.Value {
	t.Helper()
	v, err := ctx.Runtime().RunString(src)
	require.NoError(t, err)
	return v
}

func keyStrings(keys []keycodec.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func TestBridge_StringKeysNeverBuildTable(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[string, int]().MustPut("a", 1).MustPut("b", 2)
	b := bind(t, ctx, l)

	v := run(t, ctx, `m.c = m.a + m.b; [m.c, "a" in m, "z" in m, Object.keys(m).join(",")].join("|")`)
	assert.Equal(t, "3|true|false|a,b,c", v.String())
	assert.False(t, b.Codec().HasTable())

	got, ok := l.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestBridge_UntypedStringKeysNeverBuildTable(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	b := bind(t, ctx, NewLinked(nil, nil).MustPut("x", "y"))
	assert.Equal(t, "y", run(t, ctx, `m.x`).String())
	_, err := b.Keys()
	require.NoError(t, err)
	assert.False(t, b.Codec().HasTable())
}

func TestBridge_PutGetRoundTrip(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[string, any]()
	b := bind(t, ctx, l)

	for _, v := range []goja.Value{
		ctx.Runtime().ToValue("text"),
		ctx.Runtime().ToValue(int64(42)),
		ctx.Runtime().ToValue(1.5),
		ctx.Runtime().ToValue(true),
	} {
		require.NoError(t, b.Put(keycodec.NameKey("k"), v))
		got, ok, err := b.Get(keycodec.NameKey("k"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, v.Export(), got.Export())

		host, ok := l.Get("k")
		require.True(t, ok)
		assert.Equal(t, v.Export(), host)
	}
}

func TestBridge_AmbiguousKeys(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinked(nil, nil).MustPut(int64(1), "one").MustPut(float64(1), "one.zero")
	b := bind(t, ctx, l)

	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1"}, keyStrings(keys))

	warnings := ctx.Diagnostics().Search("ambiguous")
	require.Len(t, warnings, 1)
	assert.Equal(t, slog.LevelWarn, warnings[0].Level)
	assert.Equal(t, "int64", warnings[0].Attrs["firstType"])
	assert.Equal(t, "float64", warnings[0].Attrs["secondType"])

	// the later key wins
	assert.Equal(t, "one.zero", run(t, ctx, `m[1]`).String())
	assert.Equal(t, "one.zero", run(t, ctx, `m["1"]`).String())
}

func TestBridge_AmbiguousNullKey(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	b := bind(t, ctx, NewLinked(nil, nil).MustPut("null", "empty").MustPut(nil, "really empty"))

	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"null", "null"}, keyStrings(keys))
	assert.Len(t, ctx.Diagnostics().Search("ambiguous"), 1)
	assert.Equal(t, "really empty", run(t, ctx, `m["null"]`).String())
}

func TestBridge_StrictKeys(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess|scripting.FeatureStrictKeys)
	bind(t, ctx, NewLinked(nil, nil).MustPut(int64(1), "one").MustPut(float64(1), "one.zero"))

	_, err := ctx.Runtime().RunString(`Object.keys(m)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	v := run(t, ctx, `try { m[1]; "ok" } catch (e) { "caught" }`)
	assert.Equal(t, "caught", v.String())
}

func TestBridge_Ordering(t *testing.T) {
	l := NewLinkedOf[int, string]().MustPut(3, "three").MustPut(2, "two").MustPut(1, "one")

	keys, err := New(newContext(t, scripting.FeatureMapAccess), l).Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, keyStrings(keys))

	ctx := newContext(t, scripting.FeatureMapAccess|scripting.FeatureEnumerateIndicesFirst)
	keys, err = bind(t, ctx, l).Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, keyStrings(keys))
	assert.Equal(t, "1,2,3", run(t, ctx, `Object.keys(m).join(",")`).String())
}

func TestBridge_IndexVersusStringKeys(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess|scripting.FeatureEnumerateIndicesFirst)
	b := bind(t, ctx, NewLinked(nil, nil).MustPut(math.Pi, "pi").MustPut("x", "ex").MustPut(2.0, "two"))

	keys, err := b.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, keycodec.IndexKey(2), keys[0])
	assert.Equal(t, keycodec.NameKey("3.141592653589793"), keys[1])
	assert.Equal(t, keycodec.NameKey("x"), keys[2])

	assert.Equal(t, "pi", run(t, ctx, `m["3.141592653589793"]`).String())
	assert.Equal(t, "two", run(t, ctx, `m[2]`).String())
}

func TestBridge_RebuildAfterUnwrap(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinked(nil, nil).MustPut(int64(1), "one").MustPut(int64(2), "two")
	b := bind(t, ctx, l)

	assert.Equal(t, "two", run(t, ctx, `m[2]`).String())
	assert.True(t, b.Codec().HasTable())

	// mutation without unwrap is not noticed
	l.MustPut(int64(4), "four")
	assert.True(t, run(t, ctx, `m[4] === undefined`).ToBoolean())

	coll := b.Unwrap()
	assert.False(t, b.Codec().HasTable())
	coll.(*Linked).Remove(int64(2))
	coll.(*Linked).MustPut(int64(3), "three")

	assert.Equal(t, "three", run(t, ctx, `m[3]`).String())
	assert.Equal(t, "four", run(t, ctx, `m[4]`).String())
	assert.True(t, run(t, ctx, `m[2] === undefined`).ToBoolean())
}

func TestBridge_IntegerKeyType(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[int64, string]()
	bind(t, ctx, l)

	run(t, ctx, `m[7] = "seven"; m["8"] = "eight"`)
	v, ok := l.Get(int64(7))
	require.True(t, ok)
	assert.Equal(t, "seven", v)
	v, ok = l.Get(int64(8))
	require.True(t, ok)
	assert.Equal(t, "eight", v)

	_, err := ctx.Runtime().RunString(`m.abc = "x"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot convert")
	assert.Equal(t, 2, l.Len())
}

func TestBridge_ValueConversion(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[string, int]()
	bind(t, ctx, l)

	run(t, ctx, `m.a = 1; m.b = "2"`)
	v, _ := l.Get("a")
	assert.Equal(t, 1, v)
	v, _ = l.Get("b")
	assert.Equal(t, 2, v)

	_, err := ctx.Runtime().RunString(`m.c = "three"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot convert")
}

func TestBridge_EnumAndUUIDKeys(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	days := NewLinkedOf[Weekday, int]().MustPut(Monday, 1)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ids := NewLinkedOf[uuid.UUID, string]().MustPut(id, "dns")
	require.NoError(t, ctx.Runtime().Set("days", New(ctx, days).Object()))
	require.NoError(t, ctx.Runtime().Set("ids", New(ctx, ids).Object()))

	v := run(t, ctx, `days.TUESDAY = days.MONDAY + 1; Object.keys(days).join(",")`)
	assert.Equal(t, "MONDAY,TUESDAY", v.String())
	got, ok := days.Get(Tuesday)
	require.True(t, ok)
	assert.Equal(t, 2, got)

	v = run(t, ctx, `ids["6ba7b811-9dad-11d1-80b4-00c04fd430c8"] = "url"; Object.keys(ids)[0] + "=" + ids[Object.keys(ids)[0]]`)
	assert.Equal(t, id.String()+"=dns", v.String())
	got, ok = ids.Get(uuid.NameSpaceURL)
	require.True(t, ok)
	assert.Equal(t, "url", got)

	_, err := ctx.Runtime().RunString(`days.SUNDAY = 7`)
	assert.Error(t, err)
}

func TestBridge_Delete(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[string, int]().MustPut("a", 1).MustPut("b", 2)
	bind(t, ctx, l)

	v := run(t, ctx, `delete m.a; delete m.missing; Object.keys(m).join(",")`)
	assert.Equal(t, "b", v.String())
	assert.Equal(t, 1, l.Len())
}

func TestBridge_Iterate(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[string, int]().MustPut("a", 1).MustPut("b", 2)
	b := bind(t, ctx, l)

	v := run(t, ctx, `var out = []; for (const [k, v] of m) out.push(k + "=" + v); out.join(",")`)
	assert.Equal(t, "a=1,b=2", v.String())

	it := b.Iterate()
	// entries are captured when iteration starts
	l.MustPut("c", 3)
	k, val, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "a", k.String())
	assert.Equal(t, int64(1), val.ToInteger())
	_, _, ok = it.Next()
	require.True(t, ok)
	k, val, ok = it.Next()
	assert.False(t, ok)
	assert.True(t, goja.IsUndefined(k))
	assert.True(t, goja.IsUndefined(val))
	_, _, ok = it.Next()
	assert.False(t, ok)

	v = run(t, ctx, `
		var it = m[Symbol.iterator]();
		var n = 0;
		while (!it.next().done) n++;
		var r = it.next();
		[n, r.done, r.value.length, r.value[0] === undefined, r.value[1] === undefined].join(",")
	`)
	assert.Equal(t, "3,true,2,true,true", v.String())

	v = run(t, ctx, `Array.from(m).length + ":" + [...m[Symbol.iterator]()].length`)
	assert.Equal(t, "3:3", v.String())
}

func TestBridge_IteratorRejectsOtherReceivers(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	bind(t, ctx, NewLinkedOf[string, int]())

	v := run(t, ctx, `
		var f = m[Symbol.iterator];
		var results = [];
		for (const recv of [{}, undefined, 42, Object.create(Object.getPrototypeOf(m))]) {
			try { f.call(recv); results.push("ok") }
			catch (e) { results.push(e instanceof TypeError && e.message.indexOf("Symbol.iterator") >= 0) }
		}
		results.join(",")
	`)
	assert.Equal(t, "true,true,true,true", v.String())
}

func TestBridge_MapAccessDisabled(t *testing.T) {
	ctx := newContext(t, 0)
	l := NewLinkedOf[string, int]().MustPut("a", 1)
	bind(t, ctx, l)

	v := run(t, ctx, `[m.a === undefined, "a" in m, m.Len(), m.Keys().length].join(",")`)
	assert.Equal(t, "true,false,1,1", v.String())

	v = run(t, ctx, `m.b = 2; m.b === undefined`)
	assert.True(t, v.ToBoolean())
	assert.Equal(t, 1, l.Len())

	v = run(t, ctx, `Object.keys(m).indexOf("Len") >= 0`)
	assert.True(t, v.ToBoolean())
}

func TestBridge_MembersReachableWithMapAccess(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	bind(t, ctx, NewLinkedOf[string, int]().MustPut("a", 1).MustPut("Len", 99))

	// entries shadow members of the same name
	assert.Equal(t, int64(99), run(t, ctx, `m.Len`).ToInteger())
	assert.Equal(t, int64(2), run(t, ctx, `m.ValueType === undefined ? -1 : m.Keys().length`).ToInteger())
}

func TestBridge_NestedCollections(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	inner := NewLinkedOf[string, int]().MustPut("x", 1)
	raw := map[string]int{"y": 2}
	outer := NewLinkedOf[string, any]().MustPut("inner", inner).MustPut("raw", raw)
	bind(t, ctx, outer)

	v := run(t, ctx, `m.inner.x = m.inner.x + m.raw.y; m.raw.z = 3; m.inner.x`)
	assert.Equal(t, int64(3), v.ToInteger())
	got, _ := inner.Get("x")
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, raw["z"])
}

func TestBridge_ConvertBackToHost(t *testing.T) {
	ctx := newContext(t, scripting.FeatureMapAccess)
	l := NewLinkedOf[int, string]().MustPut(1, "one")
	b := New(ctx, l)
	_, err := b.Keys()
	require.NoError(t, err)
	require.True(t, b.Codec().HasTable())

	got, err := ctx.Convert(b.Object(), reflect.TypeFor[*Linked]())
	require.NoError(t, err)
	assert.Same(t, l, got)
	assert.False(t, b.Codec().HasTable())

	raw := map[string]int{"a": 1}
	m, err := FromMap(raw)
	require.NoError(t, err)
	got, err = ctx.Convert(New(ctx, m).Object(), reflect.TypeFor[map[string]int]())
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestBridge_ObjectProtocol(t *testing.T) {
	for _, tc := range []struct {
		name string
		coll Collection
	}{
		{"string", NewLinkedOf[string, int]().MustPut("foo", 7).MustPut("bar", 2).MustPut("baz", 5)},
		{"enum", NewLinkedOf[Weekday, int]().MustPut(Monday, 7).MustPut(Tuesday, 2)},
		{"int", NewLinkedOf[int, string]().MustPut(1, "one").MustPut(2, "two").MustPut(6, "six")},
		{"int64", NewLinkedOf[int64, string]().MustPut(int64(1), "one").MustPut(int64(math.MaxInt64), "max")},
		{"float64", NewLinkedOf[float64, string]().MustPut(1.0, "one").MustPut(math.Pi, "pi")},
		{"uuid", NewLinkedOf[uuid.UUID, string]().MustPut(uuid.New(), "one").MustPut(uuid.New(), "two")},
		{"gomap", mustFromMap(t, map[string]int{"b": 2, "a": 1})},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newContext(t, scripting.FeatureMapAccess)
			b := bind(t, ctx, tc.coll)

			var values []any
			var keys []string
			tc.coll.Each(func(k, v any) bool {
				values = append(values, v)
				keys = append(keys, b.Codec().ToScriptKey(k).String())
				return true
			})

			forIn := run(t, ctx, `var ret = []; for (var key in m) ret.push(m[key]); ret`).Export()
			assert.EqualValues(t, exportAll(ctx, values), forIn)

			objectValues := run(t, ctx, `Object.values(m)`).Export()
			assert.EqualValues(t, exportAll(ctx, values), objectValues)

			objectKeys := run(t, ctx, `Object.keys(m)`).Export()
			assert.EqualValues(t, stringsToAny(keys), objectKeys)

			entries := run(t, ctx, `Object.entries(m).map(e => e[0] + "=" + e[1]).join(",")`).String()
			var want []string
			for i, k := range keys {
				want = append(want, k+"="+ctx.Runtime().ToValue(values[i]).String())
			}
			assert.Equal(t, strings.Join(want, ","), entries)
		})
	}
}

func mustFromMap(t *testing.T, m any) *Map {
	t.Helper()
	c, err := FromMap(m)
	require.NoError(t, err)
	return c
}

func exportAll(ctx *scripting.Context, vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = ctx.Runtime().ToValue(v).Export()
	}
	return out
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

