package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarshalKeyOrder tests that serialization keeps insertion order
func TestMarshalKeyOrder(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("zebra", 1))
	require.NoError(t, d.Set("alpha", 2))
	require.NoError(t, d.Set("mid", 3))

	b, err := Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"zebra":1,"alpha":2,"mid":3}`, string(b))
}

// TestMarshalKeyFiltering tests computed and hidden key handling
func TestMarshalKeyFiltering(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("id", "admin"))
	require.NoError(t, d.Set(".password", "c0ffee"))
	require.NoError(t, d.Set("_matchers", "computed"))

	b, err := Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"admin",".password":"c0ffee"}`, string(b))

	b, err = MarshalPublic(d)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"admin"}`, string(b))
}

// TestMarshalValues tests scalar value rendering
func TestMarshalValues(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("when", time.UnixMilli(1700000000000)))
	require.NoError(t, d.Set("where", NewPath("/user/admin")))
	require.NoError(t, d.Set("blob", []byte{1, 2, 3}))
	require.NoError(t, d.Set("none", nil))

	b, err := Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"when":"@1700000000000","where":"/user/admin","blob":"AQID","none":null}`, string(b))
}

// TestUnmarshalRoundTrip tests decode of nested structures
func TestUnmarshalRoundTrip(t *testing.T) {
	src := `{
	  "id": "db",
	  "maxOpen": 4,
	  "ratio": 1.5,
	  "created": "@1700000000000",
	  "tags": ["a", "b"],
	  "nested": {"x": true}
	}`

	d, err := Unmarshal([]byte(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "maxOpen", "ratio", "created", "tags", "nested"}, d.Keys())
	assert.Equal(t, int64(4), d.Get("maxOpen"))
	assert.Equal(t, 1.5, d.Get("ratio"))
	assert.Equal(t, time.UnixMilli(1700000000000), d.GetTime("created", time.Time{}))
	assert.Equal(t, []string{"a", "b"}, d.GetList("tags").Strings())
	assert.True(t, d.GetDict("nested").GetBool("x", false))

	// Round-trip preserves content and order.
	b, err := Marshal(d)
	require.NoError(t, err)
	d2, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, d.Keys(), d2.Keys())
}

// TestUnmarshalRejectsNonObject tests top-level type validation
func TestUnmarshalRejectsNonObject(t *testing.T) {
	for _, src := range []string{`[1,2]`, `"str"`, `17`, `{"a":`} {
		if _, err := Unmarshal([]byte(src)); err == nil {
			t.Errorf("Unmarshal(%q) accepted invalid input", src)
		}
	}
}

// TestTimestampDetection tests the @millis string format boundaries
func TestTimestampDetection(t *testing.T) {
	d, err := Unmarshal([]byte(`{"a":"@12x3","b":"@","c":"me@example.com","d":"@99"}`))
	require.NoError(t, err)

	assert.Equal(t, "@12x3", d.Get("a"))
	assert.Equal(t, "@", d.Get("b"))
	assert.Equal(t, "me@example.com", d.Get("c"))
	assert.Equal(t, time.UnixMilli(99), d.Get("d"))
}

// TestMarshalIndent tests the file form is indented and newline-terminated
func TestMarshalIndent(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("a", 1))

	b, err := MarshalIndent(d)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(b))
}
