package delay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2012, time.February, 20, 14, 5, 9, 123, loc)

	assert.Equal(t, "2012-02-20T12:05:09Z", FormatDatetime(ts))
	assert.Equal(t, "20120220T12:05:09", FormatLegacy(ts))
}

func TestParse(t *testing.T) {
	ts, ok := Parse("2012-02-20T12:05:09Z")
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Date(2012, time.February, 20, 12, 5, 9, 0, time.UTC)))

	for _, bad := range []string{"", "yesterday", "20120220T12:05:09", "2012-02-20T12:05:09+01:00", "2012-02-20 12:05:09Z"} {
		_, ok := Parse(bad)
		assert.False(t, ok, bad)
	}
}

func TestElements(t *testing.T) {
	ts := time.Date(2020, time.January, 2, 3, 4, 5, 0, time.UTC)
	modern, legacy := Elements("room@muc.example.com/bob", ts)

	assert.Equal(t, "urn:xmpp:delay", modern.Namespace())
	assert.Equal(t, "2020-01-02T03:04:05Z", modern.AttributeValue("stamp"))
	assert.Equal(t, "room@muc.example.com/bob", modern.AttributeValue("from"))
	assert.Equal(t, "jabber:x:delay", legacy.Namespace())
	assert.Equal(t, "20200102T03:04:05", legacy.AttributeValue("stamp"))
}
