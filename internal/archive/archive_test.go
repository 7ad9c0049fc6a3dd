package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 10, 16, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600))
	key := ObjectKey("tenant-a", "/tmp/Q3 customers.csv", at, "0f8e3a1c-aaaa-bbbb-cccc-ddddeeeeffff")
	assert.Equal(t, "uploads/tenant-a/2026/10/17/0f8e3a1c-Q3_customers.csv", key)
}

func TestObjectKeyConfinesTenant(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	id := "0f8e3a1c-aaaa-bbbb-cccc-ddddeeeeffff"

	cases := map[string]string{
		"../other":  "uploads/.._other/2026/10/16/0f8e3a1c-a.csv",
		"a/b":       "uploads/a_b/2026/10/16/0f8e3a1c-a.csv",
		"..":        "uploads/_/2026/10/16/0f8e3a1c-a.csv",
		"":          "uploads/_/2026/10/16/0f8e3a1c-a.csv",
		"acme corp": "uploads/acme_corp/2026/10/16/0f8e3a1c-a.csv",
	}
	for tenant, want := range cases {
		key := ObjectKey(tenant, "a.csv", at, id)
		assert.Equal(t, want, key, "tenant=%q", tenant)
		assert.Equal(t, 5, strings.Count(key, "/"), "tenant=%q", tenant)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", ContentType("a.CSV"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ContentType("b.xlsx"))
	assert.Equal(t, "application/octet-stream", ContentType("c.bin"))
}

func TestNewDoesNotDial(t *testing.T) {
	a, err := New(Config{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "uploads"})
	require.NoError(t, err)
	assert.Equal(t, "uploads", a.bucket)
}
