package mockerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "config_load", KindConfigLoad.String())
	assert.Equal(t, "proxy_other", KindProxyOther.String())
	assert.Equal(t, "internal", KindInternal.String())
	assert.Equal(t, "internal", Kind(999).String())
}

func TestKindFatal(t *testing.T) {
	assert.True(t, KindConfigLoad.Fatal())
	assert.True(t, KindProtoCompile.Fatal())
	assert.False(t, KindProxyOther.Fatal())
	assert.False(t, KindTemplateRender.Fatal())
}

func TestNewNilErr(t *testing.T) {
	assert.Nil(t, New(KindInternal, "op", nil))
}

func TestNewWrapsAndFormats(t *testing.T) {
	inner := errors.New("boom")
	err := New(KindProxyRPC, "Invoke", inner)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "proxy_rpc")
	assert.Contains(t, err.Error(), "Invoke")
	assert.Contains(t, err.Error(), "boom")
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(KindModelValidation, "Validate", "field %q is required", "alias")
	assert.Contains(t, err.Error(), `field "alias" is required`)
}

func TestKindOf(t *testing.T) {
	wrapped := New(KindDescriptorNotFound, "lookup", errors.New("missing"))
	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindDescriptorNotFound, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestStatusCode(t *testing.T) {
	cases := map[int]codes.Code{
		0:  codes.Unknown,
		1:  codes.Canceled,
		16: codes.Unauthenticated,
		17: codes.Unknown,
		-1: codes.Unknown,
	}
	for n, want := range cases {
		assert.Equal(t, want, StatusCode(n), "n=%d", n)
	}
}
