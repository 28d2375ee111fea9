package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestT_Localizes(t *testing.T) {
	require.NoError(t, InitI18n())

	assert.Equal(t, "The requested resource was not found", T(GetLocalizer("en"), "error_404"))
	assert.Equal(t, "リクエストされたリソースが見つかりません", T(GetLocalizer("ja"), "error_404"))
}

func TestT_UnknownIDFallsBack(t *testing.T) {
	assert.Equal(t, "no_such_message", T(GetLocalizer("en"), "no_such_message"))
	assert.Equal(t, "The requested resource was not found", T(nil, "error_404"))
}
