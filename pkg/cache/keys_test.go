package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	k := Key("weight", "momo")
	assert.Equal(t, "weight:momo", k)
	assert.Equal(t, "momo", ID("weight", k))
	assert.Equal(t, "weight:", Prefix("weight"))
}

func TestScanPatternEscapesGlob(t *testing.T) {
	assert.Equal(t, "signalcore:regime:*", scanPattern("signalcore:regime:"))
	assert.Equal(t, `src\[1\]\*\?*`, scanPattern("src[1]*?"))
}
