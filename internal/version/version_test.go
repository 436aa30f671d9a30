package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion_Format(t *testing.T) {
	assert.Equal(t, "0.2.0", Version())
}

func TestVersionDetails_MatchesVersion(t *testing.T) {
	major, minor, patch := VersionDetails()
	assert.Equal(t, major+"."+minor+"."+patch, Version())
}
