package langprofile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Known(t *testing.T) {
	for _, name := range []string{"python", "javascript", "java"} {
		p, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Seccomp)
		assert.NotEmpty(t, p.Interpreter)
		argv := p.Args("/payload.src")
		assert.Equal(t, p.Interpreter, argv[0])
		assert.Contains(t, argv, "/payload.src")
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("rust")
	assert.Error(t, err)
}

func TestNames_IncludesEveryRegisteredLanguage(t *testing.T) {
	names := Names()
	for _, want := range []string{"python", "javascript", "java"} {
		assert.Contains(t, names, want)
	}
	assert.Len(t, names, 3)
}
