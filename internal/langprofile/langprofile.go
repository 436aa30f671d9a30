// Package langprofile maps a --language flag onto the seccomp profile and
// default command template execute-code dispatches to. It is a registry,
// not a compiler: it constructs argv for an interpreter already present
// on the box's filesystem bindings, nothing more.
package langprofile

import "fmt"

// Profile is one registered language's dispatch rule.
type Profile struct {
	// Seccomp is the seccomp.Profile name to install for this language.
	Seccomp string
	// Interpreter is the argv[0] used to run the payload.
	Interpreter string
	// Args returns the full argv given the path to the written code file.
	Args func(codePath string) []string
}

var registry = map[string]Profile{
	"python": {
		Seccomp:     "python",
		Interpreter: "/usr/bin/python3",
		Args:        func(codePath string) []string { return []string{"/usr/bin/python3", codePath} },
	},
	"javascript": {
		Seccomp:     "javascript",
		Interpreter: "/usr/bin/node",
		Args:        func(codePath string) []string { return []string{"/usr/bin/node", codePath} },
	},
	"java": {
		// Single-file source-code execution (JEP 330): the JVM compiles
		// and runs codePath directly, no separate javac/class step needed.
		Seccomp:     "java",
		Interpreter: "/usr/bin/java",
		Args:        func(codePath string) []string { return []string{"/usr/bin/java", codePath} },
	},
}

// Lookup returns the registered Profile for name, or an error if no
// profile is registered under that name.
func Lookup(name string) (Profile, error) {
	p, ok := registry[name]
	if !ok {
		return Profile{}, fmt.Errorf("langprofile: unknown language %q", name)
	}
	return p, nil
}

// Names returns every registered language name, for help text. The order
// is not defined.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
