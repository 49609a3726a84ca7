// Package bridgetest provides a recording ScriptRunner for tests.
package bridgetest

import (
	"encoding/json"
	"regexp"
	"sync"

	"github.com/odvcencio/visitbridge/pkg/bridge"
)

// Call is one decoded outbound call.
type Call struct {
	Function string
	Args     []any
}

var callPattern = regexp.MustCompile(`(?s)^([A-Za-z_$][\w$.]*)\((.*)\);$`)

// Recorder records every script it is asked to evaluate. Results are
// delivered synchronously: scripts matching a registered result get it,
// the bridge loader gets InjectResult, everything else gets "".
type Recorder struct {
	mu           sync.Mutex
	scripts      []string
	results      map[string]string
	InjectResult string
}

// NewRecorder creates a recorder whose bridge injections succeed.
func NewRecorder() *Recorder {
	return &Recorder{results: make(map[string]string), InjectResult: "true"}
}

// SetResult makes EvaluateScript answer script with value.
func (r *Recorder) SetResult(script, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[script] = value
}

// EvaluateScript implements bridge.ScriptRunner.
func (r *Recorder) EvaluateScript(script string, result func(value string)) {
	r.mu.Lock()
	r.scripts = append(r.scripts, script)
	value, ok := r.results[script]
	if !ok && script == bridge.InjectionScript() {
		value = r.InjectResult
	}
	r.mu.Unlock()
	if result != nil {
		result(value)
	}
}

// Scripts returns every evaluated script in order.
func (r *Recorder) Scripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scripts...)
}

// Injections counts bridge loader evaluations.
func (r *Recorder) Injections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	injection := bridge.InjectionScript()
	for _, s := range r.scripts {
		if s == injection {
			n++
		}
	}
	return n
}

// Calls decodes the recorded scripts that look like function calls. The
// bridge receiver prefix is stripped from function names.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var calls []Call
	for _, script := range r.scripts {
		m := callPattern.FindStringSubmatch(script)
		if m == nil {
			continue
		}
		var args []any
		if err := json.Unmarshal([]byte("["+m[2]+"]"), &args); err != nil {
			continue
		}
		name := m[1]
		if len(name) > len(bridge.Receiver)+1 && name[:len(bridge.Receiver)+1] == bridge.Receiver+"." {
			name = name[len(bridge.Receiver)+1:]
		}
		calls = append(calls, Call{Function: name, Args: args})
	}
	return calls
}

// Functions returns the function names of Calls, in order.
func (r *Recorder) Functions() []string {
	calls := r.Calls()
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Function)
	}
	return names
}

// Reset forgets recorded scripts.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = nil
}
