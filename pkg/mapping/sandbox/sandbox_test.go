package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalReturnsScriptResult(t *testing.T) {
	p := NewJavascriptProvider(nil)

	v, err := p.Eval(context.Background(),
		`if (clickType === 'DOUBLE') return 2; return 0;`,
		map[string]any{"clickType": "DOUBLE"},
		time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestEvalSeesOnlyBoundInputs(t *testing.T) {
	p := NewJavascriptProvider(nil)

	// an unbound name resolves to nothing; referencing it is a script error
	_, err := p.Eval(context.Background(), `return secret;`, nil, time.Second)
	assert.Error(t, err)
}

func TestEvalHelpers(t *testing.T) {
	p := NewJavascriptProvider(nil)
	bindings := map[string]any{"batteryVoltage": "2322mV"}

	v, err := p.Eval(context.Background(), `return parseNumber(batteryVoltage);`, bindings, time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(2322), v)

	v, err = p.Eval(context.Background(), `return upperCase(trim('  mv '));`, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "MV", v)

	v, err = p.Eval(context.Background(), `return matches(batteryVoltage, '^[0-9]+mV$');`, bindings, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvalForbiddenGlobalsThrow(t *testing.T) {
	p := NewJavascriptProvider(nil)
	bodies := map[string]string{
		"quit":    `quit();`,
		"exit":    `exit(0);`,
		"load":    `load('https://example.com/malicious.js');`,
		"readUrl": `return readUrl('https://internal/secrets');`,
		"print":   `print('leak');`,
		"require": `return require('fs');`,
	}
	for name, body := range bodies {
		_, err := p.Eval(context.Background(), body, nil, time.Second)
		assert.Error(t, err, "%s must not be callable", name)
	}
}

func TestEvalInterruptsRunawayScripts(t *testing.T) {
	p := NewJavascriptProvider(nil)

	for _, body := range []string{`while (true) {}`, `for (;;) {}`} {
		start := time.Now()
		_, err := p.Eval(context.Background(), body, nil, 100*time.Millisecond)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline")
		assert.Less(t, elapsed, 5*time.Second, "interrupt must reclaim the worker promptly")
	}
}

func TestEvalHonorsContextCancellation(t *testing.T) {
	p := NewJavascriptProvider(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Eval(ctx, `while (true) {}`, nil, time.Minute)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled evaluation did not return")
	}
}

func TestEvalUndefinedAndNullExportAsNil(t *testing.T) {
	p := NewJavascriptProvider(nil)

	v, err := p.Eval(context.Background(), `return;`, nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = p.Eval(context.Background(), `return null;`, nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEvalNilBindingIsObservable(t *testing.T) {
	p := NewJavascriptProvider(nil)

	// absent read-set paths are bound as null so scripts can branch on them
	v, err := p.Eval(context.Background(),
		`return batteryVoltage === null || batteryVoltage === undefined;`,
		map[string]any{"batteryVoltage": nil},
		time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvalIsolatesConcurrentEvaluations(t *testing.T) {
	p := NewJavascriptProvider(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			v, err := p.Eval(context.Background(), `return x * 2;`,
				map[string]any{"x": n}, time.Second)
			assert.NoError(t, err)
			assert.Equal(t, n*2, v)
		}(int64(i))
	}
	wg.Wait()
}

func TestEvalDoesNotLeakStateBetweenInvocations(t *testing.T) {
	p := NewJavascriptProvider(nil)

	_, err := p.Eval(context.Background(), `marker = 'tainted'; return 1;`, nil, time.Second)
	require.NoError(t, err)

	v, err := p.Eval(context.Background(), `return typeof marker;`, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "undefined", v)
}

func TestParseLeadingNumber(t *testing.T) {
	assert.Equal(t, float64(2322), parseLeadingNumber("2322mV"))
	assert.Equal(t, 21.5, parseLeadingNumber("21.5C"))
	assert.Equal(t, float64(-7), parseLeadingNumber("-7dBm"))
	assert.Equal(t, float64(0), parseLeadingNumber("mV"))
	assert.Equal(t, float64(0), parseLeadingNumber(""))
}
