package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", false)

	l.LogInsert(3, "grow", 1)
	assert.Empty(t, buf.String(), "debug records are filtered at info level")

	l.LogBuildFailure(3, 2, errors.New("singular matrix"))
	assert.Contains(t, buf.String(), "kriging build failed")
	assert.Contains(t, buf.String(), "model=3")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "JSON", true).WithComponent("mtree")

	l.LogViolation("coveringRadius", 4, 1, -1, "radius 0.5 < 0.7")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	assert.Equal(t, "consistency violation", rec["msg"])
	assert.Equal(t, "mtree", rec["component"])
	assert.Equal(t, "coveringRadius", rec["kind"])
	assert.Equal(t, float64(4), rec["node"])
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.NotPanics(t, func() {
		l.LogInterpolate(1, true, 2, "ellipsoid")
		l.LogSplit(0, 1, 0, true)
		l.Error("dropped")
	})
}
