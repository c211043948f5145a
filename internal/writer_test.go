package internal_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/gitbox/internal"
)

func TestStandardWriter(t *testing.T) {
	setup := func(t *testing.T) (*internal.StandardWriter, *bytes.Buffer, *bytes.Buffer) {
		t.Helper()

		stdout := bytes.NewBuffer(nil)
		stderr := bytes.NewBuffer(nil)
		return internal.NewCustomWriter(stdout, stderr), stdout, stderr
	}

	t.Run("prints to the output stream", func(t *testing.T) {
		w, stdout, stderr := setup(t)

		w.Print("a", "b")
		w.Printf(" %d", 1)
		w.Println()

		assert.Equal(t, "ab 1\n", stdout.String())
		assert.Empty(t, stderr.String())
	})

	t.Run("prints warnings to the error stream", func(t *testing.T) {
		w, stdout, stderr := setup(t)

		w.Warningf("sandbox %s is gone", "gitbox-1234")

		assert.Empty(t, stdout.String())
		assert.Equal(t, "Warning: sandbox gitbox-1234 is gone\n", stderr.String())
	})

	t.Run("encodes JSON", func(t *testing.T) {
		w, stdout, _ := setup(t)

		require.NoError(t, w.JSON(map[string]string{"name": "doc"}))
		assert.Equal(t, "{\n  \"name\": \"doc\"\n}\n", stdout.String())
	})

	t.Run("fails to encode unsupported values", func(t *testing.T) {
		w, _, _ := setup(t)

		err := w.JSON(make(chan int))
		require.ErrorContains(t, err, "failed to encode output")
	})

	t.Run("exposes the output stream", func(t *testing.T) {
		w, stdout, _ := setup(t)
		assert.Same(t, stdout, w.GetWriter())
	})
}
