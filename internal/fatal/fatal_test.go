// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fatal_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/engine/internal/fatal"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	fatal.SetLogger(l)
	t.Cleanup(func() { fatal.SetLogger(nil) })
	return &buf
}

func TestErrorfPanicsWithStack(t *testing.T) {
	buf := capture(t)
	defer func() {
		r := recover()
		err, ok := r.(error)
		require.True(t, ok, "panic value %T is not an error", r)
		require.EqualError(t, err, "arena exhausted: 8192 blocks")
		type stackTracer interface{ StackTrace() errors.StackTrace }
		_, ok = err.(stackTracer)
		require.True(t, ok, "fatal error carries no stack trace")
		require.Contains(t, buf.String(), "arena exhausted")
		require.True(t, fatal.Is(r))
	}()
	fatal.Errorf("arena exhausted: %d blocks", 8192)
}

func TestCheck(t *testing.T) {
	capture(t)
	require.NotPanics(t, func() { fatal.Check(nil, "unused") })
	require.PanicsWithError(t, "mmap: unexpected EOF", func() {
		fatal.Check(io.ErrUnexpectedEOF, "mmap")
	})
}

func TestIs(t *testing.T) {
	capture(t)
	require.False(t, fatal.Is(nil))
	require.False(t, fatal.Is("arena exhausted"))
	require.False(t, fatal.Is(io.EOF))

	var fe *fatal.Error
	func() {
		defer func() {
			r := recover()
			require.True(t, fatal.Is(r))
			require.ErrorAs(t, r.(error), &fe)
		}()
		fatal.Check(io.EOF, "read header")
	}()
	require.ErrorIs(t, fe, io.EOF)
	require.NotEmpty(t, fe.StackTrace())
}
