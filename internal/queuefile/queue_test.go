package queuefile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTestElements replicates the fixture the original C test suite built once
// per run: values[i] has length i, with values[i][j] == i-j. N is picked as
// 254 rather than 255 so that N*(N+1)/2+4*N isn't a multiple of 4.
const testElementCount = 254

func buildTestElements() [][]byte {
	values := make([][]byte, testElementCount)
	for i := range values {
		v := make([]byte, i)
		for j := range v {
			v[j] = byte(i - j)
		}
		values[i] = v
	}
	return values
}

func openTestQueue(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.queue")
	e, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func assertPeekCompare(t *testing.T, e *Engine, want []byte) {
	t.Helper()
	got, err := e.Peek()
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func assertPeekCompareRemove(t *testing.T, e *Engine, want []byte) {
	t.Helper()
	assertPeekCompare(t, e, want)
	ok, err := e.Remove()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAddOneElement(t *testing.T) {
	values := buildTestElements()
	expected := values[253]

	t.Run("simple round trip", func(t *testing.T) {
		e := openTestQueue(t)
		ok, err := e.Add(expected, 0, 253)
		require.NoError(t, err)
		require.True(t, ok)
		assertPeekCompare(t, e, expected)
	})

	t.Run("survives close and reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.queue")
		e, err := Open(path)
		require.NoError(t, err)
		ok, err := e.Add(expected, 0, 253)
		require.NoError(t, err)
		require.True(t, ok)
		assertPeekCompare(t, e, expected)
		require.NoError(t, e.Close())

		e, err = Open(path)
		require.NoError(t, err)
		defer e.Close()
		assertPeekCompare(t, e, expected)
	})
}

// TestAddAndRemoveElements reproduces the five-round partial-drain scenario:
// each round adds all N elements then removes all but round+1 of them, so
// after 5 rounds exactly 1+2+3+4+5 = 15 elements remain, in FIFO order.
func TestAddAndRemoveElements(t *testing.T) {
	values := buildTestElements()
	path := filepath.Join(t.TempDir(), "test.queue")

	var expect [][]byte
	for round := 0; round < 5; round++ {
		e, err := Open(path)
		require.NoError(t, err)

		for i := 0; i < testElementCount; i++ {
			ok, err := e.Add(values[i], 0, i)
			require.NoError(t, err)
			require.True(t, ok)
			expect = append(expect, values[i])
		}

		for i := 0; i < testElementCount-round-1; i++ {
			assertPeekCompareRemove(t, e, expect[0])
			expect = expect[1:]
		}
		require.NoError(t, e.Close())
	}

	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	size, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, 15, size)
	require.Len(t, expect, 15)

	for len(expect) > 0 {
		assertPeekCompareRemove(t, e, expect[0])
		expect = expect[1:]
	}
}

// TestSplitExpansion exercises expansion triggered by a wrap and checks
// that the file length after a full grow-drain-refill-drain cycle matches
// the length recorded right before the second round of adds.
func TestSplitExpansion(t *testing.T) {
	values := buildTestElements()
	e := openTestQueue(t)

	const max = 80
	var expect [][]byte
	for i := 0; i < max; i++ {
		ok, err := e.Add(values[i], 0, i)
		require.NoError(t, err)
		require.True(t, ok)
		expect = append(expect, values[i])
	}

	for i := 1; i < max; i++ {
		assertPeekCompareRemove(t, e, expect[0])
		expect = expect[1:]
	}

	fi1, err := e.FileHandle().Stat()
	require.NoError(t, err)
	len1 := fi1.Size()

	for i := 0; i < testElementCount; i++ {
		ok, err := e.Add(values[i], 0, i)
		require.NoError(t, err)
		require.True(t, ok)
		expect = append(expect, values[i])
	}

	for len(expect) > 0 {
		assertPeekCompareRemove(t, e, expect[0])
		expect = expect[1:]
	}

	fi2, err := e.FileHandle().Stat()
	require.NoError(t, err)
	len2 := fi2.Size()

	require.Equal(t, len1, len2, "file size should remain same")
}

// TestExpansionCorrectlyMovesWrappedElements reproduces the bug scenario
// from the original test suite: a trailing element wraps into the start of
// the buffer, more elements are added into the vacated space at the front,
// and a final add forces expansion. Every one of the elements sitting in
// the wrapped prefix must be relocated together, none left at a stale
// offset.
func TestExpansionCorrectlyMovesWrappedElements(t *testing.T) {
	e := openTestQueue(t)

	block := func(n byte) []byte {
		b := make([]byte, 1024)
		for i := range b {
			b[i] = n
		}
		return b
	}
	smaller := func(n byte) []byte {
		b := make([]byte, 256)
		for i := range b {
			b[i] = n
		}
		return b
	}

	blocks := [][]byte{block(1), block(2), block(3), block(4), block(5)}
	smallers := [][]byte{smaller(6), smaller(7), smaller(8)}

	ok, err := e.Add(blocks[0], 0, len(blocks[0]))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.Add(blocks[1], 0, len(blocks[1]))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.Remove()
	require.NoError(t, err)
	require.True(t, ok)

	// The trailing end of block "4" wraps to the start of the buffer.
	ok, err = e.Add(blocks[2], 0, len(blocks[2]))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.Add(blocks[3], 0, len(blocks[3]))
	require.NoError(t, err)
	require.True(t, ok)

	for _, s := range smallers {
		ok, err = e.Add(s, 0, len(s))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// No room between the end of block "8" and the start of block "2":
	// this add must force an expansion that relocates every element
	// sitting in the wrapped prefix.
	ok, err = e.Add(blocks[4], 0, len(blocks[4]))
	require.NoError(t, err)
	require.True(t, ok)

	expectedFillBytes := []byte{2, 3, 4, 6, 7, 8}
	for _, want := range expectedFillBytes {
		got, err := e.Peek()
		require.NoError(t, err)
		ok, err := e.Remove()
		require.NoError(t, err)
		require.True(t, ok)
		for _, b := range got {
			require.Equal(t, want, b)
		}
	}
}

func TestFailedAdd(t *testing.T) {
	values := buildTestElements()
	path := filepath.Join(t.TempDir(), "test.queue")
	e, err := Open(path)
	require.NoError(t, err)

	ok, err := e.Add(values[253], 0, 253)
	require.NoError(t, err)
	require.True(t, ok)

	e.ForceAllWritesToFail(true)
	ok, err = e.Add(values[252], 0, 252)
	require.NoError(t, err)
	require.False(t, ok)
	e.ForceAllWritesToFail(false)

	ok, err = e.Add(values[251], 0, 251)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Close())

	e, err = Open(path)
	require.NoError(t, err)
	defer e.Close()

	size, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, 2, size)

	assertPeekCompareRemove(t, e, values[253])
	assertPeekCompareRemove(t, e, values[251])
}

func TestFailedRemoval(t *testing.T) {
	values := buildTestElements()
	path := filepath.Join(t.TempDir(), "test.queue")
	e, err := Open(path)
	require.NoError(t, err)

	ok, err := e.Add(values[253], 0, 253)
	require.NoError(t, err)
	require.True(t, ok)

	e.ForceAllWritesToFail(true)
	ok, err = e.Remove()
	require.NoError(t, err)
	require.False(t, ok)
	e.ForceAllWritesToFail(false)

	require.NoError(t, e.Close())

	e, err = Open(path)
	require.NoError(t, err)
	defer e.Close()

	size, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, 1, size)

	assertPeekCompareRemove(t, e, values[253])

	ok, err = e.Add(values[99], 0, 99)
	require.NoError(t, err)
	require.True(t, ok)
	assertPeekCompareRemove(t, e, values[99])
}

func TestFailedExpansion(t *testing.T) {
	values := buildTestElements()
	path := filepath.Join(t.TempDir(), "test.queue")
	e, err := Open(path)
	require.NoError(t, err)

	ok, err := e.Add(values[253], 0, 253)
	require.NoError(t, err)
	require.True(t, ok)

	e.ForceAllWritesToFail(true)
	bigbuf := make([]byte, 8000)
	ok, err = e.Add(bigbuf, 0, len(bigbuf))
	require.NoError(t, err)
	require.False(t, ok)
	e.ForceAllWritesToFail(false)

	require.NoError(t, e.Close())

	e, err = Open(path)
	require.NoError(t, err)
	defer e.Close()

	size, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, 1, size)

	assertPeekCompare(t, e, values[253])

	fi, err := e.FileHandle().Stat()
	require.NoError(t, err)
	require.EqualValues(t, minFileSize, fi.Size())

	ok, err = e.Add(values[99], 0, 99)
	require.NoError(t, err)
	require.True(t, ok)
	assertPeekCompareRemove(t, e, values[253])
	assertPeekCompareRemove(t, e, values[99])
}

func TestZeroLengthElement(t *testing.T) {
	e := openTestQueue(t)

	ok, err := e.Add([]byte{}, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := e.Peek()
	require.NoError(t, err)
	require.Equal(t, []byte{}, got)

	size, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, 1, size)
}

func TestPeekOnEmptyQueueReturnsNil(t *testing.T) {
	e := openTestQueue(t)

	got, err := e.Peek()
	require.NoError(t, err)
	require.Nil(t, got)

	ok, err := e.Remove()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidArgumentRejected(t *testing.T) {
	e := openTestQueue(t)

	_, err := e.Add([]byte("hello"), 0, 10)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.Add([]byte("hello"), -1, 2)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClear(t *testing.T) {
	e := openTestQueue(t)

	ok, err := e.Add([]byte("one"), 0, 3)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.Add([]byte("two"), 0, 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Clear()
	require.NoError(t, err)
	require.True(t, ok)

	size, err := e.Size()
	require.NoError(t, err)
	require.Equal(t, 0, size)

	got, err := e.Peek()
	require.NoError(t, err)
	require.Nil(t, got)

	ok, err = e.Add([]byte("three"), 0, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assertPeekCompare(t, e, []byte("three"))
}

func TestOpenBatchedFlushThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.queue")
	e, err := OpenBatched(path)
	require.NoError(t, err)

	ok, err := e.Add([]byte("payload"), 0, 7)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	e, err = Open(path)
	require.NoError(t, err)
	defer e.Close()
	assertPeekCompare(t, e, []byte("payload"))
}
