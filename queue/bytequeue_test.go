package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteQueueOrderPreserved(t *testing.T) {
	q := New()
	q.Write([]byte("hello"))
	q.Write([]byte(" world"))

	got := q.Read(100)
	assert.Equal(t, "hello world", string(got))
}

func TestByteQueueReadUpToN(t *testing.T) {
	q := New()
	q.Write([]byte("0123456789"))

	first := q.Read(4)
	assert.Equal(t, "0123", string(first))
	assert.Equal(t, 6, q.Buffered())

	second := q.Read(100)
	assert.Equal(t, "456789", string(second))
}

func TestByteQueueBlocksUntilWrite(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	go func() {
		defer wg.Done()
		got = q.Read(5)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Write([]byte("abcde"))
	wg.Wait()
	assert.Equal(t, "abcde", string(got))
}

func TestByteQueueMultiProducerSingleConsumer(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Write([]byte{0xAA})
		}()
	}
	wg.Wait()

	got := q.Read(10)
	assert.Len(t, got, 10)
	for _, b := range got {
		assert.Equal(t, byte(0xAA), b)
	}
}

func TestByteQueueReadContextTimesOut(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.ReadContext(ctx, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestByteQueueReadContextSucceeds(t *testing.T) {
	q := New()
	q.Write([]byte("data"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := q.ReadContext(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestByteQueueCloseUnblocksReader(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	go func() {
		defer wg.Done()
		got = q.Read(5)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	assert.Nil(t, got)
}
