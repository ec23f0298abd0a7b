package trainer

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingDispatcher struct {
	sent []pendingWrite
	errs []error
}

func (d *recordingDispatcher) dispatch(w pendingWrite) error {
	d.sent = append(d.sent, w)
	if len(d.errs) == 0 {
		return nil
	}
	err := d.errs[0]
	d.errs = d.errs[1:]
	return err
}

func payloadWrite(b byte) pendingWrite {
	return pendingWrite{kind: writeValue, role: roleControlPoint, payload: []byte{b}}
}

func TestWriteQueue_OneInFlight(t *testing.T) {
	d := &recordingDispatcher{}
	q := newWriteQueue(d.dispatch, log.New(&bytes.Buffer{}, "", 0))

	q.Enqueue(payloadWrite(1))
	q.Enqueue(payloadWrite(2))
	q.Enqueue(payloadWrite(3))
	assert.Len(t, d.sent, 1)
	assert.True(t, q.InFlight())
	assert.Equal(t, 2, q.Len())

	q.Complete()
	q.Complete()
	assert.Len(t, d.sent, 3)
	assert.Equal(t, []byte{1}, d.sent[0].payload)
	assert.Equal(t, []byte{2}, d.sent[1].payload)
	assert.Equal(t, []byte{3}, d.sent[2].payload)

	q.Complete()
	assert.False(t, q.InFlight())
}

func TestWriteQueue_PushWaitsForDrain(t *testing.T) {
	d := &recordingDispatcher{}
	q := newWriteQueue(d.dispatch, log.New(&bytes.Buffer{}, "", 0))

	q.push(payloadWrite(1))
	q.push(payloadWrite(2))
	assert.Empty(t, d.sent)
	assert.Equal(t, 2, q.Len())

	q.drain()
	assert.Len(t, d.sent, 1)
	assert.Equal(t, []byte{1}, d.sent[0].payload)
	assert.True(t, q.InFlight())
}

func TestWriteQueue_DropsWithoutTarget(t *testing.T) {
	var buf bytes.Buffer
	d := &recordingDispatcher{errs: []error{errNoTarget, errors.New("gatt busy")}}
	q := newWriteQueue(d.dispatch, log.New(&buf, "", 0))

	q.Enqueue(payloadWrite(1))
	// dropped, then failed, so nothing stays in flight
	assert.False(t, q.InFlight())
	q.Enqueue(payloadWrite(2))
	assert.False(t, q.InFlight())
	q.Enqueue(payloadWrite(3))
	assert.True(t, q.InFlight())

	assert.Len(t, d.sent, 3)
	assert.Contains(t, buf.String(), "dropping control point write")
	assert.Contains(t, buf.String(), "gatt busy")
}

func TestWriteQueue_FailedDispatchMovesOn(t *testing.T) {
	d := &recordingDispatcher{}
	q := newWriteQueue(d.dispatch, log.New(&bytes.Buffer{}, "", 0))
	q.Enqueue(payloadWrite(1))
	q.Enqueue(payloadWrite(2))
	q.Enqueue(payloadWrite(3))

	d.errs = []error{errNoTarget}
	q.Complete()
	// 2 is dropped, 3 goes out in the same drain
	assert.Len(t, d.sent, 3)
	assert.True(t, q.InFlight())
	assert.Equal(t, 0, q.Len())
}

func TestWriteQueue_Reset(t *testing.T) {
	d := &recordingDispatcher{}
	q := newWriteQueue(d.dispatch, log.New(&bytes.Buffer{}, "", 0))
	q.Enqueue(payloadWrite(1))
	q.Enqueue(payloadWrite(2))

	q.Reset()
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.InFlight())

	q.Enqueue(payloadWrite(4))
	assert.Len(t, d.sent, 2)
	assert.Equal(t, []byte{4}, d.sent[1].payload)
}

func TestWriteQueue_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { newWriteQueue(nil, log.New(&bytes.Buffer{}, "", 0)) })
	assert.Panics(t, func() { newWriteQueue((&recordingDispatcher{}).dispatch, nil) })
}
