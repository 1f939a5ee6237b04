package selector

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	reads, writes, blocks int
}

func (h *recordingHandler) HandleRead()  { h.reads++ }
func (h *recordingHandler) HandleWrite() { h.writes++ }
func (h *recordingHandler) HandleBlock() { h.blocks++ }

func TestSelectorReadReadiness(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	sel, err := New(16)
	require.NoError(t, err)
	defer sel.Close()

	h := &recordingHandler{}
	require.NoError(t, sel.Register(int(r.Fd()), Read, h))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, sel.RunOnce(time.Second))
	require.Equal(t, 1, h.reads)
}

func TestSelectorTimeoutNoEvents(t *testing.T) {
	sel, err := New(16)
	require.NoError(t, err)
	defer sel.Close()

	require.NoError(t, sel.RunOnce(10*time.Millisecond))
}

func TestSelectorNotifyTriggersBlock(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	sel, err := New(16)
	require.NoError(t, err)
	defer sel.Close()

	h := &recordingHandler{}
	require.NoError(t, sel.Register(int(r.Fd()), Read, h))

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		sel.Notify(int(r.Fd()))
		close(done)
	}()

	require.NoError(t, sel.RunOnce(5*time.Second))
	<-done
	require.Equal(t, 1, h.blocks)
	require.Equal(t, 0, h.reads)
}

func TestSelectorSetInterestAndUnregister(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	sel, err := New(16)
	require.NoError(t, err)
	defer sel.Close()

	h := &recordingHandler{}
	require.NoError(t, sel.Register(int(r.Fd()), Read, h))
	require.NoError(t, sel.SetInterest(int(r.Fd()), None))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, sel.RunOnce(10*time.Millisecond))
	require.Equal(t, 0, h.reads, "interest was narrowed to None")

	require.NoError(t, sel.Unregister(int(r.Fd())))
	require.Equal(t, 0, sel.Len())
}
