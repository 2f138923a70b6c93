package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
)

type frame struct {
	data     []byte
	isString bool
}

// pipe delivers every send synchronously to the remote peer and records it.
type pipe struct {
	remote *Peer
	frames []frame
	fail   error
}

func (p *pipe) Send(data []byte) error {
	if p.fail != nil {
		return p.fail
	}
	cp := append([]byte(nil), data...)
	p.frames = append(p.frames, frame{data: cp})
	if p.remote != nil {
		p.remote.HandleMessage(cp, false)
	}
	return nil
}

func (p *pipe) SendText(text string) error {
	if p.fail != nil {
		return p.fail
	}
	p.frames = append(p.frames, frame{data: []byte(text), isString: true})
	if p.remote != nil {
		p.remote.HandleMessage([]byte(text), true)
	}
	return nil
}

type received struct {
	files    []File
	messages []Message
	progress []float64
}

func newPair(t *testing.T) (*Peer, *pipe, *received) {
	t.Helper()
	log := logger.Discard()
	got := &received{}

	receiver := NewPeer(&pipe{}, "bob", "alice", Handlers{
		OnFile:     func(f File) { got.files = append(got.files, f) },
		OnMessage:  func(m Message) { got.messages = append(got.messages, m) },
		OnProgress: func(p float64) { got.progress = append(got.progress, p) },
	}, log)

	out := &pipe{remote: receiver}
	sender := NewPeer(out, "alice", "bob", Handlers{}, log)
	return sender, out, got
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size int64
		want int
	}{
		{0, 0},
		{1, 1},
		{ChunkSize, 1},
		{ChunkSize + 1, 2},
		{32900, 3},
		{10 * ChunkSize, 10},
	}

	for _, tt := range tests {
		if got := ChunkCount(tt.size); got != tt.want {
			t.Errorf("ChunkCount(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestSendFile_ReportScenario(t *testing.T) {
	sender, out, got := newPair(t)
	data := pattern(32900)

	var progress []float64
	err := sender.SendFile(context.Background(), "report.pdf", "application/pdf",
		bytes.NewReader(data), int64(len(data)), func(p float64) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	if len(out.frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(out.frames))
	}
	if !out.frames[0].isString || !strings.Contains(string(out.frames[0].data), `"type":"file-start"`) {
		t.Errorf("first frame should be file-start, got %s", out.frames[0].data)
	}
	wantSizes := []int{16384, 16384, 148}
	for i, want := range wantSizes {
		f := out.frames[i+1]
		if f.isString {
			t.Errorf("frame %d should be binary", i+1)
		}
		if len(f.data) != want {
			t.Errorf("chunk %d: expected %d bytes, got %d", i, want, len(f.data))
		}
	}
	if !out.frames[4].isString || !strings.Contains(string(out.frames[4].data), `"type":"file-end"`) {
		t.Errorf("last frame should be file-end, got %s", out.frames[4].data)
	}

	if len(progress) != 4 || progress[0] != 0 || progress[3] != 100 {
		t.Errorf("unexpected sender progress %v", progress)
	}

	if len(got.files) != 1 {
		t.Fatalf("expected 1 received file, got %d", len(got.files))
	}
	f := got.files[0]
	if f.Name != "report.pdf" || f.MimeType != "application/pdf" || f.From != "alice" {
		t.Errorf("unexpected file metadata %+v", f)
	}
	if !bytes.Equal(f.Data, data) {
		t.Error("received bytes differ from sent bytes")
	}
}

func TestSendFile_RoundTripProgressIncreases(t *testing.T) {
	sizes := []int{1, 100, ChunkSize - 1, ChunkSize, ChunkSize + 1, 5*ChunkSize + 7}

	for _, size := range sizes {
		sender, _, got := newPair(t)
		data := pattern(size)

		var progress []float64
		err := sender.SendFile(context.Background(), "blob.bin", "application/octet-stream",
			bytes.NewReader(data), int64(size), func(p float64) { progress = append(progress, p) })
		if err != nil {
			t.Fatalf("size %d: SendFile failed: %v", size, err)
		}

		if len(got.files) != 1 || !bytes.Equal(got.files[0].Data, data) {
			t.Fatalf("size %d: round trip mismatch", size)
		}

		for name, seq := range map[string][]float64{"sender": progress, "receiver": got.progress} {
			if len(seq) == 0 || seq[0] != 0 || seq[len(seq)-1] != 100 {
				t.Fatalf("size %d: %s progress should run 0 to 100, got %v", size, name, seq)
			}
			for i := 1; i < len(seq); i++ {
				if seq[i] <= seq[i-1] {
					t.Fatalf("size %d: %s progress not strictly increasing: %v", size, name, seq)
				}
			}
		}
	}
}

func TestSendFile_ZeroBytes(t *testing.T) {
	sender, out, got := newPair(t)

	var progress []float64
	err := sender.SendFile(context.Background(), "empty.txt", "text/plain",
		bytes.NewReader(nil), 0, func(p float64) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	if len(out.frames) != 2 {
		t.Fatalf("expected start and end only, got %d frames", len(out.frames))
	}
	if len(progress) != 2 || progress[0] != 0 || progress[1] != 100 {
		t.Errorf("expected progress [0 100], got %v", progress)
	}
	if len(got.files) != 1 || got.files[0].Size() != 0 || got.files[0].Name != "empty.txt" {
		t.Errorf("expected empty file delivered, got %+v", got.files)
	}
}

func TestSendFile_ShortReader(t *testing.T) {
	sender, _, got := newPair(t)

	err := sender.SendFile(context.Background(), "short.bin", "", bytes.NewReader(pattern(10)), 20, nil)
	if !errors.Is(err, ErrShortTransfer) {
		t.Fatalf("expected ErrShortTransfer, got %v", err)
	}
	if len(got.files) != 0 {
		t.Error("no file should be delivered")
	}
}

func TestSendFile_Canceled(t *testing.T) {
	sender, _, _ := newPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sender.SendFile(ctx, "a.bin", "", bytes.NewReader(pattern(10)), 10, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSendFile_ChannelError(t *testing.T) {
	boom := errors.New("boom")
	sender := NewPeer(&pipe{fail: boom}, "alice", "bob", Handlers{}, logger.Discard())

	err := sender.SendFile(context.Background(), "a.bin", "", bytes.NewReader(pattern(10)), 10, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped channel error, got %v", err)
	}
}

// blockingReader parks the first sender until released.
type blockingReader struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	close(r.started)
	<-r.release
	return 0, io.EOF
}

func TestPeer_SenderBusy(t *testing.T) {
	sender, _, _ := newPair(t)
	r := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}

	errc := make(chan error, 1)
	go func() {
		errc <- sender.SendFile(context.Background(), "slow.bin", "", r, 10, nil)
	}()
	<-r.started

	if err := sender.SendFile(context.Background(), "b.bin", "", bytes.NewReader(nil), 0, nil); !errors.Is(err, ErrSenderBusy) {
		t.Errorf("expected ErrSenderBusy, got %v", err)
	}

	close(r.release)
	<-errc

	if err := sender.SendFile(context.Background(), "b.bin", "", bytes.NewReader(nil), 0, nil); err != nil {
		t.Errorf("expected send to succeed after the first finished, got %v", err)
	}
}

func TestPeer_Messages(t *testing.T) {
	sender, _, got := newPair(t)

	if err := sender.SendMessage("hello bob"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(got.messages) != 1 || got.messages[0].Content != "hello bob" || got.messages[0].From != "alice" {
		t.Errorf("unexpected messages %+v", got.messages)
	}
}

func TestPeer_RawTextFallback(t *testing.T) {
	_, out, got := newPair(t)

	for _, raw := range []string{"plain words", `{"type":"bogus"}`, `{not json`} {
		out.remote.HandleMessage([]byte(raw), true)
	}

	if len(got.messages) != 3 {
		t.Fatalf("expected 3 fallback messages, got %d", len(got.messages))
	}
	for _, m := range got.messages {
		if m.From != UnknownSender {
			t.Errorf("expected From %q, got %q", UnknownSender, m.From)
		}
	}
	if got.messages[0].Content != "plain words" {
		t.Errorf("expected raw content preserved, got %q", got.messages[0].Content)
	}
}

func TestPeer_ChunkWhileIdleDropped(t *testing.T) {
	_, out, got := newPair(t)

	out.remote.HandleMessage([]byte{1, 2, 3}, false)

	if len(got.files) != 0 || len(got.progress) != 0 {
		t.Error("chunk while idle should be ignored")
	}
}

func TestPeer_CloseDiscardsPartial(t *testing.T) {
	_, out, got := newPair(t)
	remote := out.remote

	if err := sendFrame(out, FileStart{Type: FrameFileStart, FileName: "a.bin", Size: 10}); err != nil {
		t.Fatal(err)
	}
	_ = out.Send(pattern(4))
	remote.Close()
	_ = out.Send(pattern(6))

	if len(got.files) != 0 {
		t.Error("no file should be delivered after close")
	}
	if remote.recv.Receiving() {
		t.Error("receiver should be idle after close")
	}
}

func TestReceiver_RejectsSecondStart(t *testing.T) {
	r := NewReceiver()

	if err := r.Start(FileStart{FileName: "first.bin", Size: 8}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := r.Chunk(pattern(4)); err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if err := r.Start(FileStart{FileName: "second.bin", Size: 2}); !errors.Is(err, ErrTransferInProgress) {
		t.Fatalf("expected ErrTransferInProgress, got %v", err)
	}

	file, err := r.Chunk(pattern(4))
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if file == nil || file.Name != "first.bin" || len(file.Data) != 8 {
		t.Fatalf("expected first.bin to complete, got %+v", file)
	}
	if r.Receiving() {
		t.Error("receiver should return to idle")
	}
}

func TestReceiver_Overflow(t *testing.T) {
	r := NewReceiver()
	_ = r.Start(FileStart{FileName: "a.bin", Size: 4})

	if _, err := r.Chunk(pattern(5)); !errors.Is(err, ErrSizeOverflow) {
		t.Fatalf("expected ErrSizeOverflow, got %v", err)
	}
	if r.Receiving() {
		t.Error("overflow should reset to idle")
	}
	if _, err := r.Chunk(pattern(1)); !errors.Is(err, ErrNotReceiving) {
		t.Errorf("expected ErrNotReceiving after reset, got %v", err)
	}
}

func TestReceiver_ShortEnd(t *testing.T) {
	r := NewReceiver()
	_ = r.Start(FileStart{FileName: "a.bin", Size: 10})
	_, _ = r.Chunk(pattern(3))

	if _, err := r.End(FileEnd{FileName: "a.bin"}); !errors.Is(err, ErrShortTransfer) {
		t.Fatalf("expected ErrShortTransfer, got %v", err)
	}
	if r.Receiving() {
		t.Error("short end should reset to idle")
	}
}

func TestReceiver_EndAfterCompletion(t *testing.T) {
	r := NewReceiver()
	_ = r.Start(FileStart{FileName: "a.bin", Size: 2})
	if file, _ := r.Chunk(pattern(2)); file == nil {
		t.Fatal("expected completion on size")
	}

	if file, err := r.End(FileEnd{FileName: "a.bin"}); err != nil || file != nil {
		t.Errorf("trailing end should be a no-op, got %v %v", file, err)
	}
	if _, err := r.End(FileEnd{FileName: "a.bin"}); !errors.Is(err, ErrNotReceiving) {
		t.Errorf("second end should report ErrNotReceiving, got %v", err)
	}
}

func TestReceiver_Progress(t *testing.T) {
	r := NewReceiver()
	_ = r.Start(FileStart{FileName: "a.bin", Size: 4})
	_, _ = r.Chunk(pattern(1))

	if p := r.Progress(); p != 25 {
		t.Errorf("expected 25, got %v", p)
	}
}

func TestReceiver_HugeDeclaredSize(t *testing.T) {
	r := NewReceiver()
	if err := r.Start(FileStart{FileName: "huge.bin", Size: 1 << 62}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if file, err := r.Chunk(pattern(ChunkSize)); err != nil || file != nil {
		t.Fatalf("expected partial chunk to be buffered, got %v %v", file, err)
	}
	if !r.Receiving() {
		t.Error("receiver should still be receiving")
	}
}

func TestPeer_HugeFileStartFromRemote(t *testing.T) {
	var files []File
	p := NewPeer(&pipe{}, "bob", "alice", Handlers{
		OnFile: func(f File) { files = append(files, f) },
	}, logger.Discard())

	p.HandleMessage([]byte(`{"type":"file-start","fileName":"x","size":4611686018427387904}`), true)
	if !p.recv.Receiving() {
		t.Fatal("expected file-start to be accepted")
	}
	p.HandleMessage(pattern(16), false)
	if len(files) != 0 {
		t.Errorf("expected no delivered file, got %d", len(files))
	}
}
