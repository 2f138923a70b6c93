package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ProgressFunc receives a percentage in [0, 100].
type ProgressFunc func(progress float64)

// SendFile streams r over ch as file-start, binary chunks and file-end.
// The next chunk is read only after the previous one has been handed to
// the channel. Progress is reported as 0 first and then after every chunk.
func SendFile(ctx context.Context, ch Channel, name, mimeType string, r io.Reader, size int64, onProgress ProgressFunc) error {
	if size < 0 {
		return fmt.Errorf("invalid file size %d", size)
	}
	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	start := FileStart{Type: FrameFileStart, FileName: name, MimeType: mimeType, Size: size}
	if err := sendFrame(ch, start); err != nil {
		return fmt.Errorf("failed to send file start: %w", err)
	}
	report(0)

	buf := make([]byte, ChunkSize)
	var sent int64
	for sent < size {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := size - sent
		if want > ChunkSize {
			want = ChunkSize
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("file shorter than announced size: %w", ErrShortTransfer)
			}
			return fmt.Errorf("failed to read chunk: %w", err)
		}

		if err := ch.Send(buf[:n]); err != nil {
			return fmt.Errorf("failed to send chunk: %w", err)
		}
		sent += int64(n)
		report(float64(sent) / float64(size) * 100)
	}

	if size == 0 {
		report(100)
	}

	if err := sendFrame(ch, FileEnd{Type: FrameFileEnd, FileName: name}); err != nil {
		return fmt.Errorf("failed to send file end: %w", err)
	}
	return nil
}

// SendMessage sends a text message frame.
func SendMessage(ch Channel, content, from string) error {
	return sendFrame(ch, MessageFrame{Type: FrameMessage, Content: content, From: from})
}
