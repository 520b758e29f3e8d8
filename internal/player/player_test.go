package player

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// fakeMPV accepts one IPC connection and records the commands sent on it.
type fakeMPV struct {
	conn     net.Conn
	commands chan []any
}

func startFakeMPV(t *testing.T) (string, <-chan *fakeMPV) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *fakeMPV, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f := &fakeMPV{conn: conn, commands: make(chan []any, 64)}
		accepted <- f
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var msg struct {
				Command []any `json:"command"`
			}
			if json.Unmarshal(scanner.Bytes(), &msg) == nil {
				f.commands <- msg.Command
			}
		}
	}()
	return socketPath, accepted
}

func (f *fakeMPV) send(t *testing.T, v map[string]any) {
	t.Helper()
	b, _ := json.Marshal(v)
	if _, err := f.conn.Write(append(b, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// waitFor returns the first command whose name matches.
func (f *fakeMPV) waitFor(t *testing.T, name string) []any {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case cmd := <-f.commands:
			if len(cmd) > 0 && cmd[0] == name {
				return cmd
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", name)
		}
	}
}

func TestControllerLoadAndEvents(t *testing.T) {
	socketPath, accepted := startFakeMPV(t)

	ctrl := New(Options{MPVPath: "mpv", IPCPath: socketPath, DisableProcess: true})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	defer ctrl.Close()
	mpv := <-accepted
	defer mpv.conn.Close()

	if err := ctrl.Load("file:///tmp/test.mp3", map[string]string{"Authorization": "Bearer x"}, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	headers := mpv.waitFor(t, "set_property")
	for headers[1] != "http-header-fields" {
		headers = mpv.waitFor(t, "set_property")
	}
	if list, ok := headers[2].([]any); !ok || len(list) != 1 || list[0] != "Authorization: Bearer x" {
		t.Fatalf("headers = %v", headers[2])
	}
	if cmd := mpv.waitFor(t, "loadfile"); cmd[1] != "file:///tmp/test.mp3" {
		t.Fatalf("loadfile = %v", cmd)
	}

	mpv.send(t, map[string]any{"event": "property-change", "name": "time-pos", "data": 12.5})
	mpv.send(t, map[string]any{"event": "property-change", "name": "duration", "data": 200.0})
	mpv.send(t, map[string]any{"event": "property-change", "name": "paused-for-cache", "data": true})
	mpv.send(t, map[string]any{"event": "end-file", "reason": "eof"})

	timeout := time.After(2 * time.Second)
	receivedPos, receivedBuffering, receivedEnd := false, false, false
loop:
	for {
		select {
		case evt := <-ctrl.Events():
			if evt.Err != nil {
				t.Fatalf("event err: %v", evt.Err)
			}
			if evt.TimePos != nil && *evt.TimePos == 12.5 {
				receivedPos = true
			}
			if evt.Buffering != nil && *evt.Buffering {
				receivedBuffering = true
			}
			if evt.Ended {
				receivedEnd = true
				break loop
			}
		case <-timeout:
			t.Fatalf("timeout waiting for events")
		}
	}
	if !receivedPos || !receivedBuffering || !receivedEnd {
		t.Fatalf("events pos=%v buffering=%v end=%v", receivedPos, receivedBuffering, receivedEnd)
	}
	if ctrl.Position() != 12500*time.Millisecond || ctrl.Duration() != 200*time.Second {
		t.Fatalf("state position %s duration %s", ctrl.Position(), ctrl.Duration())
	}
	if !ctrl.Buffering() {
		t.Fatal("buffering state not kept")
	}
}

func TestControllerStartPositionSeeksAfterLoad(t *testing.T) {
	socketPath, accepted := startFakeMPV(t)
	ctrl := New(Options{IPCPath: socketPath, DisableProcess: true, DropEvents: true})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	mpv := <-accepted

	if err := ctrl.Load("https://cdn.example/a", nil, 42*time.Second); err != nil {
		t.Fatal(err)
	}
	mpv.waitFor(t, "loadfile")
	mpv.send(t, map[string]any{"event": "file-loaded"})

	cmd := mpv.waitFor(t, "seek")
	if cmd[1] != 42.0 || cmd[2] != "absolute" {
		t.Fatalf("seek = %v", cmd)
	}
	if ctrl.Position() != 42*time.Second {
		t.Fatalf("position = %s", ctrl.Position())
	}
}

func TestControllerDropEventsDoesNotBlock(t *testing.T) {
	socketPath, accepted := startFakeMPV(t)
	ctrl := New(Options{IPCPath: socketPath, DisableProcess: true, DropEvents: true})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	mpv := <-accepted

	// Far more events than the channel buffers; nobody reads them.
	for i := 0; i < 200; i++ {
		mpv.send(t, map[string]any{"event": "property-change", "name": "time-pos", "data": float64(i)})
	}
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Position() != 199*time.Second {
		if time.Now().After(deadline) {
			t.Fatalf("position stuck at %s", ctrl.Position())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControllerVolumeIsFraction(t *testing.T) {
	socketPath, accepted := startFakeMPV(t)
	ctrl := New(Options{IPCPath: socketPath, DisableProcess: true})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	mpv := <-accepted

	if err := ctrl.SetVolume(1.7); err != nil {
		t.Fatal(err)
	}
	for {
		cmd := mpv.waitFor(t, "set_property")
		if cmd[1] == "volume" {
			if cmd[2] != 100.0 {
				t.Fatalf("volume = %v", cmd[2])
			}
			return
		}
	}
}

func TestCommandsBeforeStartFail(t *testing.T) {
	ctrl := New(Options{})
	if err := ctrl.SetPaused(true); err != ErrNotConnected {
		t.Fatalf("err = %v", err)
	}
	if err := ctrl.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUniqueIPCPath(t *testing.T) {
	if UniqueIPCPath() == UniqueIPCPath() {
		t.Fatal("ipc paths must differ")
	}
}
