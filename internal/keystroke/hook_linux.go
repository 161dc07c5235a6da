//go:build linux

package keystroke

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// rescanInterval is how often new keyboard devices are looked for. Scanners
// are often plugged in after the listener starts.
const rescanInterval = 2 * time.Second

// inputEvent matches struct input_event for the running architecture.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// evdevHook reads every keyboard device under /dev/input.
type evdevHook struct {
	mu   sync.Mutex
	open map[string]bool
}

func newPlatformSource() Source {
	return newHookSource(&evdevHook{open: make(map[string]bool)})
}

func (e *evdevHook) available() (bool, string) {
	devices, err := findKeyboardDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}
	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("found keyboard device: %s", dev)
		}
	}
	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

func (e *evdevHook) run(deliver func(Message)) error {
	opened, err := e.attachNew(deliver)
	if err != nil {
		return err
	}
	if opened == 0 {
		return errors.New("cannot read keyboard devices (need to be in 'input' group or run as root)")
	}

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()
	for range ticker.C {
		_, _ = e.attachNew(deliver)
	}
	return nil
}

// attachNew opens devices that are not being read yet and starts a reader for
// each one.
func (e *evdevHook) attachNew(deliver func(Message)) (int, error) {
	devices, err := findKeyboardDevices()
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	opened := 0
	for _, dev := range devices {
		path, err := filepath.EvalSymlinks(dev)
		if err != nil {
			continue
		}
		if e.open[path] {
			opened++
			continue
		}
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}
		e.open[path] = true
		opened++
		go e.readDevice(path, fd, deliver)
	}
	return opened, nil
}

func (e *evdevHook) readDevice(path string, fd int, deliver func(Message)) {
	defer func() {
		unix.Close(fd)
		e.mu.Lock()
		delete(e.open, path)
		e.mu.Unlock()
	}()

	size := binary.Size(inputEvent{})
	buf := make([]byte, size*64)
	var dec evdevDecoder

	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			// ENODEV once the device is unplugged.
			return
		}
		for off := 0; off+size <= n; off += size {
			var ev inputEvent
			if err := binary.Read(bytes.NewReader(buf[off:off+size]), binary.NativeEndian, &ev); err != nil {
				continue
			}
			if msg, ok := dec.feed(ev.Type, ev.Code, ev.Value); ok {
				deliver(msg)
			}
		}
	}
}

// findKeyboardDevices finds /dev/input event devices that are keyboards.
func findKeyboardDevices() ([]string, error) {
	var devices []string

	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var currentHandler string
	isKeyboard := false

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "H: Handlers=") {
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					currentHandler = "/dev/input/" + part
				}
			}
			if strings.Contains(line, "kbd") {
				isKeyboard = true
			}
		}

		if line == "" {
			if isKeyboard && currentHandler != "" {
				devices = append(devices, currentHandler)
			}
			currentHandler = ""
			isKeyboard = false
		}
	}
	if isKeyboard && currentHandler != "" {
		devices = append(devices, currentHandler)
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-kbd")
	devices = append(devices, matches...)

	return devices, scanner.Err()
}
