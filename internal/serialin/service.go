// Package serialin reads the raw TIC byte stream from the meter's serial
// output and feeds it to the decode chain.
//
// Both TIC dialects are 7 data bits, even parity, one stop bit; only the
// baud rate differs (1200 historical, 9600 standard).
//
// This is a best-effort bring-up service: a missing or flapping serial
// adapter must not bring down the daemon, so open failures and read errors
// trigger a reopen with backoff instead of a hard exit.
package serialin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

type Config struct {
	Device string
	Baud   int
}

// Snapshot is the service's health view for the status endpoint.
type Snapshot struct {
	Device    string `json:"device"`
	Baud      int    `json:"baud"`
	Open      bool   `json:"open"`
	BytesRead uint64 `json:"bytes_read"`
	Reopens   uint64 `json:"reopens"`
	LastError string `json:"last_error,omitempty"`
}

// openFunc matches serial.Open, injectable for tests.
type openFunc func(device string, mode *serial.Mode) (serial.Port, error)

type Service struct {
	cfg  Config
	log  zerolog.Logger
	open openFunc

	bytesRead atomic.Uint64
	reopens   atomic.Uint64
	isOpen    atomic.Bool
	lastErr   atomic.Value // string
}

func New(cfg Config, log zerolog.Logger) *Service {
	return newService(cfg, log, serial.Open)
}

func newService(cfg Config, log zerolog.Logger, open openFunc) *Service {
	s := &Service{cfg: cfg, log: log, open: open}
	s.lastErr.Store("")
	return s
}

// Run reads the port until ctx is done, pushing every chunk to push. A
// reopen is not signalled to the caller: chunks from the new port go to the
// same push callback, and decoder state left by the old port is not reset.
func (s *Service) Run(ctx context.Context, push func(chunk []byte)) error {
	if push == nil {
		return errors.New("push callback is nil")
	}

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := s.openPort()
		if err != nil {
			s.fail(fmt.Errorf("open %s: %w", s.cfg.Device, err))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		s.isOpen.Store(true)
		s.log.Info().Str("device", s.cfg.Device).Int("baud", s.cfg.Baud).Msg("serial port open")

		err = s.readLoop(ctx, port, push)
		_ = port.Close()
		s.isOpen.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.reopens.Add(1)
		s.fail(err)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Device:    s.cfg.Device,
		Baud:      s.cfg.Baud,
		Open:      s.isOpen.Load(),
		BytesRead: s.bytesRead.Load(),
		Reopens:   s.reopens.Load(),
		LastError: s.lastErr.Load().(string),
	}
}

func (s *Service) openPort() (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: s.cfg.Baud,
		DataBits: 7,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	return s.open(s.cfg.Device, mode)
}

func (s *Service) readLoop(ctx context.Context, port serial.Port, push func([]byte)) error {
	// Large enough for several historical frames per read on USB
	// adapters that batch.
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := port.Read(buf)
		if n > 0 {
			s.bytesRead.Add(uint64(n))
			push(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("serial port EOF")
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

func (s *Service) fail(err error) {
	if err == nil {
		return
	}
	s.lastErr.Store(err.Error())
	s.log.Warn().Err(err).Str("device", s.cfg.Device).Msg("serial source error")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
