// Package pcsc implements a ledger.Transport over PC/SC smart card readers.
//
// The reader driver handles T=0/T=1 framing, so APDUs are passed through
// whole and no chunking happens on this side.
package pcsc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebfe/scard"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

// Config selects a reader.
type Config struct {
	Reader string // Reader name, first reader with a card when empty
	Wait   bool   // Block until a card is inserted
}

// Readers lists the readers known to the PC/SC daemon.
func Readers() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, mapError(err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, mapError(err)
	}
	return readers, nil
}

// Opener returns a ledger.Opener for cfg.
func Opener(cfg Config) ledger.Opener {
	return func(ctx context.Context) (ledger.Transport, error) {
		return Open(ctx, cfg)
	}
}

// Transport is a card connected in exclusive mode.
type Transport struct {
	context *scard.Context
	card    *scard.Card
	reader  string

	closeOnce sync.Once
	closeErr  error
}

// Open connects to the card in the configured reader.
func Open(ctx context.Context, cfg Config) (*Transport, error) {
	scardContext, err := scard.EstablishContext()
	if err != nil {
		return nil, mapError(err)
	}

	readers, err := scardContext.ListReaders()
	if err != nil {
		scardContext.Release()
		return nil, mapError(err)
	}
	if cfg.Reader != "" {
		readers = filter(readers, cfg.Reader)
	}
	if len(readers) == 0 {
		scardContext.Release()
		return nil, fmt.Errorf("%w: no reader %q", ledger.ErrDeviceNotFound, cfg.Reader)
	}

	index, err := cardPresent(ctx, scardContext, readers, cfg.Wait)
	if err != nil {
		scardContext.Release()
		return nil, err
	}

	slog.Debug("Connecting to card", "Reader", readers[index])

	card, err := scardContext.Connect(readers[index], scard.ShareExclusive, scard.ProtocolAny)
	if err != nil {
		scardContext.Release()
		return nil, mapError(err)
	}

	return &Transport{context: scardContext, card: card, reader: readers[index]}, nil
}

// Exchange implements ledger.Transport.
func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Debug("PCSC", "Reader", t.reader, "c-apdu", fmt.Sprintf("% x", command))

	reply, err := t.card.Transmit(command)
	if err != nil {
		return nil, mapError(err)
	}

	slog.Debug("PCSC", "Reader", t.reader, "r-apdu", fmt.Sprintf("% x", reply))

	return reply, nil
}

// Reset cancels blocking calls on the context and resets the card so a
// half processed command is discarded.
func (t *Transport) Reset() error {
	if err := t.context.Cancel(); err != nil {
		slog.Debug("PCSC cancel failed", "Error", err)
	}
	return t.card.Reconnect(scard.ShareExclusive, scard.ProtocolAny, scard.ResetCard)
}

// Close implements ledger.Transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		err := t.card.Disconnect(scard.ResetCard)
		if releaseErr := t.context.Release(); err == nil {
			err = releaseErr
		}
		t.closeErr = err
	})
	return t.closeErr
}

// cardPresent returns the index of the first reader holding a card. With
// wait set it blocks on status changes until one is inserted or ctx is done.
func cardPresent(ctx context.Context, scardContext *scard.Context, readers []string, wait bool) (int, error) {
	rs := make([]scard.ReaderState, len(readers))
	for i := range rs {
		rs[i].Reader = readers[i]
		rs[i].CurrentState = scard.StateUnaware
	}

	stop := context.AfterFunc(ctx, func() {
		scardContext.Cancel()
	})
	defer stop()

	// The first call only reports the current state.
	if err := scardContext.GetStatusChange(rs, 0); err != nil && !errors.Is(err, scard.ErrTimeout) {
		return -1, mapError(err)
	}

	for {
		for i := range rs {
			if rs[i].EventState&scard.StatePresent != 0 {
				return i, nil
			}
			rs[i].CurrentState = rs[i].EventState
		}
		if !wait {
			return -1, fmt.Errorf("%w: no card in %v", ledger.ErrDeviceNotFound, readers)
		}
		if err := scardContext.GetStatusChange(rs, -1); err != nil {
			if ctx.Err() != nil {
				return -1, fmt.Errorf("%w: waiting for card: %w", ledger.ErrTimeout, ctx.Err())
			}
			return -1, mapError(err)
		}
	}
}

func filter(readers []string, name string) []string {
	for _, reader := range readers {
		if reader == name {
			return []string{reader}
		}
	}
	return nil
}

// mapError translates PC/SC error codes into the ledger error taxonomy.
func mapError(err error) error {
	switch {
	case errors.Is(err, scard.ErrSharingViolation):
		return fmt.Errorf("%w: %w", ledger.ErrDeviceBusy, err)
	case errors.Is(err, scard.ErrNoReadersAvailable), errors.Is(err, scard.ErrNoSmartcard),
		errors.Is(err, scard.ErrUnknownReader), errors.Is(err, scard.ErrNoService):
		return fmt.Errorf("%w: %w", ledger.ErrDeviceNotFound, err)
	case errors.Is(err, scard.ErrRemovedCard), errors.Is(err, scard.ErrReaderUnavailable),
		errors.Is(err, scard.ErrResetCard), errors.Is(err, scard.ErrUnpoweredCard):
		return fmt.Errorf("%w: %w", ledger.ErrDeviceDisconnected, err)
	case errors.Is(err, scard.ErrTimeout):
		return fmt.Errorf("%w: %w", ledger.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ledger.ErrTransport, err)
	}
}
