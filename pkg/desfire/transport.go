package desfire

import (
	"fmt"
	"time"

	"github.com/ebfe/scard"
)

// Transport is the RF layer the core calls into: low-level ISO 14443-A
// half-duplex exchange, field activation, and timing are the
// transport's responsibility, not the core's.
type Transport interface {
	// ExchangeAPDU sends data wrapped as a CLA=0x90 ISO 7816 APDU (the
	// caller has already built the full APDU bytes) and returns the
	// response body and the raw SW1SW2 status word.
	ExchangeAPDU(data []byte, activateField bool) (resp []byte, sw16 uint16, err error)
	// ExchangeRaw sends a native frame and returns the response with its
	// leading status byte still attached.
	ExchangeRaw(data []byte, activateField bool) (respWithStatus []byte, err error)
}

// PCSCTransport implements Transport over a real PC/SC reader via
// github.com/ebfe/scard. Field activation is modelled as a disconnect +
// reconnect with a brief settle delay.
type PCSCTransport struct {
	ctx        *scard.Context
	card       *scard.Card
	reader     string
	settleTime time.Duration
}

// ConnectPCSC establishes a PC/SC context and connects to the reader at
// the given index.
func ConnectPCSC(readerIndex int) (*PCSCTransport, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext: %w", err)
	}
	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no PC/SC readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}
	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &PCSCTransport{ctx: ctx, card: card, reader: reader, settleTime: 50 * time.Millisecond}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (t *PCSCTransport) Close() {
	if t == nil {
		return
	}
	if t.card != nil {
		_ = t.card.Disconnect(scard.LeaveCard)
	}
	if t.ctx != nil {
		_ = t.ctx.Release()
	}
}

// activate drops and re-powers the RF field, then waits out a 50ms
// settle period before the next exchange.
func (t *PCSCTransport) activate() error {
	if t.card == nil {
		return fmt.Errorf("transport not connected")
	}
	if err := t.card.Disconnect(scard.ResetCard); err != nil {
		return fmt.Errorf("disconnect for field reset: %w", err)
	}
	card, err := t.ctx.Connect(t.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return fmt.Errorf("reconnect after field reset: %w", err)
	}
	t.card = card
	time.Sleep(t.settleTime)
	return nil
}

func (t *PCSCTransport) transmit(data []byte, activateField bool) ([]byte, error) {
	if activateField {
		if err := t.activate(); err != nil {
			return nil, err
		}
	}
	if t.card == nil {
		return nil, fmt.Errorf("transport not connected")
	}
	return t.card.Transmit(data)
}

func (t *PCSCTransport) ExchangeAPDU(data []byte, activateField bool) ([]byte, uint16, error) {
	resp, err := t.transmit(data, activateField)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("short ISO response: %d bytes", len(resp))
	}
	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

func (t *PCSCTransport) ExchangeRaw(data []byte, activateField bool) ([]byte, error) {
	return t.transmit(data, activateField)
}
