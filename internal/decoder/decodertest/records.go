// Package decodertest builds venue log records for tests.
package decodertest

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/coldbell/tradelens/backend/internal/decoder"
)

type PlaceOrder struct {
	Tag        uint8
	OrderType  uint8
	IOC        bool
	Leverage   uint8
	Instrument uint32
	Price      int64
	Qty        int64
}

func (p PlaceOrder) Bytes() []byte {
	buf := make([]byte, 24)
	buf[0] = p.Tag
	buf[1] = p.OrderType
	if p.IOC {
		buf[2] = 1
	}
	buf[3] = p.Leverage
	binary.LittleEndian.PutUint32(buf[4:8], p.Instrument)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.Price))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p.Qty))
	return buf
}

type FillOrder struct {
	Tag        uint8
	Sell       bool
	Instrument uint32
	OrderID    int64
	Qty        int64
	Notional   int64
	Price      int64
	Rebates    int64
	ClientID   uint32
}

func (f FillOrder) Bytes() []byte {
	buf := make([]byte, 52)
	buf[0] = f.Tag
	if f.Sell {
		buf[1] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], f.Instrument)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.OrderID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(f.Qty))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(f.Notional))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(f.Price))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(f.Rebates))
	binary.LittleEndian.PutUint32(buf[48:52], f.ClientID)
	return buf
}

type Fee struct {
	Tag        uint8
	Amount     int64
	RefPayment int64
}

func (f Fee) Bytes() []byte {
	buf := make([]byte, 24)
	buf[0] = f.Tag
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.Amount))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(f.RefPayment))
	return buf
}

// Line wraps a record as a program data log line.
func Line(record []byte) string {
	return decoder.ProgramDataPrefix + base64.StdEncoding.EncodeToString(record)
}
