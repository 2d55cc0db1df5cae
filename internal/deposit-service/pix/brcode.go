package pix

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// StaticGenerator monta localmente o BR Code (EMV-MPM) de um PIX com valor e txid
type StaticGenerator struct {
	Key          string // chave PIX do recebedor
	MerchantName string
	MerchantCity string
}

func NewStaticGenerator(key, name, city string) *StaticGenerator {
	return &StaticGenerator{Key: key, MerchantName: name, MerchantCity: city}
}

func (g *StaticGenerator) Generate(_ context.Context, r ChargeRequest) (Charge, error) {
	if g.Key == "" {
		return Charge{}, fmt.Errorf("%w: missing pix key", ErrGenerate)
	}
	if !r.Amount.IsPositive() {
		return Charge{}, fmt.Errorf("%w: non-positive amount", ErrGenerate)
	}
	txid := TxID(r.ExternalID)

	account := emv("00", "br.gov.bcb.pix") + emv("01", g.Key)
	if d := clip(r.Description, 40); d != "" {
		account += emv("02", d)
	}

	var b strings.Builder
	b.WriteString(emv("00", "01"))
	b.WriteString(emv("26", account))
	b.WriteString(emv("52", "0000"))
	b.WriteString(emv("53", "986")) // BRL
	b.WriteString(emv("54", r.Amount.StringFixed(2)))
	b.WriteString(emv("58", "BR"))
	b.WriteString(emv("59", clip(g.MerchantName, 25)))
	b.WriteString(emv("60", clip(g.MerchantCity, 15)))
	b.WriteString(emv("62", emv("05", txid)))
	b.WriteString("6304")

	payload := b.String()
	return Charge{QRCode: payload + fmt.Sprintf("%04X", CRC16(payload)), ChargeID: txid}, nil
}

// TxID reduz a referência externa ao formato aceito no campo 62.05 (alfanumérico, até 25)
func TxID(externalID string) string {
	var b strings.Builder
	for _, r := range externalID {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return "***"
	}
	return clip(s, 25)
}

// CRC16 é o CRC16-CCITT-FALSE (poly 0x1021, init 0xFFFF) exigido pelo campo 63
func CRC16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func emv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
