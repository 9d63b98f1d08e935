// Package qrimg renders WhatsApp pairing payloads into displayable form.
package qrimg

import (
	"encoding/base64"
	"io"

	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"
)

// DataURI encodes a pairing payload as a 256px PNG data URI suitable for an
// <img> tag.
func DataURI(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// WithTerminalEcho wraps a renderer so every pairing payload is also printed
// as a scannable half-block QR on w. Used in development mode.
func WithTerminalEcho(render func(string) (string, error), w io.Writer) func(string) (string, error) {
	return func(code string) (string, error) {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
		return render(code)
	}
}
