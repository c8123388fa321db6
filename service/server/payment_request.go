package server

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"

	"github.com/moxen-gg/vault/service/vault"
)

// PaymentRequest is a wallet-app-friendly rendering of an initiated
// purchase: a Solana Pay URL and the same URL as a QR code. It travels
// alongside the prebuilt transaction blob; wallets that cannot consume
// the blob can build an equivalent transfer from the URL instead.
type PaymentRequest struct {
	PaymentURL string `json:"payment_url"`
	QRCodeData string `json:"qr_code_data,omitempty"` // base64-encoded PNG
}

// paymentRequestConfig holds the addresses payment URLs point at.
type paymentRequestConfig struct {
	VaultAddress string
	DeadAddress  string
	TokenMint    string
	Label        string
}

// tokenPaymentRequest builds a request for a game-token payment to the
// dead address (the burn shape).
func (c paymentRequestConfig) tokenPaymentRequest(amount int64) PaymentRequest {
	return newPaymentRequest(buildSolanaPayURL(
		c.DeadAddress,
		vault.FormatDecimalAmount(amount, vault.TokenDecimals),
		c.TokenMint,
		c.Label,
	))
}

// solPaymentRequest builds a request for a SOL payment to the vault.
func (c paymentRequestConfig) solPaymentRequest(lamports int64) PaymentRequest {
	return newPaymentRequest(buildSolanaPayURL(
		c.VaultAddress,
		vault.FormatDecimalAmount(lamports, vault.SOLDecimals),
		"",
		c.Label,
	))
}

func newPaymentRequest(paymentURL string) PaymentRequest {
	req := PaymentRequest{PaymentURL: paymentURL}
	if qr, err := generateQRCode(paymentURL); err == nil {
		req.QRCodeData = qr
	}
	return req
}

// buildSolanaPayURL creates a Solana Pay-compatible URL.
// Format: solana:{recipient}?amount={amount}&spl-token={mint}&label={label}
func buildSolanaPayURL(recipient, amount, splTokenMint, label string) string {
	params := url.Values{}
	params.Set("amount", amount)
	if label != "" {
		params.Set("label", label)
	}
	if splTokenMint != "" {
		params.Set("spl-token", splTokenMint)
	}
	return fmt.Sprintf("solana:%s?%s", recipient, params.Encode())
}

// generateQRCode renders the payment URL as a base64-encoded 256x256 PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
