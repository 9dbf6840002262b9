package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/skip2/go-qrcode"

	"ledgerwork-backend/core/marketplace"
	"ledgerwork-backend/models"
	storage "ledgerwork-backend/storage/marketplace"
)

// QRCodeService renders funding URIs as QR images.
type QRCodeService struct{}

// NewQRCodeService creates a new QR code service
func NewQRCodeService() *QRCodeService {
	return &QRCodeService{}
}

// GenerateFundingQR encodes a payment URI for topping up a wallet or funding a
// task escrow. amount is in base token units.
func (s *QRCodeService) GenerateFundingQR(address string, amountUnits int64) ([]byte, error) {
	uri := fmt.Sprintf("%s?amount=%d", address, amountUnits)
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(256)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// BalanceReader is the escrow slice the health service probes.
type BalanceReader interface {
	TokenBalance(ctx context.Context, address string) (int64, error)
}

// HealthService reports process health and dependency reachability.
type HealthService struct {
	startedAt time.Time
	store     storage.Store
	escrow    BalanceReader
}

// NewHealthService creates a new health service
func NewHealthService(store storage.Store, escrow BalanceReader) *HealthService {
	return &HealthService{startedAt: time.Now(), store: store, escrow: escrow}
}

// GetHealthStatus returns current health status. The store check lists one
// task; the escrow check reads the zero-address balance. Either failing
// degrades status without taking the endpoint down.
func (s *HealthService) GetHealthStatus(ctx context.Context) *models.HealthResponse {
	checks := map[string]string{}
	status := "healthy"

	if s.store != nil {
		if _, err := s.store.ListTasks(ctx, marketplace.TaskFilter{Limit: 1}); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
		} else {
			checks["store"] = "ok"
		}
	}
	if s.escrow != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if _, err := s.escrow.TokenBalance(probeCtx, "0x0000000000000000000000000000000000000000"); err != nil {
			checks["escrow_gateway"] = err.Error()
			status = "degraded"
		} else {
			checks["escrow_gateway"] = "ok"
		}
	}

	return &models.HealthResponse{
		Status:    status,
		Message:   "ledgerwork backend is running",
		Timestamp: time.Now().Unix(),
		UptimeS:   int64(time.Since(s.startedAt).Seconds()),
		Checks:    checks,
	}
}
