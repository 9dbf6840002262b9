package services

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	storage "ledgerwork-backend/storage/marketplace"
)

func TestGenerateFundingQRProducesPNG(t *testing.T) {
	svc := NewQRCodeService()
	data, err := svc.GenerateFundingQR("tb1qexampleaddress", 2500)
	if err != nil {
		t.Fatalf("GenerateFundingQR: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 256 {
		t.Fatalf("width = %d, want 256", img.Bounds().Dx())
	}
}

func TestHealthStatusWithMemoryStore(t *testing.T) {
	svc := NewHealthService(storage.NewMemoryStore(), nil)
	health := svc.GetHealthStatus(context.Background())
	if health.Status != "healthy" {
		t.Fatalf("status = %s, want healthy", health.Status)
	}
	if health.Checks["store"] != "ok" {
		t.Fatalf("store check = %q", health.Checks["store"])
	}
}
