package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regisync/backend/internal/config"
	"regisync/backend/internal/domain"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigRejectsShortPassphrase(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:         "0123456789abcdef0123456789abcdef",
		ManagerPIN:         "739154",
		SettingsPassphrase: "short",
	})
	assert.Error(t, err)
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"000000", "345678", "876543", "121212"} {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	assert.NoError(t, validatePINStrength("739154"))
}

func TestOpenRepositoryDefaultsToMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, closeFn, err := openRepository(context.Background(), config.Config{}, logger)
	require.NoError(t, err)
	assert.Nil(t, closeFn)

	users, err := repo.ListUsers(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, users)
}

func TestOpenPrinterAppendsToSpool(t *testing.T) {
	spool := filepath.Join(t.TempDir(), "receipts.txt")
	printer, closeFn, err := openPrinter(spool, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, closeFn)

	err = printer.Print(context.Background(), domain.SaleReceipt{
		Sale: domain.Sale{
			ReceiptNumber: 1,
			CreatedAt:     time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC),
			SalesTotal:    110,
			TaxTotal:      10,
			PaymentType:   domain.PaymentCash,
			CashAmount:    110,
			Status:        domain.SaleStatusSales,
			InputMode:     domain.InputModeNormal,
		},
		Details: []domain.SaleDetail{{
			ProductCode:   "P1",
			ProductName:   "目薬",
			SellingPrice:  100,
			SellingTax:    domain.TaxRateNormal,
			Quantity:      1,
			OutputReceipt: true,
		}},
	})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(spool)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "目薬")
	assert.Contains(t, string(raw), "2024/05/01 01:00")
}
