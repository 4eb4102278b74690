package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

var credentialNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// InputMode returns the register's mode. An unset or unreadable value means
// Normal.
func (s *Service) InputMode(ctx context.Context) (domain.InputMode, error) {
	raw, err := s.repo.GetSetting(ctx, domain.SettingInputMode)
	if errors.Is(err, store.ErrNotFound) {
		return domain.InputModeNormal, nil
	}
	if err != nil {
		return "", err
	}
	mode := domain.InputMode(raw)
	if !mode.Valid() {
		s.logger.Warn("ignoring invalid input mode setting", "value", raw)
		return domain.InputModeNormal, nil
	}
	return mode, nil
}

// SetInputMode switches between Normal and Test. The manager PIN is checked by
// the caller.
func (s *Service) SetInputMode(ctx context.Context, mode domain.InputMode) (domain.InputMode, error) {
	if !mode.Valid() {
		return "", domain.Invalid("input_mode", "unsupported input mode %q", mode)
	}
	if err := s.repo.SetSetting(ctx, domain.SettingInputMode, string(mode)); err != nil {
		return "", err
	}
	s.logAudit(ctx, "setting_update", "setting", domain.SettingInputMode, string(mode))
	return mode, nil
}

// SetCredential stores value sealed under the settings passphrase.
func (s *Service) SetCredential(ctx context.Context, name string, value string) error {
	if s.vault == nil {
		return ErrNotConfigured
	}
	name = strings.TrimSpace(name)
	if !credentialNamePattern.MatchString(name) {
		return domain.Invalid("name", "must be 1-64 letters, digits, '.', '_' or '-'")
	}
	if value == "" {
		return domain.Invalid("value", "is required")
	}

	sealed, err := s.vault.Seal(value)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	if err := s.repo.SetSetting(ctx, domain.CredentialSettingKey(name), sealed); err != nil {
		return err
	}
	s.logAudit(ctx, "setting_update", "credential", name, "")
	return nil
}

func (s *Service) Credential(ctx context.Context, name string) (string, error) {
	if s.vault == nil {
		return "", ErrNotConfigured
	}
	sealed, err := s.repo.GetSetting(ctx, domain.CredentialSettingKey(strings.TrimSpace(name)))
	if err != nil {
		return "", err
	}
	return s.vault.Open(sealed)
}

func (s *Service) ListProductBulks(ctx context.Context) ([]domain.ProductBulk, error) {
	return s.repo.ListProductBulks(ctx)
}

func (s *Service) UpsertProductBulks(ctx context.Context, bulks []domain.ProductBulk) ([]domain.ProductBulk, error) {
	verr := &domain.ValidationError{}
	for i, b := range bulks {
		field := fmt.Sprintf("bulks[%d]", i)
		if strings.TrimSpace(b.ParentProductCode) == "" {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".parent_product_code", Message: "is required"})
		}
		if strings.TrimSpace(b.ChildProductCode) == "" {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".child_product_code", Message: "is required"})
		}
		if b.ParentProductCode == b.ChildProductCode {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".child_product_code", Message: "must differ from the parent"})
		}
		if b.Quantity < 1 {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".quantity", Message: "must be at least 1"})
		}
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	for _, b := range bulks {
		if err := s.repo.UpsertProductBulk(ctx, b); err != nil {
			return nil, err
		}
	}
	s.logAudit(ctx, "catalog_update", "product_bulk", "", fmt.Sprintf("count=%d", len(bulks)))
	return s.repo.ListProductBulks(ctx)
}

func (s *Service) ListProductBundles(ctx context.Context) ([]domain.ProductBundle, error) {
	return s.repo.ListProductBundles(ctx)
}

func (s *Service) UpsertProductBundles(ctx context.Context, bundles []domain.ProductBundle) ([]domain.ProductBundle, error) {
	verr := &domain.ValidationError{}
	for i, b := range bundles {
		field := fmt.Sprintf("bundles[%d]", i)
		if strings.TrimSpace(b.Code) == "" {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".code", Message: "is required"})
		}
		if strings.TrimSpace(b.Name) == "" {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".name", Message: "is required"})
		}
		if b.Quantity < 1 {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".quantity", Message: "must be at least 1"})
		}
		if b.Discount <= 0 {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".discount", Message: "must be positive"})
		}
		if !b.SellingTaxClass.Valid() || !domain.IsSupportedTaxRate(b.SellingTax) {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".selling_tax", Message: "unsupported tax class or rate"})
		}
		if len(b.ProductCodes) == 0 {
			verr.Fields = append(verr.Fields, domain.FieldError{Field: field + ".product_codes", Message: "at least one product is required"})
		}
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	for _, b := range bundles {
		if err := s.repo.UpsertProductBundle(ctx, b); err != nil {
			return nil, err
		}
	}
	s.logAudit(ctx, "catalog_update", "product_bundle", "", fmt.Sprintf("count=%d", len(bundles)))
	return s.repo.ListProductBundles(ctx)
}
