package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/digital-play/api/internal/domain"
	"github.com/digital-play/api/internal/repositories"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the product or category does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogSlugConflict indicates the slug is already taken.
	ErrCatalogSlugConflict = errors.New("catalog service: slug conflict")
	// ErrCatalogCategoryInUse indicates the category still has products referencing it.
	ErrCatalogCategoryInUse = errors.New("catalog service: category in use")
	// ErrCatalogUnavailable indicates the backing store could not serve the request.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Categories  repositories.CategoryRepository
	Audit       AuditLogService
	Sanitizer   *bluemonday.Policy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	audit      AuditLogService
	sanitizer  *bluemonday.Policy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, fmt.Errorf("catalog service: category repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.UGCPolicy()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		audit:      deps.Audit,
		sanitizer:  sanitizer,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// ListProducts pages through the catalog with optional category, featured and
// text filters.
func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		CategoryID: strings.TrimSpace(filter.CategoryID),
		Featured:   filter.Featured,
		Query:      strings.TrimSpace(filter.Query),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.translateRepoError(err)
	}
	return page, nil
}

// GetProduct resolves by ID first and falls back to slug lookup so storefront
// links keep working with either reference.
func (s *catalogService) GetProduct(ctx context.Context, idOrSlug string) (Product, error) {
	ref := strings.TrimSpace(idOrSlug)
	if ref == "" {
		return Product{}, fmt.Errorf("%w: product reference is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, ref)
	if err == nil {
		return product, nil
	}
	if !isRepoNotFound(err) {
		return Product{}, s.translateRepoError(err)
	}
	product, err = s.products.FindBySlug(ctx, ref)
	if err != nil {
		return Product{}, s.translateRepoError(err)
	}
	return product, nil
}

// CreateProduct validates and inserts a new catalog entry with zero stock.
// Stock is populated afterwards through the inventory ledger.
func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.buildProduct(ctx, cmd, true)
	if err != nil {
		return Product{}, err
	}
	if err := s.ensureSlugFree(ctx, product.Slug, ""); err != nil {
		return Product{}, err
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.translateRepoError(err)
	}
	s.recordAudit(ctx, cmd.ActorID, "product.created", "/products/"+product.ID, nil, map[string]any{"slug": product.Slug})
	return product, nil
}

// UpdateProduct applies admin edits to an existing product. The stock counter
// is deliberately left untouched.
func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	existing, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.translateRepoError(err)
	}

	updated, err := s.buildProduct(ctx, cmd, false)
	if err != nil {
		return Product{}, err
	}
	if updated.Slug != existing.Slug {
		if err := s.ensureSlugFree(ctx, updated.Slug, existing.ID); err != nil {
			return Product{}, err
		}
	}

	updated.ID = existing.ID
	updated.Stock = existing.Stock
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, updated); err != nil {
		return Product{}, s.translateRepoError(err)
	}
	s.recordAudit(ctx, cmd.ActorID, "product.updated", "/products/"+updated.ID,
		map[string]any{"slug": existing.Slug, "basePrice": existing.BasePrice},
		map[string]any{"slug": updated.Slug, "basePrice": updated.BasePrice})
	return updated, nil
}

// DeleteProduct removes a catalog entry.
func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return s.translateRepoError(err)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return s.translateRepoError(err)
	}
	s.recordAudit(ctx, cmd.ActorID, "product.deleted", "/products/"+productID, nil, nil)
	return nil
}

// ListCategories returns every category; the set is small and uncursored.
func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return categories, nil
}

// CreateCategory inserts a new category with a normalized slug and kind.
func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	category, err := s.buildCategory(cmd)
	if err != nil {
		return Category{}, err
	}
	if _, err := s.categories.FindBySlug(ctx, category.Slug); err == nil {
		return Category{}, fmt.Errorf("%w: %s", ErrCatalogSlugConflict, category.Slug)
	} else if !isRepoNotFound(err) {
		return Category{}, s.translateRepoError(err)
	}

	if err := s.categories.Insert(ctx, category); err != nil {
		return Category{}, s.translateRepoError(err)
	}
	s.recordAudit(ctx, cmd.ActorID, "category.created", "/categories/"+category.ID, nil, map[string]any{"slug": category.Slug})
	return category, nil
}

// UpdateCategory applies admin edits to an existing category.
func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	existing, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.translateRepoError(err)
	}

	updated, err := s.buildCategory(cmd)
	if err != nil {
		return Category{}, err
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.clock()

	if err := s.categories.Update(ctx, updated); err != nil {
		return Category{}, s.translateRepoError(err)
	}
	s.recordAudit(ctx, cmd.ActorID, "category.updated", "/categories/"+updated.ID,
		map[string]any{"slug": existing.Slug}, map[string]any{"slug": updated.Slug})
	return updated, nil
}

// DeleteCategory removes a category unless products still reference it.
func (s *catalogService) DeleteCategory(ctx context.Context, cmd DeleteCategoryCommand) error {
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	count, err := s.products.CountByCategory(ctx, categoryID)
	if err != nil {
		return s.translateRepoError(err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d products still reference category %s", ErrCatalogCategoryInUse, count, categoryID)
	}
	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return s.translateRepoError(err)
	}
	s.recordAudit(ctx, cmd.ActorID, "category.deleted", "/categories/"+categoryID, nil, nil)
	return nil
}

func (s *catalogService) buildProduct(ctx context.Context, cmd UpsertProductCommand, assignID bool) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.BasePrice < 0 {
		return Product{}, fmt.Errorf("%w: base price must not be negative", ErrCatalogInvalidInput)
	}
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID != "" {
		if _, err := s.categories.FindByID(ctx, categoryID); err != nil {
			if isRepoNotFound(err) {
				return Product{}, fmt.Errorf("%w: category %s", ErrCatalogNotFound, categoryID)
			}
			return Product{}, s.translateRepoError(err)
		}
	}

	slug := normalizeSlug(cmd.Slug)
	if slug == "" {
		slug = normalizeSlug(name)
	}
	if slug == "" {
		return Product{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	product := Product{
		Slug:        slug,
		Name:        name,
		Description: s.sanitizer.Sanitize(strings.TrimSpace(cmd.Description)),
		BasePrice:   cmd.BasePrice,
		CategoryID:  categoryID,
		IsPhysical:  cmd.IsPhysical,
		IsFeatured:  cmd.IsFeatured,
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if assignID {
		product.ID = "prod_" + s.newID()
	}
	return product, nil
}

func (s *catalogService) buildCategory(cmd UpsertCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	kind := cmd.Kind
	if kind == "" {
		kind = domain.CategoryKindStandard
	}
	switch kind {
	case domain.CategoryKindSubscription, domain.CategoryKindTopUp, domain.CategoryKindGiftCard,
		domain.CategoryKindPhysical, domain.CategoryKindStandard:
	default:
		return Category{}, fmt.Errorf("%w: unknown category kind %q", ErrCatalogInvalidInput, kind)
	}

	slug := normalizeSlug(cmd.Slug)
	if slug == "" {
		slug = normalizeSlug(name)
	}
	if slug == "" {
		return Category{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	return Category{
		ID:          "cat_" + s.newID(),
		Slug:        slug,
		Name:        name,
		Description: s.sanitizer.Sanitize(strings.TrimSpace(cmd.Description)),
		Kind:        kind,
		ImageURL:    strings.TrimSpace(cmd.ImageURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *catalogService) ensureSlugFree(ctx context.Context, slug, selfID string) error {
	existing, err := s.products.FindBySlug(ctx, slug)
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	if existing.ID != selfID {
		return fmt.Errorf("%w: %s", ErrCatalogSlugConflict, slug)
	}
	return nil
}

func (s *catalogService) recordAudit(ctx context.Context, actor, action, targetRef string, before, after map[string]any) {
	if s.audit == nil || strings.TrimSpace(actor) == "" {
		return
	}
	err := s.audit.Record(ctx, AuditRecordCommand{
		ActorID:   actor,
		Action:    action,
		TargetRef: targetRef,
		Before:    before,
		After:     after,
	})
	if err != nil {
		s.logger(ctx, "catalog.audit_record_failed", map[string]any{
			"action": action,
			"target": targetRef,
			"error":  err.Error(),
		})
	}
}

func (s *catalogService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrCatalogSlugConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
}

func normalizeSlug(raw string) string {
	slug := strings.ToLower(strings.TrimSpace(raw))
	slug = slugSanitizer.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
